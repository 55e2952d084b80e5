// Package ringbuf provides the two bounded producer/consumer queues the
// core uses: a Linear byte ring for raw TS input from a tuner driver, and
// a Framed ring for playback Frames. Both are single-producer/
// single-consumer. Linear uses a condition variable for timed waits
// rather than busy-polling (spec.md §4.A / §5); Framed only takes a
// mutex and never waits.
package ringbuf
