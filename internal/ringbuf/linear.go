package ringbuf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TSPacketSize is the fixed MPEG-TS packet length the Linear ring aligns
// its reads and writes to.
const TSPacketSize = 188

// TSSyncByte is the sync byte every aligned TS packet must start with.
const TSSyncByte = 0x47

// ErrOverflow is returned by Put when the ring has no room for the
// write. It is a recoverable condition: the caller logs and keeps
// reading, per spec.md §7 ("Driver overflow").
var ErrOverflow = errors.New("ringbuf: overflow")

// ErrTimeout is returned by Get/Put when no data/room became available
// within the configured timeout.
var ErrTimeout = errors.New("ringbuf: timeout")

// LinearConfig configures a Linear ring's capacity and timeouts.
type LinearConfig struct {
	// Capacity is rounded down to a whole number of TS packets.
	Capacity int
	// ReadTimeout/WriteTimeout bound how long Get/Put block waiting for
	// data/room. Zero selects the 100ms default from spec.md §4.A.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Log          *slog.Logger
}

func (c *LinearConfig) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 2048 * TSPacketSize
	}
	c.Capacity -= c.Capacity % TSPacketSize
	if c.Capacity < TSPacketSize {
		c.Capacity = TSPacketSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 100 * time.Millisecond
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Linear is a fixed-capacity byte ring aligned to TS packet boundaries.
// One goroutine writes, one reads. It is lossless unless the producer overruns the buffer, in
// which case Put returns ErrOverflow and the caller is expected to carry
// on reading — data is dropped, not the connection.
type Linear struct {
	cfg LinearConfig
	log *slog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []byte
	r, w     int // indices mod len(buf); w==r means empty
	full     bool
	skipped  uint64 // total bytes discarded resynchronizing to 0x47
	closed   bool
}

// NewLinear constructs a Linear ring with the given configuration.
func NewLinear(cfg LinearConfig) *Linear {
	cfg.setDefaults()
	l := &Linear{cfg: cfg, log: cfg.Log.With("component", "ringbuf.linear"), buf: make([]byte, cfg.Capacity)}
	l.notEmpty = sync.NewCond(&l.mu)
	l.notFull = sync.NewCond(&l.mu)
	return l
}

// Close unblocks any waiting Get/Put and marks the ring closed.
func (l *Linear) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.notEmpty.Broadcast()
	l.notFull.Broadcast()
}

func (l *Linear) usedLocked() int {
	if l.full {
		return len(l.buf)
	}
	if l.w >= l.r {
		return l.w - l.r
	}
	return len(l.buf) - l.r + l.w
}

func (l *Linear) freeLocked() int {
	return len(l.buf) - l.usedLocked()
}

// Put appends p to the ring, waiting up to the configured write timeout
// for room. Writes are always attempted whole: a partial write never
// happens, preserving TS packet alignment for aligned callers.
func (l *Linear) Put(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := time.Now().Add(l.cfg.WriteTimeout)
	for l.freeLocked() < len(p) && !l.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrOverflow
		}
		l.waitWithTimeout(l.notFull, remaining)
	}
	if l.closed {
		return 0, fmt.Errorf("ringbuf: closed")
	}

	n := len(p)
	for i := 0; i < n; i++ {
		l.buf[l.w] = p[i]
		l.w = (l.w + 1) % len(l.buf)
	}
	if l.w == l.r {
		l.full = true
	}
	l.notEmpty.Broadcast()
	return n, nil
}

// ReadFrom reads from r into the ring until r is exhausted or ctx is
// done. Put errors never end the loop: an overflowing chunk is logged
// and dropped and reading continues. Returns the reader's error
// (including io.EOF) or ctx's error.
func (l *Linear) ReadFrom(ctx context.Context, r interface{ Read([]byte) (int, error) }) error {
	chunk := make([]byte, TSPacketSize*32)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if _, perr := l.Put(chunk[:n]); perr != nil && errors.Is(perr, ErrOverflow) {
				l.log.Warn("driver buffer overflow, dropping", "bytes", n)
			}
		}
		if err != nil {
			return err
		}
	}
}

// Get returns a view of up to maxLen contiguous readable bytes, waiting
// up to the configured read timeout if the ring is currently empty. The
// returned slice always begins with the TS sync byte; if the oldest
// buffered byte isn't 0x47, Get discards forward to the next sync byte
// first and logs the skip count (spec.md §4.A).
func (l *Linear) Get(maxLen int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := time.Now().Add(l.cfg.ReadTimeout)
	for l.usedLocked() == 0 && !l.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		l.waitWithTimeout(l.notEmpty, remaining)
	}
	if l.usedLocked() == 0 {
		return nil, fmt.Errorf("ringbuf: closed")
	}

	l.resyncLocked()
	if l.usedLocked() == 0 {
		return nil, ErrTimeout
	}

	avail := l.usedLocked()
	n := avail
	if maxLen > 0 && n > maxLen {
		n = maxLen
	}
	// Contiguous run from r without wrapping.
	toEnd := len(l.buf) - l.r
	if n > toEnd {
		n = toEnd
	}
	out := make([]byte, n)
	copy(out, l.buf[l.r:l.r+n])
	return out, nil
}

// Skip advances the read cursor by n bytes, e.g. after the caller has
// consumed the slice returned by Get.
func (l *Linear) Skip(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	avail := l.usedLocked()
	if n > avail {
		n = avail
	}
	if n == 0 {
		return
	}
	l.r = (l.r + n) % len(l.buf)
	l.full = false
	l.notFull.Broadcast()
}

// SkippedBytes returns the cumulative number of bytes discarded while
// resynchronizing to the TS sync byte.
func (l *Linear) SkippedBytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

// resyncLocked discards bytes from the read cursor until it points at a
// sync byte or the ring empties. Must be called with l.mu held.
func (l *Linear) resyncLocked() {
	if l.usedLocked() == 0 || l.buf[l.r] == TSSyncByte {
		return
	}
	start := l.skipped
	for l.usedLocked() > 0 && l.buf[l.r] != TSSyncByte {
		l.r = (l.r + 1) % len(l.buf)
		l.full = false
		l.skipped++
	}
	if l.skipped != start {
		l.log.Warn("resynchronized to TS sync byte", "skipped", l.skipped-start)
		l.notFull.Broadcast()
	}
}

// waitWithTimeout waits on cond for at most d, using a small polling
// granularity since sync.Cond has no native timed wait.
func (l *Linear) waitWithTimeout(cond *sync.Cond, d time.Duration) {
	if d > 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	done := make(chan struct{})
	t := time.AfterFunc(d, func() {
		close(done)
		cond.Broadcast()
	})
	defer t.Stop()
	cond.Wait()
	select {
	case <-done:
	default:
	}
}
