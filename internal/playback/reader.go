package playback

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/yavdr/vdr/internal/ringbuf"
)

// MaxFrameSize bounds a single read request, matching the original's
// MAXFRAMESIZE guard against a corrupt index entry claiming an
// unreasonable frame length.
const MaxFrameSize = 2 << 20

// nonBlockingReader runs file reads on its own goroutine so the main
// playback loop never blocks waiting on disk I/O. Grounded on
// original_source/dvbplayer.c's cNonBlockingFileReader: a
// request/result handoff guarded by a condition variable instead of a
// blocking read call on the main loop.
type nonBlockingReader struct {
	src FileSource

	mu      sync.Mutex
	cond    *sync.Cond
	wanted  int
	length  int
	buf     []byte
	reading bool
	err     error
}

func newNonBlockingReader(src FileSource) *nonBlockingReader {
	r := &nonBlockingReader{src: src}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// request starts (or restarts) a read for length bytes.
func (r *nonBlockingReader) request(length int) {
	r.mu.Lock()
	r.buf = make([]byte, length)
	r.wanted = length
	r.length = 0
	r.reading = true
	r.err = nil
	r.mu.Unlock()
	r.cond.Broadcast()
}

// isReading reports whether a request is outstanding.
func (r *nonBlockingReader) isReading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reading
}

// clear aborts any in-flight request.
func (r *nonBlockingReader) clear() {
	r.mu.Lock()
	r.buf = nil
	r.wanted, r.length = 0, 0
	r.reading = false
	r.mu.Unlock()
}

// result returns the completed read, or ok=false with EAGAIN-equivalent
// semantics if the read is still in progress.
func (r *nonBlockingReader) result() (data []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reading && r.length == r.wanted && r.buf != nil {
		data = r.buf[:r.length]
		r.buf = nil
		r.reading = false
		return data, true, r.err
	}
	return nil, false, r.err
}

// waitForData blocks up to d for a pending request to complete.
func (r *nonBlockingReader) waitForData(d time.Duration) bool {
	deadline := time.Now().Add(d)
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.reading && r.length != r.wanted {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		done := make(chan struct{})
		go func() {
			r.cond.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(remaining):
			return false
		}
	}
	return true
}

func (r *nonBlockingReader) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.mu.Lock()
		if r.reading && r.buf != nil && r.length < r.wanted {
			n, err := r.src.Read(r.buf[r.length:r.wanted])
			if n > 0 {
				r.length += n
			} else if err == io.EOF || (err == nil && n == 0) {
				if r.length > 0 {
					r.wanted = r.length
				} else {
					r.length, r.wanted = 0, 0
				}
			} else if err != nil {
				r.err = err
				r.length, r.wanted = 0, 0
			}
			if r.length == r.wanted {
				r.cond.Broadcast()
			}
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-time.After(time.Millisecond):
		}
	}
}

// run is the playback engine's main loop: build frames from the
// recording, queue them in the ring, and feed the decoder.
func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	var (
		sleep          bool
		waitingForData bool
		stuckAtEOF     time.Time
		lastSTC        int64
		lastReadIFrame = -1
		switchToPlay   int
		playOffset     int
		playRemain     int
		dropFrame      *ringbuf.Frame
		playFrame      *ringbuf.Frame
		pendingFrame   *ringbuf.Frame
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if waitingForData {
			waitingForData = !e.nbr.waitForData(3 * time.Millisecond)
		} else if sleep {
			time.Sleep(10 * time.Millisecond)
			sleep = false
		}

		e.mu.Lock()
		mode, dir := e.mode, e.dir
		readIndex := e.readIndex
		firstPacket := e.firstPacket
		e.mu.Unlock()

		if pendingFrame != nil {
			if e.ring.Put(pendingFrame) {
				pendingFrame = nil
			} else {
				sleep = true
			}
		}

		if mode != ModeStill && mode != ModePause {
			if pendingFrame == nil && (e.index != nil || readIndex >= 0) {
				if !e.nbr.isReading() {
					length, independent, newIndex, stop := e.nextReadPlan(readIndex, dir, mode, &lastReadIFrame, &switchToPlay)
					if stop {
						e.mu.Lock()
						e.eof = true
						e.mu.Unlock()
					} else if newIndex >= 0 {
						e.mu.Lock()
						e.readIndex = newIndex
						e.readIndep = independent
						e.mu.Unlock()
						e.nbr.request(length)
					}
				}
				if data, ok, err := e.nbr.result(); ok {
					waitingForData = false
					if err == nil && len(data) > 0 {
						e.mu.Lock()
						indep := e.readIndep
						idx := e.readIndex
						e.mu.Unlock()
						var pts uint32
						if indep {
							pts = pesOrTSPTS(e.isPESRecording, data)
							lastReadIFrame = idx
						}
						f := &ringbuf.Frame{Bytes: data, Length: -len(data), Index: idx, PTS: pts, Independent: indep}
						if !e.ring.Put(f) {
							pendingFrame = f
							sleep = true
						}
					} else if err != nil {
						e.log.Error("read failed", "error", err)
					} else {
						e.mu.Lock()
						e.eof = true
						e.mu.Unlock()
					}
				} else if e.nbr.isReading() {
					waitingForData = true
				}
			}
		} else {
			sleep = true
		}

		if dropFrame != nil {
			e.mu.Lock()
			curReadIndex := e.readIndex
			curEOF := e.eof
			e.mu.Unlock()
			if !curEOF || (dir != DirForward && dropFrame.Index > 0) || (dir == DirForward && dropFrame.Index < curReadIndex) {
				e.ring.Drop(dropFrame)
				dropFrame = nil
			}
		}

		if playFrame == nil {
			playFrame = e.ring.Get()
			playOffset = 0
			if playFrame != nil {
				playRemain = frameLen(playFrame)
			}
		}

		if playFrame != nil {
			if playOffset == 0 && playRemain == frameLen(playFrame) {
				if playFrame.Index >= 0 && playFrame.PTS != 0 {
					e.pts.Put(playFrame.PTS, playFrame.Index)
				}
				if firstPacket {
					e.resetReassembly()
					e.mu.Lock()
					e.firstPacket = false
					e.mu.Unlock()
				}
			}
			data := playFrame.Bytes[playOffset : playOffset+playRemain]
			videoOnly := mode != ModePlay && !(mode == ModeSlow && dir == DirForward) && e.decoder.IsPlayingVideo()
			var w int
			var err error
			if e.isPESRecording {
				w, err = e.decoder.PlayPES(data, videoOnly)
			} else {
				w, err = e.decoder.PlayTS(data, videoOnly)
			}
			if w > 0 {
				playOffset += w
				playRemain -= w
			} else if err != nil {
				e.log.Error("decoder write failed", "error", err)
				return
			} else {
				sleep = true
			}
			if playRemain <= 0 {
				dropFrame = playFrame
				playFrame = nil
			}
		} else {
			sleep = true
		}

		e.mu.Lock()
		eofNow := e.eof
		e.mu.Unlock()
		if eofNow || switchToPlay != 0 {
			switchToPlay2 := false
			stc := e.decoder.STC()
			if stc != lastSTC {
				stuckAtEOF = time.Time{}
			} else if stuckAtEOF.IsZero() {
				stuckAtEOF = time.Now()
			} else if time.Since(stuckAtEOF) > MaxStuckAtEOF {
				if dir == DirForward {
					return
				}
				switchToPlay2 = true
			}
			lastSTC = stc
			idx := e.pts.Find(uint32(stc))
			if dir == DirForward && switchToPlay == 0 {
				if idx >= lastReadIFrame {
					return
				}
			} else if idx <= 0 || (switchToPlay != 0 && idx >= switchToPlay) {
				switchToPlay2 = true
			}
			if switchToPlay2 {
				if switchToPlay == 0 {
					e.Empty()
				}
				e.decoder.Play()
				e.mu.Lock()
				e.mode = ModePlay
				e.dir = DirForward
				e.mu.Unlock()
				switchToPlay = 0
			}
		}
	}
}

func frameLen(f *ringbuf.Frame) int {
	if f.Length < 0 {
		return len(f.Bytes)
	}
	return f.Length
}

func (e *Engine) resetReassembly() {
	if e.isPESRecording {
		e.decoder.PlayPES(nil, false)
	} else {
		e.decoder.PlayTS(nil, false)
	}
}

// nextReadPlan computes the next (length, independent, newReadIndex)
// to request from the recording index, per the original's trick-mode
// vs normal-play branch in Action(). Returns stop=true when no further
// frame is reachable.
func (e *Engine) nextReadPlan(readIndex int, dir Direction, mode Mode, lastReadIFrame *int, switchToPlay *int) (length int, independent bool, newIndex int, stop bool) {
	if e.index == nil {
		return MaxFrameSize, false, readIndex, false
	}
	timeShift := e.index.IsStillRecording()
	if *switchToPlay == 0 && (mode == ModeFast || (mode == ModeSlow && dir == DirBackward)) {
		if e.decoder.HasIBPTrickSpeed() && dir == DirForward {
			if loc, ok := e.index.Get(readIndex + 1); ok {
				return loc.Length, loc.Independent, readIndex + 1, false
			}
			return 0, false, -1, !timeShift || dir != DirForward
		}
		d := int(math.Round(0.4 * e.fps))
		if dir != DirForward {
			d = -d
		}
		next := readIndex + d
		if next <= 0 && readIndex > 0 {
			next = 1
		}
		nextIdx, loc, ok := e.index.GetNextIFrame(next, dir == DirForward)
		if !ok && timeShift && dir == DirForward {
			*switchToPlay = readIndex
			return 0, false, readIndex, false
		}
		if !ok {
			return 0, false, -1, !(timeShift && dir == DirForward)
		}
		return loc.Length, true, nextIdx, false
	}
	loc, ok := e.index.Get(readIndex + 1)
	if !ok {
		return 0, false, -1, true
	}
	return loc.Length, loc.Independent, readIndex + 1, false
}
