// Package playback implements the recording replay engine: a
// non-blocking file reader goroutine, a framed ring buffer, a PTS index
// for STC-to-position lookup, and the trick-play mode/direction state
// machine. Grounded on original_source/dvbplayer.c (cDvbPlayer,
// cNonBlockingFileReader), goroutine structure adapted from the
// teacher's reader/pipeline split (internal/pipeline/pipeline.go).
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/ptsindex"
	"github.com/yavdr/vdr/internal/ringbuf"
	"github.com/yavdr/vdr/internal/tspes"
)

// Mode is the trick-play mode.
type Mode int

const (
	ModePlay Mode = iota
	ModePause
	ModeSlow
	ModeFast
	ModeStill
)

func (m Mode) String() string {
	switch m {
	case ModePlay:
		return "play"
	case ModePause:
		return "pause"
	case ModeSlow:
		return "slow"
	case ModeFast:
		return "fast"
	case ModeStill:
		return "still"
	default:
		return "unknown"
	}
}

// Direction is the trick-play direction.
type Direction int

const (
	DirForward Direction = iota
	DirBackward
)

// Speeds is the canonical trick-speed table: negative entries are
// slow-motion divisors, positive entries (other than the normal-speed 1)
// are fast-forward/rewind multipliers. NormalSpeedIndex is the index of
// the "1" (normal play) entry.
var Speeds = [...]int{-8, -4, -2, 1, 2, 4, 12}

const (
	NormalSpeedIndex   = 3
	MaxSpeedOffset     = 3
	SpeedMultiplier    = 12
	MaxVideoSlowMotion = 63
	MaxStuckAtEOF      = 3 * time.Second
	ResumeBackupSecs   = 10
)

// FileSource supplies the raw recording bytes the reader pulls frames
// from, replacing the original's cFileName/cUnbufferedFile chunking
// with a single seek+read abstraction the runtime wires to the
// recording's on-disk files.
type FileSource interface {
	// Open switches the read position to fileNumber at offset. A
	// fileNumber of 0 with offset -1 means "continue in the current
	// file" (used when eof on the current file rolls into the next).
	Open(fileNumber int, offset int64) error
	// Read reads up to len(buf) bytes from the current position,
	// advancing it. Returns (0, io.EOF) at end of the current file.
	Read(buf []byte) (int, error)
}

// Engine is the playback/trick-play state machine for one replay
// session.
type Engine struct {
	log *slog.Logger

	src     FileSource
	index   contracts.RecordingIndex
	decoder contracts.Decoder

	isPESRecording bool
	fps            float64
	pauseLive      bool

	ring *ringbuf.Framed
	pts  *ptsindex.Index
	nbr  *nonBlockingReader

	mu          sync.Mutex
	mode        Mode
	dir         Direction
	speedIdx    int
	readIndex   int
	readIndep   bool
	firstPacket bool
	eof         bool
	multiSpeed  bool

	cancel  context.CancelFunc
	stopped chan struct{}
}

// New constructs an Engine. pauseLive marks a "pause live TV" session
// (the recording being replayed is still being written).
func New(src FileSource, index contracts.RecordingIndex, decoder contracts.Decoder, isPESRecording bool, fps float64, pauseLive, multiSpeed bool, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:            log.With("component", "playback"),
		src:            src,
		index:          index,
		decoder:        decoder,
		isPESRecording: isPESRecording,
		fps:            fps,
		pauseLive:      pauseLive,
		multiSpeed:     multiSpeed,
		ring:           ringbuf.NewFramed(1 << 20),
		pts:            ptsindex.New(),
		mode:           ModePlay,
		dir:            DirForward,
		speedIdx:       NormalSpeedIndex,
		readIndex:      -1,
		firstPacket:    true,
	}
}

// Start launches the reader and non-blocking-file-reader goroutines.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})
	e.nbr = newNonBlockingReader(e.src)
	go e.nbr.run(ctx)

	if readIndex, ok := e.index.GetResume(); ok {
		e.mu.Lock()
		e.readIndex = readIndex
		e.mu.Unlock()
		e.log.Info("resuming replay", "index", readIndex)
	}
	if e.pauseLive {
		e.Goto(0, true)
	}
	go e.run(ctx)
}

// Stop cancels the engine's goroutines and persists the resume index.
func (e *Engine) Stop() {
	e.save()
	if e.cancel != nil {
		e.cancel()
		<-e.stopped
	}
}

// Detached satisfies device.PlaybackFeeder: the device lost its decoder
// feed (e.g. detached from the device it was replaying through).
func (e *Engine) Detached() {
	e.Stop()
}

// Empty flushes the frame pipeline on a trick-play transition:
// clears the non-blocking reader, repositions readIndex at the
// decoder's current STC, and resets the ring, PTS index, and decoder.
func (e *Engine) Empty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emptyLocked()
}

func (e *Engine) emptyLocked() {
	if e.nbr != nil { // nil until Start
		e.nbr.clear()
	}
	if !e.firstPacket {
		e.readIndex = e.pts.Find(uint32(e.decoder.STC())) - 1 // run() increments before using it
	}
	e.ring.Clear()
	e.pts.Clear()
	e.decoder.Clear()
	e.firstPacket = true
	e.eof = false
}

// Pause toggles pause/resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModePause || e.mode == ModeStill {
		e.playLocked()
		return
	}
	if e.mode == ModeFast || (e.mode == ModeSlow && e.dir == DirBackward) {
		if !(e.decoder.HasIBPTrickSpeed() && e.dir == DirForward) {
			e.emptyLocked()
		}
	}
	e.decoder.Freeze()
	e.mode = ModePause
}

// Play resumes normal forward playback.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playLocked()
}

func (e *Engine) playLocked() {
	if e.mode == ModePlay {
		return
	}
	if e.mode == ModeStill || e.mode == ModeFast || (e.mode == ModeSlow && e.dir == DirBackward) {
		if !(e.decoder.HasIBPTrickSpeed() && e.dir == DirForward) {
			e.emptyLocked()
		}
	}
	e.decoder.Play()
	e.mode = ModePlay
	e.dir = DirForward
	e.speedIdx = NormalSpeedIndex
}

// Forward advances the trick-play state toward faster-forward, per the
// original's Forward() state table.
func (e *Engine) Forward() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModeFast:
		if e.multiSpeed {
			e.trickSpeedLocked(signIf(e.dir == DirForward, 1, -1))
			return
		}
		if e.dir == DirForward {
			e.playLocked()
			return
		}
		fallthrough
	case ModePlay:
		if !(e.decoder.HasIBPTrickSpeed() && e.dir == DirForward) {
			e.emptyLocked()
		}
		if e.decoder.IsPlayingVideo() {
			e.decoder.Mute(true)
		}
		e.mode = ModeFast
		e.dir = DirForward
		e.speedIdx = NormalSpeedIndex
		e.trickSpeedLocked(signIf(e.multiSpeed, 1, MaxSpeedOffset))
	case ModeSlow:
		if e.multiSpeed {
			e.trickSpeedLocked(signIf(e.dir == DirForward, -1, 1))
			return
		}
		if e.dir == DirForward {
			e.pauseNoToggleLocked()
			return
		}
		e.emptyLocked()
		fallthrough
	case ModeStill, ModePause:
		e.decoder.Mute(true)
		e.mode = ModeSlow
		e.dir = DirForward
		e.speedIdx = NormalSpeedIndex
		e.trickSpeedLocked(signIf(e.multiSpeed, -1, -MaxSpeedOffset))
	}
}

// Backward advances the trick-play state toward faster-backward.
func (e *Engine) Backward() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModeFast:
		if e.multiSpeed {
			e.trickSpeedLocked(signIf(e.dir == DirBackward, 1, -1))
			return
		}
		if e.dir == DirBackward {
			e.playLocked()
			return
		}
		fallthrough
	case ModePlay:
		e.emptyLocked()
		if e.decoder.IsPlayingVideo() {
			e.decoder.Mute(true)
		}
		e.mode = ModeFast
		e.dir = DirBackward
		e.speedIdx = NormalSpeedIndex
		e.trickSpeedLocked(signIf(e.multiSpeed, 1, MaxSpeedOffset))
	case ModeSlow:
		if e.multiSpeed {
			e.trickSpeedLocked(signIf(e.dir == DirBackward, -1, 1))
			return
		}
		if e.dir == DirBackward {
			e.pauseNoToggleLocked()
			return
		}
		e.emptyLocked()
		fallthrough
	case ModeStill, ModePause:
		e.emptyLocked()
		e.decoder.Mute(true)
		e.mode = ModeSlow
		e.dir = DirBackward
		e.speedIdx = NormalSpeedIndex
		e.trickSpeedLocked(signIf(e.multiSpeed, -1, -MaxSpeedOffset))
	}
}

func (e *Engine) pauseNoToggleLocked() {
	e.decoder.Freeze()
	e.mode = ModePause
}

func signIf(cond bool, ifTrue, ifFalse int) int {
	if cond {
		return ifTrue
	}
	return ifFalse
}

// trickSpeedLocked applies a speed-table increment, per
// cDvbPlayer::TrickSpeed.
func (e *Engine) trickSpeedLocked(increment int) {
	nts := e.speedIdx + increment
	if nts < 0 || nts >= len(Speeds) {
		return
	}
	if Speeds[nts] == 1 {
		e.speedIdx = nts
		if e.mode == ModeFast {
			e.playLocked()
		} else {
			e.pauseNoToggleLocked()
		}
		return
	}
	if Speeds[nts] == 0 {
		return
	}
	e.speedIdx = nts
	mult := SpeedMultiplier
	if e.mode == ModeSlow && e.dir == DirForward {
		mult = 1
	}
	var sp int
	if Speeds[nts] > 0 {
		sp = mult / Speeds[nts]
	} else {
		sp = -Speeds[nts] * mult
	}
	if sp > MaxVideoSlowMotion {
		sp = MaxVideoSlowMotion
	}
	e.decoder.TrickSpeed(sp)
}

// SkipFrames moves the playback position by frames (positive forward,
// negative backward), snapping to the nearest I-frame, and returns the
// resulting index (or the prior index if no I-frame is reachable).
func (e *Engine) SkipFrames(frames int) int {
	if frames == 0 {
		return -1
	}
	current, _, _ := e.GetIndex(true)
	old := current
	adjust := -1
	if frames < 0 {
		adjust = 1
	}
	next, _, ok := e.index.GetNextIFrame(current+frames+adjust, frames > 0)
	if !ok {
		return old
	}
	return next
}

// SkipSeconds repositions by seconds of playback, snapped to the
// previous I-frame, and resumes normal play.
func (e *Engine) SkipSeconds(seconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.pts.Find(uint32(e.decoder.STC()))
	e.emptyLocked()
	if idx >= 0 {
		target := idx + int(math.Round(float64(seconds)*e.fps))
		if target < 0 {
			target = 0
		}
		if target > 0 {
			if next, _, ok := e.index.GetNextIFrame(target, false); ok {
				target = next
			}
		}
		e.readIndex = target - 1 // run() increments before using it
	}
	e.playLocked()
}

// Goto jumps directly to a frame index. still, when true, freezes the
// decoder on that single frame instead of resuming playback.
func (e *Engine) Goto(position int, still bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emptyLocked()
	position++
	if position <= 0 {
		position = 1
	}
	next, loc, ok := e.index.GetNextIFrame(position, false)
	if !ok {
		return
	}
	if still {
		if err := e.src.Open(loc.FileNumber, loc.FileOffset); err == nil {
			buf := make([]byte, loc.Length)
			if n, err := e.src.Read(buf); err == nil && n > 0 {
				e.decoder.StillPicture(buf[:n])
				e.pts.Put(pesOrTSPTS(e.isPESRecording, buf[:n]), next)
			}
		}
		e.mode = ModeStill
	}
	e.readIndex = next
}

// GetIndex returns the current position (derived from the decoder's
// STC via the PTS index) and the recording's last frame index.
// snapToIFrame, when true, snaps current to the nearer I-frame
// neighbor.
func (e *Engine) GetIndex(snapToIFrame bool) (current, total int, ok bool) {
	if e.index == nil {
		return -1, -1, false
	}
	current = e.pts.Find(uint32(e.decoder.STC()))
	if snapToIFrame {
		i1, _, _ := e.index.GetNextIFrame(current+1, false)
		i2, _, _ := e.index.GetNextIFrame(current, true)
		if absInt(current-i1) <= absInt(current-i2) {
			current = i1
		} else {
			current = i2
		}
	}
	return current, e.index.Last(), true
}

// GetReplayMode reports whether playback is advancing, the direction,
// and the current trick speed offset (-1 when not in slow/fast mode).
func (e *Engine) GetReplayMode() (playing, forward bool, speed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	playing = e.mode == ModePlay || e.mode == ModeFast
	forward = e.dir == DirForward
	if e.mode == ModeFast || e.mode == ModeSlow {
		if e.multiSpeed {
			speed = absInt(e.speedIdx - NormalSpeedIndex)
		} else {
			speed = 0
		}
	} else {
		speed = -1
	}
	return playing, forward, speed
}

func (e *Engine) save() {
	if e.index == nil {
		return
	}
	idx := e.pts.Find(uint32(e.decoder.STC()))
	if idx < 0 {
		return
	}
	idx -= int(math.Round(ResumeBackupSecs * e.fps))
	if idx > 0 {
		if next, _, ok := e.index.GetNextIFrame(idx, false); ok {
			idx = next
		}
	} else {
		idx = 0
	}
	if idx >= 0 {
		e.index.StoreResume(idx)
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// pesOrTSPTS extracts the PTS from a single independent frame's bytes,
// dispatching on the recording's storage format.
func pesOrTSPTS(isPES bool, data []byte) uint32 {
	pts, ok := extractFramePTS(isPES, data)
	if !ok {
		return 0
	}
	return pts
}

// extractFramePTS locates the PTS carried by the first frame-opening PES
// packet in data. A PES recording stores the raw PES stream directly, so
// data already starts with the PES header. A TS recording stores 188-byte
// TS packets, so the PES header is inside the payload of the first packet
// whose payload_unit_start_indicator is set.
func extractFramePTS(isPES bool, data []byte) (uint32, bool) {
	if isPES {
		return tspes.PESPTS(data)
	}
	for off := 0; off+188 <= len(data); off += 188 {
		pkt := data[off : off+188]
		if pts, ok := tspes.PacketPTS(pkt, 0); ok {
			return pts, true
		}
	}
	return 0, false
}
