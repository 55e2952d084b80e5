// Package swdecoder implements contracts.Decoder without real hardware,
// standing in for the base cDevice behavior original VDR falls back to
// when no output device subclass overrides GetSTC/PlayTS/PlayPES: it
// accepts fed data, tracks the most recent PTS it sees (TS packets on the
// video PID, or any PES passed to PlayPES) as its STC, and otherwise acts
// as a sink. Used by cmd/vdr so a card can
// be constructed without a real decoder chip attached.
package swdecoder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/tspes"
)

// Decoder tracks STC from the PTS of whichever packets it is fed,
// mirroring VDR's documented behavior that GetSTC returns -1 until a
// real PTS has been observed (original_source/device.c's base
// cDevice::GetSTC always returns -1; concrete devices override it).
type Decoder struct {
	mu         sync.Mutex
	videoPID   contracts.PID
	audioPID   contracts.PID
	subPID     contracts.PID
	playing    bool
	frozen     bool
	muted      bool
	trickSpeed int

	stc    atomic.Int64 // 90kHz ticks, or sentinel below if unset
	hasSTC atomic.Bool
}

// New returns a Decoder with no STC established yet.
func New() *Decoder {
	d := &Decoder{}
	d.stc.Store(-1)
	return d
}

func (d *Decoder) PlayTS(data []byte, videoOnly bool) (int, error) {
	d.observePTS(data)
	return len(data), nil
}

func (d *Decoder) PlayPES(data []byte, videoOnly bool) (int, error) {
	if pts, ok := tspes.PESPTS(data); ok {
		d.stc.Store(int64(pts))
		d.hasSTC.Store(true)
	}
	return len(data), nil
}

func (d *Decoder) observePTS(pkt []byte) {
	d.mu.Lock()
	vpid := d.videoPID
	d.mu.Unlock()

	if len(pkt) < 4 || tspes.PID(pkt) != vpid || !tspes.PayloadStart(pkt) {
		return
	}
	payload := tspes.Payload(pkt)
	if len(payload) == 0 || !tspes.IsPESStart(payload) {
		return
	}
	if pts, ok := tspes.PESPTS(payload); ok {
		d.stc.Store(int64(pts))
		d.hasSTC.Store(true)
	}
}

func (d *Decoder) PlayVideo(pid contracts.PID) error {
	d.mu.Lock()
	d.videoPID = pid
	d.mu.Unlock()
	return nil
}

func (d *Decoder) PlayAudio(pid contracts.PID) error {
	d.mu.Lock()
	d.audioPID = pid
	d.mu.Unlock()
	return nil
}

func (d *Decoder) PlaySubtitle(pid contracts.PID) error {
	d.mu.Lock()
	d.subPID = pid
	d.mu.Unlock()
	return nil
}

func (d *Decoder) SetPlayMode(on bool) error {
	d.mu.Lock()
	d.playing = on
	d.mu.Unlock()
	return nil
}

func (d *Decoder) TrickSpeed(speed int) error {
	d.mu.Lock()
	d.trickSpeed = speed
	d.mu.Unlock()
	return nil
}

func (d *Decoder) Clear() error {
	d.mu.Lock()
	d.frozen = false
	d.trickSpeed = 0
	d.mu.Unlock()
	d.stc.Store(-1)
	d.hasSTC.Store(false)
	return nil
}

func (d *Decoder) Play() error {
	d.mu.Lock()
	d.frozen = false
	d.playing = true
	d.mu.Unlock()
	return nil
}

func (d *Decoder) Freeze() error {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
	return nil
}

func (d *Decoder) Mute(on bool) error {
	d.mu.Lock()
	d.muted = on
	d.mu.Unlock()
	return nil
}

func (d *Decoder) StillPicture(data []byte) error {
	d.observePTS(data)
	return nil
}

// STC returns the last observed PTS (from a video-PID TS packet or from
// any PES fed to PlayPES), or -1 if none has been seen yet, matching
// VDR's documented "no STC available" sentinel.
func (d *Decoder) STC() int64 {
	if !d.hasSTC.Load() {
		return -1
	}
	return d.stc.Load()
}

// Poll reports readiness immediately: there is no hardware buffer to
// drain, so the software sink is always ready for more data.
func (d *Decoder) Poll(ctx context.Context, timeoutMS int) bool { return true }

func (d *Decoder) Flush() error { return nil }

// HasIBPTrickSpeed reports false: without real hardware there is no
// I/B/P-aware trick mode, only the playback engine's own frame skipping.
func (d *Decoder) HasIBPTrickSpeed() bool { return false }

func (d *Decoder) IsPlayingVideo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing && !d.frozen
}
