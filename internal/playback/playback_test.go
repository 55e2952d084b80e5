package playback

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/yavdr/vdr/internal/contracts"
)

// fakeDecoder is a minimal contracts.Decoder double that tracks the
// calls the state machine makes without doing any real decoding.
type fakeDecoder struct {
	mu        sync.Mutex
	stc       int64
	playing   bool
	muted     bool
	frozen    bool
	trick     int
	ibp       bool
	video     bool
	cleared   int
}

func (f *fakeDecoder) PlayTS(data []byte, videoOnly bool) (int, error)  { return len(data), nil }
func (f *fakeDecoder) PlayPES(data []byte, videoOnly bool) (int, error) { return len(data), nil }
func (f *fakeDecoder) PlayVideo(pid contracts.PID) error                { return nil }
func (f *fakeDecoder) PlayAudio(pid contracts.PID) error                { return nil }
func (f *fakeDecoder) PlaySubtitle(pid contracts.PID) error             { return nil }
func (f *fakeDecoder) SetPlayMode(on bool) error                        { return nil }
func (f *fakeDecoder) TrickSpeed(speed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trick = speed
	return nil
}
func (f *fakeDecoder) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}
func (f *fakeDecoder) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.frozen = false
	return nil
}
func (f *fakeDecoder) Freeze() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen = true
	f.playing = false
	return nil
}
func (f *fakeDecoder) Mute(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = on
	return nil
}
func (f *fakeDecoder) StillPicture(data []byte) error { return nil }
func (f *fakeDecoder) STC() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stc
}
func (f *fakeDecoder) Poll(ctx context.Context, timeoutMS int) bool { return true }
func (f *fakeDecoder) Flush() error             { return nil }
func (f *fakeDecoder) HasIBPTrickSpeed() bool    { return f.ibp }
func (f *fakeDecoder) IsPlayingVideo() bool      { return f.video }

// fakeIndex is a minimal contracts.RecordingIndex double backed by a
// slice of locators, one per frame, with every frame independent so
// GetNextIFrame is a trivial clamp.
type fakeIndex struct {
	mu           sync.Mutex
	locs         []contracts.FrameLocator
	resume       int
	haveResume   bool
	stillRec     bool
}

func newFakeIndex(n int) *fakeIndex {
	locs := make([]contracts.FrameLocator, n)
	for i := range locs {
		locs[i] = contracts.FrameLocator{FileNumber: 1, FileOffset: int64(i * 100), Independent: true, Length: 100}
	}
	return &fakeIndex{locs: locs}
}

func (f *fakeIndex) Get(frame int) (contracts.FrameLocator, bool) {
	if frame < 0 || frame >= len(f.locs) {
		return contracts.FrameLocator{}, false
	}
	return f.locs[frame], true
}

func (f *fakeIndex) GetNextIFrame(frame int, forward bool) (int, contracts.FrameLocator, bool) {
	if frame < 0 {
		frame = 0
	}
	if frame >= len(f.locs) {
		frame = len(f.locs) - 1
	}
	if frame < 0 {
		return 0, contracts.FrameLocator{}, false
	}
	return frame, f.locs[frame], true
}

func (f *fakeIndex) Last() int { return len(f.locs) - 1 }

func (f *fakeIndex) GetResume() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resume, f.haveResume
}

func (f *fakeIndex) StoreResume(frame int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resume = frame
	f.haveResume = true
}

func (f *fakeIndex) OK() bool               { return len(f.locs) > 0 }
func (f *fakeIndex) IsStillRecording() bool { return f.stillRec }

// fakeSource is a FileSource double over an in-memory byte slice.
type fakeSource struct {
	data []byte
	pos  int64
}

func (s *fakeSource) Open(fileNumber int, offset int64) error {
	if offset >= 0 {
		s.pos = offset
	}
	return nil
}

func (s *fakeSource) Read(buf []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func newTestEngine(multiSpeed bool) (*Engine, *fakeDecoder, *fakeIndex) {
	dec := &fakeDecoder{}
	idx := newFakeIndex(50)
	src := &fakeSource{data: make([]byte, 10000)}
	e := New(src, idx, dec, false, 25.0, false, multiSpeed, nil)
	return e, dec, idx
}

func TestEngine_PauseTogglesToPlay(t *testing.T) {
	t.Parallel()
	e, dec, _ := newTestEngine(true)

	e.Pause()
	if e.mode != ModePause {
		t.Fatalf("mode = %v, want pause", e.mode)
	}
	if !dec.frozen {
		t.Fatal("expected decoder frozen on pause")
	}

	e.Pause() // toggles back to play
	if e.mode != ModePlay {
		t.Fatalf("mode = %v, want play after second Pause()", e.mode)
	}
	if !dec.playing {
		t.Fatal("expected decoder playing after toggle back")
	}
}

func TestEngine_ForwardEntersFastThenAccelerates(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)

	e.Forward()
	if e.mode != ModeFast || e.dir != DirForward {
		t.Fatalf("mode=%v dir=%v, want fast/forward", e.mode, e.dir)
	}
	firstSpeed := e.speedIdx

	e.Forward()
	if e.speedIdx <= firstSpeed {
		t.Fatalf("expected speedIdx to increase on repeated Forward(), got %d -> %d", firstSpeed, e.speedIdx)
	}
}

func TestEngine_BackwardEntersFastReverse(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)

	e.Backward()
	if e.mode != ModeFast || e.dir != DirBackward {
		t.Fatalf("mode=%v dir=%v, want fast/backward", e.mode, e.dir)
	}
}

func TestEngine_ForwardThenPlayReturnsToNormalSpeed(t *testing.T) {
	t.Parallel()
	e, dec, _ := newTestEngine(true)

	e.Forward()
	e.Forward()
	e.Play()

	if e.mode != ModePlay || e.dir != DirForward {
		t.Fatalf("mode=%v dir=%v, want play/forward", e.mode, e.dir)
	}
	if e.speedIdx != NormalSpeedIndex {
		t.Fatalf("speedIdx = %d, want %d (normal)", e.speedIdx, NormalSpeedIndex)
	}
	if !dec.playing {
		t.Fatal("expected decoder playing")
	}
}

func TestEngine_GetReplayMode_ReportsSpeedOffset(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)

	e.Forward()
	e.Forward()
	playing, forward, speed := e.GetReplayMode()
	if !playing || !forward {
		t.Fatalf("playing=%v forward=%v, want both true in fast-forward", playing, forward)
	}
	if speed <= 0 {
		t.Fatalf("speed = %d, want > 0 after two Forward() calls", speed)
	}
}

func TestEngine_GetReplayMode_NormalPlayHasSpeedMinusOne(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)

	_, _, speed := e.GetReplayMode()
	if speed != -1 {
		t.Fatalf("speed = %d, want -1 in normal play", speed)
	}
}

func TestEngine_SkipFrames_SnapsToIFrame(t *testing.T) {
	t.Parallel()
	e, dec, _ := newTestEngine(true)
	dec.stc = 0

	got := e.SkipFrames(5)
	if got < 0 {
		t.Fatalf("SkipFrames(5) = %d, want a valid non-negative index", got)
	}
}

func TestEngine_SkipFrames_ZeroIsNoop(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)
	if got := e.SkipFrames(0); got != -1 {
		t.Fatalf("SkipFrames(0) = %d, want -1 sentinel", got)
	}
}

func TestEngine_Goto_PositionsAndFreezesWhenStill(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(true)

	e.Goto(10, true)
	if e.mode != ModeStill {
		t.Fatalf("mode = %v, want still", e.mode)
	}
	if e.readIndex != 11 {
		t.Fatalf("readIndex = %d, want 11 (Goto(10) -> index+1)", e.readIndex)
	}
}

func TestEngine_SaveAndResume_RoundTrip(t *testing.T) {
	t.Parallel()
	e, dec, idx := newTestEngine(true)

	e.pts.Put(1000, 20)
	dec.stc = 1000

	e.save()

	resumed, ok := idx.GetResume()
	if !ok {
		t.Fatal("expected a stored resume position")
	}
	if resumed < 0 {
		t.Fatalf("resume index = %d, want >= 0", resumed)
	}
}

func TestEngine_GetIndex_NoIndexReturnsNotOK(t *testing.T) {
	t.Parallel()
	dec := &fakeDecoder{}
	src := &fakeSource{}
	e := New(src, nil, dec, false, 25.0, false, true, nil)
	if _, _, ok := e.GetIndex(false); ok {
		t.Fatal("expected ok=false with a nil recording index")
	}
}
