package device

import (
	"sync"
	"testing"
	"time"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/receiver"
)

type fakeDriver struct {
	mu       sync.Mutex
	packets  chan []byte
	provides bool
	filters  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{packets: make(chan []byte, 64), provides: true}
}

func (f *fakeDriver) ProvidesChannel(ch *contracts.Channel, priority int) (bool, bool) {
	return f.provides, false
}
func (f *fakeDriver) ProvidesTransponder(ch *contracts.Channel) bool     { return f.provides }
func (f *fakeDriver) IsTunedToTransponder(ch *contracts.Channel) bool    { return false }
func (f *fakeDriver) MaySwitchTransponder(ch *contracts.Channel) bool    { return true }
func (f *fakeDriver) DeliverySystems() int                           { return 1 }
func (f *fakeDriver) HasLock() bool                                  { return true }
func (f *fakeDriver) SetChannelDevice(ch *contracts.Channel) bool     { return true }
func (f *fakeDriver) OpenDVR() error                                 { return nil }
func (f *fakeDriver) CloseDVR()                                      {}
func (f *fakeDriver) GetTSPacket() []byte {
	select {
	case p := <-f.packets:
		return p
	case <-time.After(20 * time.Millisecond):
		return nil
	}
}
func (f *fakeDriver) SetPID(handle int, pid contracts.PID, pidType contracts.PIDType, on bool) bool {
	return true
}
func (f *fakeDriver) OpenFilter(pid contracts.PID) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters++
	return f.filters, true
}
func (f *fakeDriver) CloseFilter(handle int) {}
func (f *fakeDriver) AvoidRecording() bool   { return false }
func (f *fakeDriver) HasCI() bool            { return false }

func (f *fakeDriver) push(pkt []byte) {
	f.packets <- pkt
}

type fakeCamRelations struct {
	mu       sync.Mutex
	checked  []string
	decrypts map[string]bool
}

func newFakeCamRelations() *fakeCamRelations {
	return &fakeCamRelations{decrypts: make(map[string]bool)}
}
func (f *fakeCamRelations) CamChecked(channelID string, slot int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.checked {
		if c == channelID {
			return true
		}
	}
	return false
}
func (f *fakeCamRelations) CamDecrypt(channelID string, slot int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decrypts[channelID]
}
func (f *fakeCamRelations) SetChecked(channelID string, slot int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, channelID)
}
func (f *fakeCamRelations) SetDecrypt(channelID string, slot int, decrypt bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrypts[channelID] = decrypt
}

func makePacket(pid uint16, payload []byte) []byte {
	buf := make([]byte, 188)
	buf[0] = 0x47
	buf[1] = byte(pid >> 8 & 0x1F)
	buf[2] = byte(pid)
	buf[3] = 0x10
	copy(buf[4:], payload)
	return buf
}

func TestDevice_AttachDetachIdempotence(t *testing.T) {
	t.Parallel()
	d := New(0, newFakeDriver(), nil, newFakeCamRelations(), nil)

	r1 := receiver.New([]contracts.PID{101, 102}, 0, "c1", nil)
	r2 := receiver.New([]contracts.PID{102, 103}, 0, "c2", nil)

	if !d.Attach(r1) {
		t.Fatal("attach r1 failed")
	}
	if !d.Attach(r2) {
		t.Fatal("attach r2 failed")
	}
	d.Detach(r1)
	d.Detach(r2)

	if !d.Empty() {
		t.Fatal("expected all PID slots free after matched attach/detach pairs")
	}
	if d.ReceiverCount() != 0 {
		t.Fatal("expected no receivers remaining")
	}
}

func TestDevice_AttachStartsAndDetachStopsFanout(t *testing.T) {
	t.Parallel()
	fd := newFakeDriver()
	d := New(0, fd, nil, newFakeCamRelations(), nil)

	var mu sync.Mutex
	var received int
	r := receiver.New([]contracts.PID{101}, 0, "c1", func(p []byte) {
		mu.Lock()
		received++
		mu.Unlock()
	})
	if !d.Attach(r) {
		t.Fatal("attach failed")
	}

	fd.push(makePacket(101, []byte{0x01}))
	fd.push(makePacket(999, []byte{0x02})) // not subscribed

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := received
	mu.Unlock()
	if got != 1 {
		t.Fatalf("received = %d, want 1 (only the subscribed PID)", got)
	}

	d.Detach(r)
	if !d.Empty() {
		t.Fatal("expected empty pid table after detach")
	}
}

func TestDevice_SetChannelSwitchesCurrentChannel(t *testing.T) {
	t.Parallel()
	d := New(0, newFakeDriver(), nil, newFakeCamRelations(), nil)

	chA := &contracts.Channel{ID: "A", VideoPID: 100}
	chB := &contracts.Channel{ID: "B", VideoPID: 200}

	if res := d.SetChannel(chA, true); res != ScrOK {
		t.Fatalf("SetChannel(A) = %v, want ok", res)
	}
	if d.Channel().ID != "A" {
		t.Fatal("expected channel A current")
	}
	if res := d.SetChannel(chB, true); res != ScrOK {
		t.Fatalf("SetChannel(B) = %v, want ok", res)
	}
	if d.Channel().ID != "B" {
		t.Fatal("expected channel B current")
	}
}

func TestDevice_SetChannelNotAvailableWithoutTransfer(t *testing.T) {
	t.Parallel()
	fd := newFakeDriver()
	fd.provides = false
	d := New(0, fd, nil, newFakeCamRelations(), nil)

	res := d.SetChannel(&contracts.Channel{ID: "X"}, true)
	if res != ScrNotAvailable {
		t.Fatalf("SetChannel = %v, want not_available", res)
	}
}

type dispatchingTransfer struct{ ok bool }

func (d *dispatchingTransfer) DispatchTransfer(ch *contracts.Channel, priority int) bool {
	return d.ok
}

func TestDevice_SetChannelDispatchesTransferWhenUnavailable(t *testing.T) {
	t.Parallel()
	fd := newFakeDriver()
	fd.provides = false
	d := New(0, fd, nil, newFakeCamRelations(), nil)
	d.SetTransferDispatcher(&dispatchingTransfer{ok: true})

	res := d.SetChannel(&contracts.Channel{ID: "X"}, true)
	if res != ScrOK {
		t.Fatalf("SetChannel with transfer dispatch = %v, want ok", res)
	}
}

func TestDevice_PS1LegacyMode(t *testing.T) {
	t.Parallel()
	d := New(0, newFakeDriver(), nil, newFakeCamRelations(), nil)

	unknownPacket := func() []byte {
		// stream_id=0xBD, header_data_length=0, substream byte = 0xFF (unknown)
		return []byte{0x00, 0x00, 0x01, 0xBD, 0x00, 0x01, 0x00, 0x00, 0x00, 0xFF}
	}

	for i := 0; i < 10; i++ {
		d.PlayPES(unknownPacket(), false)
		if d.ps1.Legacy() {
			t.Fatalf("legacy mode triggered early at packet %d", i+1)
		}
	}
	d.PlayPES(unknownPacket(), false)
	if !d.ps1.Legacy() {
		t.Fatal("expected legacy mode after 11th consecutive unknown PS1 packet")
	}
}

func TestDevice_ScrambleDetachAfterThreeSeconds(t *testing.T) {
	t.Parallel()
	camRel := newFakeCamRelations()
	d := New(0, newFakeDriver(), nil, camRel, nil)
	d.currentChannel = &contracts.Channel{ID: "enc1"}
	d.camSlot = &fakeCamSlot{decrypting: true, slot: 3}

	d.scramble.onAttach(true)
	d.scramble.start = time.Now().Add(-4 * time.Second)

	pkt := makePacket(100, nil)
	pkt[3] |= 0xC0 // scrambled
	d.handlePacket(pkt)

	if len(camRel.checked) != 1 || camRel.checked[0] != "enc1" {
		t.Fatalf("expected exactly one SetChecked call for enc1, got %v", camRel.checked)
	}
}

type fakeCamSlot struct {
	decrypting bool
	slot       int
}

func (f *fakeCamSlot) Index() int                          { return 0 }
func (f *fakeCamSlot) SlotNumber() int                      { return f.slot }
func (f *fakeCamSlot) Priority() int                        { return 0 }
func (f *fakeCamSlot) ModuleStatus() contracts.ModuleStatus { return contracts.ModuleReady }
func (f *fakeCamSlot) ProvidesCA(caids []uint16) bool       { return true }
func (f *fakeCamSlot) Assign(device any, probe bool) bool   { return true }
func (f *fakeCamSlot) Device() any                          { return nil }
func (f *fakeCamSlot) StartDecrypting()                     { f.decrypting = true }
func (f *fakeCamSlot) SetPID(pid contracts.PID, on bool)     {}
func (f *fakeCamSlot) IsDecrypting() bool                    { return f.decrypting }

type fakePlayer struct {
	detached bool
}

func (p *fakePlayer) Detached() { p.detached = true }

func TestDevice_AttachPlayer_OnlyPrimaryAccepts(t *testing.T) {
	t.Parallel()
	primary := New(0, nil, nil, nil, nil)
	primary.Primary = true
	p := &fakePlayer{}
	if !primary.AttachPlayer(p) {
		t.Fatal("AttachPlayer on primary = false, want true")
	}
	if primary.Player() != p {
		t.Fatal("Player() did not return the attached player")
	}

	background := New(1, nil, nil, nil, nil)
	if background.AttachPlayer(&fakePlayer{}) {
		t.Fatal("AttachPlayer on non-primary = true, want false")
	}
}

func TestDevice_AttachPlayer_DetachesPriorPlayer(t *testing.T) {
	t.Parallel()
	d := New(0, nil, nil, nil, nil)
	d.Primary = true
	first := &fakePlayer{}
	second := &fakePlayer{}

	if !d.AttachPlayer(first) {
		t.Fatal("first AttachPlayer failed")
	}
	if !d.AttachPlayer(second) {
		t.Fatal("second AttachPlayer failed")
	}
	if !first.detached {
		t.Fatal("prior player was not detached when a new one attached")
	}
	if d.Player() != second {
		t.Fatal("Player() does not reflect the most recent AttachPlayer")
	}
}

func TestDevice_DetachPlayer_IgnoresStalePlayer(t *testing.T) {
	t.Parallel()
	d := New(0, nil, nil, nil, nil)
	d.Primary = true
	current := &fakePlayer{}
	stale := &fakePlayer{}
	d.AttachPlayer(current)

	d.DetachPlayer(stale)
	if stale.detached {
		t.Fatal("stale player's Detached() should not be called")
	}
	if d.Player() != current {
		t.Fatal("DetachPlayer with a stale player must not clear the current one")
	}

	d.DetachPlayer(current)
	if !current.detached {
		t.Fatal("current player was not detached")
	}
	if d.Player() != nil {
		t.Fatal("Player() should be nil after detaching the current player")
	}
}
