package arbiter

import (
	"testing"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
	"github.com/yavdr/vdr/internal/receiver"
)

func newTestReceiver() *receiver.Receiver {
	return receiver.New([]contracts.PID{100}, 0, "test", nil)
}

type stubDriver struct {
	provides    bool
	needsDetach bool
	systems     int
	hasCI       bool
	avoid       bool
}

func (s *stubDriver) ProvidesChannel(ch *contracts.Channel, priority int) (bool, bool) {
	return s.provides, s.needsDetach
}
func (s *stubDriver) ProvidesTransponder(ch *contracts.Channel) bool  { return s.provides }
func (s *stubDriver) IsTunedToTransponder(ch *contracts.Channel) bool { return false }
func (s *stubDriver) MaySwitchTransponder(ch *contracts.Channel) bool { return true }
func (s *stubDriver) DeliverySystems() int                           { return s.systems }
func (s *stubDriver) HasLock() bool                                  { return true }
func (s *stubDriver) SetChannelDevice(ch *contracts.Channel) bool     { return true }
func (s *stubDriver) OpenDVR() error                                  { return nil }
func (s *stubDriver) CloseDVR()                                       {}
func (s *stubDriver) GetTSPacket() []byte                             { return nil }
func (s *stubDriver) SetPID(handle int, pid contracts.PID, pidType contracts.PIDType, on bool) bool {
	return true
}
func (s *stubDriver) OpenFilter(pid contracts.PID) (int, bool) { return 1, true }
func (s *stubDriver) CloseFilter(handle int)                   {}
func (s *stubDriver) AvoidRecording() bool                      { return s.avoid }
func (s *stubDriver) HasCI() bool                               { return s.hasCI }

func newDevice(idx int, primary bool, d *stubDriver) *device.Device {
	dev := device.New(idx, d, nil, nil, nil)
	dev.Primary = primary
	return dev
}

func TestChoose_AvoidsMultiDeliverySystemCard(t *testing.T) {
	t.Parallel()
	single := newDevice(0, false, &stubDriver{provides: true, systems: 1})
	multi := newDevice(1, false, &stubDriver{provides: true, systems: 4})

	a := New([]*device.Device{single, multi}, nil, nil, nil)
	ch := &contracts.Channel{ID: "c1"}

	got := a.Choose(ch, 0, false, true)
	if got != single {
		t.Fatalf("expected single-delivery-system device chosen, got card %d", got.CardIndex)
	}
}

func TestChoose_PrefersAlreadyReceivingDeviceWhenNoDetachNeeded(t *testing.T) {
	t.Parallel()
	// Per the original impact ordering, a device already receiving (and
	// thus already tuned) beats an idle one when attaching wouldn't
	// require detaching anything — keeping free tuners free for future
	// requests takes priority over spreading load.
	busy := newDevice(0, false, &stubDriver{provides: true, systems: 1})
	idle := newDevice(1, false, &stubDriver{provides: true, systems: 1})

	r := newTestReceiver()
	if !busy.Attach(r) {
		t.Fatal("attach failed")
	}
	defer busy.Detach(r)

	a := New([]*device.Device{busy, idle}, nil, nil, nil)
	got := a.Choose(&contracts.Channel{ID: "c1"}, 0, false, true)
	if got != busy {
		t.Fatalf("expected already-receiving device chosen, got card %d", got.CardIndex)
	}
}

func TestChoose_ReturnsNilWhenNoDeviceProvidesChannel(t *testing.T) {
	t.Parallel()
	d1 := newDevice(0, false, &stubDriver{provides: false})
	a := New([]*device.Device{d1}, nil, nil, nil)
	if got := a.Choose(&contracts.Channel{ID: "x"}, 0, false, true); got != nil {
		t.Fatalf("expected nil, got device %d", got.CardIndex)
	}
}

func TestChoose_EncryptedChannelRequiresUsableCAMSlot(t *testing.T) {
	t.Parallel()
	d1 := newDevice(0, false, &stubDriver{provides: true, systems: 1})
	a := New([]*device.Device{d1}, nil, nil, nil)
	ch := &contracts.Channel{ID: "enc", Scheme: contracts.CAEncryptMin + 1, CAIDs: []uint16{0x0100}}
	if got := a.Choose(ch, 0, false, true); got != nil {
		t.Fatalf("expected nil with no CAM registry, got device %d", got.CardIndex)
	}
}

func TestChoose_SpecificCardRequest(t *testing.T) {
	t.Parallel()
	d0 := newDevice(0, false, &stubDriver{provides: true, systems: 1})
	d1 := newDevice(1, false, &stubDriver{provides: true, systems: 1})
	a := New([]*device.Device{d0, d1}, nil, nil, nil)
	ch := &contracts.Channel{ID: "c", Scheme: 2} // SpecificCard() == 2 -> card index 1
	got := a.Choose(ch, 0, false, true)
	if got != d1 {
		t.Fatalf("expected device 1 (card pinned), got %v", got)
	}
}

func TestChooseForTransponder_FallsBackToMaySwitch(t *testing.T) {
	t.Parallel()
	d0 := newDevice(0, false, &stubDriver{provides: true})
	a := New([]*device.Device{d0}, nil, nil, nil)
	// IsTunedToTransponder is always false in the stub, so this falls
	// through to MaySwitchTransponder, which is true.
	got := a.ChooseForTransponder(&contracts.Channel{ID: "t"}, 0)
	if got != d0 {
		t.Fatalf("expected d0, got %v", got)
	}
}
