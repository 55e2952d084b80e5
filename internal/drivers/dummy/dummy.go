// Package dummy implements contracts.Driver with no backing hardware,
// standing in for VDR's cDummyDevice: a device that claims to provide
// every channel but delivers no data, useful for running the core
// with fewer real tuners configured than cards declared, or for tests.
package dummy

import (
	"sync"

	"github.com/yavdr/vdr/internal/contracts"
)

// Driver never fails a tune and never produces a TS packet.
type Driver struct {
	mu      sync.Mutex
	open    bool
	filters map[int]contracts.PID
	next    int
}

func New() *Driver {
	return &Driver{filters: make(map[int]contracts.PID)}
}

func (d *Driver) ProvidesChannel(ch *contracts.Channel, priority int) (bool, bool) { return true, false }
func (d *Driver) ProvidesTransponder(ch *contracts.Channel) bool                   { return true }
func (d *Driver) IsTunedToTransponder(ch *contracts.Channel) bool                  { return true }
func (d *Driver) MaySwitchTransponder(ch *contracts.Channel) bool                  { return true }
func (d *Driver) DeliverySystems() int                                            { return 1 }
func (d *Driver) HasLock() bool                                                   { return true }
func (d *Driver) SetChannelDevice(ch *contracts.Channel) bool                      { return true }

func (d *Driver) OpenDVR() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *Driver) CloseDVR() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}

// GetTSPacket always returns nil: a dummy device carries no signal.
func (d *Driver) GetTSPacket() []byte { return nil }

func (d *Driver) SetPID(handle int, pid contracts.PID, pidType contracts.PIDType, on bool) bool {
	return true
}

func (d *Driver) OpenFilter(pid contracts.PID) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.filters[d.next] = pid
	return d.next, true
}

func (d *Driver) CloseFilter(handle int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.filters, handle)
}

func (d *Driver) AvoidRecording() bool { return false }
func (d *Driver) HasCI() bool          { return false }
