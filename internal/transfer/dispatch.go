package transfer

import (
	"log/slog"
	"sync"

	"github.com/yavdr/vdr/internal/arbiter"
	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
)

// Dispatcher implements device.TransferDispatcher: it is what a
// primary device calls into when it can't itself provide a requested
// live-view channel. It picks a source device via the arbiter, tunes it
// to the channel, and bridges its TS feed into the primary's decoder.
// Grounded on cTransferControl, which does the equivalent from the
// control layer rather than from inside cDevice::SetChannel.
type Dispatcher struct {
	mu      sync.Mutex
	primary *device.Device
	arbiter *arbiter.Arbiter
	log     *slog.Logger

	active *Bridge
}

// NewDispatcher builds a Dispatcher that bridges into primary's
// decoder, choosing a source device from arb.
func NewDispatcher(primary *device.Device, arb *arbiter.Arbiter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		primary: primary,
		arbiter: arb,
		log:     log.With("component", "transfer_dispatch"),
	}
}

// DispatchTransfer picks a device able to receive ch at priority, tunes
// it (not as a live view — the primary device, not this one, carries
// the live-view track selection), and starts bridging its feed into
// the primary's decoder. Any previously active transfer is torn down
// first. Returns false if no device can receive ch or the chosen device
// fails to tune or attach.
func (d *Dispatcher) DispatchTransfer(ch *contracts.Channel, priority int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	source := d.arbiter.Choose(ch, priority, false, false)
	if source == nil || source == d.primary {
		return false
	}
	if res := source.SetChannel(ch, false); res != device.ScrOK {
		d.log.Warn("transfer source device failed to tune", "channel", ch.ID, "result", res.String())
		return false
	}

	d.stopActiveLocked()

	bridge := New(d.primary, ch, d.log)
	if !bridge.Start(source) {
		d.log.Warn("transfer bridge failed to attach to source device", "channel", ch.ID)
		return false
	}
	d.arbiter.SetTransferReceiver(source)
	d.active = bridge
	return true
}

// Stop tears down any active transfer, releasing the source device's
// receiver slot and clearing the arbiter's transfer-receiver hint.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopActiveLocked()
}

func (d *Dispatcher) stopActiveLocked() {
	if d.active == nil {
		return
	}
	d.active.Stop()
	d.arbiter.SetTransferReceiver(nil)
	d.active = nil
}
