package device

import (
	"context"
	"time"

	"github.com/yavdr/vdr/internal/receiver"
	"github.com/yavdr/vdr/internal/tspes"
)

// action is the DVR fan-out goroutine: opens the driver's DVR, pulls TS
// packets one at a time, runs scramble detection, and delivers each
// packet to every receiver whose PID set wants it. Grounded on
// original_source/device.c's cDevice::Action, adapted to a
// context-cancellable goroutine per the teacher's worker idiom
// (internal/sdtprobe).
func (d *Device) action(ctx context.Context) {
	defer close(d.stopped)

	if d.Driver != nil {
		if err := d.Driver.OpenDVR(); err != nil {
			d.log.Error("open dvr failed", "error", err)
			return
		}
		defer d.Driver.CloseDVR()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.Driver == nil {
			return
		}
		pkt := d.Driver.GetTSPacket()
		if pkt == nil {
			continue
		}

		d.handlePacket(pkt)
	}
}

func (d *Device) handlePacket(pkt []byte) {
	scrambled := tspes.Scrambled(pkt)
	mustDetach, ok := d.scramble.observe(scrambled, time.Now())
	if mustDetach || ok {
		d.recordScrambleVerdict(mustDetach)
	}

	d.mu.Lock()
	snapshot := make([]*receiver.Receiver, 0, MaxReceivers)
	for i := range d.receivers {
		if d.receivers[i].r != nil {
			snapshot = append(snapshot, d.receivers[i].r)
		}
	}
	d.mu.Unlock()

	pid := tspes.PID(pkt)
	for _, r := range snapshot {
		if r.WantsPID(pid) {
			r.Receive(pkt)
		}
	}
}

func (d *Device) recordScrambleVerdict(mustDetach bool) {
	if d.camSlot == nil || d.currentChannel == nil || d.camRelations == nil {
		if mustDetach {
			d.DetachAll()
		}
		return
	}
	slot := d.camSlot.SlotNumber()
	d.camRelations.SetChecked(d.currentChannel.ID, slot)
	if mustDetach {
		d.camRelations.SetDecrypt(d.currentChannel.ID, slot, false)
		d.log.Warn("cam does not decrypt channel, detaching receivers", "channel", d.currentChannel.ID, "slot", slot)
		d.DetachAll()
		return
	}
	d.camRelations.SetDecrypt(d.currentChannel.ID, slot, true)
	d.log.Info("cam decryption confirmed", "channel", d.currentChannel.ID, "slot", slot)
}
