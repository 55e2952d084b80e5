// Package arbiter implements device/CAM-slot selection: picking, for a
// requested channel and priority, the device (and if the channel is
// encrypted, the CAM slot) with the least overall impact on the rest of
// the system. Ported line-for-line from
// original_source/device.c's cDevice::GetDevice /
// cDevice::GetDeviceForTransponder.
package arbiter

import (
	"log/slog"
	"sync"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
)

// Priority bounds mirrored from the original's config.h: device and CAM
// slot priorities range -99..99, biased by -IDLEPriority before packing
// into the impact score so the field is always non-negative.
const (
	IdlePriority = -99
	MaxPriority  = 99
)

// Arbiter chooses a device (and CAM slot, for encrypted channels) for a
// channel request, scoring every candidate device/slot pair by the
// "impact" it would have on the rest of the system and picking the
// lowest-impact candidate.
type Arbiter struct {
	mu        sync.RWMutex
	devices   []*device.Device
	camSlots  contracts.CamSlotRegistry
	relations contracts.ChannelCamRelations
	log       *slog.Logger

	transferReceiver *device.Device
}

// New builds an Arbiter over the given device set. camSlots may be nil
// for a deployment with no CI/CAM hardware at all, in which case every
// channel is treated as free-to-air for arbitration purposes.
func New(devices []*device.Device, camSlots contracts.CamSlotRegistry, relations contracts.ChannelCamRelations, log *slog.Logger) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{
		devices:   devices,
		camSlots:  camSlots,
		relations: relations,
		log:       log.With("component", "arbiter"),
	}
}

// SetTransferReceiver records which device (if any) currently feeds a
// local Transfer Mode session, so the scorer can deprioritize using it
// for a second, unrelated channel request (original's "avoid the
// Transfer Mode receiver device" rule).
func (a *Arbiter) SetTransferReceiver(d *device.Device) {
	a.mu.Lock()
	a.transferReceiver = d
	a.mu.Unlock()
}

func (a *Arbiter) isTransferReceiver(d *device.Device) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transferReceiver != nil && a.transferReceiver == d
}

type slotCandidate struct {
	slot     contracts.CamSlot
	priority int // biased to IdlePriority if unusable
	usable   bool
}

// Choose picks the best device (and, for encrypted channels, CAM slot)
// able to serve ch at priority. liveView biases toward the primary
// device when no receivers need detaching. query true performs the
// scoring without actually assigning the winning CAM slot or detaching
// anything — used by callers that only want to know "would this
// succeed" (e.g. the fast channel-switch probe).
//
// Returns nil if no device (or, for an encrypted channel, no device/CAM
// pair) can serve the request.
func (a *Arbiter) Choose(ch *contracts.Channel, priority int, liveView bool, query bool) *device.Device {
	a.mu.RLock()
	devices := append([]*device.Device(nil), a.devices...)
	a.mu.RUnlock()

	slots := a.usableSlots(ch)
	if ch.Encrypted() && len(slots) == 0 {
		return nil // no CAM is able to decrypt this channel
	}

	var (
		best            *device.Device
		bestSlot        contracts.CamSlot
		bestImpact      uint32 = ^uint32(0)
		bestNeedsDetach bool
	)

	// When the channel isn't encrypted, slots is a single synthetic
	// "no CAM" entry so the outer loop still runs exactly once.
	for _, sc := range slots {
		for _, d := range devices {
			if card := ch.SpecificCard(); card != 0 && card != d.CardIndex+1 {
				continue // a specific card was requested, but not this one
			}
			if sc.usable {
				if !sc.slot.Assign(d, true) {
					continue // CAM slot can't be used with this device
				}
			}
			ok, needsDetach := d.ProvidesChannel(ch, priority)
			if !ok {
				continue
			}
			if sc.usable {
				if existing := d.CamSlot(); existing != nil && existing != sc.slot {
					needsDetach = true
				}
			}

			imp := a.impact(d, sc, ch, liveView, needsDetach)
			if imp < bestImpact {
				bestImpact = imp
				best = d
				bestNeedsDetach = needsDetach
				if sc.usable {
					bestSlot = sc.slot
				} else {
					bestSlot = nil
				}
			}
		}
	}

	if best == nil || query {
		return best
	}

	if bestNeedsDetach {
		best.DetachAll()
	}
	if bestSlot != nil {
		if existing := best.CamSlot(); existing != bestSlot {
			if existing != nil {
				existing.Assign(nil, false)
			}
			if other, ok := bestSlot.Device().(*device.Device); ok && other != nil && other != best {
				other.DetachAll()
			}
			bestSlot.Assign(best, false)
			best.SetCamSlot(bestSlot)
		}
	} else if existing := best.CamSlot(); existing != nil && !existing.IsDecrypting() {
		existing.Assign(nil, false)
		best.SetCamSlot(nil)
	}
	return best
}

// usableSlots returns, for an encrypted channel, every CAM slot that is
// ready, advertises the channel's CAID set, and hasn't already been
// checked and rejected for this channel. For an FTA channel it returns a
// single synthetic non-usable entry so Choose's slot loop still runs
// once.
func (a *Arbiter) usableSlots(ch *contracts.Channel) []slotCandidate {
	if !ch.Encrypted() {
		return []slotCandidate{{usable: false, priority: IdlePriority}}
	}
	if a.camSlots == nil {
		return nil // encrypted, but no CAM hardware at all: nothing can decrypt it
	}
	var out []slotCandidate
	for _, s := range a.camSlots.All() {
		if s.ModuleStatus() != contracts.ModuleReady {
			continue
		}
		if !s.ProvidesCA(ch.CAIDs) {
			continue
		}
		if a.relations != nil && a.relations.CamChecked(ch.ID, s.SlotNumber()) {
			continue
		}
		out = append(out, slotCandidate{slot: s, priority: s.Priority(), usable: true})
	}
	return out
}

func clippedSystems(bits int, n int) uint32 {
	max := (1 << bits) - 1
	if n > max {
		n = max
	}
	if n <= 0 {
		n = 1
	}
	return uint32(n)
}

// impact packs the same twelve conditions as the original, most
// significant first: the earlier a condition appears, the more it
// dominates the comparison.
func (a *Arbiter) impact(d *device.Device, sc slotCandidate, ch *contracts.Channel, liveView, needsDetach bool) uint32 {
	var imp uint32

	b := func(v bool) {
		imp <<= 1
		if v {
			imp |= 1
		}
	}
	bits := func(n int, v uint32) {
		imp <<= uint32(n)
		imp |= v & ((1 << uint32(n)) - 1)
	}

	// prefer the primary device for live viewing if we don't need to
	// detach existing receivers
	b(liveView && (!d.IsPrimaryDevice() || needsDetach))

	// use receiving devices if we don't need to detach existing
	// receivers, but avoid the primary device in local Transfer Mode
	b(!d.Receiving() && (!a.isTransferReceiver(d) || d.IsPrimaryDevice()) || needsDetach)

	// avoid devices that are receiving
	b(d.Receiving())

	// avoid cards which support multiple delivery systems
	bits(4, clippedSystems(4, d.DeliverySystems())-1)

	// avoid the Transfer Mode receiver device
	b(a.isTransferReceiver(d))

	// use the device with the lowest priority
	bits(8, uint32(d.Priority()-IdlePriority))

	// use the CAM slot with the lowest priority
	slotPriority := IdlePriority
	if sc.usable {
		slotPriority = sc.priority
	}
	bits(8, uint32(slotPriority-IdlePriority))

	// avoid devices if we need to detach existing receivers
	b(needsDetach)

	// avoid cards with Common Interface for FTA channels
	b(!sc.usable && d.HasCI())

	// avoid SD full-featured cards held back for recording
	b(d.AvoidRecording())

	// prefer CAMs already known to decrypt this channel
	decryptKnown := true
	if sc.usable && a.relations != nil {
		decryptKnown = a.relations.CamDecrypt(ch.ID, sc.slot.SlotNumber())
	}
	b(sc.usable && !decryptKnown)

	// avoid the primary device
	b(d.IsPrimaryDevice())

	return imp
}

// ChooseForTransponder picks a device already tuned (or cheaply
// tunable) to ch's transponder, for the fast EPG/transponder-scan path
// that doesn't need full channel arbitration. Ported from
// cDevice::GetDeviceForTransponder.
func (a *Arbiter) ChooseForTransponder(ch *contracts.Channel, priority int) *device.Device {
	a.mu.RLock()
	devices := append([]*device.Device(nil), a.devices...)
	a.mu.RUnlock()

	var best *device.Device
	for _, d := range devices {
		if d.IsTunedToTransponder(ch) {
			return d
		}
		if !d.ProvidesTransponder(ch) {
			continue
		}
		if d.MaySwitchTransponder(ch) {
			best = d
			continue
		}
		if d.Occupied() {
			continue
		}
		if d.Priority() < priority && (best == nil || d.Priority() < best.Priority()) {
			best = d
		}
	}
	return best
}
