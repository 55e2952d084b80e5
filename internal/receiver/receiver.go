// Package receiver defines the Receiver capability attached devices feed
// TS packets to. Grounded on the teacher's capability-interface style
// (small interfaces passed around by value, concrete structs satisfying
// them without an explicit implements declaration) and generalized from
// the original cReceiver subclass hierarchy (original_source/device.c)
// into a single struct wrapping a Sink function, matching the way Go
// favors function values over one-method abstract base classes.
package receiver

import "github.com/yavdr/vdr/internal/contracts"

// MaxPIDs bounds how many PIDs a single receiver may subscribe to,
// matching the fixed-size array the original cReceiver used.
const MaxPIDs = 64

// Sink receives one TS packet at a time on the owning device's fan-out
// goroutine. It must not block indefinitely — the device's loop serves
// every attached receiver from the same goroutine, so a slow Sink stalls
// every other receiver on that device.
type Sink func(packet []byte)

// Receiver subscribes to a fixed PID set on one device at a time. Its
// PID set and priority are immutable once constructed; only its
// attachment state and activation change over its lifetime.
type Receiver struct {
	pids      []contracts.PID
	priority  int
	channelID string
	sink      Sink

	active   bool
	attached bool
}

// New constructs a Receiver subscribed to pids, with priority used by
// the arbiter and the owning device's Priority(). pids must not exceed
// MaxPIDs and must not be empty.
func New(pids []contracts.PID, priority int, channelID string, sink Sink) *Receiver {
	cp := make([]contracts.PID, len(pids))
	copy(cp, pids)
	return &Receiver{
		pids:      cp,
		priority:  priority,
		channelID: channelID,
		sink:      sink,
	}
}

// PIDs returns the receiver's immutable PID set.
func (r *Receiver) PIDs() []contracts.PID { return r.pids }

// Priority returns the receiver's construction-time priority.
func (r *Receiver) Priority() int { return r.priority }

// ChannelID returns the channel this receiver was created for.
func (r *Receiver) ChannelID() string { return r.channelID }

// WantsPID reports whether pid is in the receiver's subscription set.
func (r *Receiver) WantsPID(pid contracts.PID) bool {
	for _, p := range r.pids {
		if p == pid {
			return true
		}
	}
	return false
}

// Receive delivers one TS packet. The owning device's fan-out calls it
// for every packet on a subscribed PID while attached, whether or not
// the receiver is active, and never concurrently with itself for the
// same receiver.
func (r *Receiver) Receive(packet []byte) {
	if r.sink != nil {
		r.sink(packet)
	}
}

// Activate sets the flag Active reports, without detaching. The device
// fan-out does not consult it, so delivery continues while inactive.
func (r *Receiver) Activate(on bool) {
	r.active = on
}

// Active reports the flag last set by Activate.
func (r *Receiver) Active() bool { return r.active }

// SetAttached is called only by the owning device's attach/detach path.
func (r *Receiver) SetAttached(v bool) { r.attached = v }

// Attached reports whether the receiver currently belongs to a device.
func (r *Receiver) Attached() bool { return r.attached }
