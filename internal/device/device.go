// Package device implements the per-tuner Device: PID filter table,
// receiver slots, DVR fan-out goroutine, track table, and the decoder
// feed path. Grounded on original_source/device.c (cDevice) with the
// subclass hierarchy collapsed into a Driver capability (spec.md design
// note on polymorphism) and the goroutine-with-cancel idiom from the
// teacher's internal/sdtprobe worker.
package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/receiver"
	"github.com/yavdr/vdr/internal/tspes"
)

// MaxReceivers bounds how many receivers may be attached to one device
// at once.
const MaxReceivers = 16

// Priority levels used by both the device and the arbiter's impact
// score.
const (
	PriorityIdle     = -1
	PriorityTransfer = 0
)

// SetChannelResult is the discrete outcome of SetChannel, replacing the
// original's enum return (spec.md §7: every layer returns a discrete
// result, never an exception).
type SetChannelResult int

const (
	ScrOK SetChannelResult = iota
	ScrNotAvailable
	ScrNoTransfer
	ScrFailed
)

func (r SetChannelResult) String() string {
	switch r {
	case ScrOK:
		return "ok"
	case ScrNotAvailable:
		return "not_available"
	case ScrNoTransfer:
		return "no_transfer"
	case ScrFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransferDispatcher starts Transfer mode from some other device into
// this one's decoder, when this device cannot itself provide a
// requested channel for live view. Implemented by the runtime package,
// which owns both the arbiter and the transfer bridge — kept as an
// interface here to avoid device importing arbiter/transfer.
type TransferDispatcher interface {
	DispatchTransfer(ch *contracts.Channel, priority int) bool
}

// LanguagePreferences configures track auto-selection ordering. Owned
// externally (the original's configuration file, out of scope here);
// the device only ever reads it.
type LanguagePreferences struct {
	Audio         []string
	Subtitle      []string
	PreferDolby   bool
}

type attachedReceiver struct {
	r *receiver.Receiver
}

// Device is one tuner: its PID filter table, attached receivers, track
// tables, and (if primary) decoder feed path.
type Device struct {
	CardIndex int
	Primary   bool

	Driver  contracts.Driver
	Decoder contracts.Decoder

	log *slog.Logger

	mu          sync.Mutex // mutex_receiver: guards receivers[] and pidHandles
	receivers   [MaxReceivers]attachedReceiver
	pids        pidHandleTable

	channelMu      sync.RWMutex // guards currentChannel: held exclusively by SetChannel, shared by Channel
	currentChannel *contracts.Channel

	trackMu sync.Mutex
	audio   *trackTable
	dolby   *trackTable
	subtitle *trackTable
	langPrefs LanguagePreferences

	camSlot       contracts.CamSlot
	camRelations  contracts.ChannelCamRelations
	occupiedUntil time.Time

	scramble scrambleState
	ps1      ps1State

	videoReasm    *tspes.Reassembler
	audioReasm    *tspes.Reassembler
	subtitleReasm *tspes.Reassembler
	patpmt        *tspes.PATPMTState

	transferDispatcher TransferDispatcher

	player       PlaybackFeeder
	liveSubtitle bool

	cancel  context.CancelFunc
	stopped chan struct{}
}

// PlaybackFeeder is the narrow surface the playback engine satisfies
// when attached as a Device's player, allowing the device to be the
// decoder feed path for recorded playback as well as live TS (spec.md
// §3: "Player↔Device coupling" design note — non-owning pointer each
// way).
type PlaybackFeeder interface {
	Detached()
}

// New constructs a Device bound to driver/decoder. decoder may be nil
// for a device that only ever serves as a receiver/transfer source.
func New(cardIndex int, driver contracts.Driver, decoder contracts.Decoder, camRelations contracts.ChannelCamRelations, log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		CardIndex:     cardIndex,
		Driver:        driver,
		Decoder:       decoder,
		log:           log.With("component", "device", "card", cardIndex),
		audio:         newTrackTable(),
		dolby:         newTrackTable(),
		subtitle:      newTrackTable(),
		camRelations:  camRelations,
		videoReasm:    tspes.NewReassembler(),
		audioReasm:    tspes.NewReassembler(),
		subtitleReasm: tspes.NewReassembler(),
		patpmt:        tspes.NewPATPMTState(),
	}
}

// SetTransferDispatcher wires the runtime's arbiter+transfer bridge in
// after construction, breaking the device/arbiter import cycle.
func (d *Device) SetTransferDispatcher(td TransferDispatcher) {
	d.transferDispatcher = td
}

// SetLanguagePreferences updates the track auto-selection ordering.
func (d *Device) SetLanguagePreferences(p LanguagePreferences) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	d.langPrefs = p
}

// Channel returns the device's currently tuned channel, or nil.
func (d *Device) Channel() *contracts.Channel {
	d.channelMu.RLock()
	defer d.channelMu.RUnlock()
	return d.currentChannel
}

// Attach finds a free receiver slot, reference-counts each of r's PIDs,
// and starts the DVR fan-out goroutine if it is not already running. On
// any PID failure it rolls back everything it added and returns false.
func (d *Device) Attach(r *receiver.Receiver) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := -1
	for i := range d.receivers {
		if d.receivers[i].r == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		d.log.Warn("attach failed: no free receiver slot")
		return false
	}

	added := make([]contracts.PID, 0, len(r.PIDs()))
	ok := true
	for _, pid := range r.PIDs() {
		res := d.pids.addPID(pid, contracts.PIDTypeOther, d.openFilter)
		if res == addFailed {
			ok = false
			break
		}
		added = append(added, pid)
	}
	if !ok {
		for _, pid := range added {
			d.pids.delPID(pid, d.closeFilter)
		}
		d.log.Warn("attach failed: PID table exhausted", "receiver_channel", r.ChannelID())
		return false
	}

	d.receivers[slot] = attachedReceiver{r: r}
	r.SetAttached(true)
	d.scramble.onAttach(d.camSlot != nil && d.camSlot.IsDecrypting())

	d.ensureRunningLocked()
	d.log.Info("receiver attached", "slot", slot, "pids", r.PIDs())
	return true
}

// Detach removes r from its slot and releases its PID reference counts.
// When no receivers remain, the DVR fan-out goroutine is stopped.
func (d *Device) Detach(r *receiver.Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detachLocked(r)
}

func (d *Device) detachLocked(r *receiver.Receiver) {
	found := false
	for i := range d.receivers {
		if d.receivers[i].r == r {
			d.receivers[i] = attachedReceiver{}
			found = true
			break
		}
	}
	if !found {
		return
	}
	for _, pid := range r.PIDs() {
		d.pids.delPID(pid, d.closeFilter)
	}
	r.SetAttached(false)
	d.log.Info("receiver detached", "receiver_channel", r.ChannelID())

	if d.receiverCountLocked() == 0 {
		d.stopLocked()
	}
}

// DetachAll removes every attached receiver.
func (d *Device) DetachAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.receivers {
		if d.receivers[i].r != nil {
			d.detachLocked(d.receivers[i].r)
		}
	}
}

// DetachAllForPID detaches every receiver currently subscribed to pid.
func (d *Device) DetachAllForPID(pid contracts.PID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.receivers {
		if d.receivers[i].r != nil && d.receivers[i].r.WantsPID(pid) {
			d.detachLocked(d.receivers[i].r)
		}
	}
}

func (d *Device) receiverCountLocked() int {
	n := 0
	for i := range d.receivers {
		if d.receivers[i].r != nil {
			n++
		}
	}
	return n
}

// ReceiverCount reports how many receivers are currently attached.
func (d *Device) ReceiverCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receiverCountLocked()
}

// Empty reports whether every PID slot is free (refcount conservation
// check, spec.md testable property 1 / S1).
func (d *Device) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pids.empty()
}

func (d *Device) openFilter(pid contracts.PID, pidType contracts.PIDType) (int, bool) {
	if d.Driver == nil {
		return 0, true
	}
	return d.Driver.OpenFilter(pid)
}

func (d *Device) closeFilter(handle int) {
	if d.Driver != nil {
		d.Driver.CloseFilter(handle)
	}
}

func (d *Device) ensureRunningLocked() {
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.stopped = make(chan struct{})
	go d.action(ctx)
}

func (d *Device) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
}

// CamSlot returns the CAM slot currently assigned to this device, or
// nil.
func (d *Device) CamSlot() contracts.CamSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.camSlot
}

// SetCamSlot assigns (or clears, with nil) the CAM slot serving this
// device. Called by the arbiter after choosing a device/slot pair.
func (d *Device) SetCamSlot(s contracts.CamSlot) {
	d.mu.Lock()
	d.camSlot = s
	d.mu.Unlock()
}

// IsPrimaryDevice reports whether this is the primary device (the one
// carrying live TV and the OSD).
func (d *Device) IsPrimaryDevice() bool {
	return d.Primary
}

// Receiving reports whether any receiver is currently attached.
func (d *Device) Receiving() bool {
	return d.ReceiverCount() > 0
}

// ProvidesChannel delegates to the driver, reporting false with no
// detach requirement when there is no driver at all.
func (d *Device) ProvidesChannel(ch *contracts.Channel, priority int) (ok, needsDetach bool) {
	if d.Driver == nil {
		return false, false
	}
	return d.Driver.ProvidesChannel(ch, priority)
}

// ProvidesTransponder delegates to the driver.
func (d *Device) ProvidesTransponder(ch *contracts.Channel) bool {
	return d.Driver != nil && d.Driver.ProvidesTransponder(ch)
}

// IsTunedToTransponder delegates to the driver.
func (d *Device) IsTunedToTransponder(ch *contracts.Channel) bool {
	return d.Driver != nil && d.Driver.IsTunedToTransponder(ch)
}

// MaySwitchTransponder delegates to the driver.
func (d *Device) MaySwitchTransponder(ch *contracts.Channel) bool {
	return d.Driver != nil && d.Driver.MaySwitchTransponder(ch)
}

// DeliverySystems delegates to the driver, defaulting to 1 when absent.
func (d *Device) DeliverySystems() int {
	if d.Driver == nil {
		return 1
	}
	return d.Driver.DeliverySystems()
}

// HasCI delegates to the driver.
func (d *Device) HasCI() bool {
	return d.Driver != nil && d.Driver.HasCI()
}

// AvoidRecording delegates to the driver.
func (d *Device) AvoidRecording() bool {
	return d.Driver != nil && d.Driver.AvoidRecording()
}

// Occupied reports whether the device is reserved (e.g. for a fast EPG
// scan) until a future deadline, blocking the transponder arbiter from
// repurposing it.
func (d *Device) Occupied() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Before(d.occupiedUntil)
}

// SetOccupied reserves the device for the given duration.
func (d *Device) SetOccupied(dur time.Duration) {
	d.mu.Lock()
	d.occupiedUntil = time.Now().Add(dur)
	d.mu.Unlock()
}

// Clear resets the device's TS/PES reassembly state and, if a decoder
// is attached, tells it to discard whatever it's currently holding.
// Called after Transfer mode gives up retrying a rejected TS packet, to
// resynchronize rather than let the decoder choke on a partial frame.
func (d *Device) Clear() error {
	d.PlayTS(nil, false)
	if d.Decoder != nil {
		return d.Decoder.Clear()
	}
	return nil
}

// AttachPlayer binds p as this device's playback feeder, detaching any
// previously attached player first. Returns false if the device is not
// the primary device (primary devices always accept; attached receivers
// are not consulted).
// Grounded on original_source/device.c cDevice::AttachPlayer.
func (d *Device) AttachPlayer(p PlaybackFeeder) bool {
	if !d.Primary {
		return false
	}
	d.mu.Lock()
	prior := d.player
	d.mu.Unlock()
	if prior != nil {
		d.DetachPlayer(prior)
	}

	d.patpmt.Reset()
	d.videoReasm.Reset()
	d.audioReasm.Reset()
	d.subtitleReasm.Reset()

	d.mu.Lock()
	d.player = p
	d.mu.Unlock()
	return true
}

// DetachPlayer releases p as the device's player if it is still
// current, resetting the decoder feed path. Safe to call with a stale p
// (e.g. a session that already lost the race to a newer AttachPlayer).
func (d *Device) DetachPlayer(p PlaybackFeeder) {
	d.mu.Lock()
	if d.player == nil || d.player != p {
		d.mu.Unlock()
		return
	}
	d.player = nil
	d.mu.Unlock()

	p.Detached()
	d.PlayTS(nil, false)
	if d.Decoder != nil {
		d.Decoder.Clear()
	}
}

// Player returns the device's currently attached playback feeder, or
// nil.
func (d *Device) Player() PlaybackFeeder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.player
}

// Priority returns the max priority of attached receivers, floored at
// PriorityTransfer when this device is primary and has at least one
// receiver attached. Live viewing on the primary device that involves no
// receiver of its own (for example as the Transfer mode target) does not
// raise the floor.
func (d *Device) Priority() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	best := PriorityIdle
	for i := range d.receivers {
		if d.receivers[i].r != nil && d.receivers[i].r.Priority() > best {
			best = d.receivers[i].r.Priority()
		}
	}
	if d.Primary && d.receiverCountLocked() > 0 {
		if best < PriorityTransfer {
			best = PriorityTransfer
		}
	}
	return best
}
