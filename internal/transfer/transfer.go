// Package transfer implements the Transfer Mode bridge: a Receiver on
// one device that forwards every packet it sees as-is into another
// device's decoder feed, so a second tuner's live signal can be watched
// through the primary device's decoder when the primary itself cannot
// receive the requested channel. Grounded on
// original_source/transfer.c (cTransfer, cTransferControl).
package transfer

import (
	"log/slog"
	"time"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
	"github.com/yavdr/vdr/internal/receiver"
)

// Priority is the receiver priority a Transfer Mode session registers
// with, matching the original's TRANSFERPRIORITY: low enough that any
// real recording or viewing request can still claim the source device
// if the user switches away.
const Priority = 0

// MaxRetries and RetryWait bound how hard the bridge tries to push a
// rejected TS packet into the primary decoder before giving up and
// resyncing. Transfer Mode is live TV: there is no buffering to fall
// back on, so every packet must get through now or not at all.
const (
	MaxRetries = 20
	RetryWait  = 5 * time.Millisecond
)

// Bridge is both the receiver attached to the source device and the
// player feeding the primary device's decoder, combining the two roles
// cTransfer held via multiple inheritance into a single Go struct that
// composes a receiver.Receiver.
type Bridge struct {
	log *slog.Logger

	primary *device.Device
	source  *device.Device

	recv *receiver.Receiver
	gen  *PATPMTGenerator
}

// New builds a Bridge that will feed primary's decoder once Start
// attaches it to a source device. ch is the channel being transferred;
// its elementary-stream PIDs determine both the receiver's PID
// subscription and the synthesized PAT/PMT.
func New(primary *device.Device, ch *contracts.Channel, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:     log.With("component", "transfer", "channel", ch.ID),
		primary: primary,
		gen:     NewPATPMTGenerator(),
	}
	b.gen.SetChannel(ch)
	b.recv = receiver.New(channelPIDs(ch), Priority, ch.ID, b.receive)
	return b
}

// channelPIDs collects every elementary-stream PID a Transfer Mode
// receiver must subscribe to, in a stable order.
func channelPIDs(ch *contracts.Channel) []contracts.PID {
	pids := make([]contracts.PID, 0, 1+len(ch.Audio)+len(ch.Dolby)+len(ch.Subtitle))
	if ch.VideoPID != 0 {
		pids = append(pids, ch.VideoPID)
	}
	for _, a := range ch.Audio {
		pids = append(pids, a.PID)
	}
	for _, a := range ch.Dolby {
		pids = append(pids, a.PID)
	}
	for _, s := range ch.Subtitle {
		pids = append(pids, s.PID)
	}
	return pids
}

// Start attaches the bridge's receiver to source and activates it:
// pushes a fresh PAT/PMT into the primary decoder so any downstream
// consumer of primary's TS output (e.g. a recording, or a second
// Transfer hop) sees a well-formed single-program stream from the very
// first packet. Returns false if the source device has no free
// receiver slot.
func (b *Bridge) Start(source *device.Device) bool {
	if !source.Attach(b.recv) {
		return false
	}
	b.source = source
	b.activate()
	return true
}

// Stop detaches the bridge's receiver from its source device. Safe to
// call even if Start was never called or already failed.
func (b *Bridge) Stop() {
	if b.source == nil {
		return
	}
	b.source.Detach(b.recv)
	b.source = nil
}

// SourceDevice returns the device the bridge is currently receiving
// from, or nil if not started.
func (b *Bridge) SourceDevice() *device.Device { return b.source }

func (b *Bridge) activate() {
	b.playRetrying(b.gen.GetPat())
	for i := 0; ; i++ {
		pmt, ok := b.gen.GetPmt(i)
		if !ok {
			break
		}
		b.playRetrying(pmt)
	}
}

// receive is the receiver.Sink called on the source device's fan-out
// goroutine for every packet matching the bridge's PID subscription.
func (b *Bridge) receive(packet []byte) {
	b.playRetrying(packet)
}

// playRetrying pushes packet into the primary device's decoder feed,
// retrying up to MaxRetries times with RetryWait between attempts if
// the decoder momentarily can't accept it. Transfer Mode must not add
// buffering of its own, so a packet that still can't get through after
// every retry is dropped and the primary is told to resynchronize.
func (b *Bridge) playRetrying(packet []byte) {
	for i := 0; i < MaxRetries; i++ {
		if n, err := b.primary.PlayTS(packet, false); err == nil && n > 0 {
			return
		}
		time.Sleep(RetryWait)
	}
	b.log.Error("TS packet not accepted in Transfer Mode")
	b.primary.Clear()
}
