// Package runtime assembles the device set, arbiter, transfer
// dispatcher, and an optional replay session into one explicit,
// test-constructible object. Grounded on spec.md §9's design note: the
// original's process-wide primaryDevice/Device-registry/CamSlots/
// ChannelCamRelations singletons become fields of a single struct
// instantiated once per process (or once per test case), and the
// errgroup supervision style is adapted from the teacher's
// cmd/prism/main.go.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yavdr/vdr/internal/arbiter"
	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/device"
	"github.com/yavdr/vdr/internal/playback"
	"github.com/yavdr/vdr/internal/transfer"
)

// Context is the explicit replacement for VDR's process-wide globals:
// the device registry, the primary device pointer, CAM slots, and the
// channel/CAM relation table all live here instead of in package-level
// variables, so a test can build a fresh one per case.
type Context struct {
	log *slog.Logger

	devices []*device.Device
	primary *device.Device

	camSlots     contracts.CamSlotRegistry
	camRelations contracts.ChannelCamRelations
	skin         contracts.SkinMessage

	arb        *arbiter.Arbiter
	dispatcher *transfer.Dispatcher

	mu     sync.Mutex
	g      *errgroup.Group
	cancel context.CancelFunc
	replay *playback.Engine
}

// New builds a Context over devices, wiring an Arbiter and a Transfer
// Mode Dispatcher bound to whichever device has Primary set. Exactly one
// device must be primary; devices must be non-empty.
//
// camSlots and camRelations may be nil (no CI/CAM hardware); skin may be
// nil (headless caller handles its own messaging).
func New(devices []*device.Device, camSlots contracts.CamSlotRegistry, camRelations contracts.ChannelCamRelations, skin contracts.SkinMessage, log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("runtime: at least one device is required")
	}

	var primary *device.Device
	for _, d := range devices {
		if d.Primary {
			if primary != nil {
				return nil, fmt.Errorf("runtime: more than one device marked primary (cards %d and %d)", primary.CardIndex, d.CardIndex)
			}
			primary = d
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("runtime: no device marked primary")
	}

	rlog := log.With("component", "runtime")
	arb := arbiter.New(devices, camSlots, camRelations, rlog)
	dispatcher := transfer.NewDispatcher(primary, arb, rlog)
	primary.SetTransferDispatcher(dispatcher)

	return &Context{
		log:          rlog,
		devices:      devices,
		primary:      primary,
		camSlots:     camSlots,
		camRelations: camRelations,
		skin:         skin,
		arb:          arb,
		dispatcher:   dispatcher,
	}, nil
}

// Start launches the Context's background supervision: an errgroup tied
// to ctx that tears everything down when ctx is cancelled. Device
// fan-out goroutines themselves start and stop per Attach/Detach
// (original_source/device.c's cDevice::Action only runs while
// receiving), so there is nothing to launch eagerly here — Start's job
// is to arrange for graceful, ordered shutdown on cancellation, matching
// the teacher's errgroup.WithContext(ctx) + g.Go(...) + g.Wait() shape.
func (rc *Context) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	rc.mu.Lock()
	rc.g = g
	rc.cancel = cancel
	rc.mu.Unlock()

	g.Go(func() error {
		<-gctx.Done()
		rc.shutdown()
		return nil
	})
}

// Wait blocks until the Context's supervised shutdown goroutine has run
// (i.e. until the context passed to Start is cancelled and teardown
// completes). Returns nil at once if Start was never called.
func (rc *Context) Wait() error {
	rc.mu.Lock()
	g := rc.g
	rc.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Close cancels the Context's background supervision and waits for it
// to finish, detaching every receiver, stopping any active Transfer Mode
// bridge, and stopping any active replay session.
func (rc *Context) Close() error {
	rc.mu.Lock()
	cancel := rc.cancel
	rc.mu.Unlock()
	if cancel == nil {
		rc.shutdown()
		return nil
	}
	cancel()
	return rc.Wait()
}

func (rc *Context) shutdown() {
	rc.StopReplay()
	rc.dispatcher.Stop()
	for _, d := range rc.devices {
		d.DetachAll()
	}
	rc.log.Info("runtime shut down")
}

// Devices returns the full device set.
func (rc *Context) Devices() []*device.Device { return rc.devices }

// Primary returns the primary device.
func (rc *Context) Primary() *device.Device { return rc.primary }

// Arbiter returns the device/CAM-slot arbiter.
func (rc *Context) Arbiter() *arbiter.Arbiter { return rc.arb }

// SwitchChannel tunes the primary device to ch for live viewing,
// retrying on transient failure and dispatching to Transfer Mode
// through the wired Dispatcher when the primary can't itself receive
// ch. Grounded on original_source/device.c's
// cDevice::SwitchChannel(Channel, LiveView) being called specifically
// on PrimaryDevice() for every live-view tune — the arbiter only comes
// into play indirectly, inside SetChannel's own Transfer Mode dispatch,
// to pick a *source* device for the bridge.
func (rc *Context) SwitchChannel(ch *contracts.Channel) device.SetChannelResult {
	return rc.primary.SwitchChannel(ch, true, rc.skin)
}

// StartReplay attaches a new playback engine to the primary device,
// detaching any previously active one first, and starts its goroutines
// on a background context rather than under the Context's errgroup;
// StopReplay and Close stop them. fps and isPESRecording
// describe the recording being replayed (spec.md §3's distinction
// between PES and TS recordings); pauseLive/multiSpeed are per-session
// options forwarded to playback.New.
func (rc *Context) StartReplay(src playback.FileSource, index contracts.RecordingIndex, isPESRecording bool, fps float64, pauseLive, multiSpeed bool) (*playback.Engine, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.replay != nil {
		rc.primary.DetachPlayer(rc.replay)
		rc.replay = nil
	}

	engine := playback.New(src, index, rc.primary.Decoder, isPESRecording, fps, pauseLive, multiSpeed, rc.log)
	if !rc.primary.AttachPlayer(engine) {
		return nil, fmt.Errorf("runtime: primary device rejected replay attach")
	}
	rc.replay = engine

	// StopReplay/Close always call engine.Stop() explicitly rather than
	// relying on context cancellation, so a plain Background() context
	// is sufficient here regardless of whether Start has been called.
	engine.Start(context.Background())
	return engine, nil
}

// StopReplay detaches the active replay session, if any. Safe to call
// when no replay is active.
func (rc *Context) StopReplay() {
	rc.mu.Lock()
	engine := rc.replay
	rc.replay = nil
	rc.mu.Unlock()
	if engine == nil {
		return
	}
	rc.primary.DetachPlayer(engine)
}
