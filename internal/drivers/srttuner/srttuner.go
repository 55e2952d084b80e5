// Package srttuner implements contracts.Driver over a remote SRT
// feed, standing in for a DVB frontend with an IP-delivered transport
// stream. Grounded on the teacher's ingest/srt/caller.go (dial with
// timeout, background read-and-forward goroutine, srtgo.DefaultConfig
// latency tuning).
package srttuner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/yavdr/vdr/internal/contracts"
)

// readBufferSize mirrors the teacher's srtReadBufferSize: 1316 bytes is
// 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const readBufferSize = 1316 * 10

// latencyNs mirrors the teacher's srtLatencyNs (120ms).
const latencyNs = 120_000_000

const dialTimeout = 10 * time.Second

const tsPacketSize = 188

// Driver dials one remote SRT address and exposes its transport stream
// as a single-transponder tuner. A Driver instance represents exactly
// one feed, so ProvidesTransponder/IsTunedToTransponder are degenerate
// (always about "this feed", never a choice among several).
type Driver struct {
	log  *slog.Logger
	addr string

	mu      sync.Mutex
	conn    *srtgo.Conn
	locked  bool
	cancel  context.CancelFunc
	packets chan []byte

	filters   map[int]contracts.PID
	nextFiler int
}

// New creates a Driver that will dial addr on SetChannelDevice; OpenDVR
// only starts reading from an already dialed connection.
// If log is nil, slog.Default() is used.
func New(addr string, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		log:     log.With("component", "srttuner", "addr", addr),
		addr:    addr,
		filters: make(map[int]contracts.PID),
	}
}

func (d *Driver) ProvidesChannel(ch *contracts.Channel, priority int) (bool, bool) {
	return true, false
}

func (d *Driver) ProvidesTransponder(ch *contracts.Channel) bool {
	return true
}

func (d *Driver) IsTunedToTransponder(ch *contracts.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

func (d *Driver) MaySwitchTransponder(ch *contracts.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.locked
}

func (d *Driver) DeliverySystems() int { return 1 }

func (d *Driver) HasLock() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// SetChannelDevice dials the configured address if not already
// connected. The remote feed carries whichever channels are multiplexed
// into it; there is nothing per-channel to retune.
func (d *Driver) SetChannelDevice(ch *contracts.Channel) bool {
	d.mu.Lock()
	if d.locked {
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	return d.dial() == nil
}

func (d *Driver) dial() error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(d.addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			d.log.Warn("SRT dial failed", "error", res.err)
			return fmt.Errorf("srttuner: dial %s: %w", d.addr, res.err)
		}
		d.mu.Lock()
		d.conn = res.conn
		d.locked = true
		d.mu.Unlock()
		d.log.Info("connected")
		return nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("srttuner: dial %s timed out after %s", d.addr, dialTimeout)
	}
}

// OpenDVR starts the background read loop that demultiplexes the raw
// SRT payload into 188-byte TS packets for GetTSPacket.
func (d *Driver) OpenDVR() error {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return fmt.Errorf("srttuner: OpenDVR before a successful tune")
	}
	if d.cancel != nil {
		d.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.packets = make(chan []byte, 256)
	d.mu.Unlock()

	go d.readLoop(ctx, conn)
	return nil
}

func (d *Driver) CloseDVR() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	conn := d.conn
	d.conn = nil
	d.locked = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (d *Driver) readLoop(ctx context.Context, conn *srtgo.Conn) {
	defer d.log.Info("read loop ended")
	buf := make([]byte, readBufferSize)
	var carry []byte

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			d.log.Debug("read error", "error", err)
			return
		}

		carry = append(carry, buf[:n]...)
		carry = resyncToSyncByte(carry)
		for len(carry) >= tsPacketSize {
			pkt := make([]byte, tsPacketSize)
			copy(pkt, carry[:tsPacketSize])
			carry = carry[tsPacketSize:]

			select {
			case d.packets <- pkt:
			case <-ctx.Done():
				return
			default:
				// Drop the packet rather than block the reader when
				// the packet channel is full; the drop is not counted
				// or logged.
			}
		}
	}
}

// resyncToSyncByte drops leading bytes until buf starts with the TS
// sync byte (0x47), so a mid-stream join doesn't shift packet
// boundaries permanently.
func resyncToSyncByte(buf []byte) []byte {
	if len(buf) == 0 || buf[0] == 0x47 {
		return buf
	}
	idx := bytes.IndexByte(buf, 0x47)
	if idx < 0 {
		return nil
	}
	return buf[idx:]
}

func (d *Driver) GetTSPacket() []byte {
	d.mu.Lock()
	packets := d.packets
	d.mu.Unlock()
	if packets == nil {
		return nil
	}
	select {
	case p := <-packets:
		return p
	case <-time.After(20 * time.Millisecond):
		return nil
	}
}

// SetPID is a no-op: the remote feed's full multiplex already arrives
// over the wire, so PID selection happens entirely in software at the
// device/receiver fan-out layer, not at the (nonexistent) hardware
// filter.
func (d *Driver) SetPID(handle int, pid contracts.PID, pidType contracts.PIDType, on bool) bool {
	return true
}

func (d *Driver) OpenFilter(pid contracts.PID) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFiler++
	d.filters[d.nextFiler] = pid
	return d.nextFiler, true
}

func (d *Driver) CloseFilter(handle int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.filters, handle)
}

func (d *Driver) AvoidRecording() bool { return false }

func (d *Driver) HasCI() bool { return false }
