// Package quictuner implements contracts.Driver over a raw QUIC
// stream, a second IP-tuner-farm transport alongside srttuner. Grounded
// on the teacher's internal/distribution/server.go quic.Config usage —
// only the bare quic-go primitives (DialAddr/AcceptUniStream) are reused;
// the teacher's webtransport/HTTP3 layer is specific to its
// browser-facing viewer protocol and has no fit here (see DESIGN.md).
package quictuner

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/yavdr/vdr/internal/contracts"
)

const dialTimeout = 10 * time.Second

const tsPacketSize = 188

const readBufferSize = 1316 * 10

var quicConfig = &quic.Config{
	MaxIdleTimeout: 30 * time.Second,
}

// Driver dials one remote QUIC headend address and reads a single
// unidirectional stream of raw transport-stream bytes from it, same
// single-feed-per-instance model as srttuner.Driver.
type Driver struct {
	log  *slog.Logger
	addr string

	mu      sync.Mutex
	conn    *quic.Conn
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
		log:     log.With("component", "quictuner", "addr", addr),
		addr:    addr,
		filters: make(map[int]contracts.PID),
	}
}

func (d *Driver) ProvidesChannel(ch *contracts.Channel, priority int) (bool, bool) {
	return true, false
}

func (d *Driver) ProvidesTransponder(ch *contracts.Channel) bool { return true }

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
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"vdr-tuner"},
	}

	conn, err := quic.DialAddr(ctx, d.addr, tlsConf, quicConfig)
	if err != nil {
		d.log.Warn("QUIC dial failed", "error", err)
		return fmt.Errorf("quictuner: dial %s: %w", d.addr, err)
	}

	d.mu.Lock()
	d.conn = conn
	d.locked = true
	d.mu.Unlock()
	d.log.Info("connected")
	return nil
}

func (d *Driver) OpenDVR() error {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return fmt.Errorf("quictuner: OpenDVR before a successful tune")
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
		conn.CloseWithError(0, "tuner detached")
	}
}

func (d *Driver) readLoop(ctx context.Context, conn *quic.Conn) {
	defer d.log.Info("read loop ended")

	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		d.log.Debug("accept stream failed", "error", err)
		return
	}

	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := stream.Read(buf)
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
			}
		}
	}
}

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
