package tspes

// Reassembler rebuilds PES packets (or raw PAT/PMT sections) out of a
// sequence of TS packets belonging to a single PID. One instance is kept
// per elementary stream (video, each audio track, each subtitle track),
// matching spec.md's one-instance-per-stream-kind requirement. Grounded
// on the teacher's internal/mpegts reassembly loop, generalized to add
// reset() and set_repeat_last(), neither of which the teacher's one-shot
// Demuxer needed.
type Reassembler struct {
	buf          []byte
	have         bool
	lastSeenCC   uint8
	haveCC       bool
	repeatLast   bool
	lastComplete []byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// SetRepeatLast configures whether GetPES (when called with nothing new
// assembled) should hand back the last completed unit again instead of
// nil. Off by default.
func (r *Reassembler) SetRepeatLast(on bool) {
	r.repeatLast = on
}

// Reset discards any in-progress assembly and the last completed unit.
// Called on retune, channel switch, or any continuity break that makes
// resynchronization from scratch safer than patching.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.have = false
	r.haveCC = false
	r.lastComplete = nil
}

// PutTS feeds one TS packet belonging to this stream's PID into the
// reassembler. It returns true if the packet closed out (via the next
// unit's start flag) a previously in-progress unit — callers should then
// call GetPES to retrieve it.
func (r *Reassembler) PutTS(pkt []byte) bool {
	if len(pkt) != PacketSize || pkt[0] != SyncByte {
		return false
	}

	cc := ContinuityCounter(pkt)
	discontinuous := false
	if r.haveCC {
		want := (r.lastSeenCC + 1) & 0x0F
		if cc != want && HasPayload(pkt) {
			discontinuous = true
		}
	}
	r.haveCC = true
	r.lastSeenCC = cc

	payload := Payload(pkt)
	start := PayloadStart(pkt)

	closed := false
	if start {
		if r.have && len(r.buf) > 0 {
			r.lastComplete = r.buf
			closed = true
		}
		r.buf = append([]byte(nil), payload...)
		r.have = true
	} else if r.have {
		if discontinuous {
			r.buf = nil
			r.have = false
		} else {
			r.buf = append(r.buf, payload...)
		}
	}
	return closed
}

// GetPES returns the most recently completed unit, or nil if none is
// ready. When SetRepeatLast(true) is active and nothing new has closed
// since the last call, it returns the previous unit again.
func (r *Reassembler) GetPES() []byte {
	if r.lastComplete != nil {
		out := r.lastComplete
		if !r.repeatLast {
			r.lastComplete = nil
		}
		return out
	}
	return nil
}

// Flush forces whatever has been accumulated so far to be treated as
// complete, for use at end-of-stream when no further start packet will
// ever arrive to close it out.
func (r *Reassembler) Flush() []byte {
	if !r.have || len(r.buf) == 0 {
		return nil
	}
	out := r.buf
	r.buf = nil
	r.have = false
	r.lastComplete = out
	return out
}
