package device

import (
	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/tspes"
)

// PS1 sub-stream id ranges (stream_id 0xBD, "private_stream_1"),
// distinguishing SPU, AC3/DTS, and LPCM payloads by the byte at
// data[8]+9 (i.e. immediately after the PES header's own header-length
// byte), per the DVD/DVB convention the original recordings rely on.
const (
	ps1StreamIDPrivate1 = 0xBD
	ps1SPUMin           = 0x20
	ps1SPUMax           = 0x3F
	ps1AC3Min           = 0x80
	ps1AC3Max           = 0x8F
	ps1DTSMin           = 0x88
	ps1DTSMax           = 0x8F
	ps1LPCMMin          = 0xA0
	ps1LPCMMax          = 0xA7
)

// PlayTS routes one TS packet by PID: PID 0 or the tracked PMT PID feed
// the PAT/PMT parser; the tracked video/audio/subtitle PIDs feed their
// reassembler, dispatching a completed PES unit to the decoder.
// PlayTS(nil, _) resets all three reassemblers (testable property 6),
// used when the upstream TS source itself discontinues.
func (d *Device) PlayTS(data []byte, videoOnly bool) (int, error) {
	if len(data) == 0 {
		d.videoReasm.Reset()
		d.audioReasm.Reset()
		d.subtitleReasm.Reset()
		d.patpmt.Reset()
		return 0, nil
	}

	pid := tspes.PID(data)
	switch {
	case pid == 0:
		d.patpmt.FeedPAT(sectionOf(data))
		return len(data), nil
	case d.patpmt.PMTPID() != 0 && uint16(pid) == d.patpmt.PMTPID():
		d.patpmt.FeedPMT(sectionOf(data))
		return len(data), nil
	case uint16(pid) == d.patpmt.VideoPID() && d.patpmt.VideoPID() != 0:
		if closed := d.videoReasm.PutTS(data); closed {
			return d.dispatchPES(d.videoReasm.GetPES(), false, videoOnly)
		}
		return len(data), nil
	case d.isCurrentAudioPID(pid):
		if videoOnly {
			return len(data), nil
		}
		if closed := d.audioReasm.PutTS(data); closed {
			return d.dispatchPES(d.audioReasm.GetPES(), false, videoOnly)
		}
		return len(data), nil
	case d.isCurrentSubtitlePID(pid):
		if videoOnly {
			return len(data), nil
		}
		if closed := d.subtitleReasm.PutTS(data); closed {
			return d.dispatchPES(d.subtitleReasm.GetPES(), true, videoOnly)
		}
		return len(data), nil
	}
	return len(data), nil
}

func (d *Device) isCurrentAudioPID(pid contracts.PID) bool {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	if i := d.audio.Current(); i >= 0 {
		if tr, ok := d.audio.At(i); ok && tr.PID == pid {
			return true
		}
	}
	if i := d.dolby.Current(); i >= 0 {
		if tr, ok := d.dolby.At(i); ok && tr.PID == pid {
			return true
		}
	}
	return false
}

func (d *Device) isCurrentSubtitlePID(pid contracts.PID) bool {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	i := d.subtitle.Current()
	if i < 0 {
		return false
	}
	tr, ok := d.subtitle.At(i)
	return ok && tr.PID == pid
}

// PlayPES feeds one already-reassembled PES unit directly to the
// decoder, used by the playback engine when replaying a recording
// (which stores PES, not raw TS).
func (d *Device) PlayPES(data []byte, videoOnly bool) (int, error) {
	return d.dispatchPES(data, false, videoOnly)
}

func (d *Device) dispatchPES(data []byte, isSubtitle bool, videoOnly bool) (int, error) {
	if data == nil {
		return 0, nil
	}
	if len(data) < 4 {
		if d.Decoder != nil {
			return d.Decoder.PlayPES(data, videoOnly)
		}
		return len(data), nil
	}
	streamID := data[3]
	if streamID == ps1StreamIDPrivate1 {
		return d.playPS1Packet(data, videoOnly)
	}
	if d.Decoder != nil {
		return d.Decoder.PlayPES(data, videoOnly)
	}
	return len(data), nil
}

// playPS1Packet classifies a private_stream_1 PES by its sub-stream id
// byte and dispatches it, applying the legacy compatibility counter:
// once ps1LegacyThreshold consecutive unrecognized sub-stream ids are
// seen, every subsequent 0xBD packet is treated as AC3 mono regardless
// of its actual sub-stream id, recovering pre-1.3.19 recordings that
// never wrote one.
func (d *Device) playPS1Packet(data []byte, videoOnly bool) (int, error) {
	if len(data) < 9 {
		return len(data), nil
	}
	headerDataLength := int(data[8])
	subStreamIDOffset := 9 + headerDataLength
	if subStreamIDOffset >= len(data) {
		d.ps1.observe(false)
		return len(data), nil
	}
	subStreamID := data[subStreamIDOffset]

	known := isKnownPS1SubStream(subStreamID)
	legacy := d.ps1.observe(known)

	if legacy || (!known && isAC3Like(subStreamID)) {
		if d.Decoder != nil && !videoOnly {
			return len(data), d.Decoder.PlayAudio(0)
		}
		return len(data), nil
	}

	switch {
	case subStreamID >= ps1SPUMin && subStreamID <= ps1SPUMax:
		if d.Decoder != nil && !videoOnly {
			return len(data), d.Decoder.PlaySubtitle(0)
		}
	case subStreamID >= ps1AC3Min && subStreamID <= ps1AC3Max, subStreamID >= ps1DTSMin && subStreamID <= ps1DTSMax:
		if d.Decoder != nil && !videoOnly {
			return len(data), d.Decoder.PlayAudio(0)
		}
	case subStreamID >= ps1LPCMMin && subStreamID <= ps1LPCMMax:
		if d.Decoder != nil && !videoOnly {
			return len(data), d.Decoder.PlayAudio(0)
		}
	default:
		// unknown: already recorded by observe(false) above.
	}
	return len(data), nil
}

func isKnownPS1SubStream(id byte) bool {
	return (id >= ps1SPUMin && id <= ps1SPUMax) ||
		(id >= ps1AC3Min && id <= ps1AC3Max) ||
		(id >= ps1LPCMMin && id <= ps1LPCMMax)
}

func isAC3Like(id byte) bool {
	return id >= ps1AC3Min && id <= ps1AC3Max
}

// sectionOf strips a PSI payload's pointer field, assuming the section
// fits within a single TS packet. PAT/PMT sections in practice are a
// handful of program entries and fit in one packet; multi-packet
// section reassembly is outside this core's PAT/PMT-identification
// scope (spec's non-goal: "no parsing of MPEG beyond PAT/PMT
// identification").
func sectionOf(pkt []byte) []byte {
	payload := tspes.Payload(pkt)
	if len(payload) < 1 {
		return nil
	}
	pointerField := int(payload[0])
	start := 1 + pointerField
	if start >= len(payload) {
		return nil
	}
	return payload[start:]
}
