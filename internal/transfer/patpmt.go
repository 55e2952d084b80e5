package transfer

import "github.com/yavdr/vdr/internal/contracts"

// ProgramNumber and GeneratedPMTPID are fixed: a Transfer Mode stream always
// carries exactly one program, so there is no need to pick PAT/PMT PID
// values that avoid clashing with a multiplex the generator doesn't
// know about.
const (
	ProgramNumber  uint16 = 1
	GeneratedPMTPID uint16 = 0x0020
)

// PATPMTGenerator synthesizes the PAT and PMT TS packets for a single
// channel, so a device fed only elementary-stream PIDs by Transfer mode
// still presents a parseable PAT/PMT to the decoder and any downstream
// PAT/PMT consumer. Mirrors the section layout internal/tspes.ParsePAT /
// ParsePMT expect, computing a real MPEG-2 CRC32 (the teacher's
// scte35/crc.go algorithm, reused here since no decoder this core feeds
// should have to tolerate a faked checksum).
type PATPMTGenerator struct {
	pat []byte
	pmt []byte
	cc  [2]uint8 // continuity counters: [0]=PAT, [1]=PMT
}

// NewPATPMTGenerator returns a generator with no channel set; call
// SetChannel before GetPat/GetPmt return anything useful.
func NewPATPMTGenerator() *PATPMTGenerator {
	return &PATPMTGenerator{}
}

// SetChannel rebuilds the PAT and PMT sections for ch, resetting both
// continuity counters (a fresh Transfer Mode session is a discontinuity
// as far as any downstream PAT/PMT consumer is concerned).
func (g *PATPMTGenerator) SetChannel(ch *contracts.Channel) {
	g.pat = buildPATSection(ProgramNumber, GeneratedPMTPID)
	g.pmt = buildPMTSection(ch, ProgramNumber, GeneratedPMTPID)
	g.cc = [2]uint8{}
}

// GetPat returns one TS packet carrying the PAT, advancing its
// continuity counter each call (matching the original's
// cPatPmtGenerator, which re-sends the same section on every call so
// the receiving decoder can pick it up whenever it starts looking).
func (g *PATPMTGenerator) GetPat() []byte {
	pkt := wrapSection(0x0000, g.pat, g.cc[0])
	g.cc[0] = (g.cc[0] + 1) & 0x0F
	return pkt
}

// GetPmt returns the index'th TS packet carrying the PMT. The
// generator only ever produces a single PMT packet (program_info and
// stream loops for one program comfortably fit in 184 bytes), so index
// 0 succeeds and every other index reports ok=false — callers loop
// `for i := 0; ; i++ { pkt, ok := g.GetPmt(i); if !ok { break } ... }`
// exactly as cTransfer::Activate does over cPatPmtGenerator::GetPmt.
func (g *PATPMTGenerator) GetPmt(index int) (pkt []byte, ok bool) {
	if index != 0 || g.pmt == nil {
		return nil, false
	}
	pkt = wrapSection(GeneratedPMTPID, g.pmt, g.cc[1])
	g.cc[1] = (g.cc[1] + 1) & 0x0F
	return pkt, true
}

// wrapSection packs section (already including its trailing CRC32)
// into a single 188-byte TS packet on pid, with
// payload_unit_start_indicator set and a leading pointer_field of 0.
func wrapSection(pid uint16, section []byte, cc uint8) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (cc & 0x0F)
	pkt[4] = 0x00 // pointer_field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < len(pkt); i++ {
		pkt[i] = 0xFF // stuffing
	}
	return pkt
}

// buildPATSection lays out a one-program PAT section, per the layout
// internal/tspes.ParsePAT expects.
func buildPATSection(programNumber, pmtPID uint16) []byte {
	section := make([]byte, 12)
	section[0] = 0x00 // table_id: program_association_section
	section[3] = 0x00 // transport_stream_id (unused by this core)
	section[4] = 0x00
	section[5] = 0xC1 // reserved(2)=11 version(5)=0 current_next=1
	section[6] = 0x00 // section_number
	section[7] = 0x00 // last_section_number
	section[8] = byte(programNumber >> 8)
	section[9] = byte(programNumber)
	section[10] = 0xE0 | byte(pmtPID>>8)&0x1F
	section[11] = byte(pmtPID)
	return finishSection(section)
}

// buildPMTSection lays out a PMT section describing ch's video, audio,
// Dolby, and subtitle elementary streams, per the layout
// internal/tspes.ParsePMT expects.
func buildPMTSection(ch *contracts.Channel, programNumber, pmtPID uint16) []byte {
	section := make([]byte, 12)
	section[0] = 0x02 // table_id: TS_program_map_section
	section[3] = byte(programNumber >> 8)
	section[4] = byte(programNumber)
	section[5] = 0xC1
	section[6] = 0x00
	section[7] = 0x00

	pcrPID := ch.VideoPID
	if pcrPID == 0 && len(ch.Audio) > 0 {
		pcrPID = ch.Audio[0].PID
	}
	section[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	section[9] = byte(pcrPID)
	section[10] = 0xF0
	section[11] = 0x00 // program_info_length = 0: no descriptors at program level

	if ch.VideoPID != 0 {
		section = appendStream(section, 0x02, ch.VideoPID, "") // MPEG-2 video; generalized further by the decoder's own PES parse
	}
	for _, a := range ch.Audio {
		section = appendStream(section, 0x04, a.PID, a.Language)
	}
	for _, a := range ch.Dolby {
		section = appendStream(section, 0x06, a.PID, a.Language)
	}
	for _, s := range ch.Subtitle {
		section = appendStream(section, 0x06, s.PID, s.Language)
	}

	return finishSection(section)
}

func appendStream(section []byte, streamType byte, pid contracts.PID, lang string) []byte {
	var desc []byte
	if lang != "" {
		desc = append(desc, 0x0A, byte(len(lang)+1))
		desc = append(desc, []byte(lang)...)
		desc = append(desc, 0x00) // audio_type: undefined
	}
	entry := []byte{
		streamType,
		byte(pid>>8) & 0x1F, byte(pid),
		byte(len(desc) >> 8) & 0x0F, byte(len(desc)),
	}
	entry = append(entry, desc...)
	return append(section, entry...)
}

// finishSection appends a real MPEG-2 CRC32 and patches the
// section_length field to cover everything after it through the CRC.
func finishSection(section []byte) []byte {
	section = append(section, 0, 0, 0, 0)
	length := len(section) - 3
	section[1] = 0xB0 | byte(length>>8)&0x0F
	section[2] = byte(length)
	crc := crc32MPEG2(section[:len(section)-4])
	section[len(section)-4] = byte(crc >> 24)
	section[len(section)-3] = byte(crc >> 16)
	section[len(section)-2] = byte(crc >> 8)
	section[len(section)-1] = byte(crc)
	return section
}
