package tspes

// PATPID is the fixed well-known PID carrying the Program Association
// Table.
const PATPID uint16 = 0x0000

// PMTEntry is one program_number/PID pair parsed out of a PAT section.
type PMTEntry struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// ParsePAT parses a single PAT section payload (table_id through
// CRC32, as returned by a completed section reassembly) into its
// program/PMT-PID entries. Grounded on the teacher's PAT section walk in
// internal/mpegts/psi.go, generalized to return all programs rather than
// stopping at the first.
func ParsePAT(section []byte) []PMTEntry {
	if len(section) < 8 {
		return nil
	}
	if section[0] != 0x00 {
		return nil
	}
	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	end := 3 + sectionLength
	if end > len(section) {
		end = len(section)
	}
	// Skip transport_stream_id(2) reserved/version/current_next(1)
	// section_number(1) last_section_number(1): 5 bytes, then entries
	// of 4 bytes each, minus the trailing 4-byte CRC32.
	pos := 8
	tail := end - 4
	var entries []PMTEntry
	for pos+4 <= tail {
		programNumber := uint16(section[pos])<<8 | uint16(section[pos+1])
		pmtPID := uint16(section[pos+2]&0x1F)<<8 | uint16(section[pos+3])
		if programNumber != 0 {
			entries = append(entries, PMTEntry{ProgramNumber: programNumber, PMTPID: pmtPID})
		}
		pos += 4
	}
	return entries
}

// StreamType identifies the elementary stream types the core cares
// about; all others are carried through as StreamTypeOther.
type StreamType int

const (
	StreamTypeOther StreamType = iota
	StreamTypeVideoMPEG2
	StreamTypeVideoH264
	StreamTypeVideoHEVC
	StreamTypeAudioMPEG
	StreamTypeAudioAAC
	StreamTypeAudioAC3
	StreamTypeSubtitle
)

func classifyStreamType(t byte) StreamType {
	switch t {
	case 0x01, 0x02:
		return StreamTypeVideoMPEG2
	case 0x1B:
		return StreamTypeVideoH264
	case 0x24:
		return StreamTypeVideoHEVC
	case 0x03, 0x04:
		return StreamTypeAudioMPEG
	case 0x0F, 0x11:
		return StreamTypeAudioAAC
	case 0x81, 0x06:
		return StreamTypeAudioAC3
	default:
		return StreamTypeOther
	}
}

// PMTStream is one elementary_PID entry of a parsed PMT.
type PMTStream struct {
	Type     StreamType
	RawType  byte
	PID      uint16
	Language string
}

// PMT is the parsed result of a single PMT section: the PCR PID plus
// every elementary stream it carries.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []PMTStream
}

// ParsePMT parses a single PMT section payload into a PMT. Grounded on
// the teacher's PMT walk (internal/mpegts/psi.go), extended to read the
// ISO_639_language_code descriptor (tag 0x0A) for audio/subtitle tracks,
// which the teacher's PMT parser does not need but the channel model
// does (contracts.LanguageTrack).
func ParsePMT(section []byte) (PMT, bool) {
	var pmt PMT
	if len(section) < 12 {
		return pmt, false
	}
	if section[0] != 0x02 {
		return pmt, false
	}
	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	end := 3 + sectionLength
	if end > len(section) {
		end = len(section)
	}
	pmt.ProgramNumber = uint16(section[3])<<8 | uint16(section[4])
	pmt.PCRPID = uint16(section[8]&0x1F)<<8 | uint16(section[9])
	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])
	pos := 12 + programInfoLength
	tail := end - 4
	for pos+5 <= tail {
		streamType := section[pos]
		pid := uint16(section[pos+1]&0x1F)<<8 | uint16(section[pos+2])
		esInfoLength := int(section[pos+3]&0x0F)<<8 | int(section[pos+4])
		descStart := pos + 5
		descEnd := descStart + esInfoLength
		if descEnd > tail {
			descEnd = tail
		}
		lang := parseLanguageDescriptor(section[descStart:descEnd])
		pmt.Streams = append(pmt.Streams, PMTStream{
			Type:     classifyStreamType(streamType),
			RawType:  streamType,
			PID:      pid,
			Language: lang,
		})
		pos = descEnd
	}
	return pmt, true
}

// parseLanguageDescriptor scans an elementary stream's descriptor loop
// for an ISO_639_language_code descriptor and returns its 3-letter code.
func parseLanguageDescriptor(descriptors []byte) string {
	pos := 0
	for pos+2 <= len(descriptors) {
		tag := descriptors[pos]
		length := int(descriptors[pos+1])
		start := pos + 2
		end := start + length
		if end > len(descriptors) {
			end = len(descriptors)
		}
		if tag == 0x0A && end-start >= 3 {
			return string(descriptors[start : start+3])
		}
		pos = end
	}
	return ""
}

// PATPMTState tracks the PAT/PMT discovery needed to resolve a channel's
// video/audio PIDs from a raw stream, mirroring the reset()-able
// exposure spec.md §4.C requires (pmt_pid/vpid/ppid) rather than the
// teacher's one-shot Demuxer.
type PATPMTState struct {
	pmtPID  uint16
	havePMT bool
	pmt     PMT
}

// NewPATPMTState returns a fresh, unresolved state.
func NewPATPMTState() *PATPMTState {
	return &PATPMTState{}
}

// Reset clears all discovered PIDs, forcing the next PAT/PMT sections
// seen to be re-parsed from scratch. Used whenever the device retunes.
func (s *PATPMTState) Reset() {
	*s = PATPMTState{}
}

// FeedPAT updates the tracked PMT PID from a completed PAT section. It
// takes the first program entry found, matching the single-program
// assumption the core channel model makes.
func (s *PATPMTState) FeedPAT(section []byte) {
	entries := ParsePAT(section)
	if len(entries) == 0 {
		return
	}
	s.pmtPID = entries[0].PMTPID
}

// FeedPMT updates the tracked PMT from a completed PMT section.
func (s *PATPMTState) FeedPMT(section []byte) {
	pmt, ok := ParsePMT(section)
	if !ok {
		return
	}
	s.pmt = pmt
	s.havePMT = true
}

// PMTPID returns the currently known PMT PID, or 0 if the PAT has not
// been seen yet.
func (s *PATPMTState) PMTPID() uint16 { return s.pmtPID }

// Ready reports whether a PMT has been fully parsed.
func (s *PATPMTState) Ready() bool { return s.havePMT }

// VideoPID returns the first video elementary stream's PID, or 0 if none
// was found.
func (s *PATPMTState) VideoPID() uint16 {
	for _, str := range s.pmt.Streams {
		switch str.Type {
		case StreamTypeVideoMPEG2, StreamTypeVideoH264, StreamTypeVideoHEVC:
			return str.PID
		}
	}
	return 0
}

// PCRPID returns the tracked PCR PID.
func (s *PATPMTState) PCRPID() uint16 { return s.pmt.PCRPID }

// AudioPIDs returns every audio elementary stream found, in PMT order.
func (s *PATPMTState) AudioPIDs() []PMTStream {
	var out []PMTStream
	for _, str := range s.pmt.Streams {
		switch str.Type {
		case StreamTypeAudioMPEG, StreamTypeAudioAAC, StreamTypeAudioAC3:
			out = append(out, str)
		}
	}
	return out
}
