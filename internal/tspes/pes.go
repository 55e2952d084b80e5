package tspes

// pesStartCode is the 3-byte prefix that opens every PES packet.
var pesStartCode = [3]byte{0x00, 0x00, 0x01}

// IsPESStart reports whether data begins with the PES start code.
func IsPESStart(data []byte) bool {
	return len(data) >= 3 && data[0] == pesStartCode[0] && data[1] == pesStartCode[1] && data[2] == pesStartCode[2]
}

// hasOptionalHeader reports false for the PES stream_ids that never carry
// the optional PES header (padding_stream, private_stream_2, ECM, EMM,
// DSMCC, ITU-T Rec. H.222.1 type E, program_stream_directory).
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	default:
		return true
	}
}

// PESLength returns the PES_packet_length field of a PES packet starting
// at data[0]. A returned length of 0 means "unbounded" (read to the next
// start code or EOF), as used by unbounded video streams.
func PESLength(data []byte) (int, bool) {
	if len(data) < 6 || !IsPESStart(data) {
		return 0, false
	}
	return int(data[4])<<8 | int(data[5]), true
}

// PESPTS extracts the PTS from a PES packet's optional header, if
// present. ok is false if the packet has no PTS (stream_id without an
// optional header, or PTS_DTS_indicator says no PTS).
func PESPTS(data []byte) (pts uint32, ok bool) {
	if len(data) < 9 || !IsPESStart(data) {
		return 0, false
	}
	streamID := data[3]
	if !hasOptionalHeader(streamID) {
		return 0, false
	}
	ptsDTSIndicator := (data[7] >> 6) & 0x03
	if ptsDTSIndicator != 2 && ptsDTSIndicator != 3 {
		return 0, false
	}
	if len(data) < 14 {
		return 0, false
	}
	return parsePTS(data[9:14]), true
}

// parsePTS decodes the standard 5-byte PES timestamp extension into its
// 33-bit value, truncated to 32 bits (matching the original cPtsIndex,
// which never needed the top bit).
func parsePTS(b []byte) uint32 {
	v := uint64(b[0]>>1&0x07)<<30 |
		uint64(b[1])<<22 |
		uint64(b[2]>>1&0x7F)<<15 |
		uint64(b[3])<<7 |
		uint64(b[4]>>1&0x7F)
	return uint32(v)
}

// PacketPTS extracts the PTS of the first PES packet found within a
// single TS packet's payload, if payload_unit_start_indicator is set and
// the payload begins with a PES header.
func PacketPTS(b []byte, pesLen int) (uint32, bool) {
	if !PayloadStart(b) {
		return 0, false
	}
	payload := Payload(b)
	_ = pesLen
	return PESPTS(payload)
}
