package swdecoder

import "testing"

func TestDecoder_STCUnsetUntilPESSeen(t *testing.T) {
	t.Parallel()
	d := New()
	if stc := d.STC(); stc != -1 {
		t.Fatalf("STC before any PES = %d, want -1", stc)
	}
}

func TestDecoder_PlayPESEstablishesSTC(t *testing.T) {
	t.Parallel()
	d := New()

	// PES header: start code, stream id, length(ignored here), optional
	// header flags '10' + PTS-only flag, header length, 5-byte PTS field.
	pes := []byte{
		0x00, 0x00, 0x01, 0xE0, // packet_start_code_prefix + stream id (video)
		0x00, 0x00, // PES_packet_length (unused by PESPTS)
		0x80, 0x80, // flags: '10' marker, PTS_DTS_flags = '10'
		0x05,                         // PES_header_data_length
		0x21, 0x00, 0x01, 0x00, 0x01, // PTS = 0 with marker bits set
	}
	if _, err := d.PlayPES(pes, false); err != nil {
		t.Fatalf("PlayPES error = %v", err)
	}
	if !d.hasSTC.Load() {
		t.Fatal("hasSTC = false after a PES with a PTS")
	}
}

func TestDecoder_ClearResetsSTC(t *testing.T) {
	t.Parallel()
	d := New()
	d.stc.Store(12345)
	d.hasSTC.Store(true)

	if err := d.Clear(); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	if stc := d.STC(); stc != -1 {
		t.Fatalf("STC after Clear = %d, want -1", stc)
	}
}

func TestDecoder_PlayAndFreezeTrackIsPlayingVideo(t *testing.T) {
	t.Parallel()
	d := New()
	if d.IsPlayingVideo() {
		t.Fatal("IsPlayingVideo before Play = true, want false")
	}
	if err := d.Play(); err != nil {
		t.Fatalf("Play error = %v", err)
	}
	if !d.IsPlayingVideo() {
		t.Fatal("IsPlayingVideo after Play = false, want true")
	}
	if err := d.Freeze(); err != nil {
		t.Fatalf("Freeze error = %v", err)
	}
	if d.IsPlayingVideo() {
		t.Fatal("IsPlayingVideo after Freeze = true, want false")
	}
}
