package transfer

import (
	"testing"

	"github.com/yavdr/vdr/internal/contracts"
	"github.com/yavdr/vdr/internal/tspes"
)

func sectionOfGenerated(pkt []byte) []byte {
	payload := tspes.Payload(pkt)
	if len(payload) < 1 {
		return nil
	}
	return payload[1:] // skip pointer_field
}

func TestPATPMTGenerator_GetPat_ParsesBackToPMTPID(t *testing.T) {
	t.Parallel()
	g := NewPATPMTGenerator()
	g.SetChannel(&contracts.Channel{ID: "c1", VideoPID: 100})

	pkt := g.GetPat()
	if len(pkt) != 188 {
		t.Fatalf("GetPat() packet length = %d, want 188", len(pkt))
	}
	if tspes.PID(pkt) != 0 {
		t.Fatalf("GetPat() pid = %d, want 0", tspes.PID(pkt))
	}
	entries := tspes.ParsePAT(sectionOfGenerated(pkt))
	if len(entries) != 1 {
		t.Fatalf("parsed %d PAT entries, want 1", len(entries))
	}
	if entries[0].ProgramNumber != ProgramNumber || entries[0].PMTPID != GeneratedPMTPID {
		t.Fatalf("parsed entry = %+v, want program %d pmtPID %d", entries[0], ProgramNumber, GeneratedPMTPID)
	}
}

func TestPATPMTGenerator_GetPmt_ParsesBackToStreams(t *testing.T) {
	t.Parallel()
	g := NewPATPMTGenerator()
	ch := &contracts.Channel{
		ID:       "c1",
		VideoPID: 100,
		Audio:    []contracts.LanguageTrack{{PID: 200, Language: "eng"}},
		Dolby:    []contracts.LanguageTrack{{PID: 201, Language: "eng"}},
	}
	g.SetChannel(ch)

	pkt, ok := g.GetPmt(0)
	if !ok {
		t.Fatal("GetPmt(0) = false, want true")
	}
	if tspes.PID(pkt) != contracts.PID(GeneratedPMTPID) {
		t.Fatalf("GetPmt(0) pid = %d, want %d", tspes.PID(pkt), GeneratedPMTPID)
	}
	pmt, ok := tspes.ParsePMT(sectionOfGenerated(pkt))
	if !ok {
		t.Fatal("ParsePMT failed on generated PMT section")
	}
	if contracts.PID(pmt.PCRPID) != ch.VideoPID {
		t.Fatalf("PCRPID = %d, want %d", pmt.PCRPID, ch.VideoPID)
	}
	if len(pmt.Streams) != 3 {
		t.Fatalf("got %d streams, want 3 (video+audio+dolby)", len(pmt.Streams))
	}

	if _, ok := g.GetPmt(1); ok {
		t.Fatal("GetPmt(1) = true, want false (single-packet PMT)")
	}
}

func TestPATPMTGenerator_ContinuityCounterAdvances(t *testing.T) {
	t.Parallel()
	g := NewPATPMTGenerator()
	g.SetChannel(&contracts.Channel{ID: "c1", VideoPID: 100})

	first := tspes.ContinuityCounter(g.GetPat())
	second := tspes.ContinuityCounter(g.GetPat())
	if second != (first+1)&0x0F {
		t.Fatalf("continuity counter = %d, want %d", second, (first+1)&0x0F)
	}
}
