package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsToSingleDummyPrimaryCard(t *testing.T) {
	os.Clearenv()
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(c.Cards) != 1 {
		t.Fatalf("Cards len = %d, want 1", len(c.Cards))
	}
	if c.Cards[0].Driver != DriverDummy || !c.Cards[0].Primary {
		t.Fatalf("Cards[0] = %+v, want dummy primary", c.Cards[0])
	}
	if c.RecordingsDir != "/var/lib/vdr/recordings" {
		t.Errorf("RecordingsDir default: got %q", c.RecordingsDir)
	}
	if !c.ResumeBackup {
		t.Error("ResumeBackup should default true")
	}
	if c.MetricsAddr != ":9420" {
		t.Errorf("MetricsAddr default: got %q", c.MetricsAddr)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel default: got %q", c.LogLevel)
	}
}

func TestLoad_MultiCardWithDriversAndAddrs(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_COUNT", "3")
	os.Setenv("VDR_CARD_0_DRIVER", "dummy")
	os.Setenv("VDR_CARD_1_DRIVER", "srt")
	os.Setenv("VDR_CARD_1_ADDR", "srt://headend:6000")
	os.Setenv("VDR_CARD_2_DRIVER", "quic")
	os.Setenv("VDR_CARD_2_ADDR", "headend:4443")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(c.Cards) != 3 {
		t.Fatalf("Cards len = %d, want 3", len(c.Cards))
	}
	if c.Cards[1].Driver != DriverSRT || c.Cards[1].Addr != "srt://headend:6000" {
		t.Errorf("Cards[1] = %+v", c.Cards[1])
	}
	if c.Cards[2].Driver != DriverQUIC || c.Cards[2].Addr != "headend:4443" {
		t.Errorf("Cards[2] = %+v", c.Cards[2])
	}
	if !c.Cards[0].Primary || c.Cards[1].Primary || c.Cards[2].Primary {
		t.Fatalf("expected only card 0 primary by default, got %+v", c.Cards)
	}
}

func TestLoad_ExplicitPrimaryOverridesDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_COUNT", "2")
	os.Setenv("VDR_CARD_0_PRIMARY", "false")
	os.Setenv("VDR_CARD_1_PRIMARY", "true")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Cards[0].Primary || !c.Cards[1].Primary {
		t.Fatalf("expected card 1 primary, got %+v", c.Cards)
	}
}

func TestLoad_RejectsNoPrimaryCard(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_COUNT", "2")
	os.Setenv("VDR_CARD_0_PRIMARY", "false")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no primary card = nil error, want error")
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_0_DRIVER", "bluetooth")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown driver = nil error, want error")
	}
}

func TestLoad_RejectsNetworkDriverWithoutAddr(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_0_DRIVER", "srt")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with srt driver and no addr = nil error, want error")
	}
}

func TestLoad_RejectsZeroCardCount(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_CARD_COUNT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with VDR_CARD_COUNT=0 = nil error, want error")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("VDR_RECORDINGS_DIR", "/mnt/recordings")
	os.Setenv("VDR_RESUME_BACKUP", "no")
	os.Setenv("VDR_METRICS_ADDR", ":9999")
	os.Setenv("VDR_LOG_LEVEL", "DEBUG")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.RecordingsDir != "/mnt/recordings" {
		t.Errorf("RecordingsDir: got %q", c.RecordingsDir)
	}
	if c.ResumeBackup {
		t.Error("ResumeBackup should be false for 'no'")
	}
	if c.MetricsAddr != ":9999" {
		t.Errorf("MetricsAddr: got %q", c.MetricsAddr)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel should be lowercased: got %q", c.LogLevel)
	}
}
