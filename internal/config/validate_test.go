package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredUnknownBackendIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Backend = "gdi"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unknown backend should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "gdi") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected backend error in fatals")
	}
}

func TestValidateTieredUnknownBackpressureIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Backpressure = "drop-oldest"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("unknown backpressure should be fatal")
	}
}

func TestValidateTieredNegativeOutputIsFatal(t *testing.T) {
	cfg := Default()
	cfg.OutputIndex = -1
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("negative output index should be fatal")
	}
}

func TestValidateTieredBadListenAddrIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "localhost"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("listen_addr without port should be fatal")
	}
}

func TestValidateTieredIntervalClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.IntervalMs = 0
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped interval should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped interval")
	}
	if cfg.IntervalMs != 1 {
		t.Fatalf("IntervalMs = %d, want 1 (clamped)", cfg.IntervalMs)
	}
}

func TestValidateTieredHighTimeoutClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.TimeoutMs = 999_999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.TimeoutMs != 60_000 {
		t.Fatalf("TimeoutMs = %d, want 60000 (clamped)", cfg.TimeoutMs)
	}
}

func TestValidateTieredViewerClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxViewers = 0
	cfg.ViewerQueueSize = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped viewer settings should be warning: %v", result.Fatals)
	}
	if cfg.MaxViewers != 1 || cfg.ViewerQueueSize != 1 {
		t.Fatalf("MaxViewers = %d, ViewerQueueSize = %d, want 1 and 1", cfg.MaxViewers, cfg.ViewerQueueSize)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.Backend = "bogus" // fatal
	cfg.LogFormat = "xml" // warning
	all := cfg.Validate()
	if len(all) < 2 {
		t.Fatalf("Validate() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	result := Default().ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
