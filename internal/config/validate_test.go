package config

import (
	"strings"
	"testing"
)

func TestValidateTieredUnknownCodecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Codec = "divx"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unknown codec should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "codec") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected codec validation error in fatals")
	}
}

func TestValidateTieredBadListenAddrIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "not-a-host-port"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("malformed listen_addr should be fatal")
	}
}

func TestValidateTieredSourceFPSClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.SourceFPS = 0

	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped source_fps should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped source_fps")
	}
	if cfg.SourceFPS != 1 {
		t.Fatalf("SourceFPS = %d, want 1 (clamped)", cfg.SourceFPS)
	}
}

func TestValidateTieredMinBitRateAboveStartingClampsStarting(t *testing.T) {
	cfg := Default()
	cfg.MinBitRate = 10_000_000
	cfg.StartingBitRate = 1_000_000

	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("bit rate clamp should be a warning: %v", result.Fatals)
	}
	if cfg.StartingBitRate != cfg.MinBitRate {
		t.Fatalf("StartingBitRate = %d, want %d (raised to MinBitRate)", cfg.StartingBitRate, cfg.MinBitRate)
	}
}

func TestValidateTieredInvalidLogLevelDefaultsToInfo(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"

	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("invalid log level should be a warning: %v", result.Fatals)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestValidateTieredDefaultConfigHasNoFatals(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config should have no fatals: %v", result.Fatals)
	}
}

func TestValidateTieredCursorCacheSizeClamping(t *testing.T) {
	cfg := Default()
	cfg.CursorCacheSize = 100_000

	result := cfg.ValidateTiered()

	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for oversized cursor_cache_size")
	}
	if cfg.CursorCacheSize != 4096 {
		t.Fatalf("CursorCacheSize = %d, want 4096 (clamped)", cfg.CursorCacheSize)
	}
}
