package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatal errors: %v", result.Fatals)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := Default()
	if cfg.Codec != "vp8" {
		t.Fatalf("Codec = %q, want vp8", cfg.Codec)
	}
	if cfg.StartingBitRate != defaultStartingBitRate {
		t.Fatalf("StartingBitRate = %d, want %d", cfg.StartingBitRate, defaultStartingBitRate)
	}
	if cfg.MinBitRate != defaultMinBitRate {
		t.Fatalf("MinBitRate = %d, want %d", cfg.MinBitRate, defaultMinBitRate)
	}
	if cfg.ListenAddr != ":5900" {
		t.Fatalf("ListenAddr = %q, want :5900", cfg.ListenAddr)
	}
}

func TestLoadWithoutConfigFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec != "vp8" {
		t.Fatalf("Codec = %q, want the default vp8 absent any config file", cfg.Codec)
	}
}

func TestLoadRejectsNonexistentExplicitConfigFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/videocore.yaml"); err == nil {
		t.Fatal("Load should fail when an explicit config file path doesn't exist")
	}
}
