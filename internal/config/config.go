package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/videocore/internal/videocore"
)

// Defaults mirrored from videocore's internal rate-control/cursor-cache
// constants. Those constants are package-private (they're an implementation
// detail of the rate controller, not part of its API), so the values are
// restated here rather than exported solely for this purpose.
const (
	defaultStartingBitRate uint64 = 8 * 1024 * 1024
	defaultMinBitRate      uint64 = 128 * 1024
	defaultVBufferMS              = 300
	defaultCursorCacheSize        = 256
)

// Config holds the video streaming core's tunables: rate-control defaults,
// codec selection, cache sizing, and logging, loaded via viper with a
// BREEZE_VIDEOCORE env prefix and an optional YAML file.
type Config struct {
	Codec            string `mapstructure:"codec"`
	SourceFPS        int    `mapstructure:"source_fps"`
	StartingBitRate  uint64 `mapstructure:"starting_bit_rate"`
	MinBitRate       uint64 `mapstructure:"min_bit_rate"`
	VBufferSizeMS    int    `mapstructure:"vbuffer_size_ms"`
	CursorCacheSize  int    `mapstructure:"cursor_cache_size"`
	AckBunch         int    `mapstructure:"ack_bunch"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	ListenAddr string `mapstructure:"listen_addr"`
}

func Default() *Config {
	return &Config{
		Codec:           "vp8",
		SourceFPS:       30,
		StartingBitRate: defaultStartingBitRate,
		MinBitRate:      defaultMinBitRate,
		VBufferSizeMS:   defaultVBufferMS,
		CursorCacheSize: defaultCursorCacheSize,
		AckBunch:        videocore.AckBunch,
		LogLevel:        "info",
		LogFormat:       "text",
		ListenAddr:      ":5900",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("videocore")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("BREEZE_VIDEOCORE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		slog.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			slog.Error("config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "videocore")
	case "darwin":
		return "/Library/Application Support/Breeze/videocore"
	default:
		return "/etc/breeze-videocore"
	}
}
