package config

import (
	"fmt"
	"net"
	"strings"
)

var validCodecs = map[string]bool{
	"mjpeg": true,
	"vp8":   true,
	"h264":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

// Result splits validation findings into Fatals (reject the config outright)
// and Warnings (clamp to a safe value and keep going).
type Result struct {
	Fatals   []error
	Warnings []error
}

func (r *Result) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *Result) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config for invalid values. Out-of-range numeric
// settings are clamped to a safe bound and reported as a warning; malformed
// values with no safe default (a bad listen address, an unknown codec) are
// reported as fatal.
func (c *Config) ValidateTiered() *Result {
	r := &Result{}

	if !validCodecs[strings.ToLower(c.Codec)] {
		r.fatal("codec %q is not one of mjpeg, vp8, h264", c.Codec)
	}

	if c.SourceFPS < 1 {
		r.warn("source_fps %d is below minimum 1, clamping", c.SourceFPS)
		c.SourceFPS = 1
	} else if c.SourceFPS > 120 {
		r.warn("source_fps %d exceeds maximum 120, clamping", c.SourceFPS)
		c.SourceFPS = 120
	}

	if c.StartingBitRate < defaultMinBitRate {
		r.warn("starting_bit_rate %d is below the minimum %d, clamping", c.StartingBitRate, defaultMinBitRate)
		c.StartingBitRate = defaultMinBitRate
	}

	if c.MinBitRate < 1024 {
		r.warn("min_bit_rate %d is unreasonably low, clamping to 1024", c.MinBitRate)
		c.MinBitRate = 1024
	}
	if c.MinBitRate > c.StartingBitRate {
		r.warn("min_bit_rate %d exceeds starting_bit_rate %d, clamping starting_bit_rate up", c.MinBitRate, c.StartingBitRate)
		c.StartingBitRate = c.MinBitRate
	}

	if c.VBufferSizeMS < 10 {
		r.warn("vbuffer_size_ms %d is below minimum 10, clamping", c.VBufferSizeMS)
		c.VBufferSizeMS = 10
	} else if c.VBufferSizeMS > 5000 {
		r.warn("vbuffer_size_ms %d exceeds maximum 5000, clamping", c.VBufferSizeMS)
		c.VBufferSizeMS = 5000
	}

	if c.CursorCacheSize < 1 {
		r.warn("cursor_cache_size %d is below minimum 1, clamping", c.CursorCacheSize)
		c.CursorCacheSize = 1
	} else if c.CursorCacheSize > 4096 {
		r.warn("cursor_cache_size %d exceeds maximum 4096, clamping", c.CursorCacheSize)
		c.CursorCacheSize = 4096
	}

	if c.AckBunch < 1 {
		r.warn("ack_bunch %d is below minimum 1, clamping", c.AckBunch)
		c.AckBunch = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel)
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat)
		c.LogFormat = "text"
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			r.fatal("listen_addr %q is not a valid host:port: %w", c.ListenAddr, err)
		}
	}

	return r
}
