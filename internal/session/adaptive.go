// Package session wires the transport-agnostic videocore engine to a
// concrete WebRTC/WebSocket transport: it owns the peer connection, the
// congestion-control loop that feeds RTCP-derived RTT/loss into the codec
// pipeline's bit rate, and the signaling glue.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// AdaptiveConfig configures the outer AIMD congestion controller. This is
// layered on top of videocore's own virtual-buffer rate controller: the
// virtual buffer governs frame-by-frame drop/throttle decisions from
// mm_time, while this loop periodically re-targets the bit rate ceiling
// itself from the transport's own view of round trip time and loss.
type AdaptiveConfig struct {
	SetBitRate     func(uint64)
	InitialBitRate uint64
	MinBitRate     uint64
	MaxBitRate     uint64
	MaxFPS         int
	Cooldown       time.Duration
}

// minBitsPerFrame is the per-frame quality floor: below this, screen content
// degrades fast enough that lowering bit rate further buys nothing. The
// target frame rate follows the bit rate down so each remaining frame keeps
// at least this many bits.
const minBitsPerFrame = 40_000

const minTargetFPS = 10

// AdaptiveBitrate is an additive-increase/multiplicative-decrease congestion
// controller with EWMA-smoothed RTT/loss inputs, targeting a
// videocore.Pipeline's SetBitRate.
type AdaptiveBitrate struct {
	mu sync.Mutex

	setBitRate func(uint64)
	minBitRate uint64
	maxBitRate uint64
	maxFPS     int
	cooldown   time.Duration

	lastAdjust time.Time
	target     uint64
	targetFPS  int

	smoothedLoss float64
	smoothedRTT  time.Duration
	samples      int
	stableCount  int
}

func NewAdaptiveBitrate(cfg AdaptiveConfig) *AdaptiveBitrate {
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 500 * time.Millisecond
	}
	maxFPS := cfg.MaxFPS
	if maxFPS <= 0 {
		maxFPS = 30
	}
	return &AdaptiveBitrate{
		setBitRate: cfg.SetBitRate,
		minBitRate: cfg.MinBitRate,
		maxBitRate: cfg.MaxBitRate,
		maxFPS:     maxFPS,
		cooldown:   cooldown,
		target:     cfg.InitialBitRate,
		targetFPS:  clampInt(int(cfg.InitialBitRate/minBitsPerFrame), minTargetFPS, maxFPS),
	}
}

// TargetFPS is the frame rate the capture side should currently aim for:
// the target bit rate divided by the per-frame quality floor, clamped to
// [minTargetFPS, MaxFPS].
func (a *AdaptiveBitrate) TargetFPS() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(a.targetFPS)
}

const ewmaAlpha = 0.3

func (a *AdaptiveBitrate) updateEWMA(rtt time.Duration, loss float64) {
	a.samples++
	if a.samples == 1 {
		a.smoothedRTT = rtt
		a.smoothedLoss = loss
		return
	}
	a.smoothedRTT = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(a.smoothedRTT))
	a.smoothedLoss = ewmaAlpha*loss + (1-ewmaAlpha)*a.smoothedLoss
}

// Update feeds a fresh RTT/loss sample into the controller, stepping the
// target bit rate once every Cooldown interval at most: multiplicative
// decrease on congestion, additive increase (5% of ceiling) after two
// consecutive clean samples.
func (a *AdaptiveBitrate) Update(rtt time.Duration, loss float64) {
	if loss < 0 {
		loss = 0
	} else if loss > 1 {
		loss = 1
	}

	a.mu.Lock()

	now := time.Now()
	if !a.lastAdjust.IsZero() && now.Sub(a.lastAdjust) < a.cooldown {
		a.updateEWMA(rtt, loss)
		a.mu.Unlock()
		return
	}
	a.updateEWMA(rtt, loss)

	if a.samples < 3 {
		a.mu.Unlock()
		return
	}

	smoothedLoss := a.smoothedLoss
	smoothedRTT := a.smoothedRTT
	degrade := smoothedLoss >= 0.05 || (smoothedRTT >= 300*time.Millisecond && smoothedLoss >= 0.02)
	upgrade := smoothedLoss <= 0.01

	if degrade {
		a.stableCount = 0
	} else if upgrade {
		a.stableCount++
	} else if a.stableCount > 0 {
		a.stableCount--
	}
	const stableRequired = 2

	action := "hold"
	newTarget := a.target
	switch {
	case degrade:
		action = "degrade"
		newTarget = clampRate(uint64(float64(newTarget)*0.70), a.minBitRate, a.maxBitRate)
	case a.stableCount >= stableRequired && a.target < a.maxBitRate:
		action = "upgrade"
		step := a.maxBitRate / 20
		if step < 100_000 {
			step = 100_000
		}
		newTarget = clampRate(newTarget+step, a.minBitRate, a.maxBitRate)
		a.stableCount = 0
	}

	if newTarget == a.target {
		a.mu.Unlock()
		return
	}
	prev := a.target
	a.target = newTarget
	a.targetFPS = clampInt(int(newTarget/minBitsPerFrame), minTargetFPS, a.maxFPS)
	a.lastAdjust = now
	setBitRate := a.setBitRate
	a.mu.Unlock()

	slog.Debug("adaptive bitrate adjustment",
		"action", action, "bitRate", newTarget, "prev", prev,
		"smoothedLoss", smoothedLoss, "smoothedRTT", smoothedRTT.Round(time.Millisecond))

	if setBitRate != nil {
		setBitRate(newTarget)
	}
}

func clampRate(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
