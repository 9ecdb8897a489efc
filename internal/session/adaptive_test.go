package session

import (
	"testing"
	"time"
)

// newTestAdaptive builds an AdaptiveBitrate with a stub SetBitRate recorder.
func newTestAdaptive(initial, min, max uint64) (*AdaptiveBitrate, *[]uint64) {
	var calls []uint64
	a := NewAdaptiveBitrate(AdaptiveConfig{
		SetBitRate:     func(v uint64) { calls = append(calls, v) },
		InitialBitRate: initial,
		MinBitRate:     min,
		MaxBitRate:     max,
	})
	return a, &calls
}

func warmup(a *AdaptiveBitrate, rtt time.Duration, loss float64) {
	for i := 0; i < 3; i++ {
		a.Update(rtt, loss)
	}
}

func TestAdaptiveInitialTargetMatchesConfig(t *testing.T) {
	a, _ := newTestAdaptive(4_000_000, 500_000, 8_000_000)
	if a.target != 4_000_000 {
		t.Fatalf("target = %d, want 4000000", a.target)
	}
}

func TestAdaptiveNoAdjustmentBeforeThreeSamples(t *testing.T) {
	a, calls := newTestAdaptive(4_000_000, 500_000, 8_000_000)
	a.Update(20*time.Millisecond, 0)
	a.Update(20*time.Millisecond, 0)
	if len(*calls) != 0 {
		t.Fatalf("SetBitRate called %d times, want 0 before 3 samples accumulate", len(*calls))
	}
}

func TestAdaptiveDegradesOnHighLoss(t *testing.T) {
	a, calls := newTestAdaptive(4_000_000, 500_000, 8_000_000)
	warmup(a, 20*time.Millisecond, 0.10) // above the 5% degrade threshold

	if len(*calls) == 0 {
		t.Fatal("expected a bit rate reduction after sustained high loss")
	}
	if (*calls)[len(*calls)-1] >= 4_000_000 {
		t.Fatalf("bitRate = %d, want reduced below the initial 4000000", (*calls)[len(*calls)-1])
	}
}

func TestAdaptiveDegradesOnHighRTTWithModestLoss(t *testing.T) {
	a, calls := newTestAdaptive(4_000_000, 500_000, 8_000_000)
	warmup(a, 350*time.Millisecond, 0.03) // rtt>=300ms and loss>=0.02

	if len(*calls) == 0 {
		t.Fatal("expected a bit rate reduction for high RTT combined with modest loss")
	}
}

func TestAdaptiveUpgradesAfterStableCleanSamples(t *testing.T) {
	a, calls := newTestAdaptive(1_000_000, 500_000, 8_000_000)
	// First three clean samples cross the warmup threshold, which also
	// counts as the first stable sample; the fourth tips stableCount to 2.
	for i := 0; i < 4; i++ {
		a.Update(10*time.Millisecond, 0)
	}
	if len(*calls) == 0 {
		t.Fatal("expected an upgrade once two consecutive clean samples accumulate")
	}
	if (*calls)[len(*calls)-1] <= 1_000_000 {
		t.Fatalf("bitRate = %d, want increased above the initial 1000000", (*calls)[len(*calls)-1])
	}
}

func TestAdaptiveNeverExceedsMaxBitRate(t *testing.T) {
	a, calls := newTestAdaptive(7_900_000, 500_000, 8_000_000)
	for i := 0; i < 12; i++ {
		a.Update(5*time.Millisecond, 0)
	}
	for _, v := range *calls {
		if v > 8_000_000 {
			t.Fatalf("bitRate = %d, exceeded maxBitRate 8000000", v)
		}
	}
}

func TestAdaptiveNeverBelowMinBitRate(t *testing.T) {
	a, calls := newTestAdaptive(600_000, 500_000, 8_000_000)
	for i := 0; i < 12; i++ {
		a.Update(400*time.Millisecond, 0.5)
	}
	for _, v := range *calls {
		if v < 500_000 {
			t.Fatalf("bitRate = %d, fell below minBitRate 500000", v)
		}
	}
}

func TestAdaptiveTargetFPSFollowsBitRate(t *testing.T) {
	a := NewAdaptiveBitrate(AdaptiveConfig{
		InitialBitRate: 1_200_000,
		MinBitRate:     200_000,
		MaxBitRate:     8_000_000,
		MaxFPS:         30,
		Cooldown:       time.Nanosecond,
	})
	if got := a.TargetFPS(); got != 30 {
		t.Fatalf("initial TargetFPS = %d, want 30 — 1.2Mb/s keeps 30fps above the per-frame floor", got)
	}

	for i := 0; i < 20; i++ {
		a.Update(400*time.Millisecond, 0.5)
	}
	got := a.TargetFPS()
	if got >= 30 {
		t.Fatalf("TargetFPS = %d, want reduced as the bit rate degrades", got)
	}
	if got < minTargetFPS {
		t.Fatalf("TargetFPS = %d, must not fall below %d", got, minTargetFPS)
	}
}

func TestAdaptiveLossClampedToUnitRange(t *testing.T) {
	a, _ := newTestAdaptive(4_000_000, 500_000, 8_000_000)
	// Out-of-range loss values must not panic or corrupt EWMA state.
	a.Update(10*time.Millisecond, -1)
	a.Update(10*time.Millisecond, 5)
	a.Update(10*time.Millisecond, 0.01)
	if a.smoothedLoss < 0 || a.smoothedLoss > 1 {
		t.Fatalf("smoothedLoss = %f, want within [0,1]", a.smoothedLoss)
	}
}
