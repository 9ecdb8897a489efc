package videocore

import "testing"

func TestHistoryRingAddSingleFrame(t *testing.T) {
	var h historyRing
	h.add(1000, 500)

	if h.count != 1 {
		t.Fatalf("count = %d, want 1", h.count)
	}
	if got := h.averageFrameSize(); got != 500 {
		t.Fatalf("averageFrameSize = %d, want 500", got)
	}
	if got := h.maximumFrameSize(); got != 500 {
		t.Fatalf("maximumFrameSize = %d, want 500", got)
	}
}

func TestHistoryRingAverageOverWindow(t *testing.T) {
	var h historyRing
	for i := uint32(0); i < statisticsWindow; i++ {
		h.add(1000+i*33, 1000)
	}
	if got := h.averageFrameSize(); got != 1000 {
		t.Fatalf("averageFrameSize = %d, want 1000", got)
	}

	// One more frame should evict the oldest from the stats window but keep
	// the average correct.
	h.add(1000+statisticsWindow*33, 2000)
	want := uint64((uint64(statisticsWindow-1)*1000 + 2000) / statisticsWindow)
	if got := h.averageFrameSize(); got != want {
		t.Fatalf("averageFrameSize after eviction = %d, want %d", got, want)
	}
}

func TestHistoryRingMaximumRescansAfterEviction(t *testing.T) {
	var h historyRing
	h.add(0, 9000) // the eventual max, departs the window first
	for i := uint32(1); i < statisticsWindow; i++ {
		h.add(i*33, 100)
	}
	if got := h.maximumFrameSize(); got != 9000 {
		t.Fatalf("maximumFrameSize = %d, want 9000", got)
	}

	// Pushing one more frame evicts mm_time=0 (size 9000) from the stats
	// window; the cached max must be invalidated and rescanned.
	h.add(statisticsWindow*33, 150)
	if got := h.maximumFrameSize(); got != 150 {
		t.Fatalf("maximumFrameSize after eviction = %d, want 150", got)
	}
}

func TestHistoryRingCapacityEviction(t *testing.T) {
	var h historyRing
	for i := uint32(0); i < historyCapacity+10; i++ {
		h.add(i*33, 100)
	}
	if h.count != historyCapacity {
		t.Fatalf("count = %d, want capped at %d", h.count, historyCapacity)
	}
}

func TestHistoryRingEffectiveBitRateZeroOnSingleFrame(t *testing.T) {
	var h historyRing
	h.add(1000, 500)
	// elapsed stays 0 without a next-frame hint or source fps.
	if got := h.effectiveBitRate(0, 0); got != 0 {
		t.Fatalf("effectiveBitRate = %d, want 0", got)
	}
}

func TestHistoryRingEffectiveBitRateWithSourceFPS(t *testing.T) {
	var h historyRing
	h.add(0, 1000)
	h.add(1000, 1000)
	// elapsed = 1000ms (between the two frames) + 1000/30 projected forward.
	got := h.effectiveBitRate(0, 30)
	if got == 0 {
		t.Fatal("effectiveBitRate should be non-zero with two frames and a source fps")
	}
}

func TestHistoryRingPeriodBitRateUnknownBeforeHistory(t *testing.T) {
	var h historyRing
	h.add(1000, 500)
	h.add(2000, 500)
	if _, known := h.periodBitRate(0, 2000); known {
		t.Fatal("periodBitRate should report unknown for a span predating retained history")
	}
}

func TestHistoryRingPeriodBitRateKnownSpan(t *testing.T) {
	var h historyRing
	h.add(0, 100)
	h.add(500, 200)
	h.add(1000, 300)

	rate, known := h.periodBitRate(0, 1000)
	if !known {
		t.Fatal("periodBitRate should resolve a span fully inside retained history")
	}
	// The frame at mm_time 1000 ends the period with no newer frame behind
	// it, so only the frames at 0 and 500 count, over the 0..1000 span.
	want := uint64(100+200) * 8 * 1000 / 1000
	if rate != want {
		t.Fatalf("rate = %d, want %d", rate, want)
	}
}

func TestHistoryRingPeriodBitRateSpansToFrameAfterPeriod(t *testing.T) {
	var h historyRing
	for i, size := range []uint32{10, 20, 30, 40, 50, 60} {
		h.add(uint32(i+1)*100, size)
	}

	// Frames newer than the period end fix the elapsed span: the period's
	// traffic (50+40+30 plus the boundary frame's 20) is amortized over
	// 600-200, not over any interior frame gap.
	rate, known := h.periodBitRate(200, 500)
	if !known {
		t.Fatal("span inside retained history should resolve")
	}
	want := uint64(50+1+40+30+20-1) * 8 * 1000 / (600 - 200)
	if rate != want {
		t.Fatalf("rate = %d, want %d", rate, want)
	}
}

func TestHistoryRingPeriodBitRateZeroLengthPeriod(t *testing.T) {
	var h historyRing
	h.add(100, 500)

	rate, known := h.periodBitRate(100, 100)
	if !known {
		t.Fatal("a zero-length period is well-defined, not unknown")
	}
	if rate != 0 {
		t.Fatalf("rate = %d, want 0 for a zero-length period", rate)
	}
}

func TestHistoryRingPeriodBitRateSkipsUncountableEndFrame(t *testing.T) {
	var h historyRing
	h.add(100, 1000)
	h.add(600, 4000)

	// The frame at mm_time 600 lands exactly on the period end with no newer
	// frame behind it, so only the frame at 100 is amortized over the span.
	rate, known := h.periodBitRate(100, 600)
	if !known {
		t.Fatal("span inside retained history should resolve")
	}
	want := uint64(1000) * 8 * 1000 / 500
	if rate != want {
		t.Fatalf("rate = %d, want %d (end frame excluded)", rate, want)
	}
}

func TestHistoryRingEmptyReturnsUnknown(t *testing.T) {
	var h historyRing
	if _, known := h.periodBitRate(0, 100); known {
		t.Fatal("periodBitRate on an empty ring should be unknown")
	}
	if got := h.maximumFrameSize(); got != 0 {
		t.Fatalf("maximumFrameSize on empty ring = %d, want 0", got)
	}
}
