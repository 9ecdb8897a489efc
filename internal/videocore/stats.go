package videocore

// historyCapacity (H) is the ring's total slot count. statisticsWindow (S) is
// how many of the most recent frames feed the rolling bit-rate/size stats —
// large enough that I/P frames average out, short enough to track current
// conditions. Grounded on GSTE_HISTORY_SIZE / GSTE_FRAME_STATISTICS_COUNT.
const (
	historyCapacity  = 60
	statisticsWindow = 21
)

// frameRecord is one encoded frame's accounting entry.
type frameRecord struct {
	mmTime uint32
	size   uint32
}

// historyRing is a fixed-capacity circular buffer of frameRecord plus a
// rolling-window sum/max maintained incrementally so effectiveBitRate and
// averageFrameSize are O(1) and only maximumFrameSize ever rescans, and only
// when its cached max has left the window.
type historyRing struct {
	buf   [historyCapacity]frameRecord
	first uint32 // index of the oldest record (only valid once count > 0)
	last  uint32 // index of the newest record
	count uint32 // number of valid records, saturating at historyCapacity

	statFirst uint32 // index of the oldest record still inside the stats window
	statSum   uint64
	statMax   uint32 // 0 means "invalid, recompute on next query"
}

// add appends a new frame, evicting the oldest record once the ring is full
// and sliding the statistics window in lockstep. mm_time is assumed
// monotonic but not enforced — callers that violate it get undefined but not
// unsafe results (statistics only, never a panic).
func (h *historyRing) add(mmTime, size uint32) {
	if h.count == 0 {
		h.buf[0] = frameRecord{mmTime: mmTime, size: size}
		h.first, h.last, h.count = 0, 0, 1
		h.statFirst = 0
		h.statSum = uint64(size)
		h.statMax = size
		return
	}

	if h.statsWindowCount() == statisticsWindow {
		departing := h.buf[h.statFirst]
		h.statSum -= uint64(departing.size)
		if h.statMax == departing.size {
			h.statMax = 0 // invalidate; maximumFrameSize rescans lazily
		}
		h.statFirst = (h.statFirst + 1) % historyCapacity
	}

	h.last = (h.last + 1) % historyCapacity
	if h.count == historyCapacity {
		h.first = (h.first + 1) % historyCapacity
	} else {
		h.count++
	}
	h.buf[h.last] = frameRecord{mmTime: mmTime, size: size}

	h.statSum += uint64(size)
	if h.statMax > 0 && size > h.statMax {
		h.statMax = size
	}
}

// statsWindowCount returns how many records are currently between statFirst
// and last, inclusive — mirrors SPICE's history_last - stat_first + 1
// (mod arithmetic) computation.
func (h *historyRing) statsWindowCount() uint32 {
	if h.count == 0 {
		return 0
	}
	if h.last >= h.statFirst {
		return h.last - h.statFirst + 1
	}
	return h.last + historyCapacity - h.statFirst + 1
}

func (h *historyRing) lastRecord() frameRecord {
	return h.buf[h.last]
}

func (h *historyRing) firstStatRecord() frameRecord {
	return h.buf[h.statFirst]
}

// averageFrameSize is stat_sum divided by the number of frames currently in
// the statistics window. Callers must not call this on an empty ring.
func (h *historyRing) averageFrameSize() uint64 {
	count := h.statsWindowCount()
	if count == 0 {
		return 0
	}
	return h.statSum / uint64(count)
}

// maximumFrameSize lazily rescans the stats window when the cached maximum
// was invalidated by eviction of the record that held it.
func (h *historyRing) maximumFrameSize() uint32 {
	if h.statMax == 0 && h.count > 0 {
		idx := h.last
		for {
			if h.buf[idx].size > h.statMax {
				h.statMax = h.buf[idx].size
			}
			if idx == h.statFirst {
				break
			}
			if idx == 0 {
				idx = historyCapacity - 1
			} else {
				idx--
			}
		}
	}
	return h.statMax
}

// effectiveBitRate computes bits/sec over the statistics window, projecting
// forward by the gap to the next scheduled frame (if a drop is pending) or
// one source-frame period otherwise. Returns 0 when the elapsed span is 0
// (e.g. a single frame recorded so far).
func (h *historyRing) effectiveBitRate(nextFrameMMTime uint32, sourceFPS uint32) uint64 {
	if h.count == 0 {
		return 0
	}
	elapsed := h.lastRecord().mmTime - h.firstStatRecord().mmTime
	if nextFrameMMTime != 0 {
		elapsed += nextFrameMMTime - h.lastRecord().mmTime
	} else if sourceFPS > 0 {
		elapsed += 1000 / sourceFPS
	}
	if elapsed == 0 {
		return 0
	}
	return h.statSum * 8 * 1000 / uint64(elapsed)
}

// periodBitRate sums the sizes of history frames whose mm_time falls in
// [from, to] and returns the implied bits/sec for that span, walking the
// ring backward from the newest record the way get_period_bit_rate does. It
// returns (0, false) when `from` predates the retained history — callers
// must treat that as "unknown", not "no traffic".
//
// A frame landing exactly on `to` is counted only when a newer frame has
// already been seen; otherwise the gap between the period's end and the
// next frame is unknown and the frame can't be amortized over it. The
// lastMMTime == 0 sentinel for "no newer frame yet" matches SPICE's — a
// real source produces mm_time 0 only for the very first frame of a stream.
func (h *historyRing) periodBitRate(from, to uint32) (rate uint64, known bool) {
	if h.count == 0 || from > to {
		return 0, false
	}
	if from == to {
		// A zero-length period carries no traffic by definition.
		return 0, true
	}

	var sum uint64
	var lastMMTime uint32
	idx := h.last

	for {
		rec := h.buf[idx]
		if rec.mmTime == to {
			if lastMMTime == 0 {
				sum = 1
				lastMMTime = to
			} else {
				sum = uint64(rec.size) + 1
			}
		} else if rec.mmTime < to {
			sum += uint64(rec.size)
			if rec.mmTime <= from {
				if lastMMTime <= rec.mmTime {
					return 0, false
				}
				return (sum - 1) * 8 * 1000 / uint64(lastMMTime-rec.mmTime), true
			}
		}

		if idx == h.first {
			// The period starts before the oldest retained frame.
			return 0, false
		}
		if sum == 0 {
			// Still scanning frames newer than the period end. Once `to` is
			// matched lastMMTime must stay fixed so the final division spans
			// from the first frame past the period, not an interior one.
			lastMMTime = rec.mmTime
		}
		if idx == 0 {
			idx = historyCapacity - 1
		} else {
			idx--
		}
	}
}
