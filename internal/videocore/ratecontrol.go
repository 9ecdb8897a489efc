package videocore

import "time"

// Rate control constants, grounded on GSTE_MIN_BITRATE / GSTE_DEFAULT_BITRATE
// / GSTE_VBUFFER_SIZE / GSTE_MAX_PERIOD / GSTE_LATENCY_MARGIN.
const (
	minBitRate            uint64  = 128 * 1024        // 128 kb/s
	defaultBitRate        uint64  = 8 * 1024 * 1024   // 8 Mb/s
	defaultVBufferDelayMS int64   = 300               // ms of burst budget
	maxPeriodNS           int64   = 1_000_000_000 / 3 // 3fps floor
	latencyMargin         float64 = 0.1

	defaultSourceFPS uint32 = 30
)

// FeedbackCallbacks is the external glue the rate controller consumes. All
// fields are optional; GetRoundtripMS's presence (non-nil) is what flags
// rate control as active — without a client RTT source there is nothing to
// adapt to, so the controller never schedules drops.
type FeedbackCallbacks struct {
	// GetRoundtripMS returns the current measured round-trip time in
	// milliseconds. Its mere presence activates rate control.
	GetRoundtripMS func() uint32

	// GetSourceFPS returns the capture source's current frame rate. Absent
	// means defaultSourceFPS.
	GetSourceFPS func() uint32

	// UpdateClientPlaybackDelay is invoked whenever the minimum playback
	// delay hint changes materially, so the client can size its jitter
	// buffer. Must not block.
	UpdateClientPlaybackDelay func(minDelayMS uint32)
}

func (f FeedbackCallbacks) active() bool {
	return f.GetRoundtripMS != nil
}

func (f FeedbackCallbacks) sourceFPS() uint32 {
	if f.GetSourceFPS != nil {
		if fps := f.GetSourceFPS(); fps > 0 {
			return fps
		}
	}
	return defaultSourceFPS
}

// networkLatencyMS returns half the round trip, assuming a symmetric path.
func (f FeedbackCallbacks) networkLatencyMS() uint32 {
	if f.GetRoundtripMS == nil {
		return 0
	}
	return f.GetRoundtripMS() / 2
}

// rateController implements a virtual-buffer bit-rate governor: a leaky
// bucket that absorbs bursts (I-frames) up to vbufferDelayMS worth of data
// at the current bit rate before forcing evenly-spaced drops.
type rateController struct {
	history historyRing

	bitRate        uint64
	vbufferDelayMS int64 // how many milliseconds of data the buffer holds
	vbufferSize    int32 // bytes: vbufferDelayMS worth of data at bitRate
	vbufferFree    int32 // bytes, signed: may go negative when over budget
	nextFrame      uint32

	lastPlaybackDelay uint32
}

func newRateController() *rateController {
	return &rateController{vbufferDelayMS: defaultVBufferDelayMS}
}

// setBitRate installs a new target bit rate and resizes the virtual buffer
// to match: the buffer always represents vbufferDelayMS worth of data at the
// current rate, so a lower rate also means a smaller burst allowance.
func (r *rateController) setBitRate(bitRate uint64) {
	r.bitRate = bitRate
	r.vbufferSize = int32(int64(bitRate) * r.vbufferDelayMS / (8 * 1000))
	if r.vbufferFree > r.vbufferSize {
		r.vbufferFree = r.vbufferSize
	}
}

// bitRateCap returns the maximum bit rate allowed for the current frame
// geometry, assuming at best a 10x compression ratio — generous enough even
// for MJPEG.
func bitRateCap(width, height int, bpp int, sourceFPS uint32) uint64 {
	rawFrameBits := uint64(width) * uint64(height) * uint64(bpp)
	return rawFrameBits * uint64(sourceFPS) / 10
}

// clampBitRate seeds or re-clamps bit_rate against [minBitRate, cap]. Called
// on first configuration and whenever frame geometry changes.
func (r *rateController) clampBitRate(width, height, bpp int, fb FeedbackCallbacks) {
	cap := bitRateCap(width, height, bpp, fb.sourceFPS())
	bitRate := r.bitRate
	switch {
	case bitRate == 0:
		bitRate = defaultBitRate
	case bitRate < minBitRate:
		bitRate = minBitRate
	default:
		if bitRate > cap {
			bitRate = cap
		}
	}
	r.setBitRate(bitRate)
}

// shouldDrop reports whether rate control is active and the caller-supplied
// frame still falls before the next allowed encode time.
func (r *rateController) shouldDrop(frameMMTime uint32, fb FeedbackCallbacks) bool {
	return fb.active() && frameMMTime < r.nextFrame
}

// minPlaybackDelayMS is the hint pushed to the client: enough time to drain
// a worst-case I-frame plus an average frame at the current bit rate, plus a
// latency-jittered round trip.
func (r *rateController) minPlaybackDelayMS(fb FeedbackCallbacks) uint32 {
	size := uint64(r.history.maximumFrameSize()) + r.history.averageFrameSize()
	var sendTime uint64
	if r.bitRate > 0 {
		sendTime = 1000 * size * 8 / r.bitRate
	}
	netLatency := uint64(float64(fb.networkLatencyMS()) * (1.0 + latencyMargin))
	return uint32(sendTime + netLatency)
}

// updateClientPlaybackDelay recomputes the delay hint and forwards it to the
// callback only when it changes, since the callback itself is expected to be
// cheap and idempotent at the transport layer.
func (r *rateController) updateClientPlaybackDelay(fb FeedbackCallbacks) {
	if fb.UpdateClientPlaybackDelay == nil {
		return
	}
	delay := r.minPlaybackDelayMS(fb)
	if delay != r.lastPlaybackDelay {
		r.lastPlaybackDelay = delay
		fb.UpdateClientPlaybackDelay(delay)
	}
}

// updateNextFrame recomputes nextFrame from the current virtual-buffer
// deficit. A non-negative vbufferFree means no throttling is needed.
func (r *rateController) updateNextFrame(fb FeedbackCallbacks) {
	if r.vbufferFree >= 0 {
		r.nextFrame = 0
		return
	}

	periodNS := int64(time.Second) / int64(fb.sourceFPS())
	delayNS := int64(-r.vbufferFree) * 8 * int64(time.Second) / int64(r.bitRate)
	drops := (delayNS + periodNS - 1) / periodNS // round up

	delayNS = drops*periodNS + periodNS/2
	if delayNS > maxPeriodNS {
		delayNS = maxPeriodNS
	}
	r.nextFrame = r.history.lastRecord().mmTime + uint32(delayNS/int64(time.Millisecond))

	// Drops mean a higher inter-frame delay, so the playback delay hint
	// needs to be refreshed too.
	r.updateClientPlaybackDelay(fb)
}

// onEncoded records a successfully encoded frame's size into the history
// ring, charges it against the virtual buffer, and recomputes the next
// allowed frame time. The buffer refills with the bytes the network could
// have sent since the previous encoded frame (one frame period when this is
// the first frame), capped at vbufferSize, and drains by the frame's size.
func (r *rateController) onEncoded(size uint32, mmTime uint32, fb FeedbackCallbacks) {
	elapsedMS := int64(1000) / int64(fb.sourceFPS())
	if r.history.count > 0 {
		elapsedMS = int64(mmTime - r.history.lastRecord().mmTime)
	}
	refill := int64(r.bitRate) * elapsedMS / (8 * 1000)
	free := int64(r.vbufferFree) + refill
	if free > int64(r.vbufferSize) {
		free = int64(r.vbufferSize)
	}
	r.vbufferFree = int32(free - int64(size))

	r.history.add(mmTime, size)
	r.updateNextFrame(fb)
}

// ClientStreamReport mirrors SPICE's client_stream_report callback: the
// client's own view of how many of the frames it received in
// [startMMTime, endMMTime] were later dropped by *its* renderer (as opposed
// to never having been sent at all). Not modeled by the virtual-buffer math
// directly, but folded into playback-delay accounting since client-side
// drops are evidence the current delay hint is too aggressive.
type ClientStreamReport struct {
	NumFrames   uint32
	NumDrops    uint32
	StartMMTime uint32
	EndMMTime   uint32
}

// reportClientStream nudges the playback delay hint upward when the client
// reports a meaningful fraction of its received frames were dropped.
func (r *rateController) reportClientStream(report ClientStreamReport, fb FeedbackCallbacks) {
	if report.NumFrames == 0 {
		return
	}
	dropRatio := float64(report.NumDrops) / float64(report.NumFrames)
	if dropRatio > 0.05 {
		r.updateClientPlaybackDelay(fb)
	}
}
