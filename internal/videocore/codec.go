package videocore

import (
	"fmt"
	"sync"
)

// pipelineState mirrors the lifecycle of the underlying codec pipeline, kept
// separate from the one-off "do we have an encoder at all" question so
// reconfiguration (format/size change) can distinguish a live, playing
// pipeline from one that was never built.
type pipelineState int

const (
	pipelineUnconfigured pipelineState = iota
	pipelinePlaying
	pipelinePaused
	pipelineTornDown
)

// wireFormat is one entry of the source-pixel-format to codec-input-format
// mapping, grounded on gstreamer_encoder.c's format_map (GStreamer's
// part-mediatype-video-raw.txt naming: BGRA/BGRx/BGR/BGR15).
type wireFormat struct {
	name string
	bpp  int
}

var formatMap = map[PixelFormat]wireFormat{
	PixelFormatRGBA:   {name: "BGRA", bpp: 32},
	PixelFormatXRGB32: {name: "BGRx", bpp: 32},
	PixelFormatRGB24:  {name: "BGR", bpp: 24},
	PixelFormatRGB15:  {name: "BGR15", bpp: 16},
}

// codecParams holds the per-codec initial encoder settings, grounded on
// construct_pipeline's per-codec g_object_set blocks.
type codecParams struct {
	elementName string // underlying gstreamer encoder element

	// disablesPipelineClock marks codecs whose element lacks a working
	// timing element, so the pipeline must run unclocked (MJPEG only).
	disablesPipelineClock bool
}

var codecParamTable = map[Codec]codecParams{
	CodecMJPEG: {elementName: "avenc_mjpeg", disablesPipelineClock: true},
	CodecVP8:   {elementName: "vp8enc"},
	CodecH264:  {elementName: "x264enc"},
}

// pipelineBackend is the minimal surface codec.go needs from a concrete
// codec pipeline implementation. codec_gst.go (cgo, go-gst backed) and
// codec_gst_nocgo.go (stub) both satisfy it.
type pipelineBackend interface {
	// configure (re)builds the underlying pipeline for the given codec,
	// pixel format, and geometry. Called whenever format/width/height
	// changes, or lazily on first frame.
	configure(codec Codec, format wireFormat, width, height int, bitRate uint64, sourceFPS uint32) error

	// reconfigure updates geometry/caps on an already-playing pipeline
	// without a full rebuild, when the codec supports it (VP8 does not —
	// see SPICE's reconfigure_pipeline).
	reconfigure(width, height int) error

	// pushRaw feeds one flattened frame buffer into the pipeline and blocks
	// until a compressed buffer is available (or the pipeline reports
	// failure).
	pushRaw(raw []byte) (EncodedBuffer, error)

	setBitRate(bitRate uint64)

	// forceKeyframe asks the encoder to emit an intra frame at the next
	// opportunity, e.g. after the client reports picture loss.
	forceKeyframe()

	teardown()
}

// Pipeline is the codec pipeline component (D): a stateful encoder that
// turns raw bitmaps into compressed frames, reconfiguring itself in place
// when geometry or pixel format changes and tearing fully down only when
// the backend requires it (VP8 does, on any caps change).
type Pipeline struct {
	mu sync.Mutex

	codec   Codec
	backend pipelineBackend
	state   pipelineState

	format     wireFormat
	haveFormat bool
	width      int
	height     int
	sourceFPS  uint32

	startingBitRate uint64

	rate rateController
	fb   FeedbackCallbacks
}

// DefaultBackend returns the platform's codec pipeline backend: the go-gst
// backed implementation when built with cgo, or a stub that always reports
// ErrNoEncoder otherwise. pipelineBackend's methods are unexported, so only
// this package's own tests supply a fake backend, passing it to NewPipeline.
func DefaultBackend() pipelineBackend {
	return newGstBackend()
}

// NewPipeline constructs a codec pipeline for the given target codec. The
// backend is supplied by the caller (newGstBackend in the cgo build, or the
// no-op stub otherwise) so codec.go itself never imports cgo.
// startingBitRate seeds the rate controller on the first frame; zero means
// the built-in default.
func NewPipeline(codec Codec, backend pipelineBackend, startingBitRate uint64, fb FeedbackCallbacks) (*Pipeline, error) {
	if _, ok := codecParamTable[codec]; !ok {
		return nil, ErrInvalidCodec
	}
	return &Pipeline{
		codec:           codec,
		backend:         backend,
		startingBitRate: startingBitRate,
		rate:            *newRateController(),
		fb:              fb,
	}, nil
}

// EncodeFrame runs the seven-step encode algorithm: detect format/geometry
// change, clamp/seed bit rate, consult the rate controller, lazily build or
// reconfigure the pipeline, materialize the crop into a flat buffer, push it
// through the codec, and record the resulting size back into the rate
// controller's history. Grounded step-for-step on gst_encoder_encode_frame.
func (p *Pipeline) EncodeFrame(bitmap Bitmap, crop Rect, topDown bool, frameMMTime uint32) (EncodedBuffer, EncodeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !bitmap.Format.valid() {
		return EncodedBuffer{}, EncodeUnsupported, ErrInvalidBitmap
	}
	wf, ok := formatMap[bitmap.Format]
	if !ok {
		return EncodedBuffer{}, EncodeUnsupported, ErrUnsupported
	}

	width, height := crop.width(), crop.height()
	formatChanged := !p.haveFormat || width != p.width || height != p.height || wf != p.format

	if formatChanged {
		p.format = wf
		p.haveFormat = true
		p.width = width
		p.height = height
		p.sourceFPS = p.fb.sourceFPS()

		if p.rate.bitRate == 0 {
			p.rate.bitRate = p.startingBitRate
			p.rate.clampBitRate(width, height, wf.bpp, p.fb)
			p.rate.vbufferFree = 0 // slow start
		} else {
			// The geometry-derived cap moved, so the current rate must be
			// re-clamped against it before the pipeline picks it up.
			p.rate.clampBitRate(width, height, wf.bpp, p.fb)
			if p.state == pipelinePlaying || p.state == pipelinePaused {
				if err := p.reconfigureLocked(); err != nil {
					p.state = pipelineUnconfigured
				}
			}
		}
	}

	if p.rate.shouldDrop(frameMMTime, p.fb) {
		return EncodedBuffer{}, EncodeDrop, nil
	}

	if p.state == pipelineUnconfigured || p.state == pipelineTornDown {
		if err := p.backend.configure(p.codec, p.format, p.width, p.height, p.rate.bitRate, p.sourceFPS); err != nil {
			return EncodedBuffer{}, EncodeUnsupported, err
		}
		p.state = pipelinePlaying
	}

	raw, err := materializeRaw(bitmap, crop, topDown, wf.bpp)
	if err != nil {
		return EncodedBuffer{}, EncodeUnsupported, err
	}

	buf, err := p.backend.pushRaw(raw)
	if err != nil {
		return EncodedBuffer{}, EncodeUnsupported, err
	}

	p.rate.onEncoded(buf.Size, frameMMTime, p.fb)
	return buf, EncodeDone, nil
}

// reconfigureLocked mirrors reconfigure_pipeline: VP8 cannot tolerate an
// in-place caps change, so it always gets a full teardown/rebuild instead.
func (p *Pipeline) reconfigureLocked() error {
	if p.codec == CodecVP8 {
		p.backend.teardown()
		p.state = pipelineTornDown
		return nil
	}
	if err := p.backend.reconfigure(p.width, p.height); err != nil {
		p.backend.teardown()
		p.state = pipelineTornDown
		return err
	}
	return nil
}

// SetBitRate updates the target bit rate on the live pipeline (used by the
// external congestion-control glue when WebRTC-reported loss/RTT change the
// desired ceiling independent of the virtual-buffer schedule).
func (p *Pipeline) SetBitRate(bitRate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bitRate < minBitRate {
		bitRate = minBitRate
	}
	p.rate.setBitRate(bitRate)
	if p.state == pipelinePlaying || p.state == pipelinePaused {
		p.backend.setBitRate(bitRate)
	}
}

// SetVBufferDelayMS resizes the virtual buffer's burst window. Values below
// one frame period make the controller drop on every minor overshoot, so
// non-positive values are ignored.
func (p *Pipeline) SetVBufferDelayMS(ms int) {
	if ms <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate.vbufferDelayMS = int64(ms)
	if p.rate.bitRate > 0 {
		p.rate.setBitRate(p.rate.bitRate)
	}
}

// ForceKeyframe requests an intra frame from the encoder, used when the
// transport learns the client lost reference state (RTCP PLI/FIR). A no-op
// before the pipeline is built: the first frame is a keyframe anyway.
func (p *Pipeline) ForceKeyframe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == pipelinePlaying || p.state == pipelinePaused {
		p.backend.forceKeyframe()
	}
}

// BitRate returns the effective (measured) bit rate over the current
// statistics window.
func (p *Pipeline) BitRate() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate.history.effectiveBitRate(p.rate.nextFrame, p.sourceFPS)
}

// ReportClientStream forwards a client-side drop report into the rate
// controller's playback-delay accounting.
func (p *Pipeline) ReportClientStream(report ClientStreamReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate.reportClientStream(report, p.fb)
}

// Teardown releases the underlying pipeline resources. Safe to call more
// than once.
func (p *Pipeline) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == pipelineTornDown || p.state == pipelineUnconfigured {
		return
	}
	p.backend.teardown()
	p.state = pipelineTornDown
}

func (s pipelineState) String() string {
	switch s {
	case pipelineUnconfigured:
		return "unconfigured"
	case pipelinePlaying:
		return "playing"
	case pipelinePaused:
		return "paused"
	case pipelineTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("pipelineState(%d)", int(s))
	}
}
