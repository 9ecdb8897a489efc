package videocore

import (
	"errors"
	"testing"
)

// fakeBackend is a pipelineBackend test double that records calls instead of
// talking to a real GStreamer pipeline.
type fakeBackend struct {
	configureCalls   int
	reconfigureCalls int
	teardownCalls    int
	keyframeCalls    int
	lastBitRate      uint64
	lastWidth        int
	lastHeight       int
	pushErr          error
	reconfigureErr   error
	nextPushSize     uint32
}

func (f *fakeBackend) configure(codec Codec, format wireFormat, width, height int, bitRate uint64, sourceFPS uint32) error {
	f.configureCalls++
	f.lastWidth, f.lastHeight = width, height
	f.lastBitRate = bitRate
	return nil
}

func (f *fakeBackend) reconfigure(width, height int) error {
	f.reconfigureCalls++
	f.lastWidth, f.lastHeight = width, height
	return f.reconfigureErr
}

func (f *fakeBackend) pushRaw(raw []byte) (EncodedBuffer, error) {
	if f.pushErr != nil {
		return EncodedBuffer{}, f.pushErr
	}
	size := f.nextPushSize
	if size == 0 {
		size = uint32(len(raw))
	}
	return EncodedBuffer{Data: raw, Size: size}, nil
}

func (f *fakeBackend) setBitRate(bitRate uint64) {
	f.lastBitRate = bitRate
}

func (f *fakeBackend) forceKeyframe() {
	f.keyframeCalls++
}

func (f *fakeBackend) teardown() {
	f.teardownCalls++
}

func activeFeedback() FeedbackCallbacks {
	return FeedbackCallbacks{
		GetRoundtripMS: func() uint32 { return 20 },
		GetSourceFPS:   func() uint32 { return 30 },
	}
}

func testFrame(width, height int) (Bitmap, Rect) {
	b := makeSolidBitmap(width, height)
	return b, Rect{Left: 0, Top: 0, Right: width, Bottom: height}
}

func TestNewPipelineRejectsUnknownCodec(t *testing.T) {
	if _, err := NewPipeline(Codec(99), &fakeBackend{}, 0, activeFeedback()); err != ErrInvalidCodec {
		t.Fatalf("err = %v, want ErrInvalidCodec", err)
	}
}

func TestEncodeFrameFirstCallConfiguresPipeline(t *testing.T) {
	fb := &fakeBackend{}
	p, err := NewPipeline(CodecVP8, fb, 0, activeFeedback())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	bitmap, crop := testFrame(4, 4)
	buf, result, err := p.EncodeFrame(bitmap, crop, true, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if result != EncodeDone {
		t.Fatalf("result = %v, want EncodeDone", result)
	}
	if fb.configureCalls != 1 {
		t.Fatalf("configureCalls = %d, want 1", fb.configureCalls)
	}
	if buf.Size == 0 {
		t.Fatal("expected a non-zero encoded size")
	}
}

func TestEncodeFrameRejectsInvalidFormat(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecMJPEG, fb, 0, activeFeedback())

	bitmap, crop := testFrame(4, 4)
	bitmap.Format = PixelFormatInvalid

	_, result, err := p.EncodeFrame(bitmap, crop, true, 0)
	if err != ErrInvalidBitmap {
		t.Fatalf("err = %v, want ErrInvalidBitmap", err)
	}
	if result != EncodeUnsupported {
		t.Fatalf("result = %v, want EncodeUnsupported", result)
	}
}

func TestEncodeFrameGeometryChangeReconfiguresNonVP8(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecH264, fb, 0, activeFeedback())

	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("first EncodeFrame: %v", err)
	}

	bitmap2, crop2 := testFrame(8, 8)
	if _, _, err := p.EncodeFrame(bitmap2, crop2, true, 100); err != nil {
		t.Fatalf("second EncodeFrame: %v", err)
	}

	if fb.reconfigureCalls != 1 {
		t.Fatalf("reconfigureCalls = %d, want 1 for an in-place capable codec", fb.reconfigureCalls)
	}
	if fb.teardownCalls != 0 {
		t.Fatalf("teardownCalls = %d, want 0 when reconfigure succeeds", fb.teardownCalls)
	}
	// The resolution change must re-clamp the bit rate against the new
	// geometry's cap, not leave the first frame's value in place.
	if want := bitRateCap(8, 8, 32, 30); p.rate.bitRate != want {
		t.Fatalf("bitRate = %d, want re-clamped to the new geometry cap %d", p.rate.bitRate, want)
	}
}

func TestEncodeFrameGeometryChangeAlwaysTearsDownVP8(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecVP8, fb, 0, activeFeedback())

	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("first EncodeFrame: %v", err)
	}

	bitmap2, crop2 := testFrame(8, 8)
	if _, _, err := p.EncodeFrame(bitmap2, crop2, true, 100); err != nil {
		t.Fatalf("second EncodeFrame: %v", err)
	}

	if fb.teardownCalls != 1 {
		t.Fatalf("teardownCalls = %d, want 1 — VP8 must always fully tear down on geometry change", fb.teardownCalls)
	}
	// Tearing down forces state back to pipelineTornDown, so the next
	// EncodeFrame must configure again.
	if fb.configureCalls != 2 {
		t.Fatalf("configureCalls = %d, want 2 (initial + post-teardown rebuild)", fb.configureCalls)
	}
}

func TestEncodeFrameDropsWhenRateControlActive(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecMJPEG, fb, 0, activeFeedback())

	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("first EncodeFrame: %v", err)
	}

	p.rate.nextFrame = 1_000_000 // force a future threshold

	_, result, err := p.EncodeFrame(bitmap, crop, true, 1)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if result != EncodeDrop {
		t.Fatalf("result = %v, want EncodeDrop", result)
	}
	if fb.pushErr == nil && fb.configureCalls != 1 {
		t.Fatalf("configureCalls = %d, want unchanged at 1 for a dropped frame", fb.configureCalls)
	}
}

func TestEncodeFramePropagatesBackendPushError(t *testing.T) {
	wantErr := errors.New("boom")
	fb := &fakeBackend{pushErr: wantErr}
	p, _ := NewPipeline(CodecMJPEG, fb, 0, activeFeedback())

	bitmap, crop := testFrame(4, 4)
	_, result, err := p.EncodeFrame(bitmap, crop, true, 0)
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if result != EncodeUnsupported {
		t.Fatalf("result = %v, want EncodeUnsupported", result)
	}
}

func TestSetBitRateClampsToMinimum(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecMJPEG, fb, 0, activeFeedback())
	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	p.SetBitRate(1)
	if p.rate.bitRate != minBitRate {
		t.Fatalf("bitRate = %d, want clamped to minBitRate %d", p.rate.bitRate, minBitRate)
	}
	if fb.lastBitRate != minBitRate {
		t.Fatalf("backend.setBitRate got %d, want %d", fb.lastBitRate, minBitRate)
	}
}

func TestForceKeyframeOnlyReachesLivePipeline(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecH264, fb, 0, activeFeedback())

	p.ForceKeyframe()
	if fb.keyframeCalls != 0 {
		t.Fatal("ForceKeyframe before the pipeline exists must be a no-op")
	}

	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	p.ForceKeyframe()
	if fb.keyframeCalls != 1 {
		t.Fatalf("keyframeCalls = %d, want 1 on a live pipeline", fb.keyframeCalls)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	fb := &fakeBackend{}
	p, _ := NewPipeline(CodecMJPEG, fb, 0, activeFeedback())
	bitmap, crop := testFrame(4, 4)
	if _, _, err := p.EncodeFrame(bitmap, crop, true, 0); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	p.Teardown()
	p.Teardown()
	if fb.teardownCalls != 1 {
		t.Fatalf("teardownCalls = %d, want exactly 1 across repeated Teardown calls", fb.teardownCalls)
	}
}
