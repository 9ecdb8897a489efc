//go:build cgo

package videocore

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

var gstInitOnce sync.Once

func initGst() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// gstBackend drives an appsrc ! videoconvert ! <encoder> ! appsink pipeline,
// following the construct_pipeline/set_appsrc_caps/reconfigure_pipeline split
// from SPICE's gstreamer encoder, restructured around go-gst's
// callback-based appsink API.
type gstBackend struct {
	pipeline *gst.Pipeline
	src      *app.Source
	enc      *gst.Element
	sink     *app.Sink

	codec  Codec
	width  int
	height int

	pulled chan pulledSample
}

type pulledSample struct {
	buf EncodedBuffer
	err error
}

// newGstBackend returns a fresh, unconfigured backend. One backend is built
// per Pipeline and torn down with it.
func newGstBackend() pipelineBackend {
	return &gstBackend{pulled: make(chan pulledSample, 1)}
}

func (b *gstBackend) configure(codec Codec, format wireFormat, width, height int, bitRate uint64, sourceFPS uint32) error {
	initGst()
	b.teardown()

	params, ok := codecParamTable[codec]
	if !ok {
		return ErrInvalidCodec
	}

	desc := fmt.Sprintf(
		"appsrc name=src format=2 do-timestamp=true ! videoconvert ! %s name=encoder ! appsink name=sink emit-signals=true",
		params.elementName,
	)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("videocore: parse pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("videocore: find appsrc: %w", err)
	}
	encElem, err := pipeline.GetElementByName("encoder")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("videocore: find encoder element: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("videocore: find appsink: %w", err)
	}

	b.pipeline = pipeline
	b.src = app.SrcFromElement(srcElem)
	b.enc = encElem
	b.sink = app.SinkFromElement(sinkElem)
	b.codec = codec
	b.width = width
	b.height = height

	applyCodecParams(b.enc, codec, bitRate, sourceFPS)
	b.setCaps(format, width, height, sourceFPS)

	if params.disablesPipelineClock {
		// avc_mjpeg's pipeline otherwise drifts under the system clock; see
		// https://bugzilla.gnome.org/show_bug.cgi?id=753257.
		b.pipeline.SetClock(nil)
	}

	b.sink.SetProperty("max-buffers", uint(2))
	b.sink.SetProperty("drop", false)
	b.sink.SetProperty("sync", false)
	b.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: b.onNewSample,
	})

	if err := b.pipeline.SetState(gst.StatePlaying); err != nil {
		b.teardown()
		return fmt.Errorf("videocore: set playing: %w", err)
	}
	return nil
}

func applyCodecParams(enc *gst.Element, codec Codec, bitRate uint64, sourceFPS uint32) {
	switch codec {
	case CodecMJPEG:
		enc.SetProperty("bitrate", int(bitRate))
		enc.SetProperty("max-threads", 1)
	case CodecVP8:
		cores := runtime.NumCPU()
		if cores < 2 {
			cores = 2
		}
		enc.SetProperty("resize-allowed", true)
		enc.SetProperty("target-bitrate", int(bitRate))
		enc.SetProperty("end-usage", 1) // CBR
		enc.SetProperty("lag-in-frames", 0)
		enc.SetProperty("error-resilient", 1)
		if sourceFPS > 0 {
			enc.SetProperty("deadline", int(1_000_000/int(sourceFPS)/2))
		}
		enc.SetProperty("threads", cores-1)
	case CodecH264:
		enc.SetProperty("bitrate", int(bitRate/1024))
		enc.SetProperty("byte-stream", true)
		enc.SetProperty("aud", false)
		enc.SetProperty("tune", 4)
		enc.SetProperty("sliced-threads", true)
		enc.SetProperty("speed-preset", 1)
		enc.SetProperty("intra-refresh", true)
	}
}

func (b *gstBackend) setCaps(format wireFormat, width, height int, sourceFPS uint32) {
	capsStr := fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		format.name, width, height, sourceFPS,
	)
	caps := gst.NewCapsFromString(capsStr)
	b.src.SetProperty("caps", caps)
}

func (b *gstBackend) reconfigure(width, height int) error {
	if b.pipeline == nil {
		return ErrNoEncoder
	}
	if err := b.pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("videocore: pause for reconfigure: %w", err)
	}
	b.width, b.height = width, height
	if err := b.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("videocore: resume after reconfigure: %w", err)
	}
	return nil
}

func (b *gstBackend) pushRaw(raw []byte) (EncodedBuffer, error) {
	if b.pipeline == nil {
		return EncodedBuffer{}, ErrNoEncoder
	}

	buf := gst.NewBufferWithSize(int64(len(raw)))
	buf.Map(gst.MapWrite).Write(raw)
	buf.Unmap()

	if ret := b.src.PushBuffer(buf); ret != gst.FlowOK {
		return EncodedBuffer{}, ErrUnsupported
	}

	sample := <-b.pulled
	return sample.buf, sample.err
}

func (b *gstBackend) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		b.deliver(pulledSample{err: ErrUnsupported})
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		b.deliver(pulledSample{err: ErrUnsupported})
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		b.deliver(pulledSample{err: ErrUnsupported})
		return gst.FlowOK
	}
	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	buffer.Unmap()

	b.deliver(pulledSample{buf: EncodedBuffer{Data: data, Size: uint32(len(data))}})
	return gst.FlowOK
}

func (b *gstBackend) deliver(s pulledSample) {
	select {
	case b.pulled <- s:
	default:
		// An earlier sample is still waiting to be consumed; drop this one
		// rather than block the GStreamer streaming thread.
	}
}

func (b *gstBackend) setBitRate(bitRate uint64) {
	if b.enc == nil {
		return
	}
	switch b.codec {
	case CodecMJPEG:
		b.enc.SetProperty("bitrate", int(bitRate))
	case CodecVP8:
		b.enc.SetProperty("target-bitrate", int(bitRate))
	case CodecH264:
		b.enc.SetProperty("bitrate", int(bitRate/1024))
	}
}

// forceKeyframe sends a GstForceKeyUnit downstream event so the encoder
// emits an intra frame on the next buffer.
func (b *gstBackend) forceKeyframe() {
	if b.src == nil {
		return
	}
	st := gst.NewStructureFromString("GstForceKeyUnit, all-headers=(boolean)true")
	if st == nil {
		return
	}
	b.src.Element.SendEvent(gst.NewCustomEvent(gst.EventTypeCustomDownstream, st))
}

func (b *gstBackend) teardown() {
	if b.pipeline == nil {
		return
	}
	b.pipeline.SetState(gst.StateNull)
	b.pipeline = nil
	b.src = nil
	b.enc = nil
	b.sink = nil
}
