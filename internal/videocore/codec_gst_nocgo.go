//go:build !cgo

package videocore

// newGstBackend returns a backend that always fails to configure. GStreamer
// bindings require cgo; a build without it has no codec pipeline available.
func newGstBackend() pipelineBackend {
	return noGstBackend{}
}

type noGstBackend struct{}

func (noGstBackend) configure(Codec, wireFormat, int, int, uint64, uint32) error {
	return ErrNoEncoder
}

func (noGstBackend) reconfigure(int, int) error {
	return ErrNoEncoder
}

func (noGstBackend) pushRaw([]byte) (EncodedBuffer, error) {
	return EncodedBuffer{}, ErrNoEncoder
}

func (noGstBackend) setBitRate(uint64) {}

func (noGstBackend) forceKeyframe() {}

func (noGstBackend) teardown() {}
