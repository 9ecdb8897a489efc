package videocore

import "errors"

var (
	// ErrUnsupported is returned for a transient per-frame failure (bad chunk
	// padding, codec push/pull failure, unknown pixel format) — the caller
	// should treat the frame as dropped and keep streaming.
	ErrUnsupported = errors.New("videocore: frame unsupported")

	// ErrNoEncoder is returned by EncodeFrame when the backend cannot build
	// a codec pipeline at all (every frame in a build without cgo). Unlike
	// ErrUnsupported it recurs on every frame, not just one.
	ErrNoEncoder = errors.New("videocore: no encoder available")

	ErrInvalidCodec  = errors.New("videocore: invalid codec")
	ErrInvalidBitmap = errors.New("videocore: invalid bitmap")
	ErrInvalidCrop   = errors.New("videocore: crop rectangle out of bounds")

	// ErrCacheFull is never returned to callers — the cursor cache evicts LRU
	// entries instead; nothing in this module returns or checks it.
	ErrCacheFull = errors.New("videocore: cursor cache full")

	ErrChannelClosed = errors.New("videocore: input channel closed")
)
