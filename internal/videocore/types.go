// Package videocore implements the server-side video streaming core: a
// stateful encoder pipeline, an adaptive bit-rate controller, a cursor
// command channel, and an input-event protocol handler. It has no
// transport/session opinions of its own — callers push bitmaps and input
// bytes in, and the core calls back through small callback sets
// (FeedbackCallbacks, CursorPipeCallback, AckCallback, InputSink) to report
// rate-control feedback, cursor pipe items and acks, and deliver input to
// platform sinks.
package videocore

import "fmt"

// PixelFormat is the source bitmap's pixel layout. The set is closed: any
// value outside it is rejected (EncodeUnsupported with ErrInvalidBitmap)
// rather than guessed at.
type PixelFormat int

const (
	PixelFormatInvalid PixelFormat = iota
	PixelFormatRGBA
	PixelFormatXRGB32
	PixelFormatRGB24
	PixelFormatRGB15
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA:
		return "RGBA"
	case PixelFormatXRGB32:
		return "xRGB32"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGB15:
		return "RGB15"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// bitsPerPixel returns the bit depth for a source pixel format, or 0 if the
// format isn't one of the four closed-set values.
func (f PixelFormat) bitsPerPixel() int {
	switch f {
	case PixelFormatRGBA, PixelFormatXRGB32:
		return 32
	case PixelFormatRGB24:
		return 24
	case PixelFormatRGB15:
		return 16
	default:
		return 0
	}
}

func (f PixelFormat) valid() bool {
	return f.bitsPerPixel() > 0
}

// Codec selects the compressed format the pipeline produces.
type Codec int

const (
	CodecMJPEG Codec = iota
	CodecVP8
	CodecH264
)

func (c Codec) String() string {
	switch c {
	case CodecMJPEG:
		return "mjpeg"
	case CodecVP8:
		return "vp8"
	case CodecH264:
		return "h264"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// Chunk is one contiguous memory region of a (possibly fragmented) source
// bitmap. Real capture devices frequently hand back a bitmap as a list of
// page-sized chunks rather than one allocation.
type Chunk struct {
	Data []byte
}

// Bitmap is the raw framebuffer update handed to the pixel source adapter.
// Chunks must be non-empty. Stride is the source's bytes-per-row; it may
// logically run in either direction, which TopDown records rather than a
// signed stride, since a negative stride is easy to get wrong in Go slice
// arithmetic.
type Bitmap struct {
	Format  PixelFormat
	Width   int
	Height  int
	Stride  int
	TopDown bool
	Chunks  []Chunk
}

// totalLen returns the sum of all chunk lengths.
func (b Bitmap) totalLen() int {
	n := 0
	for _, c := range b.Chunks {
		n += len(c.Data)
	}
	return n
}

// Rect is a crop rectangle in source pixel coordinates, left/top inclusive,
// right/bottom exclusive — matching the spice wire rectangle convention.
type Rect struct {
	Left, Top, Right, Bottom int
}

func (r Rect) width() int  { return r.Right - r.Left }
func (r Rect) height() int { return r.Bottom - r.Top }

func (r Rect) validFor(b Bitmap) bool {
	return r.Left >= 0 && r.Top >= 0 &&
		r.Right > r.Left && r.Bottom > r.Top &&
		r.Right <= b.Width && r.Bottom <= b.Height
}

// EncodeResult is the outcome of a single EncodeFrame call.
type EncodeResult int

const (
	EncodeDone EncodeResult = iota
	EncodeDrop
	EncodeUnsupported
)

func (r EncodeResult) String() string {
	switch r {
	case EncodeDone:
		return "done"
	case EncodeDrop:
		return "drop"
	case EncodeUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("EncodeResult(%d)", int(r))
	}
}

// EncodedBuffer is a compressed frame returned by the codec pipeline. The
// caller must call Release before submitting the next frame to the same
// pipeline when zero-copy is engaged — see the pixel source adapter's
// needs-bitmap lifecycle note.
type EncodedBuffer struct {
	Data    []byte
	Size    uint32
	Release func()
}
