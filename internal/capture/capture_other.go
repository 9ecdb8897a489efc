//go:build !(linux && cgo)

package capture

import (
	"github.com/breeze-rmm/videocore/internal/videocore"
)

// X11FrameSource is a no-op stand-in outside linux+cgo builds; NextFrame
// never has a frame ready so the session's capture loop simply idles.
type X11FrameSource struct{}

func NewX11FrameSource(displayIndex int) *X11FrameSource {
	return &X11FrameSource{}
}

func (x *X11FrameSource) NextFrame() (videocore.Bitmap, videocore.Rect, bool, uint32, bool) {
	return videocore.Bitmap{}, videocore.Rect{}, false, 0, false
}

func (x *X11FrameSource) ScreenBounds() (int, int, error) {
	return 0, 0, ErrNotSupported
}

func (x *X11FrameSource) Close() {}
