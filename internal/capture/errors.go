package capture

import "errors"

// ErrNotSupported is returned when screen capture isn't available on the
// current build (no cgo, or an unsupported platform).
var ErrNotSupported = errors.New("capture: screen capture not supported on this build")
