//go:build !linux

package capture

// LinuxKeyboardSink and LinuxMouseSink are Linux-only (uinput/xdotool
// backed); elsewhere they're no-ops so cmd/breeze-videocore can wire the
// same types on every platform.
type LinuxKeyboardSink struct{}

func NewLinuxKeyboardSink() *LinuxKeyboardSink { return &LinuxKeyboardSink{} }

func (k *LinuxKeyboardSink) PushScan(code uint8) {}
func (k *LinuxKeyboardSink) Close()              {}

type LinuxMouseSink struct{}

func NewLinuxMouseSink(width, height int) *LinuxMouseSink { return &LinuxMouseSink{} }

func (m *LinuxMouseSink) TabletPosition(x, y int32, buttons uint32) {}
func (m *LinuxMouseSink) TabletButtons(buttons uint32)              {}
func (m *LinuxMouseSink) TabletWheel(dz int32, buttons uint32)      {}
func (m *LinuxMouseSink) Close()                                    {}
