//go:build linux

package capture

import (
	"log/slog"
	"os/exec"
	"strconv"
)

// scanCodeToKeysym maps PC/AT Scan Code Set 1 codes to X11 keysym names for
// the xdotool fallback path. Only the common alphanumeric/editing/function
// key range is covered; an unmapped code is silently dropped, matching
// xdotool's own behavior for an unknown keysym.
var scanCodeToKeysym = map[uint8]string{
	0x01: "Escape", 0x0e: "BackSpace", 0x0f: "Tab", 0x1c: "Return",
	0x1d: "Control_L", 0x2a: "Shift_L", 0x36: "Shift_R", 0x38: "Alt_L",
	0x39: "space", 0x3a: "Caps_Lock",
	0x3b: "F1", 0x3c: "F2", 0x3d: "F3", 0x3e: "F4", 0x3f: "F5", 0x40: "F6",
	0x41: "F7", 0x42: "F8", 0x43: "F9", 0x44: "F10", 0x57: "F11", 0x58: "F12",
	0x45: "Num_Lock", 0x46: "Scroll_Lock",
	0x02: "1", 0x03: "2", 0x04: "3", 0x05: "4", 0x06: "5",
	0x07: "6", 0x08: "7", 0x09: "8", 0x0a: "9", 0x0b: "0",
	0x10: "q", 0x11: "w", 0x12: "e", 0x13: "r", 0x14: "t",
	0x15: "y", 0x16: "u", 0x17: "i", 0x18: "o", 0x19: "p",
	0x1e: "a", 0x1f: "s", 0x20: "d", 0x21: "f", 0x22: "g",
	0x23: "h", 0x24: "j", 0x25: "k", 0x26: "l",
	0x2c: "z", 0x2d: "x", 0x2e: "c", 0x2f: "v", 0x30: "b",
	0x31: "n", 0x32: "m",
	0x48: "Up", 0x50: "Down", 0x4b: "Left", 0x4d: "Right",
	0x47: "Home", 0x4f: "End", 0x52: "Insert", 0x53: "Delete",
}

// LinuxKeyboardSink injects scan codes through a uinput virtual keyboard
// when /dev/uinput is writable, falling back to xdotool keysym calls on an
// X11 session where it isn't. Matches videocore.Channel's PushScan contract.
type LinuxKeyboardSink struct {
	dev *uinputDevice // nil means xdotool fallback
}

func NewLinuxKeyboardSink() *LinuxKeyboardSink {
	dev, err := openUinputKeyboard()
	if err != nil {
		slog.Info("capture: uinput keyboard unavailable, using xdotool", "error", err)
	}
	return &LinuxKeyboardSink{dev: dev}
}

// PushScan consumes one AT Set-1 byte (release bit in the high bit, 0xE0
// extended prefix as its own byte).
func (k *LinuxKeyboardSink) PushScan(code uint8) {
	if k.dev != nil {
		k.dev.pushScan(code)
		return
	}
	const releaseBit = 0x80
	if code == 0xe0 {
		// The xdotool path addresses keys by keysym, so the extended prefix
		// carries no information for it.
		return
	}
	keysym, ok := scanCodeToKeysym[code&^uint8(releaseBit)]
	if !ok {
		return
	}
	sub := "keydown"
	if code&releaseBit != 0 {
		sub = "keyup"
	}
	_ = exec.Command("xdotool", sub, keysym).Run()
}

func (k *LinuxKeyboardSink) Close() {
	if k.dev != nil {
		k.dev.Close()
	}
}

// LinuxMouseSink drives an absolute uinput pointer (or xdotool's
// mousemove/click fallback) for videocore's tablet-position routing in
// client mouse mode. Incoming coordinates use the 0..0xFFFF tablet wire
// convention.
type LinuxMouseSink struct {
	width, height int
	dev           *uinputDevice // nil means xdotool fallback
}

// NewLinuxMouseSink builds a mouse sink. width/height are only needed by
// the xdotool fallback, which must scale wire coordinates to screen pixels;
// the uinput device declares the wire range as its own axis range.
func NewLinuxMouseSink(width, height int) *LinuxMouseSink {
	dev, err := openUinputPointer()
	if err != nil {
		slog.Info("capture: uinput pointer unavailable, using xdotool", "error", err)
	}
	return &LinuxMouseSink{width: width, height: height, dev: dev}
}

func (m *LinuxMouseSink) TabletPosition(x, y int32, buttons uint32) {
	if m.dev != nil {
		m.dev.position(x, y)
		return
	}
	px := int(x) * m.width / 0xFFFF
	py := int(y) * m.height / 0xFFFF
	_ = exec.Command("xdotool", "mousemove", strconv.Itoa(px), strconv.Itoa(py)).Run()
}

// TabletButtons applies the full button state: bit 0 left, bit 1 middle,
// bit 2 right, per the tablet wire convention.
func (m *LinuxMouseSink) TabletButtons(buttons uint32) {
	if m.dev != nil {
		m.dev.buttons(buttons)
		return
	}
	for bit, btn := range map[uint32]string{1: "1", 2: "2", 4: "3"} {
		cmd := "mouseup"
		if buttons&bit != 0 {
			cmd = "mousedown"
		}
		_ = exec.Command("xdotool", cmd, btn).Run()
	}
}

// TabletWheel scrolls by dz notches (positive is wheel-down).
func (m *LinuxMouseSink) TabletWheel(dz int32, buttons uint32) {
	if m.dev != nil {
		m.dev.wheel(dz)
		return
	}
	btn := "4" // X11 wheel up
	if dz > 0 {
		btn = "5"
	}
	_ = exec.Command("xdotool", "click", btn).Run()
}

func (m *LinuxMouseSink) Close() {
	if m.dev != nil {
		m.dev.Close()
	}
}
