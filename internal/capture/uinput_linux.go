//go:build linux

package capture

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// uinput kernel ABI, from linux/uinput.h and linux/input-event-codes.h.
// golang.org/x/sys/unix stops at the generic ioctl helpers, so the request
// numbers are spelled out here (_IO('U',1), _IOW('U',100,int), ...).
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiSetAbsBit  = 0x40045567

	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0x00
	relWheel  = 0x08
	absX      = 0x00
	absY      = 0x01

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	busUSB = 0x03

	// tabletAxisMax matches the SPICE tablet wire convention: absolute
	// coordinates already arrive scaled to 0..0xFFFF, so declaring the same
	// axis range means no rescaling on the way to the kernel.
	tabletAxisMax = 0xFFFF

	userDevSize    = 1116 // sizeof(struct uinput_user_dev)
	inputEventSize = 24   // sizeof(struct input_event), 64-bit
)

// extendedScanToKey maps the 0xE0-prefixed AT Set-1 codes to Linux key
// codes. Unprefixed codes need no table: Linux keycodes are AT Set 1 for
// the base range.
var extendedScanToKey = map[uint8]uint16{
	0x1c: 96,  // KEY_KPENTER
	0x1d: 97,  // KEY_RIGHTCTRL
	0x35: 98,  // KEY_KPSLASH
	0x38: 100, // KEY_RIGHTALT
	0x47: 102, // KEY_HOME
	0x48: 103, // KEY_UP
	0x49: 104, // KEY_PAGEUP
	0x4b: 105, // KEY_LEFT
	0x4d: 106, // KEY_RIGHT
	0x4f: 107, // KEY_END
	0x50: 108, // KEY_DOWN
	0x51: 109, // KEY_PAGEDOWN
	0x52: 110, // KEY_INSERT
	0x53: 111, // KEY_DELETE
	0x5b: 125, // KEY_LEFTMETA
	0x5c: 126, // KEY_RIGHTMETA
	0x5d: 127, // KEY_COMPOSE
}

// uinputDevice is one virtual input device created through /dev/uinput.
// Injection through the kernel works on Wayland and headless sessions alike,
// which the X11-only xdotool path cannot.
type uinputDevice struct {
	mu       sync.Mutex
	fd       int
	extended bool // a 0xE0 scan prefix is pending
}

func openUinput(name string, setup func(fd int) error) (*uinputDevice, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: open /dev/uinput: %w", err)
	}
	if err := setup(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// struct uinput_user_dev: name[80], input_id{bustype,vendor,product,
	// version}, ff_effects_max, then the four 64-entry abs arrays.
	dev := make([]byte, userDevSize)
	copy(dev, name)
	binary.LittleEndian.PutUint16(dev[80:], busUSB)
	binary.LittleEndian.PutUint16(dev[82:], 0x1d6b) // vendor: Linux Foundation
	binary.LittleEndian.PutUint16(dev[84:], 0x0104)
	binary.LittleEndian.PutUint16(dev[86:], 1)
	// absmax starts right after input_id + ff_effects_max.
	const absMaxOff = 80 + 8 + 4
	binary.LittleEndian.PutUint32(dev[absMaxOff+4*absX:], tabletAxisMax)
	binary.LittleEndian.PutUint32(dev[absMaxOff+4*absY:], tabletAxisMax)

	if _, err := unix.Write(fd, dev); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: write uinput device: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: UI_DEV_CREATE: %w", err)
	}
	return &uinputDevice{fd: fd}, nil
}

// openUinputKeyboard creates a virtual keyboard covering the full AT Set-1
// base range plus the extended keys.
func openUinputKeyboard() (*uinputDevice, error) {
	return openUinput("breeze-videocore kbd", func(fd int) error {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
			return fmt.Errorf("capture: UI_SET_EVBIT: %w", err)
		}
		for code := 1; code <= 0x58; code++ {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, code); err != nil {
				return fmt.Errorf("capture: UI_SET_KEYBIT %#x: %w", code, err)
			}
		}
		for _, code := range extendedScanToKey {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
				return fmt.Errorf("capture: UI_SET_KEYBIT %#x: %w", code, err)
			}
		}
		return nil
	})
}

// openUinputPointer creates a virtual absolute pointer with three buttons
// and a wheel, axes declared in the 0..0xFFFF tablet range.
func openUinputPointer() (*uinputDevice, error) {
	return openUinput("breeze-videocore tablet", func(fd int) error {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
			return err
		}
		for _, btn := range []int{btnLeft, btnRight, btnMiddle} {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, btn); err != nil {
				return err
			}
		}
		if err := unix.IoctlSetInt(fd, uiSetEvBit, evAbs); err != nil {
			return err
		}
		for _, axis := range []int{absX, absY} {
			if err := unix.IoctlSetInt(fd, uiSetAbsBit, axis); err != nil {
				return err
			}
		}
		if err := unix.IoctlSetInt(fd, uiSetEvBit, evRel); err != nil {
			return err
		}
		return unix.IoctlSetInt(fd, uiSetRelBit, relWheel)
	})
}

// emit writes one input_event. The kernel stamps the time on write, so the
// timeval prefix stays zero.
func (d *uinputDevice) emit(typ, code uint16, value int32) {
	ev := make([]byte, inputEventSize)
	binary.LittleEndian.PutUint16(ev[16:], typ)
	binary.LittleEndian.PutUint16(ev[18:], code)
	binary.LittleEndian.PutUint32(ev[20:], uint32(value))
	_, _ = unix.Write(d.fd, ev)
}

func (d *uinputDevice) syn() {
	d.emit(evSyn, synReport, 0)
}

// pushScan feeds one AT Set-1 byte: 0xE0 arms the extended prefix, the high
// bit carries release, and the remaining bits are the Linux keycode (base
// range) or an extendedScanToKey lookup.
func (d *uinputDevice) pushScan(code uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code == 0xe0 {
		d.extended = true
		return
	}
	const releaseBit = 0x80
	base := code &^ uint8(releaseBit)
	key := uint16(base)
	if d.extended {
		d.extended = false
		mapped, ok := extendedScanToKey[base]
		if !ok {
			return
		}
		key = mapped
	}

	value := int32(1)
	if code&releaseBit != 0 {
		value = 0
	}
	d.emit(evKey, key, value)
	d.syn()
}

func (d *uinputDevice) position(x, y int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(evAbs, absX, x)
	d.emit(evAbs, absY, y)
	d.syn()
}

func (d *uinputDevice) buttons(buttons uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(evKey, btnLeft, int32(buttons&1))
	d.emit(evKey, btnMiddle, int32((buttons>>1)&1))
	d.emit(evKey, btnRight, int32((buttons>>2)&1))
	d.syn()
}

func (d *uinputDevice) wheel(dz int32) {
	if dz == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// SPICE wheel-down is positive; REL_WHEEL down is negative.
	d.emit(evRel, relWheel, -dz)
	d.syn()
}

func (d *uinputDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return
	}
	_ = unix.IoctlSetInt(d.fd, uiDevDestroy, 0)
	_ = unix.Close(d.fd)
	d.fd = -1
}
