package videocore

import (
	"sync"
	"time"
)

// Scan codes and timing constants, grounded on inputs_channel.c's
// SCROLL_LOCK_SCAN_CODE/NUM_LOCK_SCAN_CODE/CAPS_LOCK_SCAN_CODE,
// KEY_MODIFIERS_TTL, and SPICE_INPUT_MOTION_ACK_BUNCH.
const (
	scanCodeCapsLock   = 0x3a
	scanCodeNumLock    = 0x45
	scanCodeScrollLock = 0x46

	releaseBit = 0x80
	extendByte = 0xe0

	// AckBunch is the compiled default SPICE_INPUT_MOTION_ACK_BUNCH: the
	// client is acked after every AckBunch-th motion/position event.
	AckBunch = 4

	// keyModifiersTTL is how long after the last modifier/LED sync the
	// watchdog timer waits before re-syncing, carried from KEY_MODIFIERS_TTL.
	keyModifiersTTL = 2 * time.Second
)

// MouseMode selects how pointer events are interpreted, grounded on
// SPICE_MOUSE_MODE_SERVER/SPICE_MOUSE_MODE_CLIENT.
type MouseMode int

const (
	MouseModeServer MouseMode = iota
	MouseModeClient
)

// KeyModifiers mirrors SPICE_KEYBOARD_MODIFIER_FLAGS_*.
type KeyModifiers uint8

const (
	ModifierScrollLock KeyModifiers = 1 << iota
	ModifierNumLock
	ModifierCapsLock
)

// InputSink is the platform-side target for synthesized input: a keyboard
// that accepts raw scan codes, and optionally a mouse/tablet pair for
// server-mode vs. client-mode pointer routing. Any sink may be nil, mirroring
// SPICE's conditional `if (keyboard)`/`if (mouse)`/`if (tablet)` guards.
type InputSink struct {
	PushScan func(code uint8)
	GetLEDs  func() KeyModifiers

	MouseMotion func(dx, dy, dz int32, buttons uint32)
	MouseWheel  func(dz int32, buttons uint32)
	MouseButton func(buttons uint32)

	TabletPosition func(x, y int32, buttons uint32)
	TabletWheel    func(dz int32, buttons uint32)
	TabletButtons  func(buttons uint32)

	AgentMouseEvent func(state AgentMouseState)
	HasVDAgent      bool
	AgentMouseOwned bool // true when the client's own agent owns the pointer
}

// AgentMouseState is the payload forwarded to a connected guest agent for
// client-mode absolute pointer routing.
type AgentMouseState struct {
	X, Y      int32
	Buttons   uint32
	DisplayID uint32
}

// AckCallback is invoked whenever a motion-ack pipe item should be queued
// for the client.
type AckCallback func()

// Channel is the input-event protocol handler (component F): it owns mouse
// mode and modifier-sync state, routes client-reported events to the
// correct platform sink, and bunches motion acks. It owns no transport —
// callers decode wire messages and call the Handle* methods, and read
// pipe-queue side effects via the AckCallback / sink.
type Channel struct {
	mu sync.Mutex

	sink InputSink
	mode MouseMode

	motionCount uint64
	ackBunch    uint64
	onAck       AckCallback

	ledTimer   *time.Timer
	ledTimerMu sync.Mutex
}

// NewChannel constructs a handler bound to a concrete platform sink.
func NewChannel(sink InputSink, onAck AckCallback) *Channel {
	return &Channel{sink: sink, onAck: onAck, mode: MouseModeServer, ackBunch: AckBunch}
}

// SetAckBunch overrides the motion-ack window size. Non-positive values are
// ignored.
func (c *Channel) SetAckBunch(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackBunch = uint64(n)
}

func (c *Channel) SetMouseMode(mode MouseMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

func (c *Channel) MouseMode() MouseMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// countMotionAndMaybeAck increments the bunch counter and fires the ack
// callback every AckBunch-th call, grounded on the `++motion_count %
// SPICE_INPUT_MOTION_ACK_BUNCH == 0` check duplicated for both motion and
// position messages in SPICE's inputs_channel.c.
func (c *Channel) countMotionAndMaybeAck() {
	c.mu.Lock()
	c.motionCount++
	fire := c.motionCount%c.ackBunch == 0
	c.mu.Unlock()
	if fire && c.onAck != nil {
		c.onAck()
	}
}

// HandleKeyDown processes a key-down scan code. CapsLock/NumLock/ScrollLock
// codes (re-)arm the LED-sync watchdog, matching SPICE's fallthrough
// from KEY_DOWN into the KEY_UP scan-forwarding case.
func (c *Channel) HandleKeyDown(code uint8) {
	if code == scanCodeCapsLock || code == scanCodeNumLock || code == scanCodeScrollLock {
		c.activateModifiersWatch()
	}
	c.forwardScan(code)
}

// HandleKeyUp forwards a (possibly multi-byte, e.g. extended) scan code
// sequence to the keyboard sink verbatim.
func (c *Channel) HandleKeyUp(codes []uint8) {
	for _, b := range codes {
		if b == 0 {
			break
		}
		c.forwardScan(b)
	}
}

func (c *Channel) forwardScan(code uint8) {
	if c.sink.PushScan != nil {
		c.sink.PushScan(code)
	}
}

// HandleMouseMotion processes a relative motion event. Only delivered to
// the platform mouse when mouse mode is server-side; client-mode relative
// motion is intentionally dropped here, matching SPICE's
// `reds_get_mouse_mode() == SPICE_MOUSE_MODE_SERVER` guard.
func (c *Channel) HandleMouseMotion(dx, dy int32, buttons uint32) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	c.countMotionAndMaybeAck()
	if mode == MouseModeServer && c.sink.MouseMotion != nil {
		c.sink.MouseMotion(dx, dy, 0, buttons)
	}
}

// HandleMousePosition processes an absolute position event, routed to the
// guest agent when one owns the pointer, otherwise to a tablet sink.
// Dropped entirely outside client mouse mode.
func (c *Channel) HandleMousePosition(x, y int32, buttons uint32, displayID uint32) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	c.countMotionAndMaybeAck()
	if mode != MouseModeClient {
		return
	}

	if c.sink.AgentMouseOwned && c.sink.HasVDAgent {
		if c.sink.AgentMouseEvent != nil {
			c.sink.AgentMouseEvent(AgentMouseState{X: x, Y: y, Buttons: buttons, DisplayID: displayID})
		}
		return
	}
	if c.sink.TabletPosition != nil {
		c.sink.TabletPosition(x, y, buttons)
	}
}

// HandleMousePress processes a wheel/button press event. In client mode it
// is sent at once as an agent mouse-state update carrying the wheel bits (or
// as a tablet wheel call); in server mode it becomes an immediate relative
// motion with dz set.
func (c *Channel) HandleMousePress(button int, buttons uint32) {
	dz := int32(0)
	switch button {
	case mouseButtonUp:
		dz = -1
	case mouseButtonDown:
		dz = 1
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	if mode == MouseModeClient {
		if c.sink.AgentMouseOwned && c.sink.HasVDAgent {
			if c.sink.AgentMouseEvent != nil {
				state := AgentMouseState{Buttons: buttons}
				if dz == -1 {
					state.Buttons |= agentWheelUpMask
				}
				if dz == 1 {
					state.Buttons |= agentWheelDownMask
				}
				c.sink.AgentMouseEvent(state)
			}
			return
		}
		if c.sink.TabletWheel != nil {
			c.sink.TabletWheel(dz, buttons)
		}
		return
	}
	if c.sink.MouseMotion != nil {
		c.sink.MouseMotion(0, 0, dz, buttons)
	}
}

// HandleMouseRelease processes a button release, routed the same way as a
// press but without a wheel delta.
func (c *Channel) HandleMouseRelease(buttons uint32) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	if mode == MouseModeClient {
		if c.sink.AgentMouseOwned && c.sink.HasVDAgent {
			if c.sink.AgentMouseEvent != nil {
				c.sink.AgentMouseEvent(AgentMouseState{Buttons: buttons})
			}
			return
		}
		if c.sink.TabletButtons != nil {
			c.sink.TabletButtons(buttons)
		}
		return
	}
	if c.sink.MouseButton != nil {
		c.sink.MouseButton(buttons)
	}
}

const (
	mouseButtonUp = iota
	mouseButtonDown
)

const (
	agentWheelUpMask   = 1 << 6
	agentWheelDownMask = 1 << 7
)

// HandleKeyModifiers diffs the client-reported modifier state against the
// sink's current LED state and pushes a down/up scan pair for each bit that
// differs, then re-arms the LED-sync watchdog. Grounded on the
// SPICE_MSGC_INPUTS_KEY_MODIFIERS case.
func (c *Channel) HandleKeyModifiers(modifiers KeyModifiers) {
	if c.sink.GetLEDs == nil {
		return
	}
	leds := c.sink.GetLEDs()

	if (modifiers & ModifierScrollLock) != (leds & ModifierScrollLock) {
		c.forwardScan(scanCodeScrollLock)
		c.forwardScan(scanCodeScrollLock | releaseBit)
	}
	if (modifiers & ModifierNumLock) != (leds & ModifierNumLock) {
		c.forwardScan(scanCodeNumLock)
		c.forwardScan(scanCodeNumLock | releaseBit)
	}
	if (modifiers & ModifierCapsLock) != (leds & ModifierCapsLock) {
		c.forwardScan(scanCodeCapsLock)
		c.forwardScan(scanCodeCapsLock | releaseBit)
	}
	c.activateModifiersWatch()
}

// activateModifiersWatch (re)starts the keyModifiersTTL timer. Once it
// fires, callers are expected to re-poll/re-send the LED state — this
// handler only tracks the timer's lifecycle, not what happens on expiry,
// since that requires a transport round trip outside this package's scope.
func (c *Channel) activateModifiersWatch() {
	c.ledTimerMu.Lock()
	defer c.ledTimerMu.Unlock()
	if c.ledTimer == nil {
		return
	}
	c.ledTimer.Reset(keyModifiersTTL)
}

// ArmModifiersWatch installs the timer callback fired when the LED-sync
// watchdog expires (KEY_MODIFIERS_TTL after the last sync).
func (c *Channel) ArmModifiersWatch(onExpire func()) {
	c.ledTimerMu.Lock()
	defer c.ledTimerMu.Unlock()
	if c.ledTimer != nil {
		c.ledTimer.Stop()
	}
	c.ledTimer = time.AfterFunc(keyModifiersTTL, onExpire)
}

func (c *Channel) StopModifiersWatch() {
	c.ledTimerMu.Lock()
	defer c.ledTimerMu.Unlock()
	if c.ledTimer != nil {
		c.ledTimer.Stop()
		c.ledTimer = nil
	}
}

// ReleaseAllKeys pushes the exact scan-code sequence SPICE sends on
// a channel error before tearing the connection down: both shifts, both
// ctrls, both alts, released. Grounded verbatim on inputs_release_keys.
func (c *Channel) ReleaseAllKeys() {
	c.forwardScan(0x2a | releaseBit) // LSHIFT
	c.forwardScan(0x36 | releaseBit) // RSHIFT
	c.forwardScan(extendByte)
	c.forwardScan(0x1d | releaseBit) // RCTRL
	c.forwardScan(0x1d | releaseBit) // LCTRL
	c.forwardScan(extendByte)
	c.forwardScan(0x38 | releaseBit) // RALT
	c.forwardScan(0x38 | releaseBit) // LALT
}

// OnIncomingError releases all keys and reports the channel as closed,
// grounded on inputs_channel_on_incoming_error.
func (c *Channel) OnIncomingError() error {
	c.ReleaseAllKeys()
	c.StopModifiersWatch()
	return ErrChannelClosed
}
