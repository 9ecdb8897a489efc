package videocore

import "testing"

func TestChannelDefaultsToServerMouseMode(t *testing.T) {
	ch := NewChannel(InputSink{}, nil)
	if ch.MouseMode() != MouseModeServer {
		t.Fatal("new channel should default to server mouse mode")
	}
}

func TestHandleMouseMotionServerModeForwardsToSink(t *testing.T) {
	var gotDX, gotDY, gotDZ int32
	var gotButtons uint32
	ch := NewChannel(InputSink{
		MouseMotion: func(dx, dy, dz int32, buttons uint32) {
			gotDX, gotDY, gotDZ, gotButtons = dx, dy, dz, buttons
		},
	}, nil)

	ch.HandleMouseMotion(5, -3, 1)
	if gotDX != 5 || gotDY != -3 || gotDZ != 0 || gotButtons != 1 {
		t.Fatalf("got (%d,%d,%d,%d), want (5,-3,0,1)", gotDX, gotDY, gotDZ, gotButtons)
	}
}

func TestHandleMouseMotionClientModeDropped(t *testing.T) {
	called := false
	ch := NewChannel(InputSink{
		MouseMotion: func(dx, dy, dz int32, buttons uint32) { called = true },
	}, nil)
	ch.SetMouseMode(MouseModeClient)

	ch.HandleMouseMotion(1, 1, 0)
	if called {
		t.Fatal("relative motion must be dropped in client mouse mode")
	}
}

func TestMotionAckFiresEveryAckBunch(t *testing.T) {
	acks := 0
	ch := NewChannel(InputSink{}, func() { acks++ })

	for i := 0; i < AckBunch*3; i++ {
		ch.HandleMouseMotion(1, 0, 0)
	}
	if acks != 3 {
		t.Fatalf("acks = %d, want 3 after %d motion events with AckBunch=%d", acks, AckBunch*3, AckBunch)
	}
}

func TestSetAckBunchOverridesWindow(t *testing.T) {
	acks := 0
	ch := NewChannel(InputSink{}, func() { acks++ })
	ch.SetAckBunch(2)

	for i := 0; i < 6; i++ {
		ch.HandleMouseMotion(1, 0, 0)
	}
	if acks != 3 {
		t.Fatalf("acks = %d, want 3 with an ack window of 2", acks)
	}

	ch.SetAckBunch(0) // ignored
	ch.HandleMouseMotion(1, 0, 0)
	ch.HandleMouseMotion(1, 0, 0)
	if acks != 4 {
		t.Fatalf("acks = %d, want 4 — a non-positive override must be ignored", acks)
	}
}

func TestHandleMousePositionRoutesToTabletInClientMode(t *testing.T) {
	var gotX, gotY int32
	ch := NewChannel(InputSink{
		TabletPosition: func(x, y int32, buttons uint32) { gotX, gotY = x, y },
	}, nil)
	ch.SetMouseMode(MouseModeClient)

	ch.HandleMousePosition(10, 20, 0, 0)
	if gotX != 10 || gotY != 20 {
		t.Fatalf("got (%d,%d), want (10,20)", gotX, gotY)
	}
}

func TestHandleMousePositionDroppedInServerMode(t *testing.T) {
	called := false
	ch := NewChannel(InputSink{
		TabletPosition: func(x, y int32, buttons uint32) { called = true },
	}, nil)

	ch.HandleMousePosition(10, 20, 0, 0)
	if called {
		t.Fatal("absolute position must be dropped outside client mouse mode")
	}
}

func TestHandleMousePositionRoutesToAgentWhenOwned(t *testing.T) {
	var got AgentMouseState
	ch := NewChannel(InputSink{
		HasVDAgent:      true,
		AgentMouseOwned: true,
		AgentMouseEvent: func(s AgentMouseState) { got = s },
		TabletPosition:  func(x, y int32, buttons uint32) { t.Fatal("tablet must not be used when the agent owns the pointer") },
	}, nil)
	ch.SetMouseMode(MouseModeClient)

	ch.HandleMousePosition(7, 8, 3, 2)
	if got.X != 7 || got.Y != 8 || got.Buttons != 3 || got.DisplayID != 2 {
		t.Fatalf("got %+v, want X=7 Y=8 Buttons=3 DisplayID=2", got)
	}
}

func TestHandleMousePressServerModeSendsRelativeWheel(t *testing.T) {
	var gotDZ int32
	ch := NewChannel(InputSink{
		MouseMotion: func(dx, dy, dz int32, buttons uint32) { gotDZ = dz },
	}, nil)

	ch.HandleMousePress(mouseButtonUp, 0)
	if gotDZ != -1 {
		t.Fatalf("gotDZ = %d, want -1 for wheel up", gotDZ)
	}
}

func TestHandleMousePressClientModeAgentWheelMask(t *testing.T) {
	var got AgentMouseState
	ch := NewChannel(InputSink{
		HasVDAgent:      true,
		AgentMouseOwned: true,
		AgentMouseEvent: func(s AgentMouseState) { got = s },
	}, nil)
	ch.SetMouseMode(MouseModeClient)

	ch.HandleMousePress(mouseButtonDown, 0)
	if got.Buttons&agentWheelDownMask == 0 {
		t.Fatal("wheel-down press should set the agent wheel-down mask bit")
	}
}

func TestHandleKeyDownArmsLEDWatchOnModifierKeys(t *testing.T) {
	var forwarded []uint8
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { forwarded = append(forwarded, code) },
	}, nil)

	expired := make(chan struct{}, 1)
	ch.ArmModifiersWatch(func() { expired <- struct{}{} })
	ch.ledTimer.Stop() // disarm, so only HandleKeyDown can start it again

	ch.HandleKeyDown(scanCodeCapsLock)
	if len(forwarded) != 1 || forwarded[0] != scanCodeCapsLock {
		t.Fatalf("forwarded = %v, want [%#x]", forwarded, scanCodeCapsLock)
	}
	if !ch.ledTimer.Stop() {
		t.Fatal("caps-lock key-down should re-arm the LED-sync watchdog")
	}
	ch.StopModifiersWatch()
}

func TestHandleKeyUpStopsAtZeroTerminator(t *testing.T) {
	var forwarded []uint8
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { forwarded = append(forwarded, code) },
	}, nil)

	ch.HandleKeyUp([]uint8{0x1e, 0x30, 0, 0x99})
	if len(forwarded) != 2 {
		t.Fatalf("forwarded = %v, want 2 codes before the zero terminator", forwarded)
	}
}

func TestHandleKeyModifiersSendsPairForEachDifferingBit(t *testing.T) {
	var forwarded []uint8
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { forwarded = append(forwarded, code) },
		GetLEDs:  func() KeyModifiers { return 0 },
	}, nil)

	ch.HandleKeyModifiers(ModifierCapsLock)
	want := []uint8{scanCodeCapsLock, scanCodeCapsLock | releaseBit}
	if len(forwarded) != len(want) {
		t.Fatalf("forwarded = %v, want %v", forwarded, want)
	}
	for i := range want {
		if forwarded[i] != want[i] {
			t.Fatalf("forwarded[%d] = %#x, want %#x", i, forwarded[i], want[i])
		}
	}
}

func TestHandleKeyModifiersNoOpWhenAlreadyInSync(t *testing.T) {
	var forwarded []uint8
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { forwarded = append(forwarded, code) },
		GetLEDs:  func() KeyModifiers { return ModifierCapsLock },
	}, nil)

	ch.HandleKeyModifiers(ModifierCapsLock)
	if len(forwarded) != 0 {
		t.Fatalf("forwarded = %v, want none when modifiers already match LEDs", forwarded)
	}
}

func TestReleaseAllKeysSendsExactSequence(t *testing.T) {
	var forwarded []uint8
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { forwarded = append(forwarded, code) },
	}, nil)

	ch.ReleaseAllKeys()
	want := []uint8{
		0x2a | releaseBit,
		0x36 | releaseBit,
		extendByte,
		0x1d | releaseBit,
		0x1d | releaseBit,
		extendByte,
		0x38 | releaseBit,
		0x38 | releaseBit,
	}
	if len(forwarded) != len(want) {
		t.Fatalf("forwarded len = %d, want %d", len(forwarded), len(want))
	}
	for i := range want {
		if forwarded[i] != want[i] {
			t.Fatalf("forwarded[%d] = %#x, want %#x", i, forwarded[i], want[i])
		}
	}
}

func TestOnIncomingErrorReleasesKeysAndReturnsClosed(t *testing.T) {
	count := 0
	ch := NewChannel(InputSink{
		PushScan: func(code uint8) { count++ },
	}, nil)
	ch.ArmModifiersWatch(func() {})

	err := ch.OnIncomingError()
	if err != ErrChannelClosed {
		t.Fatalf("err = %v, want ErrChannelClosed", err)
	}
	if count != 8 {
		t.Fatalf("count = %d, want 8 scan codes pushed by ReleaseAllKeys", count)
	}
}
