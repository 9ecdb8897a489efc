package session

import (
	"encoding/json"
	"log/slog"

	"github.com/breeze-rmm/videocore/internal/videocore"
)

// inputEvent is the JSON wire shape carried over the "input" data channel,
// dispatched to videocore.Channel's method set instead of a platform-specific
// InputHandler.
type inputEvent struct {
	Type      string  `json:"type"`
	DX        int32   `json:"dx,omitempty"`
	DY        int32   `json:"dy,omitempty"`
	X         int32   `json:"x,omitempty"`
	Y         int32   `json:"y,omitempty"`
	Buttons   uint32  `json:"buttons,omitempty"`
	Button    int     `json:"button,omitempty"`
	Code      uint8   `json:"code,omitempty"`
	Codes     []uint8 `json:"codes,omitempty"`
	Modifiers uint8   `json:"modifiers,omitempty"`
	DisplayID uint32  `json:"displayId,omitempty"`
	Mode      string  `json:"mode,omitempty"`
}

// decodeAndDispatchInput parses one wire message and routes it to the
// matching Channel method. A malformed payload or an unknown message type
// is a protocol error: both return ch.OnIncomingError(), mirroring
// inputs_channel.c's SPICE_MSGC path, where a handler returning FALSE (an
// unrecognized message) drives the same on_incoming_error teardown as a
// decode failure. "disconnecting" is a recognized no-op, matching
// SPICE_MSGC_DISCONNECTING. onMouseMode, when non-nil, receives mouse-mode
// switches so the caller can keep its cursor channel's gating in step.
func decodeAndDispatchInput(ch *videocore.Channel, data []byte, onMouseMode func(videocore.MouseMode)) error {
	var ev inputEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("input: malformed payload, closing channel", "error", err)
		return ch.OnIncomingError()
	}

	switch ev.Type {
	case "mouse_motion":
		ch.HandleMouseMotion(ev.DX, ev.DY, ev.Buttons)
	case "mouse_position":
		ch.HandleMousePosition(ev.X, ev.Y, ev.Buttons, ev.DisplayID)
	case "mouse_press":
		ch.HandleMousePress(ev.Button, ev.Buttons)
	case "mouse_release":
		ch.HandleMouseRelease(ev.Buttons)
	case "key_down":
		ch.HandleKeyDown(ev.Code)
	case "key_up":
		ch.HandleKeyUp(ev.Codes)
	case "key_modifiers":
		ch.HandleKeyModifiers(videocore.KeyModifiers(ev.Modifiers))
	case "mouse_mode":
		mode := videocore.MouseModeServer
		if ev.Mode == "client" {
			mode = videocore.MouseModeClient
		}
		ch.SetMouseMode(mode)
		if onMouseMode != nil {
			onMouseMode(mode)
		}
	case "disconnecting":
	default:
		slog.Warn("input: unknown event type, closing channel", "type", ev.Type)
		return ch.OnIncomingError()
	}
	return nil
}

// encodeMotionAck produces the wire payload sent back on the input channel
// once AckBunch motion events have been processed.
func encodeMotionAck() []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "motion_ack"})
	return b
}

// encodePlaybackDelay produces the control payload carrying the rate
// controller's minimum-playback-delay hint.
func encodePlaybackDelay(delayMS uint32) []byte {
	b, _ := json.Marshal(struct {
		Type    string `json:"type"`
		DelayMS uint32 `json:"delayMs"`
	}{Type: "playback_delay", DelayMS: delayMS})
	return b
}
