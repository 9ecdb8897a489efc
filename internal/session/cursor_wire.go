package session

import (
	"encoding/json"

	"github.com/breeze-rmm/videocore/internal/videocore"
)

// cursorWireMessage is the JSON shape carried over the "cursor" data
// channel. Data rides as base64 (encoding/json's []byte default). One shape
// covers every pipe item kind; unused fields are omitted.
type cursorWireMessage struct {
	Type string `json:"type"`

	Unique   uint64 `json:"unique,omitempty"`
	Width    int16  `json:"width,omitempty"`
	Height   int16  `json:"height,omitempty"`
	HotspotX int16  `json:"hotspotX,omitempty"`
	HotspotY int16  `json:"hotspotY,omitempty"`

	X       int32 `json:"x"`
	Y       int32 `json:"y"`
	Visible bool  `json:"visible,omitempty"`

	Flags    int    `json:"flags,omitempty"`
	DataSize uint32 `json:"dataSize,omitempty"`
	Data     []byte `json:"data,omitempty"`

	TrailLength uint16 `json:"trailLength,omitempty"`
	TrailFreq   uint16 `json:"trailFreq,omitempty"`

	InvalID uint64 `json:"invalId,omitempty"`
}

// encodeCursorPipeItem serializes one cursor pipe item for the data channel,
// mapping the pipe item taxonomy onto the CURSOR_INIT/SET/MOVE/HIDE/TRAIL/
// INVAL_ONE/INVAL_ALL/RESET wire message set.
func encodeCursorPipeItem(item videocore.CursorPipeItem) []byte {
	msg := cursorWireMessage{
		X: item.Cmd.Position[0],
		Y: item.Cmd.Position[1],
	}

	switch item.Kind {
	case videocore.CursorPipeInit:
		msg.Type = "init"
		msg.Visible = item.Cmd.Visible
		msg.TrailLength = item.Cmd.TrailLength
		msg.TrailFreq = item.Cmd.TrailFreq
		fillShape(&msg, item)
	case videocore.CursorPipeCursor:
		switch item.Cmd.Type {
		case videocore.CursorCmdSet:
			msg.Type = "set"
			msg.Visible = item.Cmd.Visible
			fillShape(&msg, item)
		case videocore.CursorCmdMove:
			msg.Type = "move"
		case videocore.CursorCmdHide:
			msg.Type = "hide"
		case videocore.CursorCmdTrail:
			msg.Type = "trail"
			msg.TrailLength = item.Cmd.TrailLength
			msg.TrailFreq = item.Cmd.TrailFreq
		}
	case videocore.CursorPipeInvalOne:
		msg.Type = "inval_one"
		msg.InvalID = item.InvalID
	case videocore.CursorPipeInvalCache:
		msg.Type = "inval_all"
	case videocore.CursorPipeVerb:
		msg.Type = "reset"
	}

	b, _ := json.Marshal(msg)
	return b
}

// fillShape copies the shape header plus the Fill result (cache flags and
// optional pixel payload) into the outgoing message. A FROM_CACHE fill has
// no payload by construction.
func fillShape(msg *cursorWireMessage, item videocore.CursorPipeItem) {
	msg.Flags = int(item.CacheFlags)
	msg.Data = item.Data
	msg.DataSize = item.DataSize
	if item.Item != nil {
		shape := item.Item.Shape()
		msg.Unique = shape.Unique
		msg.Width = shape.Width
		msg.Height = shape.Height
		msg.HotspotX = shape.HotspotX
		msg.HotspotY = shape.HotspotY
	} else {
		shape := item.Cmd.Shape
		msg.Unique = shape.Unique
		msg.Width = shape.Width
		msg.Height = shape.Height
		msg.HotspotX = shape.HotspotX
		msg.HotspotY = shape.HotspotY
	}
}
