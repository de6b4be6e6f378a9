package api

import (
	"encoding/json"

	"github.com/parlorgames/parlor/pkg/protocol"
)

// Client frame actions that are not room commands.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// Server frame types.
const (
	frameEstablished = "connection.established"
	frameResult      = "result"
	frameError       = "error"
	frameEvent       = "event"
	framePong        = "pong"
	frameSubscribed  = "subscription.confirmed"
)

// ClientFrame is one inbound WebSocket message. ID, when set, is echoed
// on the matching result or error frame so clients can correlate.
type ClientFrame struct {
	ID     string          `json:"id,omitempty"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is one outbound WebSocket message.
type ServerFrame struct {
	ID    string                 `json:"id,omitempty"`
	Type  string                 `json:"type"`
	Event string                 `json:"event,omitempty"`
	Room  string                 `json:"room_id,omitempty"`
	Data  any                    `json:"data,omitempty"`
	Error *protocol.CommandError `json:"error,omitempty"`
}

// subscribeRequest is the payload of a subscribe/unsubscribe frame.
type subscribeRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}
