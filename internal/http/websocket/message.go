package websocket

import (
	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Welcome
)

// SocketMessage is the envelope pushed to connected activity clients.
// Target restricts delivery to a single client (used for the welcome
// message); a nil Target broadcasts to everyone.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Type   socketMessageType      `json:"type"`
	Target *uuid.UUID             `json:"-"`
}
