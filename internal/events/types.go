package events

import (
	"time"

	"github.com/redactly/redactly/internal/session"
)

// EventType identifies what a broadcast event describes.
type EventType string

const (
	// EventTypeSessionUpdate is emitted on every session state transition.
	EventTypeSessionUpdate EventType = "session_update"
	// EventTypeConnection is emitted when a client connects or disconnects.
	EventTypeConnection EventType = "connection"
)

// Event is the envelope every websocket message uses.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionUpdateEvent carries a session snapshot to connected clients.
type SessionUpdateEvent struct {
	SessionID string           `json:"sessionId"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// ConnectionEvent describes a client connecting or disconnecting.
type ConnectionEvent struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId"`
}
