package events

import "time"

// Event is a real-time update pushed to relay clients.
type Event struct {
	Type    string    `json:"type"`
	Feature string    `json:"feature,omitempty"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Event types.
const (
	TypeSnapshot      = "snapshot"
	TypeStatusChanged = "status_changed"
	TypeNotification  = "notification"
)

// Broadcaster sends events to connected relay clients.
// A nil Broadcaster is safe to use -- Broadcast becomes a no-op.
type Broadcaster interface {
	Broadcast(e Event)
}
