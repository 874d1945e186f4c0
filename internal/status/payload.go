package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventStatus is the status field carried by a pushed status event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

var ErrUnknownStatus = errors.New("unknown event status")

// Payload is the body of a status event: {status, message?}.
type Payload struct {
	Status  EventStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Terminal reports whether no further events are expected after p.
func (p Payload) Terminal() bool {
	return p.Status == EventCompleted || p.Status == EventFailed
}

// ParsePayload decodes raw and rejects any status outside the known set.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode status payload: %w", err)
	}
	p.Status = EventStatus(strings.ToLower(strings.TrimSpace(string(p.Status))))
	switch p.Status {
	case EventPending, EventCompleted, EventFailed:
		return p, nil
	}
	return Payload{}, fmt.Errorf("%w: %q", ErrUnknownStatus, p.Status)
}
