package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ID names one logical push endpoint, e.g. "refund" or "video".
type ID string

// Message is a named event delivered by a transport connection.
type Message struct {
	Target  string
	Payload json.RawMessage
}

// Conn is one live transport connection. ReadMessage blocks until the next
// event arrives and returns an error once the connection is closed.
type Conn interface {
	ReadMessage() (Message, error)
	Close() error
}

// Dialer opens transport connections for a channel.
type Dialer interface {
	Dial(ctx context.Context, id ID) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, id ID) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, id ID) (Conn, error) {
	return f(ctx, id)
}

// Handler receives the payload of a matching event.
type Handler func(payload json.RawMessage)

var (
	ErrRegistryClosed = errors.New("channel registry closed")
	ErrDisconnected   = errors.New("channel released before connect completed")
)

// ConnectionError is returned by Connect when the transport could not be
// established. It is always safe to retry.
type ConnectionError struct {
	Channel ID
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect channel %s: %v", e.Channel, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
