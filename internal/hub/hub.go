// Package hub speaks the SignalR JSON hub protocol over a WebSocket and
// exposes each hub as a channel.Conn.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/coursedesk/internal/channel"
)

const (
	recordSeparator = 0x1e

	defaultKeepAlive  = 15 * time.Second
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	closeGracePeriod  = time.Second
	defaultHubPrefix  = "/hubs/"
	handshakeProtocol = `{"protocol":"json","version":1}`
)

// Record types from the hub protocol that this client cares about.
const (
	typeInvocation = 1
	typePing       = 6
	typeClose      = 7
)

var ErrServerClosed = errors.New("hub closed by server")

// Dialer implements channel.Dialer against a hub server.
type Dialer struct {
	// BaseURL is the http(s) root of the hub server.
	BaseURL string
	// Paths maps a channel to its hub path. Unmapped channels use /hubs/<id>.
	Paths map[channel.ID]string
	// Token returns the bearer token sent with every dial. May be nil.
	Token func() string
	// KeepAlive is the interval between client pings. Defaults to 15s.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// Dial opens a WebSocket to the hub for id and completes the protocol
// handshake before returning.
func (d *Dialer) Dial(ctx context.Context, id channel.ID) (channel.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u, err := d.hubURL(id)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token := d.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	wsDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	ws, resp, err := wsDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial hub %s: %s: %w", id, resp.Status, err)
		}
		return nil, fmt.Errorf("dial hub %s: %w", id, err)
	}

	c := &Conn{
		ws:     ws,
		id:     id,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := c.handshake(ctx); err != nil {
		ws.Close()
		return nil, fmt.Errorf("hub %s handshake: %w", id, err)
	}

	interval := d.KeepAlive
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	go c.keepAlive(interval)

	logger.Debug("hub: connected", "channel", id, "url", redact(u))
	return c, nil
}

func (d *Dialer) token() string {
	if d.Token == nil {
		return ""
	}
	return d.Token()
}

func (d *Dialer) hubURL(id channel.ID) (string, error) {
	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse hub base url: %w", err)
	}
	switch base.Scheme {
	case "http", "ws":
		base.Scheme = "ws"
	case "https", "wss":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", base.Scheme)
	}

	path, ok := d.Paths[id]
	if !ok || path == "" {
		path = defaultHubPrefix + string(id)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	if token := d.token(); token != "" {
		q := base.Query()
		q.Set("access_token", token)
		base.RawQuery = q.Encode()
	}
	return base.String(), nil
}

// redact drops the query string so tokens never reach the log.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

type record struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Conn is one hub connection. ReadMessage must only be called from a single
// goroutine; Close may be called from any.
type Conn struct {
	ws     *websocket.Conn
	id     channel.ID
	logger *slog.Logger

	writeMu sync.Mutex
	pending [][]byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) handshake(ctx context.Context) error {
	if err := c.writeRaw([]byte(handshakeProtocol)); err != nil {
		return err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return err
	}
	records := splitRecords(data)
	if len(records) == 0 {
		return errors.New("empty handshake response")
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("parse handshake response: %w", err)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	c.pending = records[1:]
	return nil
}

// ReadMessage returns the next invocation sent by the server. Pings are
// consumed silently; a close record ends the stream with ErrServerClosed.
func (c *Conn) ReadMessage() (channel.Message, error) {
	for {
		for len(c.pending) > 0 {
			raw := c.pending[0]
			c.pending = c.pending[1:]

			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				c.logger.Warn("hub: malformed record", "channel", c.id, "err", err)
				continue
			}
			switch rec.Type {
			case typeInvocation:
				msg := channel.Message{Target: rec.Target}
				if len(rec.Arguments) > 0 {
					msg.Payload = rec.Arguments[0]
				}
				return msg, nil
			case typePing:
			case typeClose:
				if rec.Error != "" {
					return channel.Message{}, fmt.Errorf("%w: %s", ErrServerClosed, rec.Error)
				}
				return channel.Message{}, ErrServerClosed
			default:
				c.logger.Debug("hub: ignoring record", "channel", c.id, "type", rec.Type)
			}
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return channel.Message{}, err
		}
		c.pending = splitRecords(data)
	}
}

func (c *Conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping, _ := json.Marshal(record{Type: typePing})
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeRaw(ping); err != nil {
				c.logger.Debug("hub: ping failed", "channel", c.id, "err", err)
				return
			}
		}
	}
}

func (c *Conn) writeRaw(payload []byte) error {
	frame := append(append([]byte{}, payload...), recordSeparator)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal close frame and tears down the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func splitRecords(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}
