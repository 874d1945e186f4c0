package channel

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Registry owns at most one transport connection per channel ID.
//
// Connections are reference counted: every successful Connect must be paired
// with one Disconnect, and the transport is closed only when the last holder
// lets go. Event registrations live independently of connections, so a
// handler registered before Connect starts receiving events as soon as the
// connection comes up.
type Registry struct {
	dialer      Dialer
	logger      *slog.Logger
	dialTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	refs     map[ID]int
	conns    map[ID]*entry
	handlers map[ID][]*Subscription
}

// entry is one dial attempt and, once ready, its live connection.
type entry struct {
	ready chan struct{}
	conn  Conn
	err   error
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDialTimeout bounds each dial attempt. Zero means no limit.
func WithDialTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.dialTimeout = d
	}
}

// New returns an empty Registry that dials through dialer. Call Close at
// shutdown to tear down every open connection.
func New(dialer Dialer, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		dialer:   dialer,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		refs:     make(map[ID]int),
		conns:    make(map[ID]*entry),
		handlers: make(map[ID][]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect ensures a connection for id exists and takes one reference on it.
// Concurrent and repeated calls share a single dial. If ctx is done before the
// dial completes, the reference is dropped and the context error is returned
// wrapped in a ConnectionError.
func (r *Registry) Connect(ctx context.Context, id ID) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &ConnectionError{Channel: id, Err: ErrRegistryClosed}
	}
	e, ok := r.conns[id]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.conns[id] = e
		r.wg.Add(1)
		go r.dial(id, e)
	}
	r.refs[id]++
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		r.unref(id)
		return &ConnectionError{Channel: id, Err: ctx.Err()}
	}
	if e.err != nil {
		r.unref(id)
		return &ConnectionError{Channel: id, Err: e.err}
	}
	return nil
}

// Disconnect drops one reference on id and closes the transport when none
// remain. It is a no-op when id holds no references.
func (r *Registry) Disconnect(id ID) {
	r.unref(id)
}

func (r *Registry) unref(id ID) {
	r.mu.Lock()
	if r.refs[id] == 0 {
		r.mu.Unlock()
		return
	}
	r.refs[id]--
	if r.refs[id] > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.refs, id)
	e := r.conns[id]
	delete(r.conns, id)
	var conn Conn
	if e != nil {
		conn = e.conn
		e.conn = nil
	}
	r.mu.Unlock()

	if conn != nil {
		r.logger.Debug("channel: closing connection", "channel", id)
		conn.Close()
	}
}

func (r *Registry) dial(id ID, e *entry) {
	defer r.wg.Done()

	ctx := r.ctx
	if r.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.dialTimeout)
		defer cancel()
	}
	conn, err := r.dialer.Dial(ctx, id)

	r.mu.Lock()
	current := r.conns[id] == e
	switch {
	case err != nil:
		e.err = err
		if current {
			delete(r.conns, id)
		}
	case !current:
		// Every holder let go, or the registry closed, while dialing.
		e.err = ErrDisconnected
		if r.closed {
			e.err = ErrRegistryClosed
		}
	default:
		e.conn = conn
		r.wg.Add(1)
		go r.read(id, e, conn)
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("channel: dial failed", "channel", id, "err", err)
		return
	}
	if !current {
		conn.Close()
		return
	}
	r.logger.Debug("channel: connected", "channel", id)
}

func (r *Registry) read(id ID, e *entry, conn Conn) {
	defer r.wg.Done()
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			lost := r.conns[id] == e && e.conn == conn
			if lost {
				// Keep refs so holders' Disconnect calls stay balanced; the
				// next Connect redials.
				delete(r.conns, id)
				e.conn = nil
			}
			r.mu.Unlock()
			if lost {
				r.logger.Warn("channel: connection lost", "channel", id, "err", err)
				conn.Close()
			}
			return
		}
		r.dispatch(id, msg)
	}
}

func (r *Registry) dispatch(id ID, msg Message) {
	r.mu.Lock()
	var targets []*Subscription
	for _, s := range r.handlers[id] {
		if strings.EqualFold(s.event, msg.Target) {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		r.logger.Debug("channel: no handler for event", "channel", id, "event", msg.Target)
		return
	}
	for _, s := range targets {
		r.invoke(s, msg)
	}
}

func (r *Registry) invoke(s *Subscription, msg Message) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("channel: handler panicked", "channel", s.channel, "event", s.event, "panic", v)
		}
	}()
	s.handler(msg.Payload)
}

// On registers handler for events named event on channel id. Event names are
// matched case-insensitively. The returned Subscription removes exactly this
// registration.
func (r *Registry) On(id ID, event string, handler Handler) *Subscription {
	s := &Subscription{r: r, channel: id, event: event, handler: handler}
	r.mu.Lock()
	r.handlers[id] = append(r.handlers[id], s)
	r.mu.Unlock()
	return s
}

// Off removes every registration for event on channel id.
func (r *Registry) Off(id ID, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = slices.DeleteFunc(r.handlers[id], func(s *Subscription) bool {
		return strings.EqualFold(s.event, event)
	})
	if len(r.handlers[id]) == 0 {
		delete(r.handlers, id)
	}
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[sub.channel] = slices.DeleteFunc(r.handlers[sub.channel], func(s *Subscription) bool {
		return s == sub
	})
	if len(r.handlers[sub.channel]) == 0 {
		delete(r.handlers, sub.channel)
	}
}

// Connected reports whether id currently has a live connection.
func (r *Registry) Connected(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	return ok && e.conn != nil
}

// Handlers returns the number of registrations on id.
func (r *Registry) Handlers(id ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[id])
}

// Refs returns the number of outstanding Connect references for id.
func (r *Registry) Refs(id ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[id]
}

// Close tears down every connection and waits for dial and read goroutines to
// exit. Further Connect calls fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var conns []Conn
	for id, e := range r.conns {
		if e.conn != nil {
			conns = append(conns, e.conn)
			e.conn = nil
		}
		delete(r.conns, id)
	}
	clear(r.refs)
	r.mu.Unlock()

	r.cancel()
	for _, c := range conns {
		c.Close()
	}
	r.wg.Wait()
	return nil
}

// Subscription is the disposer for one On registration.
type Subscription struct {
	r       *Registry
	channel ID
	event   string
	handler Handler
	once    sync.Once
}

func (s *Subscription) Channel() ID   { return s.channel }
func (s *Subscription) Event() string { return s.event }

// Unsubscribe removes the registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.r.remove(s) })
}
