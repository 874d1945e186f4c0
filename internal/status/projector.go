package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/coursedesk/internal/channel"
	"github.com/zsprackett/coursedesk/internal/events"
)

// Status is the client-side progress of a feature's current operation.
type Status string

const (
	Idle       Status = "idle"
	Processing Status = "processing"
	Completed  Status = "completed"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-visible message raised on a terminal status.
type Notification struct {
	Level   Level
	Feature string
	Message string
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Recorder persists raw channel events. Optional.
type Recorder interface {
	InsertChannelEvent(channel, event, status, message string) error
}

type Config struct {
	Feature     Feature
	Registry    *channel.Registry
	Notifier    Notifier
	Broadcaster events.Broadcaster
	Recorder    Recorder
	// OnComplete runs after the success notification of each completed event.
	OnComplete func()
	Logger     *slog.Logger
}

// Projector binds one feature to its channel event and projects inbound
// payloads onto a Status.
type Projector struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	act    *activation
}

// activation is the state of one Activate call. connected is written by the
// connect goroutine before done closes and read only after.
type activation struct {
	sub       *channel.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

func New(cfg Config) *Projector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		cfg:    cfg,
		logger: logger.With("feature", cfg.Feature.Name),
		status: Idle,
	}
}

func (p *Projector) Feature() Feature {
	return p.cfg.Feature
}

// Activate registers the event handler and connects the feature's channel in
// the background. A failed connect is logged and leaves the status idle.
// Calling Activate on an active projector does nothing.
func (p *Projector) Activate(ctx context.Context) {
	p.mu.Lock()
	if p.act != nil {
		p.mu.Unlock()
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	act := &activation{
		sub:    p.cfg.Registry.On(p.cfg.Feature.Channel, p.cfg.Feature.Event, p.handle),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.act = act
	p.mu.Unlock()

	go func() {
		defer close(act.done)
		err := p.cfg.Registry.Connect(cctx, p.cfg.Feature.Channel)
		if err == nil {
			act.connected = true
			return
		}
		if cctx.Err() != nil {
			p.logger.Debug("status: connect abandoned", "err", err)
		} else {
			p.logger.Warn("status: connect failed", "err", err)
		}
		p.SetStatus(Idle)
	}()
}

// Deactivate removes the event handler, abandons a pending connect and
// releases the channel if the connect had succeeded. Safe to call repeatedly
// and concurrently with Activate.
func (p *Projector) Deactivate() {
	p.mu.Lock()
	act := p.act
	p.act = nil
	p.mu.Unlock()
	if act == nil {
		return
	}

	act.sub.Unsubscribe()
	act.cancel()
	<-act.done
	if act.connected {
		p.cfg.Registry.Disconnect(p.cfg.Feature.Channel)
	}
}

// Active reports whether the projector is between Activate and Deactivate.
func (p *Projector) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.act != nil
}

func (p *Projector) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus overrides the current status, e.g. to mark an operation as
// processing right after the user submits it.
func (p *Projector) SetStatus(s Status) {
	p.mu.Lock()
	prev := p.status
	p.status = s
	p.mu.Unlock()

	if prev == s {
		return
	}
	p.logger.Debug("status: changed", "from", string(prev), "to", string(s))
	p.broadcast(events.Event{
		Type:    events.TypeStatusChanged,
		Feature: p.cfg.Feature.Name,
		Status:  string(s),
	})
}

func (p *Projector) handle(raw json.RawMessage) {
	if !p.Active() {
		return
	}
	payload, err := ParsePayload(raw)
	if err != nil {
		p.logger.Warn("status: rejecting event", "event", p.cfg.Feature.Event, "err", err)
		return
	}
	p.record(payload)

	switch payload.Status {
	case EventPending:
		p.SetStatus(Processing)
	case EventCompleted:
		p.SetStatus(Completed)
		p.notify(LevelSuccess, p.cfg.Feature.SuccessMessage)
		if p.cfg.OnComplete != nil {
			p.cfg.OnComplete()
		}
	case EventFailed:
		p.SetStatus(Idle)
		msg := p.cfg.Feature.FailureMessage
		if payload.Message != "" {
			msg += ": " + payload.Message
		}
		p.notify(LevelError, msg)
	}
}

func (p *Projector) notify(level Level, msg string) {
	n := Notification{Level: level, Feature: p.cfg.Feature.Name, Message: msg}
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Notify(n)
	}
	p.broadcast(events.Event{
		Type:    events.TypeNotification,
		Feature: p.cfg.Feature.Name,
		Status:  string(level),
		Message: msg,
	})
}

func (p *Projector) record(payload Payload) {
	if p.cfg.Recorder == nil {
		return
	}
	err := p.cfg.Recorder.InsertChannelEvent(
		string(p.cfg.Feature.Channel),
		p.cfg.Feature.Event,
		string(payload.Status),
		payload.Message,
	)
	if err != nil {
		p.logger.Warn("status: journal insert failed", "err", err)
	}
}

func (p *Projector) broadcast(e events.Event) {
	if p.cfg.Broadcaster == nil {
		return
	}
	e.At = time.Now().UTC()
	p.cfg.Broadcaster.Broadcast(e)
}
