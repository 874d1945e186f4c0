package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/zsprackett/coursedesk/internal/status"
)

// dedupeWindow is how long an identical notification is kept from the sinks.
const dedupeWindow = 10 * time.Second

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Desktop bool   `json:"desktop"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notifier logs status notifications and fans them out to desktop,
// webhook and ntfy sinks.
type Notifier struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
	client *http.Client
	recent *ttlcache.Cache[string, struct{}]
	// run executes desktop notification commands. Replaced in tests.
	run func(name string, args ...string) error
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
		recent: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](dedupeWindow),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Notify implements status.Notifier. The notification is always logged;
// sinks only fire when notifications are enabled.
func (n *Notifier) Notify(note status.Notification) {
	level := slog.LevelInfo
	if note.Level == status.LevelError {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "notification", "feature", note.Feature, "level", string(note.Level), "message", note.Message)

	cfg := n.config()
	if !cfg.Enabled {
		return
	}
	// A redelivered terminal event must not page the user twice.
	n.recent.DeleteExpired()
	key := note.Feature + "|" + string(note.Level) + "|" + note.Message
	if _, found := n.recent.GetOrSet(key, struct{}{}); found {
		n.logger.Debug("notify: duplicate suppressed", "feature", note.Feature)
		return
	}
	if cfg.Desktop {
		n.sendSystemNotification(note)
	}
	if cfg.Webhook != "" {
		n.sendWebhook(cfg.Webhook, note)
	}
	if cfg.NtfyURL != "" {
		n.sendNtfy(cfg.NtfyURL, note)
	}
}

// SetConfig swaps the sink settings, e.g. after the config file changes.
func (n *Notifier) SetConfig(cfg Config) {
	n.mu.Lock()
	n.cfg = cfg
	n.mu.Unlock()
}

func (n *Notifier) config() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg
}

func (n *Notifier) sendSystemNotification(note status.Notification) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title "coursedesk"`, note.Message)
		err = n.run("osascript", "-e", script)
	default:
		urgency := "normal"
		if note.Level == status.LevelError {
			urgency = "critical"
		}
		err = n.run("notify-send", "-u", urgency, "coursedesk", note.Message)
	}
	if err != nil {
		n.logger.Warn("notify: desktop notification failed", "err", err)
	}
}

type webhookPayload struct {
	Feature   string `json:"feature"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(url string, note status.Notification) {
	payload := webhookPayload{
		Feature:   note.Feature,
		Level:     string(note.Level),
		Message:   note.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := n.post(url, payload); err != nil {
		n.logger.Warn("notify: webhook failed", "url", url, "err", err)
	}
}

type ntfyPayload struct {
	Topic    string   `json:"topic,omitempty"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(url string, note status.Notification) {
	payload := ntfyPayload{
		Title:    fmt.Sprintf("coursedesk · %s", note.Feature),
		Message:  note.Message,
		Priority: 3,
		Tags:     []string{"white_check_mark"},
	}
	if note.Level == status.LevelError {
		payload.Priority = 4
		payload.Tags = []string{"warning"}
	}
	if err := n.post(url, payload); err != nil {
		n.logger.Warn("notify: ntfy failed", "url", url, "err", err)
	}
}

func (n *Notifier) post(url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
