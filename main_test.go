package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/zsprackett/coursedesk/internal/api"
	"github.com/zsprackett/coursedesk/internal/auth"
	"github.com/zsprackett/coursedesk/internal/config"
	"github.com/zsprackett/coursedesk/internal/status"
)

const rs = "\x1e"

// statusHub is a hub server that completes the handshake and then writes
// whatever the test sends on frames.
type statusHub struct {
	upgrader websocket.Upgrader
	frames   chan string
}

func newStatusHub(t *testing.T) (*statusHub, *httptest.Server) {
	t.Helper()
	h := &statusHub{frames: make(chan string, 8)}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return h, ts
}

func (h *statusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte("{}"+rs))

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case f := <-h.frames:
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		case <-gone:
			return
		}
	}
}

// refundStatus sends a ReceiveRefundStatus invocation with payload.
func (h *statusHub) refundStatus(payload string) {
	h.frames <- `{"type":1,"target":"ReceiveRefundStatus","arguments":[` + payload + `]}` + rs
}

func newTestApp(t *testing.T, hubURL string) (*app, *api.Client) {
	t.Helper()
	cfg := config.Defaults()
	cfg.APIBaseURL = hubURL
	cfg.HubBaseURL = hubURL
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dbPath: filepath.Join(t.TempDir(), "journal.db"),
	}
	client, err := api.NewClient(api.Config{BaseURL: hubURL, Logger: a.logger})
	if err != nil {
		t.Fatal(err)
	}
	return a, client
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(status.Notification) { c.n++ }

func TestAwaitNotifier_DeliversFirstOnly(t *testing.T) {
	next := &countingNotifier{}
	ch := make(chan status.Notification, 1)
	n := &awaitNotifier{next: next, ch: ch}

	n.Notify(status.Notification{Level: status.LevelSuccess, Message: "Reembolso Confirmado!"})
	n.Notify(status.Notification{Level: status.LevelError, Message: "late"})

	if next.n != 2 {
		t.Errorf("forwarded: got %d want 2", next.n)
	}
	got := <-ch
	if got.Message != "Reembolso Confirmado!" {
		t.Errorf("first notification: %+v", got)
	}
}

func TestColorStatus_Pads(t *testing.T) {
	color.NoColor = true
	if got := colorStatus("failed", 9); got != "failed   " {
		t.Errorf("got %q", got)
	}
	if got := colorStatus("Open", 2); !strings.HasPrefix(got, "Open") {
		t.Errorf("got %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName(auth.Claims{Subject: "42", Email: "a@b.c"}); got != "a@b.c" {
		t.Errorf("got %q", got)
	}
	if got := displayName(auth.Claims{Subject: "42"}); got != "42" {
		t.Errorf("got %q", got)
	}
	if got := displayName(auth.Claims{}); got != "unknown user" {
		t.Errorf("got %q", got)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := (&app{}).rootCmd()
	want := []string{"login", "logout", "watch", "refund", "tickets", "upload", "history"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered (err=%v)", name, err)
		}
	}
}

func TestAwaitFeature_Completed(t *testing.T) {
	h, ts := newStatusHub(t)
	a, client := newTestApp(t, ts.URL)

	err := a.awaitFeature(context.Background(), client, status.Refund, 5*time.Second, func(ctx context.Context) error {
		h.refundStatus(`{"status":"pending"}`)
		h.refundStatus(`{"status":"completed"}`)
		return nil
	})
	if err != nil {
		t.Fatalf("awaitFeature: %v", err)
	}

	store, err := a.openDB()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	rows, err := store.RecentChannelEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Status != "completed" || rows[1].Status != "pending" {
		t.Errorf("journal: %+v", rows)
	}
}

func TestAwaitFeature_FailedReturnsMessage(t *testing.T) {
	h, ts := newStatusHub(t)
	a, client := newTestApp(t, ts.URL)

	err := a.awaitFeature(context.Background(), client, status.Refund, 5*time.Second, func(ctx context.Context) error {
		h.refundStatus(`{"status":"failed","message":"Pagamento não encontrado"}`)
		return nil
	})
	if err == nil {
		t.Fatal("expected error for failed status")
	}
	if err.Error() != "Falha no reembolso: Pagamento não encontrado" {
		t.Errorf("error: %v", err)
	}
}

func TestAwaitFeature_Timeout(t *testing.T) {
	_, ts := newStatusHub(t)
	a, client := newTestApp(t, ts.URL)

	start := time.Now()
	err := a.awaitFeature(context.Background(), client, status.Refund, 150*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestAwaitFeature_SubmitError(t *testing.T) {
	_, ts := newStatusHub(t)
	a, client := newTestApp(t, ts.URL)

	rejected := errors.New("request refund: 409 Reembolso já solicitado")
	err := a.awaitFeature(context.Background(), client, status.Refund, 5*time.Second, func(ctx context.Context) error {
		return rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected submit error, got %v", err)
	}
}

func TestAwaitFeature_HubUnreachable(t *testing.T) {
	_, ts := newStatusHub(t)
	a, client := newTestApp(t, ts.URL)
	ts.Close()

	submitted := false
	err := a.awaitFeature(context.Background(), client, status.Refund, 5*time.Second, func(ctx context.Context) error {
		submitted = true
		return nil
	})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if submitted {
		t.Error("request submitted without a status channel")
	}
}
