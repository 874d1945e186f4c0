package webserver_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsprackett/coursedesk/internal/api"
	"github.com/zsprackett/coursedesk/internal/channel"
	"github.com/zsprackett/coursedesk/internal/db"
	"github.com/zsprackett/coursedesk/internal/events"
	"github.com/zsprackett/coursedesk/internal/status"
	"github.com/zsprackett/coursedesk/internal/webserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingDialer struct{}

func (failingDialer) Dial(ctx context.Context, id channel.ID) (channel.Conn, error) {
	return nil, errors.New("offline")
}

type fakeRefunder struct {
	mu   sync.Mutex
	reqs []api.RefundRequest
	err  error
	// during runs inside RequestRefund, before it returns.
	during func()
}

func (f *fakeRefunder) RequestRefund(ctx context.Context, req api.RefundRequest) (*api.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.Refund{RefundID: "r-1", Status: "Pending"}, nil
}

func newStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newServer(t *testing.T, refunds webserver.Refunder) (*webserver.Server, *status.Projector) {
	t.Helper()
	reg := channel.New(failingDialer{}, channel.WithLogger(discardLogger()))
	t.Cleanup(func() { reg.Close() })

	srv := webserver.New(newStore(t), refunds, webserver.Config{Enabled: true, Host: "127.0.0.1"}, discardLogger())
	refund := status.New(status.Config{Feature: status.Refund, Registry: reg, Broadcaster: srv, Logger: discardLogger()})
	video := status.New(status.Config{Feature: status.Video, Registry: reg, Broadcaster: srv, Logger: discardLogger()})
	srv.Track(refund, video)
	return srv, refund
}

func refundRequest(body string) *http.Request {
	req := httptest.NewRequest("POST", "/api/refunds", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestFeaturesEndpoint(t *testing.T) {
	srv, refund := newServer(t, nil)
	refund.SetStatus(status.Processing)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/features", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Features []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"features"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(resp.Features))
	}
	if resp.Features[0].Name != "refund" || resp.Features[0].Status != "processing" {
		t.Errorf("refund: %+v", resp.Features[0])
	}
	if resp.Features[1].Name != "video" || resp.Features[1].Status != "idle" {
		t.Errorf("video: %+v", resp.Features[1])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := newStore(t)
	store.InsertChannelEvent("refund", "ReceiveRefundStatus", "pending", "")
	store.InsertChannelEvent("refund", "ReceiveRefundStatus", "completed", "")
	srv := webserver.New(store, nil, webserver.Config{}, discardLogger())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/history?limit=1", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Events []db.ChannelEvent `json:"events"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Events) != 1 || resp.Events[0].Status != "completed" {
		t.Errorf("events: %+v", resp.Events)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/history?limit=abc", nil))
	if w.Code != 400 {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestRefundEndpoint_SetsProcessing(t *testing.T) {
	refunds := &fakeRefunder{}
	srv, refund := newServer(t, refunds)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, refundRequest(`{"paymentId":" 987 ","reason":"duplicado"}`))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(refunds.reqs) != 1 || refunds.reqs[0].PaymentID != "987" || refunds.reqs[0].Reason != "duplicado" {
		t.Errorf("requests: %+v", refunds.reqs)
	}
	if refund.Status() != status.Processing {
		t.Errorf("status: got %s want processing", refund.Status())
	}
}

func TestRefundEndpoint_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"missing payment", nil, `{"reason":"x"}`, 400},
		{"malformed", nil, `{`, 400},
		{"api error", &api.APIError{StatusCode: 409, Message: "Reembolso já solicitado"}, `{"paymentId":"1"}`, 409},
		{"transport", errors.New("dial tcp: refused"), `{"paymentId":"1"}`, 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, refund := newServer(t, &fakeRefunder{err: tc.err})
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, refundRequest(tc.body))
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if refund.Status() != status.Idle {
				t.Errorf("status changed to %s on error", refund.Status())
			}
		})
	}
}

func TestRefundEndpoint_Disabled(t *testing.T) {
	srv, _ := newServer(t, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, refundRequest(`{"paymentId":"1"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestRefundEndpoint_RejectsCrossSite(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{
			name: "cross-site form post",
			header: map[string]string{
				"Content-Type":   "text/plain",
				"Origin":         "https://evil.example",
				"Sec-Fetch-Site": "cross-site",
			},
			want: http.StatusForbidden,
		},
		{
			name: "foreign origin json",
			header: map[string]string{
				"Content-Type": "application/json",
				"Origin":       "https://evil.example",
			},
			want: http.StatusForbidden,
		},
		{
			name: "same-origin text body",
			header: map[string]string{
				"Content-Type":   "text/plain",
				"Sec-Fetch-Site": "same-origin",
			},
			want: http.StatusUnsupportedMediaType,
		},
		{
			name:   "no content type",
			header: map[string]string{},
			want:   http.StatusUnsupportedMediaType,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refunds := &fakeRefunder{}
			srv, refund := newServer(t, refunds)

			req := httptest.NewRequest("POST", "/api/refunds", strings.NewReader(`{"paymentId":"987"}`))
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if len(refunds.reqs) != 0 {
				t.Errorf("refund forwarded to backend: %+v", refunds.reqs)
			}
			if refund.Status() != status.Idle {
				t.Errorf("status changed to %s", refund.Status())
			}
		})
	}
}

func TestRefundEndpoint_SameOriginBrowser(t *testing.T) {
	refunds := &fakeRefunder{}
	srv, _ := newServer(t, refunds)

	req := refundRequest(`{"paymentId":"987"}`)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRefundEndpoint_KeepsEarlyTerminalStatus(t *testing.T) {
	refunds := &fakeRefunder{}
	srv, refund := newServer(t, refunds)
	// The hub reports completion before the backend answers the POST.
	refunds.during = func() { refund.SetStatus(status.Completed) }

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, refundRequest(`{"paymentId":"987"}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if refund.Status() != status.Completed {
		t.Errorf("status: got %s want completed", refund.Status())
	}
}

func TestSSE_SnapshotAndBroadcast(t *testing.T) {
	srv, refund := newServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}
	if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao != "" {
		t.Errorf("stream readable cross-origin: Access-Control-Allow-Origin=%q", acao)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() events.Event {
		t.Helper()
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var e events.Event
				if err := json.Unmarshal([]byte(data), &e); err != nil {
					t.Fatalf("decode %q: %v", data, err)
				}
				return e
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return events.Event{}
	}

	if e := next(); e.Type != events.TypeSnapshot {
		t.Fatalf("first event: %+v", e)
	}
	if e := next(); e.Type != events.TypeStatusChanged || e.Feature != "refund" || e.Status != "idle" {
		t.Errorf("refund snapshot: %+v", e)
	}
	if e := next(); e.Feature != "video" {
		t.Errorf("video snapshot: %+v", e)
	}

	refund.SetStatus(status.Processing)
	if e := next(); e.Type != events.TypeStatusChanged || e.Status != "processing" {
		t.Errorf("broadcast: %+v", e)
	}
}

func TestStaticIndex(t *testing.T) {
	srv, _ := newServer(t, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 200 || !strings.Contains(w.Body.String(), "EventSource") {
		t.Errorf("index: %d", w.Code)
	}
}

func TestStartDisabled(t *testing.T) {
	srv := webserver.New(nil, nil, webserver.Config{Enabled: false}, discardLogger())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestShutdownEndsSSE(t *testing.T) {
	srv, _ := newServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SSE stream still open after Shutdown")
	}
}
