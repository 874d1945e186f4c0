package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/coursedesk/internal/api"
	"github.com/zsprackett/coursedesk/internal/db"
	"github.com/zsprackett/coursedesk/internal/events"
	"github.com/zsprackett/coursedesk/internal/status"
)

const (
	keepAliveInterval = 30 * time.Second
	defaultHistory    = 50
	maxHistory        = 500
)

type Config struct {
	Enabled bool
	Port    int
	Host    string
}

// Refunder submits refund requests to the backend. *api.Client satisfies it.
type Refunder interface {
	RequestRefund(ctx context.Context, req api.RefundRequest) (*api.Refund, error)
}

type Server struct {
	store      *db.DB
	refunds    Refunder
	projectors []*status.Projector
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[chan events.Event]struct{}
	srv     *http.Server

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds the relay. store and refunds may be nil; the matching routes
// then answer 503.
func New(store *db.DB, refunds Refunder, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   store,
		refunds: refunds,
		cfg:     cfg,
		logger:  logger.WithGroup("relay"),
		clients: make(map[chan events.Event]struct{}),
		quit:    make(chan struct{}),
	}
}

// Track adds projectors whose status is reported by /api/features and the
// SSE snapshot. Call before Start.
func (s *Server) Track(projectors ...*status.Projector) {
	s.mu.Lock()
	s.projectors = append(s.projectors, projectors...)
	s.mu.Unlock()
}

// Broadcast implements events.Broadcaster. Slow clients miss events rather
// than block the caller.
func (s *Server) Broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Server) addClient(ch chan events.Event) {
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(ch chan events.Event) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *Server) projector(name string) *status.Projector {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projectors {
		if p.Feature().Name == name {
			return p
		}
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/refunds", s.handleRefund)
	mux.HandleFunc("GET /events", s.handleSSE)
	mux.Handle("GET /", http.FileServer(staticFiles()))
	return http.NewCrossOriginProtection().Handler(mux)
}

// Start listens in the background. It returns once the listener is bound so
// address errors surface to the caller.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", addr, err)
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "err", err)
		}
	}()
	return nil
}

// Shutdown ends open SSE streams and stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

type featureStatus struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Status  string `json:"status"`
	Active  bool   `json:"active"`
}

func (s *Server) snapshot() []featureStatus {
	s.mu.Lock()
	projectors := append([]*status.Projector(nil), s.projectors...)
	s.mu.Unlock()

	out := make([]featureStatus, 0, len(projectors))
	for _, p := range projectors {
		f := p.Feature()
		out = append(out, featureStatus{
			Name:    f.Name,
			Channel: string(f.Channel),
			Event:   f.Event,
			Status:  string(p.Status()),
			Active:  p.Active(),
		})
	}
	return out
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"features": s.snapshot()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistory)
	}
	rows, err := s.store.RecentChannelEvents(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []db.ChannelEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": rows})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	if s.refunds == nil {
		http.Error(w, "refunds disabled", http.StatusServiceUnavailable)
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	var body struct {
		PaymentID string `json:"paymentId"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body.PaymentID = strings.TrimSpace(body.PaymentID)
	if body.PaymentID == "" {
		http.Error(w, "paymentId is required", http.StatusBadRequest)
		return
	}

	// Processing goes first so a terminal event that arrives before the
	// response is not overwritten.
	p := s.projector(status.Refund.Name)
	if p != nil {
		p.SetStatus(status.Processing)
	}
	refund, err := s.refunds.RequestRefund(r.Context(), api.RefundRequest{
		PaymentID: body.PaymentID,
		Reason:    body.Reason,
	})
	if err != nil {
		if p != nil {
			p.SetStatus(status.Idle)
		}
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			http.Error(w, apiErr.Message, apiErr.StatusCode)
			return
		}
		s.logger.Warn("refund request failed", "payment_id", body.PaymentID, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, refund)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	ch := make(chan events.Event, 16)
	s.addClient(ch)
	defer s.removeClient(ch)

	now := time.Now().UTC()
	writeSSE(w, flusher, events.Event{Type: events.TypeSnapshot, At: now})
	for _, f := range s.snapshot() {
		writeSSE(w, flusher, events.Event{
			Type:    events.TypeStatusChanged,
			Feature: f.Name,
			Status:  f.Status,
			At:      now,
		})
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		case e := <-ch:
			writeSSE(w, flusher, e)
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
