// Package dashboard serves the paper engine's state over HTTP: JSON
// snapshots on demand and a websocket that pushes them on an interval.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/ports"
)

const (
	DefaultPushInterval = 2 * time.Second
	writeWait           = 5 * time.Second
	DefaultPongWait     = 60 * time.Second
)

// Option customizes a Server.
type Option func(*Server)

// WithPongWait sets how long a stream may go without a pong. Pings are sent
// at nine tenths of it.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

// tokenView is the public form of a credential. The raw token never leaves
// the process.
type tokenView struct {
	Token      string     `json:"token"`
	Active     bool       `json:"active"`
	CallsMade  int        `json:"calls_made"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func toTokenViews(statuses []domain.Credential) []tokenView {
	out := make([]tokenView, 0, len(statuses))
	for _, s := range statuses {
		v := tokenView{
			Token:     s.Masked(),
			Active:    s.Active,
			CallsMade: s.CallsMade,
			LastError: s.LastError,
		}
		if !s.LastUsedAt.IsZero() {
			t := s.LastUsedAt
			v.LastUsedAt = &t
		}
		out = append(out, v)
	}
	return out
}

// Server exposes a SnapshotSource. It only ever reads copies.
type Server struct {
	src      ports.SnapshotSource
	push     time.Duration
	pongWait time.Duration
	upgrader websocket.Upgrader

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	quit chan struct{}
	once sync.Once
}

// New creates a dashboard. A non-positive push interval uses
// DefaultPushInterval.
func New(src ports.SnapshotSource, push time.Duration, opts ...Option) *Server {
	if push <= 0 {
		push = DefaultPushInterval
	}
	s := &Server{
		src:      src,
		push:     push,
		pongWait: DefaultPongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local display only; any origin may read.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/tokens", s.handleTokens)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dashboard.Start: listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dashboard: serve failed", "err", err)
		}
	}()
	slog.Info("dashboard: listening", "addr", ln.Addr().String(), "push", s.push)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and ends open websocket streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.quit) })

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard.Shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.src.Snapshot())
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, toTokenViews(s.src.Statuses()))
}

// handleWS pushes one snapshot right away and then one per push interval
// until the client goes away or the server shuts down. The server pings so
// that a client which never writes still keeps the read deadline moving.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("dashboard: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reading is only needed to notice close frames and collect pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()
	ping := time.NewTicker(s.pongWait * 9 / 10)
	defer ping.Stop()

	if !s.writeSnapshot(conn) {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !s.writeSnapshot(conn) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("dashboard: websocket ping failed", "err", err)
				return
			}
		case <-gone:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
		slog.Debug("dashboard: websocket write failed", "err", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("dashboard: encode response", "err", err)
	}
}
