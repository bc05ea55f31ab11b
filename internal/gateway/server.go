// Package gateway serves the orchestrator over HTTP, streaming turns as
// Server-Sent Events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/timeline"
)

// TurnSource provides stored turn records.
type TurnSource interface {
	GetTurns(filter timeline.FilterArgs) ([]timeline.TurnEvent, error)
}

// Options configures optional collaborators of a Server.
type Options struct {
	Timeline TurnSource
	Version  string
}

// Server is the HTTP host of the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	cfg      config.GatewayConfig
	timeline TurnSource
	version  string
	started  time.Time
}

// New creates a gateway server.
func New(orch *orchestrator.Orchestrator, cfg config.GatewayConfig, opts Options) *Server {
	return &Server{
		orch:     orch,
		cfg:      cfg,
		timeline: opts.Timeline,
		version:  opts.Version,
		started:  time.Now(),
	}
}

// Handler returns the routed handler wrapped with CORS and auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/session/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/session/{id}/clear", s.handleClear)
	mux.HandleFunc("POST /api/session/{id}/step", s.handleStep)
	mux.HandleFunc("POST /api/session/{id}/profile", s.handleProfile)
	mux.HandleFunc("GET /api/session/{id}/turns", s.handleTurns)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/cost-analysis", s.handleCostAnalysis)
	return s.withCORS(s.withAuth(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	}
}

// RunJanitor evicts idle sessions every interval until ctx is cancelled.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	ttl := s.cfg.SessionIdleTTL
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 4
		if interval > 10*time.Minute {
			interval = 10 * time.Minute
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.orch.EvictIdle(ttl)
		}
	}
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	token := strings.TrimSpace(s.cfg.AuthToken)
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if got != token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.AllowOrigins))
	allowAll := false
	for _, o := range s.cfg.AllowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
