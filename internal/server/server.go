// Package server provides the status HTTP server of the agent: readiness,
// room lifecycle, Prometheus metrics and a websocket feed of answer traces.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/session"
)

// StatusSource reports loader readiness.
type StatusSource interface {
	Snapshot() session.State
}

// SessionSource lists room sessions.
type SessionSource interface {
	Sessions() []session.RoomSession
}

// Deps are the components the server reports on. Metrics may be nil.
type Deps struct {
	Status   StatusSource
	Sessions SessionSource
	Metrics  *metrics.Metrics
	Version  string
}

type healthResponse struct {
	Status          string `json:"status"`
	GraphLoaded     bool   `json:"graph_loaded"`
	EmbeddingsReady bool   `json:"embeddings_ready"`
	Version         string `json:"version,omitempty"`
}

type roomsResponse struct {
	Rooms []session.RoomSession `json:"rooms"`
}

// NewHandler builds the routed, rate limited handler.
func NewHandler(cfg config.ServerConfig, deps Deps, hub *Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		state := deps.Status.Snapshot()
		resp := healthResponse{
			Status:          "loading",
			GraphLoaded:     state.GraphLoaded,
			EmbeddingsReady: state.EmbeddingsReady,
			Version:         deps.Version,
		}
		code := http.StatusServiceUnavailable
		if state.Ready() {
			resp.Status = "ready"
			code = http.StatusOK
		}
		writeJSON(w, code, resp)
	})

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, roomsResponse{Rooms: deps.Sessions.Sessions()})
	})
	mux.Handle("/api/", RequireAuth(apiMux, cfg.Token))

	mux.Handle("/metrics", deps.Metrics.Handler())

	// Origin validation guards the feed.
	mux.Handle("/ws", hub)

	// Rate limiting first, then security headers on every response.
	handler := RateLimitMiddleware(mux, NewRateLimiter(10.0, 20))
	return securityHeadersMiddleware(handler)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// Start listens on cfg.Addr() and serves until ctx is cancelled. It returns
// the address actually listened on (useful with port 0) and the trace hub.
func Start(ctx context.Context, cfg config.ServerConfig, deps Deps, logger *log.Logger) (string, *Hub, error) {
	if logger == nil {
		logger = log.Default()
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", cfg.Addr(), err)
	}
	addr := listener.Addr().String()

	port := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	hub := NewHub([]string{
		net.JoinHostPort(cfg.Host, port),
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port),
	}, logger)
	go hub.Run()

	srv := &http.Server{
		Handler:      NewHandler(cfg, deps, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server: shutdown: %v", err)
		}
		hub.Stop()
	}()

	logger.Printf("server: status server listening on http://%s", addr)
	return addr, hub, nil
}
