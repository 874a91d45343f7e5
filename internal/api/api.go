// Package api provides the HTTP server for CalorieCoach.
//
// It exposes session, turn and profile endpoints backed by the coaching pipeline,
// the keyword food table, a health check, and the Twilio inbound webhook when
// that chat channel is active.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/BTreeMap/CalorieCoach/internal/coach"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	maxRequestBodyBytes = 1 << 20
)

// Opts holds configuration for the HTTP server.
type Opts struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	Webhook         http.HandlerFunc // inbound chat webhook, mounted at /twilio/webhook when set
}

// Option defines a configuration option for the HTTP server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithCORSOrigins enables CORS for the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) {
		o.CORSOrigins = origins
	}
}

// WithShutdownTimeout sets how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// WithWebhook mounts an inbound message webhook.
func WithWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.Webhook = h
	}
}

// Server serves the CalorieCoach HTTP API.
type Server struct {
	sessions     *coach.SessionStore
	orchestrator *coach.Orchestrator
	opts         Opts
	startedAt    time.Time
}

// NewServer creates a Server over the given session store and orchestrator.
func NewServer(sessions *coach.SessionStore, orchestrator *coach.Orchestrator, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	slog.Debug("NewServer: server configured", "addr", cfg.Addr, "cors_origins", len(cfg.CORSOrigins), "webhook", cfg.Webhook != nil)
	return &Server{
		sessions:     sessions,
		orchestrator: orchestrator,
		opts:         cfg,
		startedAt:    time.Now(),
	}
}

// Handler returns the routed handler, wrapped with CORS when origins are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("GET /sessions/{id}/messages", s.messagesHandler)
	mux.HandleFunc("POST /sessions/{id}/turns", s.turnHandler)
	mux.HandleFunc("GET /sessions/{id}/profile", s.getProfileHandler)
	mux.HandleFunc("PUT /sessions/{id}/profile", s.updateProfileHandler)
	mux.HandleFunc("DELETE /sessions/{id}/profile", s.clearProfileHandler)
	mux.HandleFunc("PUT /sessions/{id}/intensity", s.intensityHandler)
	mux.HandleFunc("GET /foods", s.foodsHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.opts.Webhook != nil {
		mux.HandleFunc("POST /twilio/webhook", s.opts.Webhook)
	}

	if len(s.opts.CORSOrigins) == 0 {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: CalorieCoach API listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down", "timeout", s.opts.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	}
}
