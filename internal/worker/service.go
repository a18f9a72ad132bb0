// Package worker provides the HTTP gateway service for dadgar.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/config"
	dbgorm "github.com/parslaw/dadgar/internal/db/gorm"
	"github.com/parslaw/dadgar/internal/prompt"
	"github.com/parslaw/dadgar/internal/turn"
	"github.com/parslaw/dadgar/internal/worker/sse"
)

// Service is the gateway HTTP service: the turn endpoint, the decision
// audit endpoint, admin prompt management, the event feed, and health.
type Service struct {
	version   string
	config    *config.Settings
	store     *dbgorm.Store
	pipeline  *turn.Pipeline
	registry  *prompt.Registry
	events    *sse.Broadcaster
	router    chi.Router
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

type ServiceDeps struct {
	Version  string
	Config   *config.Settings
	Store    *dbgorm.Store
	Pipeline *turn.Pipeline
	Registry *prompt.Registry
}

func NewService(deps ServiceDeps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		version:   deps.Version,
		config:    deps.Config,
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		registry:  deps.Registry,
		events:    sse.NewBroadcaster(),
		router:    chi.NewRouter(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.events.Handle)

		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Post("/turns", s.handleTurn)
			r.Get("/decisions", s.handleDecisions)
		})

		r.Route("/admin/prompts", func(r chi.Router) {
			r.Get("/", s.handleListPrompts)
			r.Get("/{promptID}", s.handleGetPrompt)
			r.Put("/{promptID}", s.handleUpdatePrompt)
			r.Post("/{promptID}/reset", s.handleResetPrompt)
		})
	})
}

// Start runs the HTTP server until the context is cancelled.
func (s *Service) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ready.Store(true)

	log.Info().Str("addr", addr).Str("version", s.version).Msg("gateway listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Events exposes the gateway's event feed for publishing.
func (s *Service) Events() *sse.Broadcaster {
	return s.events
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
