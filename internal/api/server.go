package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

// SnapshotInterval is how often the live match is sampled for spectators.
const SnapshotInterval = 50 * time.Millisecond

// Server is the HTTP API server with spectator websocket support.
type Server struct {
	runner      MatchQueue
	router      *chi.Mux
	hub         *SpectatorHub
	rateLimiter *IPRateLimiter
	logger      zerolog.Logger

	httpServer *http.Server
	hubCtx     context.Context
	stopHub    context.CancelFunc
	hubDone    chan struct{}
	started    atomic.Bool
}

// NewServer creates the API server.
//
// Background workers other than the rate limiter's cleanup do not start
// until Start is called, so tests can use Router directly.
func NewServer(app config.AppConfig, queue MatchQueue, store MatchStore, replayTemplate string, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	s := &Server{
		runner:      queue,
		rateLimiter: NewIPRateLimiter(RateLimitFrom(app.Server)),
		logger:      logger,
	}
	s.hub = NewSpectatorHub(app.Server.MaxSpectators, NewOriginMatcher(app.Server.AllowedOrigins), logger)

	s.router = NewRouter(RouterConfig{
		Runner:         queue,
		Store:          store,
		Loader:         sandbox.NewLoader(app.Sandbox.ScriptsRoot),
		Sandbox:        sandbox.OptionsFrom(app.Sandbox),
		Spectators:     s.hub,
		RateLimiter:    s.rateLimiter,
		CORSOrigins:    app.Server.AllowedOrigins,
		AdminToken:     app.Server.AdminToken,
		ReplayTemplate: replayTemplate,
		Logger:         logger,
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.hubCtx, s.stopHub = context.WithCancel(context.Background())
	s.hubDone = make(chan struct{})
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the spectator hub.
func (s *Server) Hub() *SpectatorHub {
	return s.hub
}

// Start begins broadcasting the live match and serving HTTP. It blocks
// until the listener fails or Shutdown is called; the latter returns nil.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}
	go func() {
		defer close(s.hubDone)
		s.hub.Run(s.hubCtx, s.runner.Live, SnapshotInterval)
	}()

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes spectators and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopHub()
	if s.started.Load() {
		select {
		case <-s.hubDone:
		case <-ctx.Done():
		}
	}
	s.rateLimiter.Stop()
	return err
}
