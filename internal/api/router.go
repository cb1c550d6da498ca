package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/runner"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
	"github.com/Sophie-Williams/BerryBots/internal/storage"
)

// MatchQueue is the part of the runner the API uses.
type MatchQueue interface {
	Submit(job runner.Job) (uint64, error)
	Live() *game.Engine
}

// MatchStore is the part of the match store the API uses.
type MatchStore interface {
	Queue(ctx context.Context, job runner.Job) (*storage.MatchRecord, error)
	Get(ctx context.Context, matchID uint64) (*storage.MatchRecord, error)
	List(ctx context.Context, limit int) ([]storage.MatchRecord, error)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
type RouterConfig struct {
	Runner MatchQueue
	Store  MatchStore

	// Loader resolves script paths for validation.
	Loader *sandbox.Loader
	// Sandbox bounds validation dry-runs.
	Sandbox sandbox.Options

	// Spectators serves /ws/live when set.
	Spectators http.Handler

	// RateLimiter is used as-is when set; otherwise one is built from
	// RateLimitConfig, or DefaultRateLimitConfig.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	CORSOrigins []string
	AdminToken  string

	// ReplayTemplate is the page used for ?format=html replays.
	ReplayTemplate string

	Logger         zerolog.Logger
	DisableLogging bool
}

type routerHandlers struct {
	runner   MatchQueue
	store    MatchStore
	loader   *sandbox.Loader
	sandbox  sandbox.Options
	template string
	logger   zerolog.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
// It starts no goroutines other than the rate limiter's cleanup when it
// has to build one.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if !cfg.DisableLogging {
		r.Use(requestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TokenHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		runner:   cfg.Runner,
		store:    cfg.Store,
		loader:   cfg.Loader,
		sandbox:  cfg.Sandbox,
		template: cfg.ReplayTemplate,
		logger:   cfg.Logger,
	}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/matches", h.handleListMatches)
		r.Get("/matches/{id}", h.handleGetMatch)
		r.Get("/matches/{id}/replay", h.handleGetReplay)
		r.Get("/live", h.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(cfg.AdminToken))
			r.Post("/matches", h.handleCreateMatch)
			r.Post("/validate", h.handleValidate)
		})
	})

	if cfg.Spectators != nil {
		r.Handle("/ws/live", cfg.Spectators)
	}
	return r
}

// requestLogger logs each request through zerolog and feeds the HTTP
// metrics, labelled by route pattern.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			RecordRequest(r.Method, pattern, status, elapsed)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
