package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics keep bounded label sets: no per-team or per-match labels.
var (
	matchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "berrybots_matches_finished_total",
		Help: "Matches finished, by status",
	}, []string{"status"}) // finished, aborted, failed

	matchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "berrybots_match_duration_seconds",
		Help:    "Wall time per match",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	matchTicks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "berrybots_match_ticks",
		Help:    "Ticks played per match",
		Buckets: prometheus.ExponentialBuckets(100, 2, 10),
	})

	replayBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "berrybots_replay_bytes",
		Help:    "Serialized replay size",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	replayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "berrybots_replay_dropped_records_total",
		Help: "Replay records dropped because a category was full",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // rate_limit, origin, ws_total_limit, ws_ip_limit, auth

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active spectator sockets",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Snapshot frames broadcast to spectators",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled bool
	Port    int
	// External binds all interfaces instead of loopback.
	External      bool
	BasicAuthUser string
	BasicAuthPass string
}

// ListenAddr is the address the debug server binds.
func (c ObservabilityConfig) ListenAddr() string {
	host := "127.0.0.1"
	if c.External {
		host = ""
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DebugMux serves pprof, Prometheus metrics and a health check.
func DebugMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// StartDebugServer serves DebugMux in the background. The returned server
// can be shut down by the caller; it is nil when disabled.
func StartDebugServer(cfg ObservabilityConfig, logger zerolog.Logger) *http.Server {
	if !cfg.Enabled {
		logger.Info().Msg("Debug server disabled")
		return nil
	}

	var handler http.Handler = DebugMux()
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, handler)
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Debug server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("Debug server stopped")
		}
	}()
	return srv
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !tokenEqual(u, user) || !tokenEqual(p, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordMatch records a finished match. status is one of the storage
// statuses.
func RecordMatch(status string, duration time.Duration, ticks, replaySize, dropped int) {
	matchesFinished.WithLabelValues(status).Inc()
	if duration > 0 {
		matchDuration.Observe(duration.Seconds())
	}
	matchTicks.Observe(float64(ticks))
	replayBytes.Observe(float64(replaySize))
	if dropped > 0 {
		replayDropped.Add(float64(dropped))
	}
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates the spectator socket gauge
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments the frame counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
