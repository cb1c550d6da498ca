// Command server hosts the match queue behind an HTTP API and streams the
// live match to websocket spectators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Sophie-Williams/BerryBots/internal/api"
	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/logging"
	"github.com/Sophie-Williams/BerryBots/internal/replay"
	"github.com/Sophie-Williams/BerryBots/internal/runner"
	"github.com/Sophie-Williams/BerryBots/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := flag.String("config", ".", "directory holding berrybots.{yaml,json,toml}")
	flag.Parse()

	// Load .env from the parent directory first, then the working directory.
	if err := godotenv.Load("../.env"); err != nil {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		}
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	if err := serve(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server stopped")
		os.Exit(1)
	}
}

func serve(cfg config.AppConfig, logger zerolog.Logger) error {
	store, err := storage.Open(cfg.Storage, logging.Component(logger, "storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	next, err := store.NextID(context.Background())
	if err != nil {
		return err
	}

	tmpl, err := replay.LoadTemplate(cfg.Replay.TemplatePath)
	if err != nil {
		return err
	}

	matches, err := runner.New(cfg, logger)
	if err != nil {
		return err
	}
	matches.StartIDsAt(next)
	matches.Start()

	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		recordOutcomes(store, matches.Results(), logger)
	}()

	debug := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:       cfg.Server.DebugPort > 0,
		Port:          cfg.Server.DebugPort,
		External:      cfg.Server.DebugExternal,
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}, logger)

	srv := api.NewServer(cfg, matches, store, tmpl, logger)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	if cfg.Server.AdminToken == "" {
		logger.Warn().Msg("No admin token configured; anyone can queue matches")
	}
	logger.Info().
		Int("port", cfg.Server.Port).
		Int("threads", cfg.Runner.Threads).
		Uint64("next_match", next).
		Msg("BerryBots server ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("Shutting down")
	case err = <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}
	matches.Abort()
	select {
	case <-recorded:
	case <-ctx.Done():
		logger.Warn().Msg("Gave up waiting for matches to be recorded")
	}
	if debug != nil {
		_ = debug.Shutdown(ctx)
	}
	return err
}

// recordOutcomes stores every finished match and feeds the match metrics.
func recordOutcomes(store *storage.Store, outcomes <-chan runner.Outcome, logger zerolog.Logger) {
	for out := range outcomes {
		status := storage.StatusFailed
		rec, err := store.Record(context.Background(), out)
		if err != nil {
			logger.Error().Err(err).Uint64("match", out.Job.ID).Msg("Recording match failed")
		} else {
			status = rec.Status
		}

		var elapsed time.Duration
		if !out.Started.IsZero() {
			elapsed = out.Finished.Sub(out.Started)
		}
		api.RecordMatch(status, elapsed, out.Results.Ticks, len(out.Replay), out.Dropped)

		logger.Info().
			Uint64("match", out.Job.ID).
			Str("status", status).
			Str("winner", out.Results.Winner).
			Int("ticks", out.Results.Ticks).
			Dur("elapsed", elapsed).
			Msg("Match finished")
	}
}
