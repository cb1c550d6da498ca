// Command arena plays a single match headless, prints the results and
// writes the replay.
//
//	arena [flags] <stage> <ship> [ship...]
//
// Script paths are relative to the configured scripts root.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/logging"
	"github.com/Sophie-Williams/BerryBots/internal/render"
	"github.com/Sophie-Williams/BerryBots/internal/replay"
	"github.com/Sophie-Williams/BerryBots/internal/runner"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
	"github.com/Sophie-Williams/BerryBots/internal/storage"
)

type options struct {
	configDir string
	seed      int64
	maxTicks  int
	tps       int
	noReplay  bool
	noStore   bool
	png       string
	pngWidth  int
	events    string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configDir, "config", ".", "directory holding berrybots.{yaml,json,toml}")
	flag.Int64Var(&opts.seed, "seed", 0, "match seed (0 keeps the configured seed)")
	flag.IntVar(&opts.maxTicks, "max-ticks", 0, "tick limit (0 keeps the configured limit)")
	flag.IntVar(&opts.tps, "tps", -1, "ticks per second (0 runs unthrottled, -1 keeps the configured rate)")
	flag.BoolVar(&opts.noReplay, "no-replay", false, "do not write a replay file")
	flag.BoolVar(&opts.noStore, "no-store", false, "do not record the match in the database")
	flag.StringVar(&opts.png, "png", "", "write a PNG of the final frame to this path")
	flag.IntVar(&opts.pngWidth, "png-width", 800, "width of the PNG in pixels")
	flag.StringVar(&opts.events, "events", "", "directory for the JSONL event log")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <stage> <ship> [ship...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		return 2
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	applyFlags(&cfg, opts)

	logger := logging.New(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := runner.Job{Stage: flag.Arg(0), Ships: flag.Args()[1:]}

	var store *storage.Store
	if !opts.noStore {
		store, err = storage.Open(cfg.Storage, logging.Component(logger, "storage"))
		if err != nil {
			logger.Error().Err(err).Msg("Opening match database failed; results will not be stored")
		} else {
			defer store.Close()
			if job.ID, err = store.NextID(ctx); err != nil {
				logger.Warn().Err(err).Msg("Reading next match id failed")
			}
		}
	}

	var listeners []game.Listener
	var thumb *render.Thumbnail
	if opts.png != "" {
		thumb = render.NewThumbnail(cfg.Physics)
		listeners = append(listeners, thumb)
	}

	loader := sandbox.NewLoader(cfg.Sandbox.ScriptsRoot)
	out := runner.Play(ctx, cfg, loader, job, logger, nil, listeners...)

	code := 0
	switch {
	case errors.Is(out.Err, game.ErrAborted):
		logger.Warn().Msg("Match aborted")
		code = 130
	case out.Err != nil:
		logger.Error().Err(out.Err).Msg("Match failed")
		code = 1
	}

	if len(out.Results.Teams) > 0 {
		if err := out.Results.Print(os.Stdout); err != nil {
			logger.Error().Err(err).Msg("Printing results failed")
		}
	}

	if !opts.noReplay && out.Replay != "" {
		writeReplay(cfg.Replay, out, logger)
	}
	if thumb != nil && out.Results.Ticks > 0 {
		if err := thumb.SavePNG(opts.png, opts.pngWidth); err != nil {
			logger.Error().Err(err).Msg("Writing PNG failed")
		} else {
			logger.Info().Str("path", opts.png).Msg("Final frame saved")
		}
	}

	if store != nil {
		// The match context may already be cancelled.
		if _, err := store.Record(context.Background(), out); err != nil {
			logger.Error().Err(err).Msg("Recording match failed")
		} else {
			logger.Info().Uint64("match", job.ID).Msg("Match recorded")
		}
	}
	return code
}

func applyFlags(cfg *config.AppConfig, opts options) {
	if opts.seed != 0 {
		cfg.Match.Seed = opts.seed
	}
	if opts.maxTicks > 0 {
		cfg.Match.MaxTicks = opts.maxTicks
	}
	if opts.tps >= 0 {
		cfg.Match.TPS = opts.tps
	}
	if opts.events != "" {
		cfg.Runner.EventLogDir = opts.events
	}
}

func writeReplay(cfg config.ReplayConfig, out runner.Outcome, logger zerolog.Logger) {
	tmpl, err := replay.LoadTemplate(cfg.TemplatePath)
	if err != nil {
		logger.Error().Err(err).Msg("Loading replay template failed")
		return
	}

	teams := slices.Clone(out.Results.Teams)
	slices.SortFunc(teams, func(a, b game.TeamResult) int { return cmp.Compare(a.Index, b.Index) })
	names := make([]string, len(teams))
	for i, t := range teams {
		names[i] = t.Name
	}

	path, err := replay.WriteFile(cfg.OutputDir, replay.FileName(names), tmpl, out.Replay)
	if err != nil {
		logger.Error().Err(err).Msg("Writing replay failed")
		return
	}
	logger.Info().Str("path", path).Int("dropped", out.Dropped).Msg("Replay saved")
}
