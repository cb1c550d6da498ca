// Package runner queues matches and plays them on a fixed pool of workers,
// each match with its own engine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/replay"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

const instrumentationName = "github.com/Sophie-Williams/BerryBots/internal/runner"

var (
	// ErrClosed is returned by Submit after Close or Abort.
	ErrClosed = errors.New("runner: closed")
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("runner: queue full")
)

// Job describes one match. Stage and Ships are paths under the scripts root.
type Job struct {
	ID    uint64
	Stage string
	Ships []string
	// Live paces the match at the server's live TPS and exposes its engine
	// to spectators.
	Live bool
}

// Outcome is a finished match.
type Outcome struct {
	Job      Job
	Results  game.Results
	Replay   string
	Dropped  int
	Err      error
	Started  time.Time
	Finished time.Time
}

// Runner plays queued jobs on Threads workers. Outcomes are delivered in
// completion order.
type Runner struct {
	cfg    config.AppConfig
	loader *sandbox.Loader
	logger zerolog.Logger

	jobs    chan Job
	results chan Outcome
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	nextID  atomic.Uint64

	mu      sync.Mutex
	closed  bool
	started bool
	live    *game.Engine

	queued    metric.Int64Counter
	completed metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates a runner. Call Start to launch the workers.
func New(cfg config.AppConfig, logger zerolog.Logger) (*Runner, error) {
	m := otel.Meter(instrumentationName)
	queued, err := m.Int64Counter("runner.matches.queued",
		metric.WithDescription("Matches accepted into the queue"))
	if err != nil {
		return nil, fmt.Errorf("creating queued counter: %w", err)
	}
	completed, err := m.Int64Counter("runner.matches.completed",
		metric.WithDescription("Matches finished, by status"))
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}
	duration, err := m.Float64Histogram("runner.match.duration",
		metric.WithDescription("Wall time per match"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	queue := cfg.Runner.QueueSize
	if queue < 1 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:       cfg,
		loader:    sandbox.NewLoader(cfg.Sandbox.ScriptsRoot),
		logger:    logger.With().Str("component", "runner").Logger(),
		jobs:      make(chan Job, queue),
		results:   make(chan Outcome, queue),
		ctx:       ctx,
		cancel:    cancel,
		queued:    queued,
		completed: completed,
		duration:  duration,
	}, nil
}

// Start launches the workers. It is a no-op when already started.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	threads := r.cfg.Runner.Threads
	if threads < 1 {
		threads = 1
	}
	for i := 0; i < threads; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info().Int("threads", threads).Msg("Runner started")
}

// Submit queues a job and returns its ID. It never blocks.
func (r *Runner) Submit(job Job) (uint64, error) {
	if job.Stage == "" || len(job.Ships) == 0 {
		return 0, fmt.Errorf("runner: job needs a stage and at least one ship")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if job.ID == 0 {
		job.ID = r.nextID.Add(1)
	}
	select {
	case r.jobs <- job:
		r.queued.Add(context.Background(), 1)
		return job.ID, nil
	default:
		return 0, ErrQueueFull
	}
}

// StartIDsAt makes the next assigned job ID first.
func (r *Runner) StartIDsAt(first uint64) {
	if first > 0 {
		r.nextID.Store(first - 1)
	}
}

// Results delivers outcomes until Close or Abort has drained the workers.
func (r *Runner) Results() <-chan Outcome { return r.results }

// Live returns the engine of the live match in progress, or nil.
func (r *Runner) Live() *game.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Close stops accepting jobs, lets queued ones finish, then closes Results.
func (r *Runner) Close() {
	r.shutdown(false)
}

// Abort stops accepting jobs and cancels every in-flight and queued match.
func (r *Runner) Abort() {
	r.shutdown(true)
}

func (r *Runner) shutdown(abort bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if abort {
			r.cancel()
		}
		return
	}
	r.closed = true
	started := r.started
	close(r.jobs)
	r.mu.Unlock()

	if abort {
		r.cancel()
	}
	if !started {
		for job := range r.jobs {
			r.results <- Outcome{Job: job, Err: game.ErrAborted}
		}
	}
	go func() {
		r.wg.Wait()
		r.cancel()
		close(r.results)
	}()
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	logger := r.logger.With().Int("worker", id).Logger()

	for job := range r.jobs {
		if r.ctx.Err() != nil {
			r.finish(Outcome{Job: job, Err: game.ErrAborted})
			continue
		}
		logger.Debug().Uint64("match", job.ID).Str("stage", job.Stage).Msg("Match starting")
		out := r.play(job, logger)
		r.finish(out)
	}
}

func (r *Runner) finish(out Outcome) {
	status := "ok"
	switch {
	case errors.Is(out.Err, game.ErrAborted):
		status = "aborted"
	case out.Err != nil:
		status = "error"
	}
	r.completed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	if !out.Started.IsZero() {
		r.duration.Record(context.Background(), out.Finished.Sub(out.Started).Seconds())
	}
	r.results <- out
}

func (r *Runner) play(job Job, logger zerolog.Logger) Outcome {
	cfg := r.cfg
	if job.Live {
		cfg.Match.TPS = cfg.Server.LiveTPS
	}
	track := func(e *game.Engine) {
		if !job.Live {
			return
		}
		r.mu.Lock()
		r.live = e
		r.mu.Unlock()
	}
	out := Play(r.ctx, cfg, r.loader, job, logger, track)
	if job.Live {
		r.mu.Lock()
		r.live = nil
		r.mu.Unlock()
	}
	return out
}

// Play runs a single job to completion on the calling goroutine. ready, if
// non-nil, is called with the engine once the match has started. extra
// listeners are registered after the replay builder.
func Play(ctx context.Context, cfg config.AppConfig, loader *sandbox.Loader, job Job, logger zerolog.Logger, ready func(*game.Engine), extra ...game.Listener) Outcome {
	out := Outcome{Job: job, Started: time.Now()}
	matchLog := logger.With().Uint64("match", job.ID).Logger()
	e, err := game.NewEngine(game.ConfigFrom(cfg), matchLog)
	if err != nil {
		out.Err = err
		out.Finished = time.Now()
		return out
	}
	defer e.Close()
	builder := replay.NewBuilder(cfg.Replay)
	e.AddListener(builder)
	for _, l := range extra {
		e.AddListener(l)
	}

	if dir := cfg.Runner.EventLogDir; dir != "" {
		el, err := game.OpenEventLog(filepath.Join(dir, fmt.Sprintf("match-%d.jsonl", job.ID)))
		if err != nil {
			matchLog.Warn().Err(err).Msg("Event log disabled")
		} else {
			e.AddListener(el)
			defer func() {
				if err := el.Stop(); err != nil {
					matchLog.Warn().Err(err).Msg("Event log incomplete")
				}
				if n := el.Dropped(); n > 0 {
					matchLog.Warn().Uint64("dropped", n).Msg("Event log records dropped")
				}
			}()
		}
	}

	stage, err := loader.Load(job.Stage)
	if err != nil {
		out.Err = err
		out.Finished = time.Now()
		return out
	}
	if err := e.LoadStage(stage); err != nil {
		out.Err = err
		out.Finished = time.Now()
		return out
	}

	var rejected []error
	for _, path := range job.Ships {
		src, err := loader.Load(path)
		if err == nil {
			err = e.AddTeam(src)
		}
		if err != nil {
			matchLog.Warn().Err(err).Str("ship", path).Msg("Team rejected")
			rejected = append(rejected, err)
		}
	}
	if err := e.Start(ctx); err != nil {
		out.Err = errors.Join(append(rejected, err)...)
		out.Finished = time.Now()
		return out
	}
	if ready != nil {
		ready(e)
	}

	out.Results, out.Err = e.Run(ctx)
	out.Replay = builder.String()
	out.Dropped = builder.Dropped()
	if out.Dropped > 0 {
		matchLog.Warn().Int("dropped", out.Dropped).Msg("Replay records dropped")
	}
	out.Finished = time.Now()
	return out
}
