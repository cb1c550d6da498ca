// Package storage keeps match records in a sqlite database through gorm.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/runner"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("storage: match not found")

// Match statuses.
const (
	StatusQueued   = "queued"
	StatusFinished = "finished"
	StatusAborted  = "aborted"
	StatusFailed   = "failed"
)

// MatchRecord is one queued or played match.
type MatchRecord struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	MatchID    uint64         `gorm:"uniqueIndex" json:"id"`
	Status     string         `gorm:"size:16;index" json:"status"`
	Stage      string         `json:"stage"`
	Ships      datatypes.JSON `json:"ships"`
	Winner     string         `json:"winner,omitempty"`
	Ticks      int            `json:"ticks"`
	Error      string         `json:"error,omitempty"`
	Results    datatypes.JSON `json:"results,omitempty"`
	Replay     string         `gorm:"type:text" json:"-"`
	Dropped    int            `json:"droppedRecords"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// DecodeResults unpacks the stored standings.
func (r *MatchRecord) DecodeResults() (game.Results, error) {
	var res game.Results
	if len(r.Results) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(r.Results, &res); err != nil {
		return res, fmt.Errorf("decoding results of match %d: %w", r.MatchID, err)
	}
	return res, nil
}

// ShipList unpacks the stored ship paths.
func (r *MatchRecord) ShipList() []string {
	var ships []string
	_ = json.Unmarshal(r.Ships, &ships)
	return ships
}

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects to the sqlite database named by cfg.DSN and migrates the
// schema. An empty DSN uses a private in-memory database.
func Open(cfg config.StorageConfig, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "storage").Logger()

	dsn := cfg.DSN
	memory := dsn == ""
	if memory {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: logger.New(gormWriter{log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", dsn, err)
	}

	if memory {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("accessing sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	log.Info().Str("dsn", dsn).Msg("Match store ready")
	return &Store{db: db, logger: log}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Queue records a submitted job. It never overwrites an existing record, so
// a match that finishes before its queue entry is written stays finished.
func (s *Store) Queue(ctx context.Context, job runner.Job) (*MatchRecord, error) {
	ships, err := json.Marshal(job.Ships)
	if err != nil {
		return nil, err
	}
	rec := &MatchRecord{
		MatchID: job.ID,
		Status:  StatusQueued,
		Stage:   job.Stage,
		Ships:   datatypes.JSON(ships),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("queueing match %d: %w", rec.MatchID, err)
	}
	return rec, nil
}

// Record stores a finished match, replacing its queued entry.
func (s *Store) Record(ctx context.Context, out runner.Outcome) (*MatchRecord, error) {
	ships, err := json.Marshal(out.Job.Ships)
	if err != nil {
		return nil, err
	}
	results, err := json.Marshal(out.Results)
	if err != nil {
		return nil, err
	}

	rec := &MatchRecord{
		MatchID: out.Job.ID,
		Status:  StatusFinished,
		Stage:   out.Job.Stage,
		Ships:   datatypes.JSON(ships),
		Winner:  out.Results.Winner,
		Ticks:   out.Results.Ticks,
		Results: datatypes.JSON(results),
		Replay:  out.Replay,
		Dropped: out.Dropped,
	}
	switch {
	case errors.Is(out.Err, game.ErrAborted):
		rec.Status = StatusAborted
	case out.Err != nil:
		rec.Status = StatusFailed
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if !out.Started.IsZero() {
		started, finished := out.Started, out.Finished
		rec.StartedAt, rec.FinishedAt = &started, &finished
	}

	if err := s.upsert(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Debug().Uint64("match", rec.MatchID).Str("status", rec.Status).Msg("Match recorded")
	return rec, nil
}

func (s *Store) upsert(ctx context.Context, rec *MatchRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "stage", "ships", "winner", "ticks", "error", "results",
			"replay", "dropped", "started_at", "finished_at", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("saving match %d: %w", rec.MatchID, err)
	}
	return nil
}

// Get loads one match including its replay.
func (s *Store) Get(ctx context.Context, matchID uint64) (*MatchRecord, error) {
	var rec MatchRecord
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading match %d: %w", matchID, err)
	}
	return &rec, nil
}

// List returns the most recent matches first, without replays.
func (s *Store) List(ctx context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []MatchRecord
	err := s.db.WithContext(ctx).
		Omit("replay").
		Order("match_id desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	return recs, nil
}

// NextID returns one more than the highest stored match ID, so that a
// restarted server does not reuse IDs.
func (s *Store) NextID(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.db.WithContext(ctx).Model(&MatchRecord{}).
		Select("COALESCE(MAX(match_id), 0)").Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("reading last match id: %w", err)
	}
	return last + 1, nil
}

// gormWriter sends gorm's own log lines to zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Msgf(format, args...)
}
