package game

import (
	"slices"
	"sync/atomic"
	"time"
)

// SnapshotLimits caps the per-snapshot slices so a runaway script cannot
// make spectator frames grow without bound.
type SnapshotLimits struct {
	MaxLasers    int
	MaxTorpedoes int
	MaxEvents    int
}

// DefaultLimits provides production-safe default limits
var DefaultLimits = SnapshotLimits{
	MaxLasers:    512,
	MaxTorpedoes: 128,
	MaxEvents:    256,
}

// TeamStatus is a team's standing at snapshot time.
type TeamStatus struct {
	Index    int     `json:"index" msgpack:"i"`
	Name     string  `json:"name" msgpack:"n"`
	Alive    int     `json:"alive" msgpack:"a"`
	Score    float64 `json:"score" msgpack:"s"`
	Disabled bool    `json:"disabled" msgpack:"d"`
	Reason   string  `json:"reason,omitempty" msgpack:"r,omitempty"`
}

// GameSnapshot is a complete immutable game state for rendering.
type GameSnapshot struct {
	Sequence  uint64    `json:"sequence" msgpack:"seq"`
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
	Tick      int       `json:"tick" msgpack:"tick"`
	State     string    `json:"state" msgpack:"state"`
	Width     float64   `json:"width" msgpack:"w"`
	Height    float64   `json:"height" msgpack:"h"`

	Ships     []ShipState          `json:"ships" msgpack:"ships"`
	Lasers    []ProjectileSnapshot `json:"lasers" msgpack:"lasers"`
	Torpedoes []ProjectileSnapshot `json:"torpedoes" msgpack:"torps"`
	Events    []Event              `json:"events" msgpack:"events"` // raised during this tick
	Teams     []TeamStatus         `json:"teams" msgpack:"teams"`
	Gfx       GfxSnapshot          `json:"gfx" msgpack:"gfx"`
}

// Clone deep-copies the snapshot so it can leave the engine goroutine.
func (s *GameSnapshot) Clone() GameSnapshot {
	c := *s
	c.Ships = slices.Clone(s.Ships)
	c.Lasers = slices.Clone(s.Lasers)
	c.Torpedoes = slices.Clone(s.Torpedoes)
	c.Events = slices.Clone(s.Events)
	c.Teams = slices.Clone(s.Teams)
	c.Gfx = GfxSnapshot{
		LaserHits:   slices.Clone(s.Gfx.LaserHits),
		TorpedoHits: slices.Clone(s.Gfx.TorpedoHits),
		Blasts:      slices.Clone(s.Gfx.Blasts),
		Deaths:      slices.Clone(s.Gfx.Deaths),
	}
	return c
}

// SnapshotPool rotates three pre-allocated snapshots: the published one,
// the one being filled and a spare. AcquireWrite must run under the owner's
// write lock and readers copy under its read lock, so a slot is never
// refilled while a reader is still copying it. Filling and publishing need
// no lock.
type SnapshotPool struct {
	snapshots [3]GameSnapshot
	limits    SnapshotLimits
	writeIdx  uint32 // atomic - producer index
	readIdx   uint32 // atomic - consumer index
	sequence  uint64 // atomic - monotonic sequence
}

// NewSnapshotPool creates a pool with pre-allocated slices
func NewSnapshotPool(limits SnapshotLimits) *SnapshotPool {
	pool := &SnapshotPool{limits: limits}
	for i := range pool.snapshots {
		pool.snapshots[i] = GameSnapshot{
			Lasers:    make([]ProjectileSnapshot, 0, limits.MaxLasers),
			Torpedoes: make([]ProjectileSnapshot, 0, limits.MaxTorpedoes),
			Events:    make([]Event, 0, limits.MaxEvents),
		}
	}
	return pool
}

// AcquireWrite claims the slot after the published one and resets its
// slices, keeping their capacity.
func (p *SnapshotPool) AcquireWrite() *GameSnapshot {
	idx := (atomic.LoadUint32(&p.readIdx) + 1) % 3
	atomic.StoreUint32(&p.writeIdx, idx)
	snap := &p.snapshots[idx]

	snap.Ships = snap.Ships[:0]
	snap.Lasers = snap.Lasers[:0]
	snap.Torpedoes = snap.Torpedoes[:0]
	clear(snap.Events)
	snap.Events = snap.Events[:0]
	snap.Teams = snap.Teams[:0]

	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite makes the slot claimed by AcquireWrite the published one.
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead gets the latest complete snapshot.
func (p *SnapshotPool) AcquireRead() *GameSnapshot {
	return &p.snapshots[atomic.LoadUint32(&p.readIdx)%3]
}

// Limits returns the resource limits.
func (p *SnapshotPool) Limits() SnapshotLimits { return p.limits }

// publishSnapshot captures the world after a tick for concurrent readers.
func (e *Engine) publishSnapshot() {
	if e.world == nil {
		return
	}
	e.snapMu.Lock()
	snap := e.snapshots.AcquireWrite()
	e.snapMu.Unlock()

	w := e.world
	limits := e.snapshots.Limits()
	snap.Tick = w.tick
	snap.State = e.state.String()
	snap.Width, snap.Height = w.Width, w.Height

	for _, s := range w.Ships {
		snap.Ships = append(snap.Ships, s.State())
	}
	for _, l := range w.Lasers {
		if len(snap.Lasers) == limits.MaxLasers {
			break
		}
		snap.Lasers = append(snap.Lasers, ProjectileSnapshot{ID: l.ID, Ship: l.Ship, X: l.X, Y: l.Y, Heading: l.Heading})
	}
	for _, t := range w.Torpedoes {
		if len(snap.Torpedoes) == limits.MaxTorpedoes {
			break
		}
		snap.Torpedoes = append(snap.Torpedoes, ProjectileSnapshot{ID: t.ID, Ship: t.Ship, X: t.X, Y: t.Y, Heading: t.Heading})
	}
	events := e.tickEvents
	if len(events) > limits.MaxEvents {
		events = events[:limits.MaxEvents]
	}
	snap.Events = append(snap.Events, events...)
	for _, t := range e.teams {
		snap.Teams = append(snap.Teams, TeamStatus{
			Index:    t.Index,
			Name:     t.Name,
			Alive:    t.AliveShips(),
			Score:    t.score,
			Disabled: t.disabled,
			Reason:   t.disabledReason,
		})
	}
	e.gfx.SnapshotInto(&snap.Gfx)
	e.snapshots.PublishWrite()
}

// Snapshot returns a copy of the most recently published state. It is safe
// to call from any goroutine.
func (e *Engine) Snapshot() GameSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snapshots.AcquireRead().Clone()
}
