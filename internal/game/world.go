package game

import (
	"math"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

// Zone is a passable tagged region. Its effect is decided by the stage
// script.
type Zone struct {
	spatial.Rect
	Tag string
}

// Start is a fixed spawn point declared by the stage.
type Start struct {
	X, Y float64
}

// StageDef is the geometry declared by a stage's configure hook.
type StageDef struct {
	Width, Height float64
	Walls         []spatial.Rect
	Zones         []Zone
	Starts        []Start
	MaxTicks      int // zero keeps the configured default
}

// MatchInfo is handed to MatchStartListeners before the first tick.
type MatchInfo struct {
	Width, Height float64
	Walls         []spatial.Rect
	Zones         []Zone
	Ships         []ShipInfo
	Teams         []string
	Seed          int64
}

// World owns every entity of a match. Only the engine goroutine mutates it.
type World struct {
	Width, Height float64
	Walls         []spatial.Rect
	Zones         []Zone
	Ships         []*Ship
	Lasers        []*Laser
	Torpedoes     []*Torpedo

	physics     config.PhysicsConfig
	bounds      spatial.Rect
	grid        *spatial.Grid
	nextLaser   int
	nextTorpedo int
	tick        int
}

// NewWorld builds an empty world for the given stage.
func NewWorld(def StageDef, physics config.PhysicsConfig) *World {
	cell := math.Max(physics.ShipRadius*4, 1)
	return &World{
		Width:   def.Width,
		Height:  def.Height,
		Walls:   def.Walls,
		Zones:   def.Zones,
		physics: physics,
		bounds:  spatial.Rect{Width: def.Width, Height: def.Height},
		grid:    spatial.NewGrid(def.Width, def.Height, cell, 64),
	}
}

// Time returns the current tick.
func (w *World) Time() int { return w.tick }

// SpawnLaser fires a laser from s and assigns it the next laser id.
func (w *World) SpawnLaser(s *Ship, heading float64) *Laser {
	l := newLaser(w.nextLaser, s, heading, w.physics.LaserSpeed, w.tick)
	w.nextLaser++
	w.Lasers = append(w.Lasers, l)
	return l
}

// SpawnTorpedo fires a torpedo from s that detonates after distance.
func (w *World) SpawnTorpedo(s *Ship, heading, distance float64) *Torpedo {
	t := newTorpedo(w.nextTorpedo, s, heading, distance, w.physics.TorpedoSpeed, w.tick)
	w.nextTorpedo++
	w.Torpedoes = append(w.Torpedoes, t)
	return t
}

// RemoveLaser drops the laser with the given id, keeping id order.
func (w *World) RemoveLaser(id int) bool {
	for i, l := range w.Lasers {
		if l.ID == id {
			w.Lasers = append(w.Lasers[:i], w.Lasers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTorpedo drops the torpedo with the given id, keeping id order.
func (w *World) RemoveTorpedo(id int) bool {
	for i, t := range w.Torpedoes {
		if t.ID == id {
			w.Torpedoes = append(w.Torpedoes[:i], w.Torpedoes[i+1:]...)
			return true
		}
	}
	return false
}

// InBounds reports whether (x, y) lies on the stage.
func (w *World) InBounds(x, y float64) bool {
	return w.bounds.Contains(x, y)
}

// WallAt returns the index of the first wall containing (x, y), or -1.
func (w *World) WallAt(x, y float64) int {
	for i, wall := range w.Walls {
		if wall.Contains(x, y) {
			return i
		}
	}
	return -1
}

// ZonesAt returns the indices of every zone containing (x, y).
func (w *World) ZonesAt(x, y float64) []int {
	var out []int
	for i, z := range w.Zones {
		if z.Contains(x, y) {
			out = append(out, i)
		}
	}
	return out
}

// ShipsInZone returns the alive ships inside any zone with the given tag, in
// index order.
func (w *World) ShipsInZone(tag string) []*Ship {
	var out []*Ship
	for _, s := range w.Ships {
		if s.Alive && w.InZone(s, tag) {
			out = append(out, s)
		}
	}
	return out
}

// InZone reports whether s is inside any zone with the given tag.
func (w *World) InZone(s *Ship, tag string) bool {
	for _, z := range w.Zones {
		if z.Tag == tag && z.Contains(s.X, s.Y) {
			return true
		}
	}
	return false
}

// NearestShip returns the alive ship closest to (x, y) and its distance,
// ignoring ships for which skip reports true. Ties go to the lower index.
func (w *World) NearestShip(x, y float64, skip func(*Ship) bool) (*Ship, float64) {
	var best *Ship
	bestDist := math.Inf(1)
	for _, s := range w.Ships {
		if !s.Alive || (skip != nil && skip(s)) {
			continue
		}
		if d := spatial.Distance(x, y, s.X, s.Y); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, bestDist
}

// Advance integrates one fixed unit step: projectiles move along their
// headings, then each alive ship applies its thruster and moves, stopping
// at walls and the stage edge.
func (w *World) Advance() {
	for _, l := range w.Lasers {
		l.update()
	}
	for _, t := range w.Torpedoes {
		t.update(w.physics.TorpedoSpeed)
	}

	for _, s := range w.Ships {
		if !s.Alive {
			continue
		}
		w.thrust(s)
		w.moveShip(s)
	}
}

func (w *World) thrust(s *Ship) {
	if s.ThrusterForce <= 0 {
		return
	}
	accel := s.ThrusterForce * w.physics.ThrusterAccel
	s.VX += math.Cos(s.ThrusterAngle) * accel
	s.VY += math.Sin(s.ThrusterAngle) * accel
	clampSpeed(s, w.physics.MaxSpeed)
}

func clampSpeed(s *Ship, limit float64) {
	if speed := s.Speed(); speed > limit && speed > 0 {
		scale := limit / speed
		s.VX *= scale
		s.VY *= scale
	}
}
