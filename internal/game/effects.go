package game

import (
	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

// LaserHitGfx is a spark shown where a laser struck a ship.
type LaserHitGfx struct {
	Tick   int     `json:"tick" msgpack:"t"`
	Ship   int     `json:"ship" msgpack:"s"`
	Target int     `json:"target" msgpack:"g"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	DX     float64 `json:"dx" msgpack:"dx"`
	DY     float64 `json:"dy" msgpack:"dy"`
}

// TorpedoHitGfx is the debris thrown off a ship caught in a blast.
type TorpedoHitGfx struct {
	Tick     int     `json:"tick" msgpack:"t"`
	Target   int     `json:"target" msgpack:"g"`
	X        float64 `json:"x" msgpack:"x"`
	Y        float64 `json:"y" msgpack:"y"`
	HitAngle float64 `json:"hitAngle" msgpack:"a"`
	Force    float64 `json:"force" msgpack:"f"`
	Parts    int     `json:"parts" msgpack:"p"`
}

// BlastGfx is an expanding torpedo explosion ring.
type BlastGfx struct {
	Tick int     `json:"tick" msgpack:"t"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
}

// ShipDeathGfx marks where a ship was destroyed.
type ShipDeathGfx struct {
	Tick int     `json:"tick" msgpack:"t"`
	Ship int     `json:"ship" msgpack:"s"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
}

// GfxSnapshot is a copy of every live effect.
type GfxSnapshot struct {
	LaserHits   []LaserHitGfx   `json:"laserHits" msgpack:"lh"`
	TorpedoHits []TorpedoHitGfx `json:"torpedoHits" msgpack:"th"`
	Blasts      []BlastGfx      `json:"blasts" msgpack:"b"`
	Deaths      []ShipDeathGfx  `json:"deaths" msgpack:"d"`
}

// GfxTracker keeps the short-lived visual effects a renderer needs. Each
// kind is capped; effects raised while a list is full are dropped.
type GfxTracker struct {
	cfg config.GfxConfig

	laserHits   *spatial.SwapList[LaserHitGfx]
	torpedoHits *spatial.SwapList[TorpedoHitGfx]
	blasts      *spatial.SwapList[BlastGfx]
	deaths      *spatial.SwapList[ShipDeathGfx]
	dropped     int
}

// NewGfxTracker creates a tracker with the configured caps and lifetimes.
func NewGfxTracker(cfg config.GfxConfig) *GfxTracker {
	return &GfxTracker{
		cfg:         cfg,
		laserHits:   spatial.NewSwapList[LaserHitGfx](cfg.MaxLaserHits),
		torpedoHits: spatial.NewSwapList[TorpedoHitGfx](cfg.MaxTorpedoHits),
		blasts:      spatial.NewSwapList[BlastGfx](cfg.MaxTorpedoBlasts),
		deaths:      spatial.NewSwapList[ShipDeathGfx](cfg.MaxShipDeaths),
	}
}

// HandleEvent records the visual side of an engine event.
func (g *GfxTracker) HandleEvent(e Event) {
	var ok bool
	switch p := e.Payload.(type) {
	case LaserHitShipPayload:
		ok = g.laserHits.Add(LaserHitGfx{Tick: e.Tick, Ship: p.Ship, Target: p.Target, X: p.X, Y: p.Y, DX: p.DX, DY: p.DY})
	case TorpedoHitShipPayload:
		ok = g.torpedoHits.Add(TorpedoHitGfx{
			Tick: e.Tick, Target: p.Target, X: p.X, Y: p.Y,
			HitAngle: p.HitAngle, Force: p.Force, Parts: p.Parts,
		})
	case TorpedoExplodedPayload:
		ok = g.blasts.Add(BlastGfx{Tick: e.Tick, X: p.X, Y: p.Y})
	case ShipDestroyedPayload:
		ok = g.deaths.Add(ShipDeathGfx{Tick: e.Tick, Ship: p.Ship, X: p.X, Y: p.Y})
	default:
		return
	}
	if !ok {
		g.dropped++
	}
}

// HandleTick expires effects that outlived their configured lifetime.
func (g *GfxTracker) HandleTick(tick int, _ []ShipState) {
	g.laserHits.RemoveIf(func(v LaserHitGfx) bool { return tick-v.Tick >= g.cfg.LaserHitTicks })
	g.torpedoHits.RemoveIf(func(v TorpedoHitGfx) bool { return tick-v.Tick >= g.cfg.TorpedoHitTicks })
	g.blasts.RemoveIf(func(v BlastGfx) bool { return tick-v.Tick >= g.cfg.BlastTicks })
	g.deaths.RemoveIf(func(v ShipDeathGfx) bool { return tick-v.Tick >= g.cfg.DeathTicks })
}

// Len returns the number of live effects of every kind.
func (g *GfxTracker) Len() int {
	return g.laserHits.Len() + g.torpedoHits.Len() + g.blasts.Len() + g.deaths.Len()
}

// Dropped counts effects rejected because their list was full.
func (g *GfxTracker) Dropped() int { return g.dropped }

// SnapshotInto copies the live effects into dst, reusing its slices.
func (g *GfxTracker) SnapshotInto(dst *GfxSnapshot) {
	dst.LaserHits = append(dst.LaserHits[:0], g.laserHits.Items()...)
	dst.TorpedoHits = append(dst.TorpedoHits[:0], g.torpedoHits.Items()...)
	dst.Blasts = append(dst.Blasts[:0], g.blasts.Items()...)
	dst.Deaths = append(dst.Deaths[:0], g.deaths.Items()...)
}
