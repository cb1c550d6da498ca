package replay

import (
	"math"
	"strings"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

// Builder listens to an engine and records everything a replay needs. It
// must be registered before Engine.Start so that it sees the match start.
type Builder struct {
	stage       *intBuffer
	walls       *intBuffer
	zones       *intBuffer
	shipProps   *intBuffer
	shipAdds    *intBuffer
	shipRemoves *intBuffer
	showNames   *intBuffer
	hideNames   *intBuffer
	shipTicks   *intBuffer
	laserStarts *intBuffer
	laserEnds   *intBuffer
	laserSparks *intBuffer
	torpStarts  *intBuffer
	torpEnds    *intBuffer
	torpBlasts  *intBuffer
	torpDebris  *intBuffer
	destroys    *intBuffer
	texts       *intBuffer

	alive    []bool
	showName []bool
}

// NewBuilder creates a builder with the configured chunk size and caps.
func NewBuilder(cfg config.ReplayConfig) *Builder {
	misc := func() *intBuffer { return newIntBuffer(cfg.ChunkSize, cfg.MaxMiscChunks) }
	laser := func() *intBuffer { return newIntBuffer(cfg.ChunkSize, cfg.MaxLaserChunks) }
	return &Builder{
		stage:       newIntBuffer(cfg.ChunkSize, 1),
		walls:       misc(),
		zones:       misc(),
		shipProps:   misc(),
		shipAdds:    misc(),
		shipRemoves: misc(),
		showNames:   misc(),
		hideNames:   misc(),
		shipTicks:   newIntBuffer(cfg.ChunkSize, cfg.MaxShipTickChunks),
		laserStarts: laser(),
		laserEnds:   laser(),
		laserSparks: laser(),
		torpStarts:  misc(),
		torpEnds:    misc(),
		torpBlasts:  misc(),
		torpDebris:  misc(),
		destroys:    misc(),
		texts:       newIntBuffer(cfg.ChunkSize, cfg.MaxTextChunks),
	}
}

// round is floor(v + 0.5).
func round(v float64) int { return int(math.Floor(v + .5)) }

// cleanString drops trailing backslashes, which could otherwise merge with
// an escaped colon.
func cleanString(s string) string { return strings.TrimRight(s, `\`) }

// HandleMatchStart records the stage layout and the ships' looks.
func (b *Builder) HandleMatchStart(info game.MatchInfo) {
	b.stage.add(round(info.Width), round(info.Height))
	for _, w := range info.Walls {
		b.walls.add(round(w.Left), round(w.Bottom), round(w.Width), round(w.Height))
	}
	for _, z := range info.Zones {
		b.zones.add(round(z.Left), round(z.Bottom), round(z.Width), round(z.Height))
	}
	for _, s := range info.Ships {
		b.shipProps.addString([]int{
			int(s.ShipColor.R), int(s.ShipColor.G), int(s.ShipColor.B),
			int(s.LaserColor.R), int(s.LaserColor.G), int(s.LaserColor.B),
			int(s.ThrusterColor.R), int(s.ThrusterColor.G), int(s.ThrusterColor.B),
		}, cleanString(s.Name))
	}
	b.alive = make([]bool, len(info.Ships))
	b.showName = make([]bool, len(info.Ships))
}

// HandleEvent records projectile, hit, destruction and text events.
func (b *Builder) HandleEvent(e game.Event) {
	t := e.Tick
	switch p := e.Payload.(type) {
	case game.LaserFiredPayload:
		b.laserStarts.add(p.LaserID, p.Ship, p.FireTime, round(p.X*10), round(p.Y*10), round(p.Heading*100))
	case game.LaserDestroyedPayload:
		b.laserEnds.add(p.LaserID, t)
	case game.LaserHitShipPayload:
		b.laserSparks.add(p.Ship, t, round(p.X*10), round(p.Y*10), round(p.DX*100), round(p.DY*100))
	case game.TorpedoFiredPayload:
		b.torpStarts.add(p.TorpedoID, p.Ship, p.FireTime, round(p.X*10), round(p.Y*10), round(p.Heading*100))
	case game.TorpedoDestroyedPayload:
		b.torpEnds.add(p.TorpedoID, t)
	case game.TorpedoExplodedPayload:
		b.torpEnds.add(p.TorpedoID, t)
		b.torpBlasts.add(t, round(p.X*10), round(p.Y*10))
	case game.TorpedoHitShipPayload:
		b.torpDebris.add(p.Target, t, round(p.X*10), round(p.Y*10), round(p.DX*100), round(p.DY*100), p.Parts)
	case game.ShipDestroyedPayload:
		b.destroys.add(p.Ship, t, round(p.X*10), round(p.Y*10))
	case game.StageTextPayload:
		b.texts.addString([]int{t}, cleanString(p.Text),
			round(p.X*10), round(p.Y*10), p.Size,
			int(p.Color.R), int(p.Color.G), int(p.Color.B), int(p.Color.A),
			p.Duration)
	}
}

// HandleTick records visibility changes and a sample of every alive ship.
func (b *Builder) HandleTick(tick int, ships []game.ShipState) {
	for i, s := range ships {
		if i >= len(b.alive) {
			break
		}
		if b.alive[i] != s.Alive {
			if s.Alive {
				b.shipAdds.add(s.Index, tick)
			} else {
				b.shipRemoves.add(s.Index, tick)
			}
			b.alive[i] = s.Alive
		}
		if b.showName[i] != s.ShowName {
			if s.ShowName {
				b.showNames.add(s.Index, tick)
			} else {
				b.hideNames.add(s.Index, tick)
			}
			b.showName[i] = s.ShowName
		}
	}
	for _, s := range ships {
		if !s.Alive {
			continue
		}
		b.shipTicks.add(
			round(s.X*10),
			round(s.Y*10),
			round(spatial.NormalAbsoluteAngle(s.ThrusterAngle)*100),
			round(spatial.Clamp(s.ThrusterForce, 0, 1)*100),
			round(math.Max(0, s.Energy)*10),
		)
	}
}

// Dropped counts records discarded because their category was full.
func (b *Builder) Dropped() int {
	n := 0
	for _, buf := range b.buffers() {
		n += buf.dropped
	}
	return n
}

func (b *Builder) buffers() []*intBuffer {
	return []*intBuffer{
		b.stage, b.walls, b.zones, b.shipProps, b.shipAdds, b.shipRemoves,
		b.showNames, b.hideNames, b.shipTicks, b.laserStarts, b.laserEnds,
		b.laserSparks, b.torpStarts, b.torpEnds, b.torpBlasts, b.torpDebris,
		b.destroys, b.texts,
	}
}

// Replay assembles the recorded buffers into a Replay.
func (b *Builder) Replay() *Replay {
	r := &Replay{Version: Version}

	if rd := b.stage.reader(); rd.more() {
		r.Width, r.Height = rd.next(), rd.next()
	}
	rects := func(buf *intBuffer) []Rect {
		var out []Rect
		for rd := buf.reader(); rd.more(); {
			out = append(out, Rect{Left: rd.next(), Bottom: rd.next(), Width: rd.next(), Height: rd.next()})
		}
		return out
	}
	r.Walls = rects(b.walls)
	r.Zones = rects(b.zones)

	rgb := func(rd *intReader) game.RGB {
		return game.RGB{R: uint8(rd.next()), G: uint8(rd.next()), B: uint8(rd.next())}
	}
	for rd := b.shipProps.reader(); rd.more(); {
		r.Ships = append(r.Ships, ShipProps{
			ShipColor:     rgb(rd),
			LaserColor:    rgb(rd),
			ThrusterColor: rgb(rd),
			Name:          rd.string(),
		})
	}

	shipTimes := func(buf *intBuffer) []ShipTime {
		var out []ShipTime
		for rd := buf.reader(); rd.more(); {
			out = append(out, ShipTime{Ship: rd.next(), Time: rd.next()})
		}
		return out
	}
	r.ShipAdds = shipTimes(b.shipAdds)
	r.ShipRemoves = shipTimes(b.shipRemoves)
	r.ShowNames = shipTimes(b.showNames)
	r.HideNames = shipTimes(b.hideNames)

	for rd := b.shipTicks.reader(); rd.more(); {
		r.ShipTicks = append(r.ShipTicks, ShipTick{
			X: rd.next(), Y: rd.next(), ThrusterAngle: rd.next(), ThrusterForce: rd.next(), Energy: rd.next(),
		})
	}

	starts := func(buf *intBuffer) []ProjectileStart {
		var out []ProjectileStart
		for rd := buf.reader(); rd.more(); {
			out = append(out, ProjectileStart{
				ID: rd.next(), Ship: rd.next(), FireTime: rd.next(), X: rd.next(), Y: rd.next(), Heading: rd.next(),
			})
		}
		return out
	}
	ends := func(buf *intBuffer) []ProjectileEnd {
		var out []ProjectileEnd
		for rd := buf.reader(); rd.more(); {
			out = append(out, ProjectileEnd{ID: rd.next(), Time: rd.next()})
		}
		return out
	}

	r.LaserStarts = starts(b.laserStarts)
	r.LaserEnds = ends(b.laserEnds)
	for rd := b.laserSparks.reader(); rd.more(); {
		r.LaserSparks = append(r.LaserSparks, Spark{
			Ship: rd.next(), Time: rd.next(), X: rd.next(), Y: rd.next(), DX: rd.next(), DY: rd.next(),
		})
	}

	r.TorpedoStarts = starts(b.torpStarts)
	r.TorpedoEnds = ends(b.torpEnds)
	for rd := b.torpBlasts.reader(); rd.more(); {
		r.TorpedoBlasts = append(r.TorpedoBlasts, Blast{Time: rd.next(), X: rd.next(), Y: rd.next()})
	}
	for rd := b.torpDebris.reader(); rd.more(); {
		r.TorpedoDebris = append(r.TorpedoDebris, Debris{
			Ship: rd.next(), Time: rd.next(), X: rd.next(), Y: rd.next(), DX: rd.next(), DY: rd.next(), Parts: rd.next(),
		})
	}
	for rd := b.destroys.reader(); rd.more(); {
		r.ShipDestroys = append(r.ShipDestroys, Destroy{Ship: rd.next(), Time: rd.next(), X: rd.next(), Y: rd.next()})
	}

	for rd := b.texts.reader(); rd.more(); {
		t := Text{Time: rd.next(), Text: rd.string()}
		t.X, t.Y, t.Size = rd.next(), rd.next(), rd.next()
		t.Color = rgb(rd)
		t.Alpha, t.Duration = rd.next(), rd.next()
		r.Texts = append(r.Texts, t)
	}
	return r
}

// String serializes the replay stream.
func (b *Builder) String() string {
	return Marshal(b.Replay())
}
