package game

import (
	"math"

	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

// emitFunc receives events raised while resolving a tick.
type emitFunc func(EventType, any)

// ResolveCollisions detects and resolves every interaction after movement
// integration. Order is fixed: ship contacts, lasers (by id), torpedoes (by
// id), then zone membership.
func (w *World) ResolveCollisions(emit emitFunc) {
	w.resolveShipCollisions()
	w.resolveLasers(emit)
	w.resolveTorpedoes(emit)
	w.updateZones(emit)
}

// moveShip sub-steps the ship's motion so that no step is longer than the
// ship radius, pushing it back out of walls after each step.
func (w *World) moveShip(s *Ship) {
	speed := s.Speed()
	if speed == 0 {
		w.pushOut(s)
		return
	}
	steps := int(math.Ceil(speed / w.physics.ShipRadius))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		s.X += s.VX / float64(steps)
		s.Y += s.VY / float64(steps)
		w.pushOut(s)
	}
}

// pushOut resolves penetration of the stage edges and walls along the axis
// of least overlap and stops motion on that axis.
func (w *World) pushOut(s *Ship) {
	r := w.physics.ShipRadius
	if s.X < r {
		s.X, s.VX = r, 0
	} else if s.X > w.Width-r {
		s.X, s.VX = w.Width-r, 0
	}
	if s.Y < r {
		s.Y, s.VY = r, 0
	} else if s.Y > w.Height-r {
		s.Y, s.VY = w.Height-r, 0
	}

	for _, wall := range w.Walls {
		dx, dy, ok := wall.Penetration(s.X, s.Y, r)
		if !ok {
			continue
		}
		s.X += dx
		s.Y += dy
		if dx != 0 {
			s.VX = 0
		} else {
			s.VY = 0
		}
	}
}

// resolveShipCollisions separates overlapping ships. Candidate pairs come
// from the broad-phase grid and are handled in ascending (i, j) order.
func (w *World) resolveShipCollisions() {
	r := w.physics.ShipRadius
	w.grid.Clear()
	for _, s := range w.Ships {
		if s.Alive {
			w.grid.Insert(s.Index, s.X, s.Y)
		}
	}

	for _, a := range w.Ships {
		if !a.Alive {
			continue
		}
		for _, j := range w.grid.QueryRadius(a.X, a.Y, 2*r) {
			if j <= a.Index {
				continue
			}
			b := w.Ships[j]
			if collideShips(a, b, r) {
				w.pushOut(a)
				w.pushOut(b)
			}
		}
	}
}

// collideShips moves two overlapping ships apart equally and exchanges
// their velocity components along the contact normal.
func collideShips(a, b *Ship, r float64) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	d := math.Hypot(dx, dy)
	if d >= 2*r {
		return false
	}

	nx, ny := 1.0, 0.0
	if d > 0 {
		nx, ny = dx/d, dy/d
	}
	half := (2*r - d) / 2
	a.X -= nx * half
	a.Y -= ny * half
	b.X += nx * half
	b.Y += ny * half

	va := a.VX*nx + a.VY*ny
	vb := b.VX*nx + b.VY*ny
	if va > vb {
		a.VX += (vb - va) * nx
		a.VY += (vb - va) * ny
		b.VX += (va - vb) * nx
		b.VY += (va - vb) * ny
	}
	return true
}

// hit is the nearest obstruction along a projectile's travel segment.
type hit struct {
	t    float64
	wall int
	ship *Ship
}

// firstHit finds the nearest wall or non-owner ship touched by the segment.
// Walls are tested before ships and both in ascending index, and only a
// strictly nearer candidate replaces the current one.
func (w *World) firstHit(x1, y1, x2, y2 float64, owner int) (hit, bool) {
	best := hit{t: math.Inf(1), wall: -1}
	found := false
	for i, wall := range w.Walls {
		if t, ok := wall.SegmentEntry(x1, y1, x2, y2); ok && t < best.t {
			best = hit{t: t, wall: i}
			found = true
		}
	}
	r := w.physics.ShipRadius
	for _, s := range w.Ships {
		if !s.Alive || s.Index == owner {
			continue
		}
		if t, ok := spatial.CircleEntry(x1, y1, x2, y2, s.X, s.Y, r); ok && t < best.t {
			best = hit{t: t, wall: -1, ship: s}
			found = true
		}
	}
	return best, found
}

func lerp(x1, y1, x2, y2, t float64) (float64, float64) {
	return x1 + (x2-x1)*t, y1 + (y2-y1)*t
}

func (w *World) resolveLasers(emit emitFunc) {
	kept := w.Lasers[:0]
	for _, l := range w.Lasers {
		if l.FireTime == w.tick || !w.resolveLaser(l, emit) {
			kept = append(kept, l)
		}
	}
	for i := len(kept); i < len(w.Lasers); i++ {
		w.Lasers[i] = nil
	}
	w.Lasers = kept
}

// resolveLaser reports whether the laser was destroyed this tick.
func (w *World) resolveLaser(l *Laser, emit emitFunc) bool {
	if h, ok := w.firstHit(l.prevX, l.prevY, l.X, l.Y, l.Ship); ok {
		l.X, l.Y = lerp(l.prevX, l.prevY, l.X, l.Y, h.t)
		if h.ship != nil {
			damage := w.physics.LaserDamage
			h.ship.damage(damage, l.Ship)
			emit(EventLaserHitShip, LaserHitShipPayload{
				LaserID: l.ID, Ship: l.Ship, Target: h.ship.Index,
				X: h.ship.X, Y: h.ship.Y, DX: l.DX, DY: l.DY,
				Damage: damage,
			})
		}
		emit(EventLaserDestroyed, LaserDestroyedPayload{LaserID: l.ID, Ship: l.Ship, X: l.X, Y: l.Y})
		return true
	}
	if !w.InBounds(l.X, l.Y) {
		emit(EventLaserDestroyed, LaserDestroyedPayload{LaserID: l.ID, Ship: l.Ship, X: l.X, Y: l.Y})
		return true
	}
	return false
}

func (w *World) resolveTorpedoes(emit emitFunc) {
	kept := w.Torpedoes[:0]
	for _, t := range w.Torpedoes {
		if t.FireTime == w.tick || !w.resolveTorpedo(t, emit) {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(w.Torpedoes); i++ {
		w.Torpedoes[i] = nil
	}
	w.Torpedoes = kept
}

// resolveTorpedo reports whether the torpedo exploded or left the stage.
func (w *World) resolveTorpedo(t *Torpedo, emit emitFunc) bool {
	detonate := math.Inf(1)
	if speed := w.physics.TorpedoSpeed; t.Travelled >= t.Distance && speed > 0 {
		detonate = spatial.Clamp(1-(t.Travelled-t.Distance)/speed, 0, 1)
	}

	h, ok := w.firstHit(t.prevX, t.prevY, t.X, t.Y, t.Ship)
	switch {
	case ok && h.t <= detonate:
		t.X, t.Y = lerp(t.prevX, t.prevY, t.X, t.Y, h.t)
	case detonate <= 1:
		t.X, t.Y = lerp(t.prevX, t.prevY, t.X, t.Y, detonate)
		if !w.InBounds(t.X, t.Y) {
			emit(EventTorpedoDestroyed, TorpedoDestroyedPayload{TorpedoID: t.ID, Ship: t.Ship, X: t.X, Y: t.Y})
			return true
		}
	case !w.InBounds(t.X, t.Y):
		emit(EventTorpedoDestroyed, TorpedoDestroyedPayload{TorpedoID: t.ID, Ship: t.Ship, X: t.X, Y: t.Y})
		return true
	default:
		return false
	}

	w.blast(t, emit)
	return true
}

// blast damages and pushes every alive ship within the blast radius,
// owner included, in ascending index order. Damage and force fall off
// linearly to zero at the edge.
func (w *World) blast(t *Torpedo, emit emitFunc) {
	emit(EventTorpedoExploded, TorpedoExplodedPayload{TorpedoID: t.ID, Ship: t.Ship, X: t.X, Y: t.Y})

	radius := w.physics.TorpedoBlastRadius
	for _, s := range w.Ships {
		if !s.Alive {
			continue
		}
		d := spatial.Distance(t.X, t.Y, s.X, s.Y)
		if d >= radius {
			continue
		}
		falloff := 1 - d/radius
		damage := w.physics.TorpedoBlastDamage * falloff
		force := w.physics.TorpedoBlastForce * falloff

		angle := t.Heading
		if d > 0 {
			angle = math.Atan2(s.Y-t.Y, s.X-t.X)
		}
		dx, dy := math.Cos(angle)*force, math.Sin(angle)*force
		s.VX += dx
		s.VY += dy
		s.damage(damage, t.Ship)

		emit(EventTorpedoHitShip, TorpedoHitShipPayload{
			TorpedoID: t.ID, Ship: t.Ship, Target: s.Index,
			X: s.X, Y: s.Y, DX: dx, DY: dy,
			HitAngle: spatial.NormalAbsoluteAngle(angle),
			Force:    force,
			Damage:   damage,
			Parts:    sparkParts(damage, w.physics.TorpedoBlastDamage, w.physics.MaxTorpedoSparks),
		})
	}
}

// sparkParts is the debris count for a blast hit:
// ceil(damage / blastDamage * maxSparks), capped at maxSparks.
func sparkParts(damage, blastDamage float64, maxSparks int) int {
	if blastDamage <= 0 || damage <= 0 {
		return 0
	}
	parts := int(math.Ceil(damage / blastDamage * float64(maxSparks)))
	if parts > maxSparks {
		parts = maxSparks
	}
	return parts
}

// updateZones recomputes zone membership for alive ships.
func (w *World) updateZones(emit emitFunc) {
	for _, s := range w.Ships {
		if !s.Alive {
			continue
		}
		for i, z := range w.Zones {
			in := z.Contains(s.X, s.Y)
			if in == s.inZone[i] {
				continue
			}
			s.inZone[i] = in
			typ := EventShipLeftZone
			if in {
				typ = EventShipEnteredZone
			}
			emit(typ, ZonePayload{Ship: s.Index, Zone: i, Tag: z.Tag})
		}
	}
}
