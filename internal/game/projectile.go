package game

import "math"

// Laser is a fast projectile that deals fixed damage to the first ship it
// touches.
type Laser struct {
	ID       int
	Ship     int // Ship that fired this laser
	FireTime int

	// Position and motion
	SrcX, SrcY float64 // Origin
	Heading    float64
	X, Y       float64 // Current position
	DX, DY     float64 // Velocity per tick

	prevX, prevY float64
}

// Torpedo travels a chosen distance and explodes, damaging every ship within
// the blast radius.
type Torpedo struct {
	ID       int
	Ship     int
	FireTime int

	SrcX, SrcY float64
	Heading    float64
	X, Y       float64
	DX, DY     float64

	Distance  float64 // detonation distance chosen at fire time
	Travelled float64

	prevX, prevY float64
}

func newLaser(id int, s *Ship, heading, speed float64, time int) *Laser {
	dx, dy := math.Cos(heading)*speed, math.Sin(heading)*speed
	return &Laser{
		ID: id, Ship: s.Index, FireTime: time,
		SrcX: s.X, SrcY: s.Y, Heading: heading,
		X: s.X, Y: s.Y, DX: dx, DY: dy,
		prevX: s.X, prevY: s.Y,
	}
}

func newTorpedo(id int, s *Ship, heading, distance, speed float64, time int) *Torpedo {
	dx, dy := math.Cos(heading)*speed, math.Sin(heading)*speed
	return &Torpedo{
		ID: id, Ship: s.Index, FireTime: time,
		SrcX: s.X, SrcY: s.Y, Heading: heading,
		X: s.X, Y: s.Y, DX: dx, DY: dy,
		prevX: s.X, prevY: s.Y,
		Distance: distance,
	}
}

// update advances the laser by one tick.
func (l *Laser) update() {
	l.prevX, l.prevY = l.X, l.Y
	l.X += l.DX
	l.Y += l.DY
}

func (t *Torpedo) update(speed float64) {
	t.prevX, t.prevY = t.X, t.Y
	t.X += t.DX
	t.Y += t.DY
	t.Travelled += speed
}

// ProjectileSnapshot is an immutable projectile for rendering
type ProjectileSnapshot struct {
	ID      int     `json:"id" msgpack:"id"`
	Ship    int     `json:"ship" msgpack:"s"`
	X       float64 `json:"x" msgpack:"x"`
	Y       float64 `json:"y" msgpack:"y"`
	Heading float64 `json:"heading" msgpack:"h"`
}
