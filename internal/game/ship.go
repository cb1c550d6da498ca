package game

import (
	"fmt"
	"math"

	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

// RGB is an opaque color.
type RGB struct {
	R, G, B uint8
}

// Hex formats the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// RGBA is a color with alpha.
type RGBA struct {
	R, G, B, A uint8
}

// Default ship colors.
var (
	DefaultShipColor     = RGB{255, 255, 255}
	DefaultLaserColor    = RGB{255, 0, 0}
	DefaultThrusterColor = RGB{255, 140, 0}
	DefaultTextColor     = RGBA{255, 255, 255, 255}
)

// Ship is one script-controlled vessel. Index is stable for the whole match
// and is the join key used by every event and listener.
type Ship struct {
	Index int
	Team  int

	X, Y   float64
	VX, VY float64
	Energy float64

	ThrusterAngle float64
	ThrusterForce float64

	LaserGunHeat   int
	TorpedoGunHeat int

	Alive    bool
	ShowName bool
	Name     string

	ShipColor     RGB
	LaserColor    RGB
	ThrusterColor RGB

	// per-tick bookkeeping
	damagedBy []int
	inZone    []bool
}

func newShip(index, team int, name string, energy float64, zones int) *Ship {
	return &Ship{
		Index:         index,
		Team:          team,
		Energy:        energy,
		Alive:         true,
		Name:          name,
		ShipColor:     DefaultShipColor,
		LaserColor:    DefaultLaserColor,
		ThrusterColor: DefaultThrusterColor,
		inZone:        make([]bool, zones),
	}
}

// Heading is the direction of travel in [0, 2π).
func (s *Ship) Heading() float64 {
	if s.VX == 0 && s.VY == 0 {
		return 0
	}
	return spatial.NormalAbsoluteAngle(math.Atan2(s.VY, s.VX))
}

// Speed is the magnitude of the velocity.
func (s *Ship) Speed() float64 {
	return math.Hypot(s.VX, s.VY)
}

// damage subtracts energy and remembers the attacker for destruction credit.
// attacker is -1 for stage-originated damage.
func (s *Ship) damage(amount float64, attacker int) {
	s.Energy -= amount
	if attacker < 0 || attacker == s.Index {
		return
	}
	for _, a := range s.damagedBy {
		if a == attacker {
			return
		}
	}
	s.damagedBy = append(s.damagedBy, attacker)
}

// State returns an immutable copy of the ship.
func (s *Ship) State() ShipState {
	return ShipState{
		Index:          s.Index,
		Team:           s.Team,
		Name:           s.Name,
		X:              s.X,
		Y:              s.Y,
		VX:             s.VX,
		VY:             s.VY,
		Heading:        s.Heading(),
		Speed:          s.Speed(),
		Energy:         s.Energy,
		ThrusterAngle:  s.ThrusterAngle,
		ThrusterForce:  s.ThrusterForce,
		LaserGunHeat:   s.LaserGunHeat,
		TorpedoGunHeat: s.TorpedoGunHeat,
		Alive:          s.Alive,
		ShowName:       s.ShowName,
	}
}

// ShipState is a read-only copy of a ship handed to listeners and snapshots.
type ShipState struct {
	Index          int     `json:"index" msgpack:"i"`
	Team           int     `json:"team" msgpack:"t"`
	Name           string  `json:"name" msgpack:"n"`
	X              float64 `json:"x" msgpack:"x"`
	Y              float64 `json:"y" msgpack:"y"`
	VX             float64 `json:"vx" msgpack:"vx"`
	VY             float64 `json:"vy" msgpack:"vy"`
	Heading        float64 `json:"heading" msgpack:"h"`
	Speed          float64 `json:"speed" msgpack:"s"`
	Energy         float64 `json:"energy" msgpack:"e"`
	ThrusterAngle  float64 `json:"thrusterAngle" msgpack:"ta"`
	ThrusterForce  float64 `json:"thrusterForce" msgpack:"tf"`
	LaserGunHeat   int     `json:"laserGunHeat" msgpack:"lh"`
	TorpedoGunHeat int     `json:"torpedoGunHeat" msgpack:"th"`
	Alive          bool    `json:"alive" msgpack:"a"`
	ShowName       bool    `json:"showName" msgpack:"sn"`
}

// ShipInfo is the static description of a ship recorded at match start.
type ShipInfo struct {
	Index         int
	Team          int
	Name          string
	ShipColor     RGB
	LaserColor    RGB
	ThrusterColor RGB
}
