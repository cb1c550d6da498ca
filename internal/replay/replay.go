// Package replay records a match as a compact colon-delimited hex stream
// that a presentation template can play back without running any script.
package replay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sophie-Williams/BerryBots/internal/game"
)

// Version is the stream format version written first in every replay.
const Version = 1

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("replay: malformed stream")

// Rect is a wall or zone in stage units.
type Rect struct {
	Left, Bottom, Width, Height int
}

// ShipProps is a ship's look as recorded at match start.
type ShipProps struct {
	ShipColor     game.RGB
	LaserColor    game.RGB
	ThrusterColor game.RGB
	Name          string
}

// ShipTime marks a ship add, remove, show-name or hide-name.
type ShipTime struct {
	Ship, Time int
}

// ShipTick is one alive ship's sample. Position and energy are scaled by 10,
// thruster angle and force by 100.
type ShipTick struct {
	X, Y, ThrusterAngle, ThrusterForce, Energy int
}

// ProjectileStart records a fired laser or torpedo. Position is scaled by
// 10, heading by 100.
type ProjectileStart struct {
	ID, Ship, FireTime, X, Y, Heading int
}

// ProjectileEnd records when a laser or torpedo left play.
type ProjectileEnd struct {
	ID, Time int
}

// Spark is a laser hit at the target ship's position. Ship is the shooter.
type Spark struct {
	Ship, Time, X, Y, DX, DY int
}

// Blast is a torpedo explosion.
type Blast struct {
	Time, X, Y int
}

// Debris is the wreckage thrown off a ship caught in a blast.
type Debris struct {
	Ship, Time, X, Y, DX, DY, Parts int
}

// Destroy records a ship's destruction.
type Destroy struct {
	Ship, Time, X, Y int
}

// Text is stage-drawn text.
type Text struct {
	Time     int
	Text     string
	X, Y     int
	Size     int
	Color    game.RGB
	Alpha    int
	Duration int
}

// Replay is a decoded stream. Sections appear in the stream in field order.
type Replay struct {
	Version       int
	Width, Height int
	Walls         []Rect
	Zones         []Rect
	Ships         []ShipProps
	ShipAdds      []ShipTime
	ShipRemoves   []ShipTime
	ShowNames     []ShipTime
	HideNames     []ShipTime
	ShipTicks     []ShipTick
	LaserStarts   []ProjectileStart
	LaserEnds     []ProjectileEnd
	LaserSparks   []Spark
	TorpedoStarts []ProjectileStart
	TorpedoEnds   []ProjectileEnd
	TorpedoBlasts []Blast
	TorpedoDebris []Debris
	ShipDestroys  []Destroy
	Texts         []Text
}

// =============================================================================
// ENCODING
// =============================================================================

type encoder struct {
	sb    strings.Builder
	first bool
}

func (e *encoder) sep() {
	if !e.first {
		e.sb.WriteByte(':')
	}
	e.first = false
}

func (e *encoder) int(vs ...int) {
	for _, v := range vs {
		e.sep()
		e.sb.WriteString(strconv.FormatInt(int64(v), 16))
	}
}

func (e *encoder) string(s string) {
	e.sep()
	e.sb.WriteString(escapeColons(s))
}

func (e *encoder) color(c game.RGB) {
	e.sep()
	e.sb.WriteString(c.Hex())
}

// Marshal encodes r as a replay stream.
func Marshal(r *Replay) string {
	e := &encoder{first: true}
	e.int(r.Version)
	e.int(r.Width, r.Height)

	rects := func(rs []Rect) {
		e.int(len(rs))
		for _, w := range rs {
			e.int(w.Left, w.Bottom, w.Width, w.Height)
		}
	}
	rects(r.Walls)
	rects(r.Zones)

	e.int(len(r.Ships))
	for _, s := range r.Ships {
		e.color(s.ShipColor)
		e.color(s.LaserColor)
		e.color(s.ThrusterColor)
		e.string(s.Name)
	}

	for _, list := range [][]ShipTime{r.ShipAdds, r.ShipRemoves, r.ShowNames, r.HideNames} {
		e.int(len(list))
		for _, st := range list {
			e.int(st.Ship, st.Time)
		}
	}

	e.int(len(r.ShipTicks))
	for _, t := range r.ShipTicks {
		e.int(t.X, t.Y, t.ThrusterAngle, t.ThrusterForce, t.Energy)
	}

	starts := func(ps []ProjectileStart) {
		e.int(len(ps))
		for _, p := range ps {
			e.int(p.ID, p.Ship, p.FireTime, p.X, p.Y, p.Heading)
		}
	}
	ends := func(ps []ProjectileEnd) {
		e.int(len(ps))
		for _, p := range ps {
			e.int(p.ID, p.Time)
		}
	}

	starts(r.LaserStarts)
	ends(r.LaserEnds)
	e.int(len(r.LaserSparks))
	for _, s := range r.LaserSparks {
		e.int(s.Ship, s.Time, s.X, s.Y, s.DX, s.DY)
	}

	starts(r.TorpedoStarts)
	ends(r.TorpedoEnds)
	e.int(len(r.TorpedoBlasts))
	for _, b := range r.TorpedoBlasts {
		e.int(b.Time, b.X, b.Y)
	}
	e.int(len(r.TorpedoDebris))
	for _, d := range r.TorpedoDebris {
		e.int(d.Ship, d.Time, d.X, d.Y, d.DX, d.DY, d.Parts)
	}

	e.int(len(r.ShipDestroys))
	for _, d := range r.ShipDestroys {
		e.int(d.Ship, d.Time, d.X, d.Y)
	}

	e.int(len(r.Texts))
	for _, t := range r.Texts {
		e.int(t.Time)
		e.string(t.Text)
		e.int(t.X, t.Y, t.Size)
		e.color(t.Color)
		e.int(t.Alpha, t.Duration)
	}
	return e.sb.String()
}

// escapeColons puts two backslashes in front of every colon.
func escapeColons(s string) string {
	return strings.ReplaceAll(s, ":", `\\:`)
}

// =============================================================================
// DECODING
// =============================================================================

type decoder struct {
	tokens []string
	pos    int
	err    error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %d: %s", ErrMalformed, d.pos, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) raw() string {
	if d.err != nil {
		return ""
	}
	if d.pos >= len(d.tokens) {
		d.fail("unexpected end of stream")
		return ""
	}
	t := d.tokens[d.pos]
	d.pos++
	return t
}

func (d *decoder) int() int {
	t := d.raw()
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(t, 16, 64)
	if err != nil {
		d.fail("bad integer %q", t)
	}
	return int(v)
}

// count reads a section length and rejects values the rest of the stream
// cannot possibly hold.
func (d *decoder) count(fields int) int {
	n := d.int()
	if n < 0 || n*fields > len(d.tokens)-d.pos {
		d.fail("bad count %d", n)
		return 0
	}
	return n
}

// string reads an escaped string: a token ending in two backslashes was
// split at an escaped colon.
func (d *decoder) string() string {
	s := d.raw()
	for d.err == nil && strings.HasSuffix(s, `\\`) {
		s = s[:len(s)-2] + ":" + d.raw()
	}
	return s
}

func (d *decoder) color() game.RGB {
	t := d.raw()
	if d.err != nil {
		return game.RGB{}
	}
	if len(t) != 7 || t[0] != '#' {
		d.fail("bad color %q", t)
		return game.RGB{}
	}
	v, err := strconv.ParseUint(t[1:], 16, 32)
	if err != nil {
		d.fail("bad color %q", t)
		return game.RGB{}
	}
	return game.RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Unmarshal decodes a replay stream.
func Unmarshal(data string) (*Replay, error) {
	d := &decoder{tokens: strings.Split(data, ":")}
	r := &Replay{}

	r.Version = d.int()
	if d.err == nil && r.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, r.Version)
	}
	r.Width, r.Height = d.int(), d.int()

	rects := func() []Rect {
		n := d.count(4)
		var out []Rect
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, Rect{Left: d.int(), Bottom: d.int(), Width: d.int(), Height: d.int()})
		}
		return out
	}
	r.Walls = rects()
	r.Zones = rects()

	n := d.count(4)
	for i := 0; i < n && d.err == nil; i++ {
		r.Ships = append(r.Ships, ShipProps{
			ShipColor:     d.color(),
			LaserColor:    d.color(),
			ThrusterColor: d.color(),
			Name:          d.string(),
		})
	}

	shipTimes := func() []ShipTime {
		n := d.count(2)
		var out []ShipTime
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, ShipTime{Ship: d.int(), Time: d.int()})
		}
		return out
	}
	r.ShipAdds = shipTimes()
	r.ShipRemoves = shipTimes()
	r.ShowNames = shipTimes()
	r.HideNames = shipTimes()

	n = d.count(5)
	for i := 0; i < n && d.err == nil; i++ {
		r.ShipTicks = append(r.ShipTicks, ShipTick{
			X: d.int(), Y: d.int(), ThrusterAngle: d.int(), ThrusterForce: d.int(), Energy: d.int(),
		})
	}

	starts := func() []ProjectileStart {
		n := d.count(6)
		var out []ProjectileStart
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, ProjectileStart{
				ID: d.int(), Ship: d.int(), FireTime: d.int(), X: d.int(), Y: d.int(), Heading: d.int(),
			})
		}
		return out
	}
	ends := func() []ProjectileEnd {
		n := d.count(2)
		var out []ProjectileEnd
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, ProjectileEnd{ID: d.int(), Time: d.int()})
		}
		return out
	}

	r.LaserStarts = starts()
	r.LaserEnds = ends()
	n = d.count(6)
	for i := 0; i < n && d.err == nil; i++ {
		r.LaserSparks = append(r.LaserSparks, Spark{
			Ship: d.int(), Time: d.int(), X: d.int(), Y: d.int(), DX: d.int(), DY: d.int(),
		})
	}

	r.TorpedoStarts = starts()
	r.TorpedoEnds = ends()
	n = d.count(3)
	for i := 0; i < n && d.err == nil; i++ {
		r.TorpedoBlasts = append(r.TorpedoBlasts, Blast{Time: d.int(), X: d.int(), Y: d.int()})
	}
	n = d.count(7)
	for i := 0; i < n && d.err == nil; i++ {
		r.TorpedoDebris = append(r.TorpedoDebris, Debris{
			Ship: d.int(), Time: d.int(), X: d.int(), Y: d.int(), DX: d.int(), DY: d.int(), Parts: d.int(),
		})
	}

	n = d.count(4)
	for i := 0; i < n && d.err == nil; i++ {
		r.ShipDestroys = append(r.ShipDestroys, Destroy{Ship: d.int(), Time: d.int(), X: d.int(), Y: d.int()})
	}

	n = d.count(8)
	for i := 0; i < n && d.err == nil; i++ {
		t := Text{Time: d.int(), Text: d.string()}
		t.X, t.Y, t.Size = d.int(), d.int(), d.int()
		t.Color = d.color()
		t.Alpha, t.Duration = d.int(), d.int()
		r.Texts = append(r.Texts, t)
	}

	if d.err == nil && d.pos != len(d.tokens) {
		d.fail("%d trailing fields", len(d.tokens)-d.pos)
	}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}
