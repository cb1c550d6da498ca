// Package render draws still images of a match with fogleman/gg.
package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"slices"

	"github.com/fogleman/gg"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
)

var (
	backgroundColor = color.RGBA{12, 12, 28, 255}
	gridColor       = color.RGBA{30, 30, 45, 255}
	wallColor       = color.RGBA{120, 120, 140, 255}
	zoneColor       = color.NRGBA{80, 160, 80, 70}
	laserColor      = color.RGBA{255, 80, 80, 255}
	torpedoColor    = color.RGBA{255, 200, 60, 255}
	textColor       = color.RGBA{230, 230, 240, 255}
)

// Thumbnail is a Listener that keeps the latest frame of a match and draws
// it on demand. It must be registered before the match starts.
type Thumbnail struct {
	physics   config.PhysicsConfig
	info      game.MatchInfo
	tick      int
	ships     []game.ShipState
	lasers    map[int]game.LaserFiredPayload
	torpedoes map[int]game.TorpedoFiredPayload
	texts     []game.StageTextPayload
	textTick  int
}

// NewThumbnail creates an empty thumbnail listener. Projectile speeds come
// from physics.
func NewThumbnail(physics config.PhysicsConfig) *Thumbnail {
	return &Thumbnail{
		physics:   physics,
		lasers:    make(map[int]game.LaserFiredPayload),
		torpedoes: make(map[int]game.TorpedoFiredPayload),
	}
}

// HandleMatchStart implements game.MatchStartListener.
func (t *Thumbnail) HandleMatchStart(info game.MatchInfo) {
	t.info = info
}

// HandleTick implements game.TickListener.
func (t *Thumbnail) HandleTick(tick int, ships []game.ShipState) {
	t.tick = tick
	t.ships = append(t.ships[:0], ships...)
}

// HandleEvent implements game.Listener. Only the latest tick's stage text
// is kept.
func (t *Thumbnail) HandleEvent(e game.Event) {
	switch p := e.Payload.(type) {
	case game.LaserFiredPayload:
		t.lasers[p.LaserID] = p
	case game.LaserDestroyedPayload:
		delete(t.lasers, p.LaserID)
	case game.TorpedoFiredPayload:
		t.torpedoes[p.TorpedoID] = p
	case game.TorpedoDestroyedPayload:
		delete(t.torpedoes, p.TorpedoID)
	case game.TorpedoExplodedPayload:
		delete(t.torpedoes, p.TorpedoID)
	case game.StageTextPayload:
		if e.Tick != t.textTick {
			t.texts, t.textTick = t.texts[:0], e.Tick
		}
		t.texts = append(t.texts, p)
	}
}

// Image draws the latest frame, width pixels wide.
func (t *Thumbnail) Image(width int) (image.Image, error) {
	if t.info.Width <= 0 || t.info.Height <= 0 {
		return nil, fmt.Errorf("render: no stage recorded")
	}
	if width <= 0 {
		return nil, fmt.Errorf("render: width must be positive, got %d", width)
	}
	scale := float64(width) / t.info.Width
	height := max(1, int(math.Round(t.info.Height*scale)))

	dc := gg.NewContext(width, height)
	f := frame{dc: dc, scale: scale, stageHeight: t.info.Height, tick: t.tick, physics: t.physics}
	f.background(width, height)
	f.zones(t.info.Zones)
	f.walls(t.info)
	f.projectiles(t.lasers, t.torpedoes)
	f.ships(t.info, t.ships)
	f.texts(t.texts)

	dc.SetColor(textColor)
	dc.DrawStringAnchored(fmt.Sprintf("tick %d", t.tick), 6, 6, 0, 1)
	return dc.Image(), nil
}

// WritePNG encodes the latest frame as PNG.
func (t *Thumbnail) WritePNG(w io.Writer, width int) error {
	img, err := t.Image(width)
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(w)
}

// SavePNG writes the latest frame to path.
func (t *Thumbnail) SavePNG(path string, width int) error {
	img, err := t.Image(width)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}

type frame struct {
	dc          *gg.Context
	scale       float64
	stageHeight float64
	tick        int
	physics     config.PhysicsConfig
}

// travel returns where a projectile fired at (x, y) on fireTime is now.
func (f frame) travel(x, y, heading, speed float64, fireTime int) (float64, float64) {
	d := speed * float64(f.tick-fireTime)
	return x + d*math.Cos(heading), y + d*math.Sin(heading)
}

// pt maps stage coordinates (origin bottom left) to pixels.
func (f frame) pt(x, y float64) (float64, float64) {
	return x * f.scale, (f.stageHeight - y) * f.scale
}

func (f frame) background(width, height int) {
	dc := f.dc
	dc.SetColor(backgroundColor)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	step := 100 * f.scale
	if step < 4 {
		return
	}
	for x := 0.0; x < float64(width); x += step {
		dc.DrawLine(x, 0, x, float64(height))
	}
	for y := float64(height); y > 0; y -= step {
		dc.DrawLine(0, y, float64(width), y)
	}
	dc.Stroke()
}

func (f frame) zones(zones []game.Zone) {
	f.dc.SetColor(zoneColor)
	for _, z := range zones {
		x, y := f.pt(z.Left, z.Top())
		f.dc.DrawRectangle(x, y, z.Width*f.scale, z.Height*f.scale)
	}
	f.dc.Fill()
}

func (f frame) walls(info game.MatchInfo) {
	f.dc.SetColor(wallColor)
	for _, w := range info.Walls {
		x, y := f.pt(w.Left, w.Top())
		f.dc.DrawRectangle(x, y, w.Width*f.scale, w.Height*f.scale)
	}
	f.dc.Fill()
}

func (f frame) projectiles(lasers map[int]game.LaserFiredPayload, torpedoes map[int]game.TorpedoFiredPayload) {
	dc := f.dc
	dc.SetColor(laserColor)
	dc.SetLineWidth(2)
	for _, id := range sortedKeys(lasers) {
		l := lasers[id]
		x, y := f.pt(f.travel(l.X, l.Y, l.Heading, f.physics.LaserSpeed, l.FireTime))
		dx, dy := 12*math.Cos(l.Heading)*f.scale, -12*math.Sin(l.Heading)*f.scale
		dc.DrawLine(x, y, x+dx, y+dy)
	}
	dc.Stroke()

	dc.SetColor(torpedoColor)
	for _, id := range sortedKeys(torpedoes) {
		tp := torpedoes[id]
		x, y := f.pt(f.travel(tp.X, tp.Y, tp.Heading, f.physics.TorpedoSpeed, tp.FireTime))
		dc.DrawCircle(x, y, max(2, 3*f.scale))
	}
	dc.Fill()
}

func (f frame) ships(info game.MatchInfo, ships []game.ShipState) {
	dc := f.dc
	radius := max(3, 8*f.scale)
	for _, s := range ships {
		x, y := f.pt(s.X, s.Y)
		c := shipColor(info, s.Index)

		if !s.Alive {
			dc.SetColor(color.NRGBA{c.R, c.G, c.B, 110})
			dc.SetLineWidth(2)
			dc.DrawLine(x-radius, y-radius, x+radius, y+radius)
			dc.DrawLine(x-radius, y+radius, x+radius, y-radius)
			dc.Stroke()
			continue
		}

		dc.SetColor(color.RGBA{c.R, c.G, c.B, 255})
		dc.DrawCircle(x, y, radius)
		dc.Fill()

		dc.SetColor(color.White)
		dc.SetLineWidth(1.5)
		dc.DrawLine(x, y, x+radius*1.6*math.Cos(s.Heading), y-radius*1.6*math.Sin(s.Heading))
		dc.Stroke()

		if s.ShowName && s.Name != "" {
			dc.SetColor(textColor)
			dc.DrawStringAnchored(s.Name, x, y+radius+4, 0.5, 1)
		}
	}
}

func (f frame) texts(texts []game.StageTextPayload) {
	for _, t := range texts {
		x, y := f.pt(t.X, t.Y)
		f.dc.SetColor(color.NRGBA{t.Color.R, t.Color.G, t.Color.B, t.Color.A})
		f.dc.DrawString(t.Text, x, y)
	}
}

func shipColor(info game.MatchInfo, index int) game.RGB {
	for _, s := range info.Ships {
		if s.Index == index {
			return s.ShipColor
		}
	}
	return game.RGB{R: 255, G: 255, B: 255}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
