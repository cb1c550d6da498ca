package game

import (
	"math"
	"testing"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

func testWorld(def StageDef, positions ...[2]float64) *World {
	w := NewWorld(def, config.DefaultPhysics())
	for i, p := range positions {
		s := newShip(i, i, "ship", 100, len(def.Zones))
		s.X, s.Y = p[0], p[1]
		w.Ships = append(w.Ships, s)
	}
	return w
}

type emitted struct {
	types    []EventType
	payloads []any
}

func (e *emitted) emit(t EventType, p any) {
	e.types = append(e.types, t)
	e.payloads = append(e.payloads, p)
}

func (e *emitted) count(t EventType) int {
	n := 0
	for _, got := range e.types {
		if got == t {
			n++
		}
	}
	return n
}

func TestProjectileIDsAreMonotonic(t *testing.T) {
	w := testWorld(StageDef{Width: 500, Height: 500}, [2]float64{100, 100})
	s := w.Ships[0]
	for i := 0; i < 3; i++ {
		if l := w.SpawnLaser(s, 0); l.ID != i {
			t.Errorf("laser %d got id %d", i, l.ID)
		}
	}
	w.RemoveLaser(1)
	if l := w.SpawnLaser(s, 0); l.ID != 3 {
		t.Errorf("ids must not be reused, got %d", l.ID)
	}
	if tp := w.SpawnTorpedo(s, 0, 50); tp.ID != 0 {
		t.Errorf("torpedo ids are counted separately, got %d", tp.ID)
	}
}

func TestWallBeatsShipAtEqualDistance(t *testing.T) {
	def := StageDef{Width: 500, Height: 500, Walls: []spatial.Rect{{Left: 184, Bottom: 0, Width: 10, Height: 500}}}
	w := testWorld(def, [2]float64{100, 250}, [2]float64{192, 250})

	h, ok := w.firstHit(128, 250, 256, 250, 0)
	if !ok {
		t.Fatal("expected a hit")
	}
	if h.wall != 0 || h.ship != nil {
		t.Errorf("wall should win the tie, got %+v", h)
	}
}

func TestFirstHitSkipsOwner(t *testing.T) {
	w := testWorld(StageDef{Width: 500, Height: 500}, [2]float64{100, 250}, [2]float64{300, 250})
	h, ok := w.firstHit(100, 250, 400, 250, 0)
	if !ok || h.ship == nil || h.ship.Index != 1 {
		t.Fatalf("expected hit on ship 1, got %+v %v", h, ok)
	}
}

func TestLaserLeavesStage(t *testing.T) {
	w := testWorld(StageDef{Width: 100, Height: 100}, [2]float64{90, 50})
	w.SpawnLaser(w.Ships[0], 0)

	var ev emitted
	for i := 0; i < 3; i++ {
		w.tick++
		w.Advance()
		w.ResolveCollisions(ev.emit)
	}
	if len(w.Lasers) != 0 {
		t.Errorf("laser should be gone, %d left", len(w.Lasers))
	}
	if ev.count(EventLaserDestroyed) != 1 {
		t.Errorf("expected one destroy event, got %v", ev.types)
	}
}

func TestBlastFalloffIncludesOwner(t *testing.T) {
	w := testWorld(StageDef{Width: 1000, Height: 1000}, [2]float64{500, 500}, [2]float64{550, 500}, [2]float64{700, 500})
	tp := &Torpedo{ID: 0, Ship: 0, X: 500, Y: 500, Heading: 0}

	var ev emitted
	w.blast(tp, ev.emit)

	p := w.physics
	if got := ev.count(EventTorpedoHitShip); got != 2 {
		t.Fatalf("expected owner and ship 1 hit, got %d", got)
	}
	owner := ev.payloads[1].(TorpedoHitShipPayload)
	if owner.Target != 0 || owner.Damage != p.TorpedoBlastDamage {
		t.Errorf("owner at the center takes full damage, got %+v", owner)
	}
	near := ev.payloads[2].(TorpedoHitShipPayload)
	wantDamage := p.TorpedoBlastDamage * (1 - 50/p.TorpedoBlastRadius)
	if math.Abs(near.Damage-wantDamage) > 1e-9 {
		t.Errorf("damage %v, want %v", near.Damage, wantDamage)
	}
	if near.HitAngle != 0 || near.DX <= 0 {
		t.Errorf("ship 1 should be pushed away along +x, got %+v", near)
	}
	if w.Ships[0].damagedBy != nil && len(w.Ships[0].damagedBy) != 0 {
		t.Error("self damage must not be attributed")
	}
	if w.Ships[2].Energy != 100 {
		t.Error("ship outside the radius must be untouched")
	}
}

func TestSparkParts(t *testing.T) {
	tests := []struct {
		damage float64
		want   int
	}{
		{0, 0},
		{1, 1},
		{8, 4},
		{32, 16},
		{48, 16},
	}
	for _, tt := range tests {
		if got := sparkParts(tt.damage, 32, 16); got != tt.want {
			t.Errorf("sparkParts(%v) = %d, want %d", tt.damage, got, tt.want)
		}
	}
}

func TestShipCollisionSeparates(t *testing.T) {
	w := testWorld(StageDef{Width: 500, Height: 500}, [2]float64{100, 100}, [2]float64{110, 100})
	a, b := w.Ships[0], w.Ships[1]
	a.VX, b.VX = 5, -5

	w.resolveShipCollisions()

	r := w.physics.ShipRadius
	if d := spatial.Distance(a.X, a.Y, b.X, b.Y); d < 2*r-1e-9 {
		t.Errorf("ships still overlap, distance %v", d)
	}
	if a.VX != -5 || b.VX != 5 {
		t.Errorf("normal velocities should swap, got %v and %v", a.VX, b.VX)
	}
}

func TestShipStopsAtWall(t *testing.T) {
	def := StageDef{Width: 500, Height: 500, Walls: []spatial.Rect{{Left: 200, Bottom: 0, Width: 20, Height: 500}}}
	w := testWorld(def, [2]float64{150, 250})
	s := w.Ships[0]
	s.ThrusterForce, s.ThrusterAngle = 1, 0

	for i := 0; i < 60; i++ {
		w.Advance()
	}
	if s.X > 200-w.physics.ShipRadius+1e-9 {
		t.Errorf("ship passed into the wall, x = %v", s.X)
	}
}

func TestSpeedIsCapped(t *testing.T) {
	w := testWorld(StageDef{Width: 5000, Height: 500}, [2]float64{100, 250})
	s := w.Ships[0]
	s.ThrusterForce, s.ThrusterAngle = 1, 0
	for i := 0; i < 50; i++ {
		w.Advance()
	}
	if s.Speed() > w.physics.MaxSpeed+1e-9 {
		t.Errorf("speed %v exceeds %v", s.Speed(), w.physics.MaxSpeed)
	}
}

func TestZoneEvents(t *testing.T) {
	def := StageDef{Width: 500, Height: 500, Zones: []Zone{{Rect: spatial.Rect{Left: 0, Bottom: 0, Width: 50, Height: 50}, Tag: "home"}}}
	w := testWorld(def, [2]float64{100, 100})
	s := w.Ships[0]

	var ev emitted
	s.X, s.Y = 25, 25
	w.updateZones(ev.emit)
	if !w.InZone(s, "home") || len(w.ShipsInZone("home")) != 1 {
		t.Error("ship should be in the zone")
	}
	s.X = 100
	w.updateZones(ev.emit)

	if len(ev.types) != 2 || ev.types[0] != EventShipEnteredZone || ev.types[1] != EventShipLeftZone {
		t.Errorf("unexpected zone events %v", ev.types)
	}
}

func TestWorldPointQueries(t *testing.T) {
	def := StageDef{
		Width: 1000, Height: 600,
		Walls: []spatial.Rect{
			{Left: 500, Bottom: 300, Width: 100, Height: 100},
			{Left: 550, Bottom: 350, Width: 100, Height: 100},
		},
		Zones: []Zone{
			{Rect: spatial.Rect{Left: 0, Bottom: 0, Width: 200, Height: 200}, Tag: "base"},
			{Rect: spatial.Rect{Left: 100, Bottom: 100, Width: 200, Height: 200}, Tag: "mid"},
		},
	}
	w := testWorld(def)

	tests := []struct {
		name  string
		x, y  float64
		wall  int
		zones []int
	}{
		{"open ground", 900, 50, -1, nil},
		{"inside one wall", 520, 320, 0, nil},
		{"overlapping walls report the first", 575, 375, 0, nil},
		{"second wall only", 640, 440, 1, nil},
		{"wall edge is inside", 500, 300, 0, nil},
		{"single zone", 50, 50, -1, []int{0}},
		{"overlapping zones in order", 150, 150, -1, []int{0, 1}},
		{"zone edge is inside", 300, 300, -1, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.WallAt(tt.x, tt.y); got != tt.wall {
				t.Errorf("WallAt = %d, want %d", got, tt.wall)
			}
			got := w.ZonesAt(tt.x, tt.y)
			if len(got) != len(tt.zones) {
				t.Fatalf("ZonesAt = %v, want %v", got, tt.zones)
			}
			for i := range got {
				if got[i] != tt.zones[i] {
					t.Errorf("ZonesAt = %v, want %v", got, tt.zones)
				}
			}
		})
	}
}

func TestNearestShip(t *testing.T) {
	sameTeam := func(team int) func(*Ship) bool {
		return func(s *Ship) bool { return s.Team == team }
	}

	tests := []struct {
		name      string
		positions [][2]float64
		dead      []int
		x, y      float64
		skip      func(*Ship) bool
		want      int
		wantDist  float64
	}{
		{"no ships", nil, nil, 0, 0, nil, -1, math.Inf(1)},
		{"closest wins", [][2]float64{{100, 0}, {30, 40}, {200, 0}}, nil, 0, 0, nil, 1, 50},
		{"tie goes to lower index", [][2]float64{{0, 10}, {10, 0}}, nil, 0, 0, nil, 0, 10},
		{"dead ships ignored", [][2]float64{{10, 0}, {20, 0}}, []int{0}, 0, 0, nil, 1, 20},
		{"skip filters own team", [][2]float64{{10, 0}, {50, 0}}, nil, 0, 0, sameTeam(0), 1, 50},
		{"everything skipped", [][2]float64{{10, 0}}, nil, 0, 0, sameTeam(0), -1, math.Inf(1)},
		{"all dead", [][2]float64{{10, 0}, {20, 0}}, []int{0, 1}, 0, 0, nil, -1, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWorld(StageDef{Width: 500, Height: 500}, tt.positions...)
			for _, i := range tt.dead {
				w.Ships[i].Alive = false
			}

			got, dist := w.NearestShip(tt.x, tt.y, tt.skip)
			if tt.want < 0 {
				if got != nil {
					t.Fatalf("got ship %d, want none", got.Index)
				}
			} else if got == nil || got.Index != tt.want {
				t.Fatalf("got %v, want ship %d", got, tt.want)
			}
			if math.Abs(dist-tt.wantDist) > 1e-9 && !(math.IsInf(dist, 1) && math.IsInf(tt.wantDist, 1)) {
				t.Errorf("distance = %v, want %v", dist, tt.wantDist)
			}
		})
	}
}
