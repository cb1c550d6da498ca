package game

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

const shipTypeName = "berrybots.ship"

// shipRef is the userdata behind a ship handle. intent is nil unless the
// calling team owns the ship, which makes the handle read-only.
type shipRef struct {
	ship   *Ship
	intent *shipIntent
}

var shipMethods = map[string]lua.LGFunction{
	"x":              shipNumber(func(s *Ship) float64 { return s.X }),
	"y":              shipNumber(func(s *Ship) float64 { return s.Y }),
	"heading":        shipNumber((*Ship).Heading),
	"speed":          shipNumber((*Ship).Speed),
	"energy":         shipNumber(func(s *Ship) float64 { return s.Energy }),
	"index":          shipNumber(func(s *Ship) float64 { return float64(s.Index) }),
	"thrusterAngle":  shipNumber(func(s *Ship) float64 { return s.ThrusterAngle }),
	"thrusterForce":  shipNumber(func(s *Ship) float64 { return s.ThrusterForce }),
	"laserGunHeat":   shipNumber(func(s *Ship) float64 { return float64(s.LaserGunHeat) }),
	"torpedoGunHeat": shipNumber(func(s *Ship) float64 { return float64(s.TorpedoGunHeat) }),
	"alive":          shipAlive,
	"name":           shipName,
	"isMine":         shipIsMine,

	"fireThruster":     shipFireThruster,
	"fireLaser":        shipFireLaser,
	"fireTorpedo":      shipFireTorpedo,
	"setName":          shipSetName,
	"setShipColor":     shipSetColor(func(in *shipIntent, c RGB) { in.shipColor = &c }),
	"setLaserColor":    shipSetColor(func(in *shipIntent, c RGB) { in.laserColor = &c }),
	"setThrusterColor": shipSetColor(func(in *shipIntent, c RGB) { in.thrusterColor = &c }),
	"showName":         shipShowName(true),
	"hideName":         shipShowName(false),
}

func registerShipType(L *lua.LState) {
	mt := L.NewTypeMetatable(shipTypeName)
	L.SetField(mt, "__index", sandbox.NewObject(L, shipMethods))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		r := checkShip(L, 1)
		L.Push(lua.LString(fmt.Sprintf("ship %d (%s)", r.ship.Index, r.ship.Name)))
		return 1
	}))
}

func newShipValue(L *lua.LState, ref *shipRef) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = ref
	L.SetMetatable(ud, L.GetTypeMetatable(shipTypeName))
	return ud
}

func checkShip(L *lua.LState, n int) *shipRef {
	ud := L.CheckUserData(n)
	if r, ok := ud.Value.(*shipRef); ok {
		return r
	}
	L.ArgError(n, "ship expected")
	return nil
}

func checkOwnShip(L *lua.LState) *shipRef {
	r := checkShip(L, 1)
	if r.intent == nil {
		L.RaiseError("ship %d is not controlled by this script", r.ship.Index)
	}
	return r
}

func shipNumber(get func(*Ship) float64) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LNumber(get(checkShip(L, 1).ship)))
		return 1
	}
}

func shipAlive(L *lua.LState) int {
	L.Push(lua.LBool(checkShip(L, 1).ship.Alive))
	return 1
}

func shipName(L *lua.LState) int {
	L.Push(lua.LString(checkShip(L, 1).ship.Name))
	return 1
}

func shipIsMine(L *lua.LState) int {
	L.Push(lua.LBool(checkShip(L, 1).intent != nil))
	return 1
}

// ship:fireThruster(angle, force)
func shipFireThruster(L *lua.LState) int {
	r := checkOwnShip(L)
	angle, force := checkFinite(L, 2), checkFinite(L, 3)
	r.intent.thrust = true
	r.intent.thrustAngle = angle
	r.intent.thrustForce = force
	return 0
}

// ship:fireLaser(heading)
func shipFireLaser(L *lua.LState) int {
	r := checkOwnShip(L)
	heading := checkFinite(L, 2)
	r.intent.laser = true
	r.intent.laserHeading = heading
	return 0
}

// ship:fireTorpedo(heading, distance)
func shipFireTorpedo(L *lua.LState) int {
	r := checkOwnShip(L)
	heading, dist := checkFinite(L, 2), checkFinite(L, 3)
	r.intent.torpedo = true
	r.intent.torpedoAngle = heading
	r.intent.torpedoDist = dist
	return 0
}

func shipSetName(L *lua.LState) int {
	r := checkOwnShip(L)
	name := L.CheckString(2)
	r.intent.name = &name
	return 0
}

func shipSetColor(set func(*shipIntent, RGB)) lua.LGFunction {
	return func(L *lua.LState) int {
		r := checkOwnShip(L)
		set(r.intent, RGB{colorArg(L, 2), colorArg(L, 3), colorArg(L, 4)})
		return 0
	}
}

func shipShowName(show bool) lua.LGFunction {
	return func(L *lua.LState) int {
		r := checkOwnShip(L)
		r.intent.showName = &show
		return 0
	}
}

// checkFinite is CheckNumber that also rejects NaN and the infinities.
func checkFinite(L *lua.LState, n int) float64 {
	v := float64(L.CheckNumber(n))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		L.ArgError(n, "finite number expected")
	}
	return v
}

func colorArg(L *lua.LState, n int) uint8 {
	return uint8(spatial.Clamp(float64(L.CheckInt(n)), 0, 255))
}

func optColorArg(L *lua.LState, n int, def uint8) uint8 {
	if L.Get(n) == lua.LNil {
		return def
	}
	return colorArg(L, n)
}

// =============================================================================
// WORLD
// =============================================================================

// newWorldTable builds the read-only world object. handles are the calling
// state's ship handles indexed by ship index; team is the caller's team, or
// -1 for the stage, and decides which ships count as enemies.
func (e *Engine) newWorldTable(L *lua.LState, handles []*lua.LUserData, team int) *lua.LTable {
	walls := L.NewTable()
	for _, w := range e.world.Walls {
		walls.Append(rectTable(L, w, ""))
	}
	zones := L.NewTable()
	for _, z := range e.world.Zones {
		zones.Append(rectTable(L, z.Rect, z.Tag))
	}
	constants := constantsTable(L, e.cfg.Physics)

	push := func(v lua.LValue) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(v)
			return 1
		}
	}
	return sandbox.NewObject(L, map[string]lua.LGFunction{
		"width":     push(lua.LNumber(e.world.Width)),
		"height":    push(lua.LNumber(e.world.Height)),
		"walls":     push(walls),
		"zones":     push(zones),
		"constants": push(constants),
		"time": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.world.tick))
			return 1
		},
		"enemies": func(L *lua.LState) int {
			tbl := L.NewTable()
			for _, s := range e.world.Ships {
				if s.Alive && s.Team != team {
					tbl.Append(handles[s.Index])
				}
			}
			L.Push(tbl)
			return 1
		},
		// world:nearestEnemy(x, y) returns the closest enemy ship and its
		// distance, or nil.
		"nearestEnemy": func(L *lua.LState) int {
			x, y := checkFinite(L, 2), checkFinite(L, 3)
			s, d := e.world.NearestShip(x, y, func(s *Ship) bool { return s.Team == team })
			if s == nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(handles[s.Index])
			L.Push(lua.LNumber(d))
			return 2
		},
		// world:wallAt(x, y) returns the wall containing the point, or nil.
		"wallAt": func(L *lua.LState) int {
			i := e.world.WallAt(checkFinite(L, 2), checkFinite(L, 3))
			if i < 0 {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(walls.RawGetInt(i + 1))
			return 1
		},
		// world:zonesAt(x, y) returns every zone containing the point.
		"zonesAt": func(L *lua.LState) int {
			tbl := L.NewTable()
			for _, i := range e.world.ZonesAt(checkFinite(L, 2), checkFinite(L, 3)) {
				tbl.Append(zones.RawGetInt(i + 1))
			}
			L.Push(tbl)
			return 1
		},
	})
}

func rectTable(L *lua.LState, r spatial.Rect, tag string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("left", lua.LNumber(r.Left))
	t.RawSetString("bottom", lua.LNumber(r.Bottom))
	t.RawSetString("width", lua.LNumber(r.Width))
	t.RawSetString("height", lua.LNumber(r.Height))
	if tag != "" {
		t.RawSetString("tag", lua.LString(tag))
	}
	return t
}

func constantsTable(L *lua.LState, p config.PhysicsConfig) *lua.LTable {
	t := L.NewTable()
	for _, kv := range []struct {
		key string
		val float64
	}{
		{"shipRadius", p.ShipRadius},
		{"maxSpeed", p.MaxSpeed},
		{"thrusterAccel", p.ThrusterAccel},
		{"defaultEnergy", p.DefaultEnergy},
		{"energyRegen", p.EnergyRegen},
		{"laserSpeed", p.LaserSpeed},
		{"laserDamage", p.LaserDamage},
		{"laserGunHeat", float64(p.LaserCooldown)},
		{"torpedoSpeed", p.TorpedoSpeed},
		{"torpedoBlastRadius", p.TorpedoBlastRadius},
		{"torpedoBlastDamage", p.TorpedoBlastDamage},
		{"torpedoBlastForce", p.TorpedoBlastForce},
		{"torpedoGunHeat", float64(p.TorpedoCooldown)},
	} {
		t.RawSetString(kv.key, lua.LNumber(kv.val))
	}
	return t
}

// eventsTable converts the team's inbox from the previous tick.
func eventsTable(L *lua.LState, inbox []Event) *lua.LTable {
	laserHits := L.NewTable()
	torpedoHits := L.NewTable()
	destroyed := L.NewTable()

	for _, ev := range inbox {
		switch p := ev.Payload.(type) {
		case LaserHitShipPayload:
			t := L.NewTable()
			t.RawSetString("time", lua.LNumber(ev.Tick))
			t.RawSetString("ship", lua.LNumber(p.Target))
			t.RawSetString("source", lua.LNumber(p.Ship))
			t.RawSetString("damage", lua.LNumber(p.Damage))
			t.RawSetString("dx", lua.LNumber(p.DX))
			t.RawSetString("dy", lua.LNumber(p.DY))
			laserHits.Append(t)
		case TorpedoHitShipPayload:
			t := L.NewTable()
			t.RawSetString("time", lua.LNumber(ev.Tick))
			t.RawSetString("ship", lua.LNumber(p.Target))
			t.RawSetString("source", lua.LNumber(p.Ship))
			t.RawSetString("damage", lua.LNumber(p.Damage))
			t.RawSetString("hitAngle", lua.LNumber(p.HitAngle))
			t.RawSetString("hitForce", lua.LNumber(p.Force))
			torpedoHits.Append(t)
		case ShipDestroyedPayload:
			t := L.NewTable()
			t.RawSetString("time", lua.LNumber(ev.Tick))
			t.RawSetString("ship", lua.LNumber(p.Ship))
			by := L.NewTable()
			for _, d := range p.Destroyers {
				by.Append(lua.LNumber(d))
			}
			t.RawSetString("destroyers", by)
			destroyed.Append(t)
		}
	}

	events := L.NewTable()
	events.RawSetString("laserHits", laserHits)
	events.RawSetString("torpedoHits", torpedoHits)
	events.RawSetString("shipDestroyed", destroyed)
	return events
}

// =============================================================================
// STAGE
// =============================================================================

// newStageBuilder exposes the configure-time geometry setters.
func newStageBuilder(L *lua.LState, def *StageDef) *lua.LTable {
	return sandbox.NewObject(L, map[string]lua.LGFunction{
		"setSize": func(L *lua.LState) int {
			def.Width = checkFinite(L, 2)
			def.Height = checkFinite(L, 3)
			return 0
		},
		"addWall": func(L *lua.LState) int {
			def.Walls = append(def.Walls, checkRect(L, 2))
			return 0
		},
		"addZone": func(L *lua.LState) int {
			def.Zones = append(def.Zones, Zone{Rect: checkRect(L, 2), Tag: L.OptString(6, "")})
			return 0
		},
		"addStart": func(L *lua.LState) int {
			def.Starts = append(def.Starts, Start{X: checkFinite(L, 2), Y: checkFinite(L, 3)})
			return 0
		},
		"setMaxTicks": func(L *lua.LState) int {
			def.MaxTicks = L.CheckInt(2)
			return 0
		},
	})
}

func checkRect(L *lua.LState, n int) spatial.Rect {
	return spatial.Rect{
		Left:   checkFinite(L, n),
		Bottom: checkFinite(L, n+1),
		Width:  checkFinite(L, n+2),
		Height: checkFinite(L, n+3),
	}
}

// newAdminTable exposes the stage's privileged controls. It must only be
// called from the engine goroutine.
func (e *Engine) newAdminTable(L *lua.LState) *lua.LTable {
	shipsList := func(ships []*Ship) *lua.LTable {
		tbl := L.NewTable()
		for _, s := range ships {
			tbl.Append(e.stageShips[s.Index])
		}
		return tbl
	}

	return sandbox.NewObject(L, map[string]lua.LGFunction{
		"ships": func(L *lua.LState) int {
			L.Push(shipsList(e.world.Ships))
			return 1
		},
		"time": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.world.tick))
			return 1
		},
		"destroyShip": func(L *lua.LState) int {
			if s := checkShip(L, 2).ship; s.Alive {
				e.destroyShip(s)
			}
			return 0
		},
		"setShipEnergy": func(L *lua.LState) int {
			s := checkShip(L, 2).ship
			s.Energy = math.Max(checkFinite(L, 3), 0)
			return 0
		},
		"moveShip": func(L *lua.LState) int {
			s := checkShip(L, 2).ship
			s.X, s.Y = checkFinite(L, 3), checkFinite(L, 4)
			s.VX, s.VY = 0, 0
			return 0
		},
		"shipsInZone": func(L *lua.LState) int {
			L.Push(shipsList(e.world.ShipsInZone(L.CheckString(2))))
			return 1
		},
		"inZone": func(L *lua.LState) int {
			s := checkShip(L, 2).ship
			L.Push(lua.LBool(e.world.InZone(s, L.CheckString(3))))
			return 1
		},
		// admin:drawText(text, x, y [, size, r, g, b, a, duration])
		"drawText": func(L *lua.LState) int {
			e.emit(EventStageText, StageTextPayload{
				Text: L.CheckString(2),
				X:    checkFinite(L, 3),
				Y:    checkFinite(L, 4),
				Size: L.OptInt(5, 20),
				Color: RGBA{
					R: optColorArg(L, 6, DefaultTextColor.R),
					G: optColorArg(L, 7, DefaultTextColor.G),
					B: optColorArg(L, 8, DefaultTextColor.B),
					A: optColorArg(L, 9, DefaultTextColor.A),
				},
				Duration: L.OptInt(10, 1),
			})
			return 0
		},
		"setScore": func(L *lua.LState) int {
			e.checkTeam(L, 2).score = checkFinite(L, 3)
			return 0
		},
		"addScore": func(L *lua.LState) int {
			e.checkTeam(L, 2).score += checkFinite(L, 3)
			return 0
		},
		"setStat": func(L *lua.LState) int {
			e.checkTeam(L, 2).setStat(L.CheckString(3), checkFinite(L, 4))
			return 0
		},
		"setWinner": func(L *lua.LState) int {
			e.winner = e.checkTeam(L, 2).Index
			e.endRequested = true
			return 0
		},
		"endGame": func(L *lua.LState) int {
			e.endRequested = true
			return 0
		},
	})
}

// checkTeam accepts a ship handle or a team name.
func (e *Engine) checkTeam(L *lua.LState, n int) *Team {
	switch v := L.Get(n).(type) {
	case *lua.LUserData:
		if r, ok := v.Value.(*shipRef); ok {
			return e.teams[r.ship.Team]
		}
	case lua.LString:
		for _, t := range e.teams {
			if t.Name == string(v) {
				return t
			}
		}
		L.ArgError(n, fmt.Sprintf("no team named %q", string(v)))
		return nil
	}
	L.ArgError(n, "ship or team name expected")
	return nil
}
