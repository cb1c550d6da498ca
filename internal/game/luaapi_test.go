package game

import (
	"math"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func shipsFinite(e *Engine) bool {
	for _, s := range e.World().Ships {
		for _, v := range []float64{s.X, s.Y, s.VX, s.VY, s.Energy, s.ThrusterAngle, s.ThrusterForce} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func TestNonFiniteCommandsDisableTeam(t *testing.T) {
	for _, call := range []string{
		"ship:fireThruster(0/0, 1)",
		"ship:fireThruster(0, 1/0)",
		"ship:fireLaser(-1/0)",
		"ship:fireTorpedo(0, 0/0)",
		"ship:fireTorpedo(1/0, 100)",
	} {
		bad := "function run(ship, world, events) " + call + " end"
		e, rec := startMatch(t, testConfig(), duelStage,
			[2]string{"bad.lua", bad},
			[2]string{"good.lua", idleShip},
		)
		runTicks(t, e, 3)

		if !e.Teams()[0].Disabled() {
			t.Errorf("%s: team not disabled", call)
		}
		if reason := e.Teams()[0].DisabledReason(); !strings.Contains(reason, "finite number expected") {
			t.Errorf("%s: disabled for %q", call, reason)
		}
		if len(rec.ofType(EventLaserFired))+len(rec.ofType(EventTorpedoFired)) != 0 {
			t.Errorf("%s: rejected command still fired", call)
		}
		if !shipsFinite(e) {
			t.Errorf("%s: non-finite ship state", call)
		}
	}
}

func TestRejectedCommandLeavesNoIntent(t *testing.T) {
	careful := `
function run(ship, world, events)
  ok = pcall(ship.fireThruster, ship, 0/0, 1)
end
`
	e, _ := startMatch(t, testConfig(), duelStage,
		[2]string{"careful.lua", careful},
		[2]string{"idle.lua", idleShip},
	)
	runTicks(t, e, 5)

	if e.Teams()[0].Disabled() {
		t.Fatal("a caught argument error must not disable the team")
	}
	if ok := e.Teams()[0].ctx.Global("ok"); ok != lua.LFalse {
		t.Errorf("pcall returned %v, want false", ok)
	}
	if s := e.World().Ships[0]; s.VX != 0 || s.VY != 0 || s.X != 100 {
		t.Errorf("ship moved after a rejected thrust: %+v", s)
	}
}

func TestNonFiniteAdminCallsDisableStage(t *testing.T) {
	for _, call := range []string{
		"admin:setShipEnergy(admin:ships()[1], 0/0)",
		"admin:moveShip(admin:ships()[1], 1/0, 10)",
		"admin:setScore(admin:ships()[1], 0/0)",
		"admin:drawText('x', 0/0, 0)",
	} {
		stage := duelStage + "\nfunction postTick(admin) " + call + " end\n"
		e, rec := startMatch(t, testConfig(), stage,
			[2]string{"a.lua", idleShip},
			[2]string{"b.lua", idleShip},
		)
		runTicks(t, e, 3)

		if got := len(rec.ofType(EventStageDisabled)); got != 1 {
			t.Errorf("%s: %d stage disable events", call, got)
		}
		if !shipsFinite(e) {
			t.Errorf("%s: non-finite ship state", call)
		}
		for _, tm := range e.Teams() {
			if math.IsNaN(tm.score) {
				t.Errorf("%s: NaN score for %s", call, tm.Name)
			}
		}
	}
}

func TestWorldQueries(t *testing.T) {
	stage := `
function configure(stage)
  stage:setSize(1000, 600)
  stage:addWall(500, 300, 100, 100)
  stage:addZone(50, 250, 100, 100, "base")
  stage:addZone(0, 0, 1000, 600, "arena")
  stage:addStart(100, 300)
  stage:addStart(400, 300)
  stage:addStart(900, 100)
end
`
	scout := `
function run(ship, world, events)
  local enemy, dist = world:nearestEnemy(ship:x(), ship:y())
  nearest, nearestDist = enemy:index(), dist
  local wall = world:wallAt(550, 350)
  wallLeft = wall and wall.left
  open = world:wallAt(10, 10) == nil
  local zones = world:zonesAt(ship:x(), ship:y())
  zoneCount = #zones
  firstZone = zones[1] and zones[1].tag
end
`
	e, _ := startMatch(t, testConfig(), stage,
		[2]string{"scout.lua", scout},
		[2]string{"near.lua", idleShip},
		[2]string{"far.lua", idleShip},
	)
	runTicks(t, e, 1)

	ctx := e.Teams()[0].ctx
	for _, tt := range []struct {
		global string
		want   lua.LValue
	}{
		{"nearest", lua.LNumber(1)},
		{"nearestDist", lua.LNumber(300)},
		{"wallLeft", lua.LNumber(500)},
		{"open", lua.LTrue},
		{"zoneCount", lua.LNumber(2)},
		{"firstZone", lua.LString("base")},
	} {
		if got := ctx.Global(tt.global); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.global, got, tt.want)
		}
	}
}
