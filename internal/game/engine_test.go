package game

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

func testConfig() Config {
	return Config{
		Physics: config.DefaultPhysics(),
		Sandbox: config.SandboxConfig{StepLimit: 50_000, InitStepLimit: 500_000, Workers: 1},
		Match:   config.MatchConfig{MaxTicks: 200, Seed: 7, MaxShipsPerTeam: 4},
		Gfx:     config.DefaultGfx(),
	}
}

// recorder keeps every dispatched event.
type recorder struct {
	events []Event
}

func (r *recorder) HandleEvent(e Event) { r.events = append(r.events, e) }

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

const idleShip = `function run(ship, world, events) end`

// startMatch builds and starts an engine from a stage and ship scripts keyed
// by file name, in order.
func startMatch(t *testing.T, cfg Config, stage string, ships ...[2]string) (*Engine, *recorder) {
	t.Helper()
	e, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rec := &recorder{}
	e.AddListener(rec)

	if err := e.LoadStage(sandbox.Source{Name: "stage.lua", Code: stage}); err != nil {
		t.Fatalf("LoadStage: %v", err)
	}
	for _, s := range ships {
		if err := e.AddTeam(sandbox.Source{Name: s[0], Code: s[1]}); err != nil {
			t.Fatalf("AddTeam(%s): %v", s[0], err)
		}
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, rec
}

func runTicks(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n && e.State() == StateRunning; i++ {
		if err := e.Tick(); err != nil {
			t.Fatalf("tick %d: %v", e.Time(), err)
		}
	}
}

const duelStage = `
function configure(stage)
  stage:setSize(1000, 600)
  stage:addStart(100, 300)
  stage:addStart(400, 300)
end
`

const laserShip = `
function run(ship, world, events)
  ship:fireLaser(0)
end
`

func TestLaserHitTiming(t *testing.T) {
	e, rec := startMatch(t, testConfig(), duelStage,
		[2]string{"shooter.lua", laserShip},
		[2]string{"target.lua", idleShip},
	)
	runTicks(t, e, 20)

	fired := rec.ofType(EventLaserFired)
	if len(fired) == 0 || fired[0].Tick != 1 {
		t.Fatalf("expected first laser on tick 1, got %+v", fired)
	}
	hits := rec.ofType(EventLaserHitShip)
	if len(hits) == 0 {
		t.Fatal("laser never hit")
	}

	p := e.cfg.Physics
	want := 1 + int(math.Ceil((300-p.ShipRadius)/p.LaserSpeed))
	if hits[0].Tick != want {
		t.Errorf("first hit on tick %d, want %d", hits[0].Tick, want)
	}
	hit := hits[0].Payload.(LaserHitShipPayload)
	if hit.Ship != 0 || hit.Target != 1 || hit.Damage != p.LaserDamage {
		t.Errorf("unexpected hit payload %+v", hit)
	}
}

func TestSimultaneousDestroyers(t *testing.T) {
	stage := `
function configure(stage)
  stage:setSize(1000, 600)
  stage:addStart(100, 300)
  stage:addStart(700, 300)
  stage:addStart(400, 300)
end
function init(ships, world, admin)
  admin:setShipEnergy(ships[3], 4)
end
`
	left := `function run(ship) ship:fireLaser(0) end`
	right := `function run(ship) ship:fireLaser(math.pi) end`
	e, rec := startMatch(t, testConfig(), stage,
		[2]string{"left.lua", left},
		[2]string{"right.lua", right},
		[2]string{"target.lua", idleShip},
	)
	runTicks(t, e, 15)

	destroyed := rec.ofType(EventShipDestroyed)
	if len(destroyed) != 1 {
		t.Fatalf("expected one destruction, got %d", len(destroyed))
	}
	p := destroyed[0].Payload.(ShipDestroyedPayload)
	if p.Ship != 2 || !reflect.DeepEqual(p.Destroyers, []int{0, 1}) {
		t.Errorf("unexpected destruction %+v", p)
	}

	target := e.World().Ships[2]
	if target.Alive {
		t.Error("target should be dead")
	}
	if target.Energy != 0 {
		t.Errorf("energy should clamp to 0, got %v", target.Energy)
	}
}

func TestTimeoutDisablesTeam(t *testing.T) {
	spin := `
local n = 0
function run(ship, world, events)
  n = n + 1
  if n == 3 then
    while true do end
  end
end
`
	stage := `function configure(stage) stage:setSize(800, 600) end`
	e, rec := startMatch(t, testConfig(), stage,
		[2]string{"spin.lua", spin},
		[2]string{"a.lua", idleShip},
		[2]string{"b.lua", idleShip},
	)
	runTicks(t, e, 10)

	if e.State() != StateRunning {
		t.Fatalf("match should continue, state %s", e.State())
	}
	disabled := rec.ofType(EventTeamDisabled)
	if len(disabled) != 1 || disabled[0].Tick != 3 {
		t.Fatalf("expected team disabled on tick 3, got %+v", disabled)
	}
	spinner := e.Teams()[0]
	if !spinner.Disabled() || spinner.AliveShips() != 0 {
		t.Error("disabled team must have no live ships")
	}
	if !strings.Contains(spinner.DisabledReason(), "exceeded") {
		t.Errorf("unexpected reason %q", spinner.DisabledReason())
	}
	if _, runs := spinner.CPU(); runs != 3 {
		t.Errorf("expected 3 RUN calls, got %d", runs)
	}

	res := e.Results()
	last := res.Teams[len(res.Teams)-1]
	if last.Name != "spin" || !last.Disabled || last.Rank != 3 {
		t.Errorf("disabled team should rank last, got %+v", last)
	}
}

func TestRuntimeErrorDisablesTeam(t *testing.T) {
	bad := `function run(ship) error("bad") end`
	e, rec := startMatch(t, testConfig(), duelStage,
		[2]string{"bad.lua", bad},
		[2]string{"good.lua", idleShip},
	)
	runTicks(t, e, 5)

	if !e.GameOver() {
		t.Fatal("match should end with one team left")
	}
	if got := len(rec.ofType(EventTeamDisabled)); got != 1 {
		t.Fatalf("expected one disable event, got %d", got)
	}
	res := e.Results()
	if res.Winner != "good" || res.Ticks != 1 {
		t.Errorf("unexpected results %+v", res)
	}
}

func TestTorpedoHitsWallBelow(t *testing.T) {
	stage := `
function configure(stage)
  stage:setSize(800, 600)
  stage:addWall(0, 0, 800, 10)
  stage:addStart(400, 200)
end
`
	ship := `
local fired = false
function run(ship, world, events)
  if not fired then
    ship:fireTorpedo(-math.pi / 2, 1000)
    fired = true
  end
end
`
	cfg := testConfig()
	cfg.Match.MaxTicks = 30
	e, rec := startMatch(t, cfg, stage, [2]string{"diver.lua", ship})
	runTicks(t, e, 30)

	exploded := rec.ofType(EventTorpedoExploded)
	if len(exploded) != 1 {
		t.Fatalf("expected one explosion, got %d", len(exploded))
	}
	p := exploded[0].Payload.(TorpedoExplodedPayload)
	if math.Abs(p.X-400) > 1e-9 || math.Abs(p.Y-10) > 1e-9 {
		t.Errorf("explosion at (%v, %v), want (400, 10)", p.X, p.Y)
	}
	if hits := rec.ofType(EventTorpedoHitShip); len(hits) != 0 {
		t.Errorf("no ship is within the blast, got %d hits", len(hits))
	}
}

func TestSymmetricShipsMoveIdentically(t *testing.T) {
	stage := `
function configure(stage)
  stage:setSize(800, 600)
  stage:addStart(200, 300)
  stage:addStart(600, 300)
end
`
	ship := `function run(ship) ship:fireThruster(math.pi / 2, 1) end`
	e, _ := startMatch(t, testConfig(), stage,
		[2]string{"a.lua", ship},
		[2]string{"b.lua", ship},
	)
	a, b := e.World().Ships[0], e.World().Ships[1]
	ax, ay, bx, by := a.X, a.Y, b.X, b.Y

	runTicks(t, e, 40)

	if a.X-ax != b.X-bx || a.Y-ay != b.Y-by {
		t.Errorf("deltas differ: a (%v, %v) b (%v, %v)", a.X-ax, a.Y-ay, b.X-bx, b.Y-by)
	}
	if a.Energy != b.Energy {
		t.Errorf("energy differs: %v vs %v", a.Energy, b.Energy)
	}
}

const randomShip = `
function run(ship, world, events)
  ship:fireThruster(math.random() * 2 * math.pi, math.random())
  if math.random() < 0.5 then
    ship:fireLaser(math.random() * 2 * math.pi)
  else
    ship:fireTorpedo(math.random() * 2 * math.pi, math.random(50, 300))
  end
end
`

const openStage = `
function configure(stage)
  stage:setSize(600, 400)
  stage:addWall(280, 150, 40, 100)
end
`

func trace(t *testing.T, workers int) []Event {
	t.Helper()
	cfg := testConfig()
	cfg.Sandbox.Workers = workers
	e, rec := startMatch(t, cfg, openStage,
		[2]string{"r1.lua", randomShip},
		[2]string{"r2.lua", randomShip},
		[2]string{"r3.lua", randomShip},
	)
	runTicks(t, e, 150)
	return rec.events
}

func TestDeterministicEventTrace(t *testing.T) {
	first := trace(t, 1)
	if len(first) == 0 {
		t.Fatal("expected events")
	}
	if second := trace(t, 1); !reflect.DeepEqual(first, second) {
		t.Error("identical matches produced different traces")
	}
	if parallel := trace(t, 4); !reflect.DeepEqual(first, parallel) {
		t.Error("parallel RUN changed the trace")
	}
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	events := trace(t, 1)
	for i := 1; i < len(events); i++ {
		if events[i].Sequence != events[i-1].Sequence+1 {
			t.Fatalf("sequence gap at %d: %d after %d", i, events[i].Sequence, events[i-1].Sequence)
		}
		if events[i].Tick < events[i-1].Tick {
			t.Fatalf("tick went backwards at %d", i)
		}
	}
}

func TestStageSetsWinner(t *testing.T) {
	stage := `
function configure(stage) stage:setSize(800, 600) end
function postTick(admin)
  if admin:time() == 5 then
    local ships = admin:ships()
    admin:setScore(ships[2], 10)
    admin:setStat(ships[2], "Kills", 3)
    admin:setWinner(ships[2])
  end
end
`
	e, _ := startMatch(t, testConfig(), stage,
		[2]string{"alpha.lua", idleShip},
		[2]string{"beta.lua", idleShip},
	)
	runTicks(t, e, 20)

	if !e.GameOver() {
		t.Fatal("expected game over")
	}
	res := e.Results()
	if res.Winner != "beta" || res.Ticks != 5 {
		t.Fatalf("unexpected results %+v", res)
	}
	if res.Teams[0].Name != "beta" || res.Teams[0].Rank != 1 {
		t.Errorf("winner should rank first, got %+v", res.Teams[0])
	}
	if v, ok := res.Teams[0].Stat("Kills"); !ok || v != 3 {
		t.Errorf("Kills stat = %v, %v", v, ok)
	}
	if _, ok := res.Teams[1].Stat("Kills"); ok {
		t.Error("alpha has no Kills stat")
	}
}

func TestStageErrorDisablesHooks(t *testing.T) {
	stage := `
function configure(stage) stage:setSize(800, 600) end
function preTick(admin) error("stage broke") end
`
	e, rec := startMatch(t, testConfig(), stage,
		[2]string{"alpha.lua", idleShip},
		[2]string{"beta.lua", idleShip},
	)
	runTicks(t, e, 3)

	if e.State() != StateRunning {
		t.Fatalf("match should continue, state %s", e.State())
	}
	if got := len(rec.ofType(EventStageDisabled)); got != 1 {
		t.Errorf("expected one stage disable event, got %d", got)
	}
}

func TestMaxTicksEndsMatch(t *testing.T) {
	stage := `
function configure(stage)
  stage:setSize(800, 600)
  stage:setMaxTicks(12)
end
`
	e, _ := startMatch(t, testConfig(), stage,
		[2]string{"alpha.lua", idleShip},
		[2]string{"beta.lua", idleShip},
	)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ticks != 12 || res.Winner != "" {
		t.Errorf("unexpected results %+v", res)
	}
	if err := e.Tick(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Tick after game over = %v", err)
	}
}

func TestAbortEndsMatch(t *testing.T) {
	e, _ := startMatch(t, testConfig(), duelStage,
		[2]string{"alpha.lua", idleShip},
		[2]string{"beta.lua", idleShip},
	)
	runTicks(t, e, 2)
	e.Abort()

	if err := e.Tick(); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if !e.GameOver() || !e.Results().Aborted {
		t.Error("aborted match should be over and flagged")
	}
	for _, team := range e.Teams() {
		if team.Disabled() {
			t.Errorf("abort must not disable %s", team.Name)
		}
	}
}

func TestInitializationErrors(t *testing.T) {
	t.Run("stage without configure", func(t *testing.T) {
		e, _ := NewEngine(testConfig(), zerolog.Nop())
		err := e.LoadStage(sandbox.Source{Name: "stage.lua", Code: `function init() end`})
		var initErr *EngineInitializationError
		if !errors.As(err, &initErr) {
			t.Fatalf("expected EngineInitializationError, got %v", err)
		}
	})

	t.Run("ship without entry points", func(t *testing.T) {
		e, _ := NewEngine(testConfig(), zerolog.Nop())
		err := e.AddTeam(sandbox.Source{Name: "empty.lua", Code: `x = 1`})
		var failure *sandbox.ScriptValidationFailure
		if !errors.As(err, &failure) {
			t.Fatalf("expected ScriptValidationFailure, got %v", err)
		}
		if len(e.Teams()) != 0 {
			t.Error("rejected team must not be admitted")
		}
	})

	t.Run("start without teams", func(t *testing.T) {
		e, _ := NewEngine(testConfig(), zerolog.Nop())
		if err := e.LoadStage(sandbox.Source{Name: "stage.lua", Code: duelStage}); err != nil {
			t.Fatal(err)
		}
		var initErr *EngineInitializationError
		if err := e.Start(context.Background()); !errors.As(err, &initErr) {
			t.Fatalf("expected EngineInitializationError, got %v", err)
		}
	})

	t.Run("failed stage init releases sandboxes", func(t *testing.T) {
		e, _ := NewEngine(testConfig(), zerolog.Nop())
		stage := duelStage + `function init(ships, world, admin) error("trap") end`
		if err := e.LoadStage(sandbox.Source{Name: "stage.lua", Code: stage}); err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"a.lua", "b.lua"} {
			if err := e.AddTeam(sandbox.Source{Name: name, Code: idleShip}); err != nil {
				t.Fatal(err)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var initErr *EngineInitializationError
		if err := e.Start(ctx); !errors.As(err, &initErr) {
			t.Fatalf("expected EngineInitializationError, got %v", err)
		}
		for _, tm := range e.Teams() {
			if _, _, err := tm.ctx.Call(sandbox.PhaseRun, "run", 0); !errors.Is(err, sandbox.ErrAborted) {
				t.Errorf("team %s sandbox still usable: %v", tm.Name, err)
			}
		}
		if e.base.Err() == nil {
			t.Error("engine context not cancelled")
		}

		cancel()
		time.Sleep(20 * time.Millisecond)
		if e.aborted.Load() {
			t.Error("engine still listens to the match context")
		}
		if err := e.Start(context.Background()); !errors.As(err, &initErr) {
			t.Fatalf("restart after failure: %v", err)
		}
	})

	t.Run("stage with negative size", func(t *testing.T) {
		e, _ := NewEngine(testConfig(), zerolog.Nop())
		err := e.LoadStage(sandbox.Source{Name: "stage.lua", Code: `function configure(s) s:setSize(-1, 10) end`})
		var initErr *EngineInitializationError
		if !errors.As(err, &initErr) {
			t.Fatalf("expected EngineInitializationError, got %v", err)
		}
	})
}

func TestMultiShipTeamAndCosmetics(t *testing.T) {
	fleet := `
shipCount = 3
function init(ships, world)
  for i, ship in ipairs(ships) do
    ship:setName("wing " .. i)
    ship:setShipColor(255, 0, 0)
  end
end
function run(ships, world, events) end
`
	e, _ := startMatch(t, testConfig(), `function configure(s) s:setSize(800, 600) end`,
		[2]string{"fleet.lua", fleet},
		[2]string{"fleet.lua", idleShip},
	)
	teams := e.Teams()
	if len(teams[0].Ships()) != 3 {
		t.Fatalf("expected 3 ships, got %d", len(teams[0].Ships()))
	}
	if teams[1].Name != "fleet 2" {
		t.Errorf("duplicate team names must be made unique, got %q", teams[1].Name)
	}
	s := teams[0].Ships()[1]
	if s.Name != "wing 2" || s.ShipColor != (RGB{255, 0, 0}) {
		t.Errorf("cosmetics not applied after init: %q %v", s.Name, s.ShipColor)
	}
	for i, a := range e.World().Ships {
		for _, b := range e.World().Ships[i+1:] {
			if d := math.Hypot(a.X-b.X, a.Y-b.Y); d < 2*e.cfg.Physics.ShipRadius {
				t.Errorf("ships %d and %d overlap at start", a.Index, b.Index)
			}
		}
	}
}

func TestEnemyHandlesAreReadOnly(t *testing.T) {
	meddler := `
function run(ship, world, events)
  local enemy = world:enemies()[1]
  enemy:fireLaser(0)
end
`
	e, rec := startMatch(t, testConfig(), duelStage,
		[2]string{"meddler.lua", meddler},
		[2]string{"victim.lua", idleShip},
	)
	runTicks(t, e, 2)

	if len(rec.ofType(EventLaserFired)) != 0 {
		t.Error("enemy ship must not fire")
	}
	if !e.Teams()[0].Disabled() {
		t.Error("commanding an enemy ship is a script error")
	}
}

func TestEventsReachScripts(t *testing.T) {
	target := `
hits = 0
function run(ship, world, events)
  hits = hits + #events.laserHits
end
`
	e, _ := startMatch(t, testConfig(), duelStage,
		[2]string{"shooter.lua", laserShip},
		[2]string{"target.lua", target},
	)
	runTicks(t, e, 20)

	if hits := lua.LVAsNumber(e.Teams()[1].ctx.Global("hits")); hits == 0 {
		t.Error("target never saw a laser hit")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	e, _ := startMatch(t, testConfig(), duelStage,
		[2]string{"shooter.lua", laserShip},
		[2]string{"target.lua", idleShip},
	)
	runTicks(t, e, 3)

	snap := e.Snapshot()
	if snap.Tick != 3 || snap.State != "running" || len(snap.Ships) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Lasers) == 0 {
		t.Error("expected lasers in flight")
	}
	snap.Ships[0].X = -1
	if e.Snapshot().Ships[0].X == -1 {
		t.Error("snapshot shares memory with the engine")
	}
}
