package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

// State is the engine lifecycle.
type State uint8

const (
	StateInitializing State = iota
	StateRunning
	StateGameOver
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// Default stage size when configure does not call setSize.
const (
	DefaultStageWidth  = 800
	DefaultStageHeight = 600
)

// Config is the subset of the application configuration an engine needs.
type Config struct {
	Physics config.PhysicsConfig
	Sandbox config.SandboxConfig
	Match   config.MatchConfig
	Gfx     config.GfxConfig
}

// ConfigFrom extracts the engine settings from the application config.
func ConfigFrom(app config.AppConfig) Config {
	return Config{Physics: app.Physics, Sandbox: app.Sandbox, Match: app.Match, Gfx: app.Gfx}
}

// Engine runs one match. It owns the world and every sandbox context; a new
// Engine is needed for each match.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	state  State

	base     context.Context
	cancel   context.CancelFunc
	stop     func() bool
	released bool

	stage       *sandbox.Context
	stageName   string
	stageDef    StageDef
	stageActive bool
	stageShips  []*lua.LUserData
	stageWorld  *lua.LTable
	admin       *lua.LTable
	maxTicks    int

	teams []*Team
	world *World
	rng   *rand.Rand

	dispatcher *Dispatcher
	gfx        *GfxTracker
	pending    []Event
	tickEvents []Event
	samples    []ShipState

	winner       int
	endRequested bool
	aborted      atomic.Bool
	results      Results

	snapMu    sync.RWMutex
	snapshots *SnapshotPool

	disabledTeams metric.Int64Counter
}

// NewEngine creates an engine in the Initializing state.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	dispatcher, err := NewDispatcher()
	if err != nil {
		return nil, err
	}
	disabled, err := meter().Int64Counter(
		"game.teams.disabled",
		metric.WithDescription("Teams disabled by script failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating disabled counter: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:           cfg,
		logger:        logger.With().Str("component", "engine").Logger(),
		base:          base,
		cancel:        cancel,
		rng:           rand.New(rand.NewSource(cfg.Match.Seed)),
		dispatcher:    dispatcher,
		gfx:           NewGfxTracker(cfg.Gfx),
		winner:        -1,
		maxTicks:      cfg.Match.MaxTicks,
		snapshots:     NewSnapshotPool(DefaultLimits),
		disabledTeams: disabled,
	}
	e.dispatcher.Add(e.gfx)
	return e, nil
}

// AddListener registers an event consumer. Listeners added after Start miss
// the match start notification.
func (e *Engine) AddListener(l Listener) { e.dispatcher.Add(l) }

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// GameOver reports whether the match has ended.
func (e *Engine) GameOver() bool { return e.state == StateGameOver }

// Time returns the current tick.
func (e *Engine) Time() int {
	if e.world == nil {
		return 0
	}
	return e.world.tick
}

// World exposes the world model. Callers must not modify it.
func (e *Engine) World() *World { return e.world }

// Teams returns the admitted teams in index order.
func (e *Engine) Teams() []*Team { return e.teams }

// Gfx returns the transient graphics tracker.
func (e *Engine) Gfx() *GfxTracker { return e.gfx }

func (e *Engine) sandboxOptions(name string, seed int64) sandbox.Options {
	opts := sandbox.OptionsFrom(e.cfg.Sandbox)
	opts.Name, opts.Seed, opts.Logger = name, seed, e.logger
	return opts
}

// LoadStage validates the stage script and runs its configure hook.
func (e *Engine) LoadStage(src sandbox.Source) error {
	if e.state != StateInitializing || e.stage != nil {
		return &EngineInitializationError{Reason: "stage already loaded"}
	}
	opts := e.sandboxOptions(src.Name, e.cfg.Match.Seed)
	if err := sandbox.Validate(e.base, src, sandbox.KindStage, opts); err != nil {
		return &EngineInitializationError{Reason: "stage rejected", Err: err}
	}

	ctx := sandbox.New(e.base, opts)
	if err := ctx.Load(src); err != nil {
		ctx.Close()
		return &EngineInitializationError{Reason: "stage failed to load", Err: err}
	}

	def := StageDef{Width: DefaultStageWidth, Height: DefaultStageHeight}
	builder := newStageBuilder(ctx.State(), &def)
	if _, _, err := ctx.Call(sandbox.PhaseInit, "configure", 0, builder); err != nil {
		ctx.Close()
		return &EngineInitializationError{Reason: "stage configure failed", Err: err}
	}
	if err := def.validate(); err != nil {
		ctx.Close()
		return &EngineInitializationError{Reason: "invalid stage", Err: err}
	}

	e.stage = ctx
	e.stageName = src.Name
	e.stageDef = def
	e.stageActive = true
	if def.MaxTicks > 0 {
		e.maxTicks = def.MaxTicks
	}
	e.logger.Info().
		Str("stage", src.Name).
		Float64("width", def.Width).
		Float64("height", def.Height).
		Int("walls", len(def.Walls)).
		Int("zones", len(def.Zones)).
		Msg("Stage loaded")
	return nil
}

func (d StageDef) validate() error {
	var errs []error
	if d.Width <= 0 || d.Height <= 0 {
		errs = append(errs, fmt.Errorf("stage size %gx%g must be positive", d.Width, d.Height))
	}
	for i, w := range d.Walls {
		if w.Width < 0 || w.Height < 0 {
			errs = append(errs, fmt.Errorf("wall %d has negative size", i))
		}
	}
	for i, z := range d.Zones {
		if z.Width < 0 || z.Height < 0 {
			errs = append(errs, fmt.Errorf("zone %d has negative size", i))
		}
	}
	for i, s := range d.Starts {
		if s.X < 0 || s.X > d.Width || s.Y < 0 || s.Y > d.Height {
			errs = append(errs, fmt.Errorf("start %d (%g, %g) is off the stage", i, s.X, s.Y))
		}
	}
	return errors.Join(errs...)
}

// AddTeam validates and loads a ship script. A rejected script returns its
// ScriptValidationFailure or ScriptLoadError and never enters the match.
func (e *Engine) AddTeam(src sandbox.Source) error {
	if e.state != StateInitializing {
		return fmt.Errorf("add team %s: match already started", src.Name)
	}
	index := len(e.teams)
	opts := e.sandboxOptions(src.Name, e.cfg.Match.Seed+int64(index+1)*7919)
	if err := sandbox.Validate(e.base, src, sandbox.KindShip, opts); err != nil {
		return err
	}

	ctx := sandbox.New(e.base, opts)
	if err := ctx.Load(src); err != nil {
		ctx.Close()
		return err
	}

	count := 1
	if n, ok := ctx.Global("shipCount").(lua.LNumber); ok {
		count = int(n)
	}
	if count < 1 {
		count = 1
	}
	if limit := e.cfg.Match.MaxShipsPerTeam; limit > 0 && count > limit {
		count = limit
	}

	team := &Team{
		Index:   index,
		Name:    e.uniqueTeamName(src.Name),
		Source:  src,
		ctx:     ctx,
		intents: make([]shipIntent, count),
	}
	e.teams = append(e.teams, team)
	e.logger.Info().Str("team", team.Name).Int("ships", count).Msg("Team admitted")
	return nil
}

func (e *Engine) uniqueTeamName(file string) string {
	base := strings.TrimSuffix(path.Base(file), path.Ext(file))
	name := base
	for n := 2; ; n++ {
		taken := false
		for _, t := range e.teams {
			if t.Name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
		name = fmt.Sprintf("%s %d", base, n)
	}
}

// Start builds the world, places the ships and runs every INIT hook. ctx
// bounds the whole match: cancelling it aborts the engine.
func (e *Engine) Start(ctx context.Context) (err error) {
	if e.state != StateInitializing {
		return &EngineInitializationError{Reason: "match already started"}
	}
	if e.released {
		return &EngineInitializationError{Reason: "engine closed"}
	}
	if e.stage == nil {
		return &EngineInitializationError{Reason: "no stage loaded"}
	}
	if len(e.teams) == 0 {
		return &EngineInitializationError{Reason: "no teams admitted"}
	}
	if ctx != nil {
		e.stop = context.AfterFunc(ctx, e.Abort)
	}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	e.world = NewWorld(e.stageDef, e.cfg.Physics)
	for _, t := range e.teams {
		for range t.intents {
			s := newShip(len(e.world.Ships), t.Index, t.Name, e.cfg.Physics.DefaultEnergy, len(e.stageDef.Zones))
			t.ships = append(t.ships, s)
			e.world.Ships = append(e.world.Ships, s)
		}
	}
	e.placeShips()
	for _, s := range e.world.Ships {
		for i, z := range e.world.Zones {
			s.inZone[i] = z.Contains(s.X, s.Y)
		}
	}

	for _, t := range e.teams {
		e.bindTeam(t)
	}
	for _, t := range e.teams {
		_, stats, err := t.ctx.Call(sandbox.PhaseInit, "init", 0, t.shipsArg(), t.world)
		t.steps += stats.Steps
		if err := e.handleTeamError(t, err); err != nil {
			return &EngineInitializationError{Reason: "team init", Err: err}
		}
		e.applyCosmetics(t)
	}

	e.bindStage()
	if _, _, err := e.stage.Call(sandbox.PhaseInit, "init", 0, e.stageShipsTable(), e.stageWorld, e.admin); err != nil {
		return &EngineInitializationError{Reason: "stage init failed", Err: err}
	}

	e.dispatcher.matchStart(e.matchInfo())
	e.state = StateRunning
	e.flush()
	e.publishSnapshot()
	e.logger.Info().Int("teams", len(e.teams)).Int("ships", len(e.world.Ships)).Msg("Match started")
	return nil
}

func (e *Engine) matchInfo() MatchInfo {
	info := MatchInfo{
		Width:  e.world.Width,
		Height: e.world.Height,
		Walls:  e.world.Walls,
		Zones:  e.world.Zones,
		Seed:   e.cfg.Match.Seed,
	}
	for _, t := range e.teams {
		info.Teams = append(info.Teams, t.Name)
	}
	for _, s := range e.world.Ships {
		info.Ships = append(info.Ships, ShipInfo{
			Index:         s.Index,
			Team:          s.Team,
			Name:          s.Name,
			ShipColor:     s.ShipColor,
			LaserColor:    s.LaserColor,
			ThrusterColor: s.ThrusterColor,
		})
	}
	return info
}

// placeShips uses the stage's start positions in order, then random free
// spots drawn from the match seed.
func (e *Engine) placeShips() {
	starts := e.stageDef.Starts
	for i, s := range e.world.Ships {
		if i < len(starts) {
			s.X, s.Y = starts[i].X, starts[i].Y
			continue
		}
		e.randomPlace(s)
	}
}

func (e *Engine) randomPlace(s *Ship) {
	w := e.world
	r := e.cfg.Physics.ShipRadius
	coord := func(size float64) float64 {
		if size <= 2*r {
			return size / 2
		}
		return r + e.rng.Float64()*(size-2*r)
	}

	for try := 0; try < 1000; try++ {
		s.X, s.Y = coord(w.Width), coord(w.Height)
		if e.freeSpot(s, r) {
			return
		}
	}
	e.logger.Warn().Int("ship", s.Index).Msg("No free spot found, placing anyway")
}

func (e *Engine) freeSpot(s *Ship, r float64) bool {
	for _, wall := range e.world.Walls {
		if wall.OverlapsCircle(s.X, s.Y, r) {
			return false
		}
	}
	for _, o := range e.world.Ships[:s.Index] {
		if spatial.Distance(s.X, s.Y, o.X, o.Y) < 2*r {
			return false
		}
	}
	return true
}

// bindTeam installs the Lua API in the team's own state.
func (e *Engine) bindTeam(t *Team) {
	L := t.ctx.State()
	registerShipType(L)
	t.allShips = make([]*lua.LUserData, len(e.world.Ships))
	for _, s := range e.world.Ships {
		ref := &shipRef{ship: s}
		if s.Team == t.Index {
			ref.intent = &t.intents[t.localIndex(s.Index)]
		}
		t.allShips[s.Index] = newShipValue(L, ref)
	}
	for _, s := range t.ships {
		t.shipValues = append(t.shipValues, t.allShips[s.Index])
	}
	t.world = e.newWorldTable(L, t.allShips, t.Index)
}

// shipsArg is the ship handle for single-ship teams and an array otherwise.
func (t *Team) shipsArg() lua.LValue {
	if len(t.shipValues) == 1 {
		return t.shipValues[0]
	}
	tbl := t.ctx.State().NewTable()
	for _, v := range t.shipValues {
		tbl.Append(v)
	}
	return tbl
}

func (e *Engine) bindStage() {
	L := e.stage.State()
	registerShipType(L)
	e.stageShips = make([]*lua.LUserData, len(e.world.Ships))
	for _, s := range e.world.Ships {
		e.stageShips[s.Index] = newShipValue(L, &shipRef{ship: s})
	}
	e.stageWorld = e.newWorldTable(L, e.stageShips, -1)
	e.admin = e.newAdminTable(L)
}

func (e *Engine) stageShipsTable() *lua.LTable {
	tbl := e.stage.State().NewTable()
	for _, v := range e.stageShips {
		tbl.Append(v)
	}
	return tbl
}

// Tick runs one simulation step. The returned error is either ErrAborted,
// ErrNotRunning, or an engine error; script failures never surface here.
func (e *Engine) Tick() (err error) {
	if e.state != StateRunning {
		return ErrNotRunning
	}
	defer func() {
		if r := recover(); r != nil {
			err = &EngineRuntimeError{Tick: e.world.tick, Reason: "panic", Err: fmt.Errorf("%v", r)}
			e.logger.Error().Err(err).Msg("Match terminated")
			e.finish()
		}
	}()
	if e.aborted.Load() {
		e.finish()
		return ErrAborted
	}

	w := e.world
	w.tick++
	e.tickEvents = e.tickEvents[:0]
	for _, s := range w.Ships {
		s.damagedBy = s.damagedBy[:0]
	}

	// 1. stage pre-tick hook
	if _, err := e.callStage("preTick", 0); err != nil {
		return e.terminate(err)
	}

	// 2. team decisions
	if err := e.runTeams(); err != nil {
		return e.terminate(err)
	}

	// 3. intents and movement
	fires := e.applyIntents()
	w.Advance()
	e.spawnProjectiles(fires)

	// 4. collisions
	w.ResolveCollisions(e.emit)

	// 5. destruction, energy and gun heat
	e.destroyDepleted()
	e.updateShips()

	// 6. dispatch
	e.flush()

	// 7. stage post-tick hook
	if _, err := e.callStage("postTick", 0); err != nil {
		return e.terminate(err)
	}
	e.destroyDepleted()
	e.flush()
	e.sampleShips()

	// 8. game over
	over, err := e.checkGameOver()
	if err != nil {
		return e.terminate(err)
	}
	if over {
		e.finish()
	}
	e.publishSnapshot()
	return nil
}

// terminate ends the match after an abort or engine error.
func (e *Engine) terminate(err error) error {
	if errors.Is(err, sandbox.ErrAborted) || errors.Is(err, ErrAborted) {
		e.aborted.Store(true)
		err = ErrAborted
	} else {
		e.logger.Error().Err(err).Msg("Match terminated")
	}
	e.finish()
	return err
}

func (e *Engine) liveTeams() []*Team {
	live := make([]*Team, 0, len(e.teams))
	for _, t := range e.teams {
		if !t.disabled && t.AliveShips() > 0 {
			live = append(live, t)
		}
	}
	return live
}

// runTeams issues RUN to every live team. Calls may run concurrently but
// their results are applied in team index order after all have returned.
func (e *Engine) runTeams() error {
	live := e.liveTeams()
	if workers := e.cfg.Sandbox.Workers; workers <= 1 || len(live) < 2 {
		for _, t := range live {
			t.result = e.runTeam(t)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, t := range live {
			t := t
			g.Go(func() error {
				t.result = e.runTeam(t)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, t := range live {
		t.cpu += t.result.stats.Elapsed
		t.steps += t.result.stats.Steps
		t.runTicks++
		t.inbox = t.inbox[:0]
		if err := e.handleTeamError(t, t.result.err); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runTeam(t *Team) runResult {
	L := t.ctx.State()
	_, stats, err := t.ctx.Call(sandbox.PhaseRun, "run", 0, t.shipsArg(), t.world, eventsTable(L, t.inbox))
	return runResult{stats: stats, err: err}
}

// handleTeamError disables the team for contained script failures and
// returns anything else.
func (e *Engine) handleTeamError(t *Team, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sandbox.ErrAborted):
		t.resetIntents()
		return err
	case sandbox.IsContained(err):
		t.resetIntents()
		e.disableTeam(t, err)
		return nil
	default:
		return &EngineRuntimeError{Tick: e.Time(), Reason: "unexpected script failure", Err: err}
	}
}

func (e *Engine) disableTeam(t *Team, cause error) {
	t.disabled = true
	t.errored = true
	t.disabledReason = cause.Error()
	t.disabledAt = e.world.tick
	for _, s := range t.ships {
		s.Alive = false
	}
	e.emit(EventTeamDisabled, TeamDisabledPayload{Team: t.Index, Name: t.Name, Reason: t.disabledReason})
	e.disabledTeams.Add(context.Background(), 1, metric.WithAttributes(attribute.String("team", t.Name)))
	e.logger.Warn().Err(cause).Str("team", t.Name).Int("tick", t.disabledAt).Msg("Team disabled")
}

// callStage runs a stage hook. Contained failures disable the stage hooks;
// only aborts and engine errors are returned.
func (e *Engine) callStage(name string, nret int) ([]lua.LValue, error) {
	if !e.stageActive {
		return nil, nil
	}
	results, _, err := e.stage.Call(sandbox.PhaseRun, name, nret, e.admin)
	switch {
	case err == nil:
		return results, nil
	case errors.Is(err, sandbox.ErrAborted):
		return nil, err
	case sandbox.IsContained(err):
		e.stageActive = false
		e.emit(EventStageDisabled, StageDisabledPayload{Reason: err.Error()})
		e.logger.Warn().Err(err).Str("stage", e.stageName).Msg("Stage hooks disabled")
		return nil, nil
	default:
		return nil, &EngineRuntimeError{Tick: e.Time(), Reason: "stage " + name, Err: err}
	}
}

// fireOrder is a validated fire command waiting for movement to finish.
type fireOrder struct {
	ship     *Ship
	torpedo  bool
	heading  float64
	distance float64
}

// applyIntents drains every team's buffered commands in team then ship
// order and returns the accepted fire orders.
func (e *Engine) applyIntents() []fireOrder {
	var fires []fireOrder
	for _, t := range e.teams {
		if t.disabled {
			continue
		}
		for i, s := range t.ships {
			in := &t.intents[i]
			if !s.Alive {
				continue
			}
			applyCosmetic(s, in)
			if in.thrust {
				s.ThrusterAngle = spatial.NormalAbsoluteAngle(in.thrustAngle)
				s.ThrusterForce = spatial.Clamp(in.thrustForce, 0, 1)
			}
			if in.laser && s.LaserGunHeat == 0 {
				fires = append(fires, fireOrder{ship: s, heading: in.laserHeading})
				s.LaserGunHeat = e.cfg.Physics.LaserCooldown
			}
			if in.torpedo && s.TorpedoGunHeat == 0 {
				fires = append(fires, fireOrder{ship: s, torpedo: true, heading: in.torpedoAngle, distance: in.torpedoDist})
				s.TorpedoGunHeat = e.cfg.Physics.TorpedoCooldown
			}
		}
		t.resetIntents()
	}
	return fires
}

// applyCosmetics applies name, color and name visibility changes made
// during INIT. Movement and fire commands stay queued for tick 1.
func (e *Engine) applyCosmetics(t *Team) {
	for i, s := range t.ships {
		in := &t.intents[i]
		applyCosmetic(s, in)
		in.name, in.shipColor, in.laserColor, in.thrusterColor, in.showName = nil, nil, nil, nil, nil
	}
}

func applyCosmetic(s *Ship, in *shipIntent) {
	if in.name != nil {
		s.Name = *in.name
	}
	if in.shipColor != nil {
		s.ShipColor = *in.shipColor
	}
	if in.laserColor != nil {
		s.LaserColor = *in.laserColor
	}
	if in.thrusterColor != nil {
		s.ThrusterColor = *in.thrusterColor
	}
	if in.showName != nil {
		s.ShowName = *in.showName
	}
}

// spawnProjectiles launches fire orders from the ships' post-move positions.
// New projectiles first move on the next tick.
func (e *Engine) spawnProjectiles(fires []fireOrder) {
	for _, f := range fires {
		heading := spatial.NormalAbsoluteAngle(f.heading)
		if f.torpedo {
			t := e.world.SpawnTorpedo(f.ship, heading, max(f.distance, 0))
			e.emit(EventTorpedoFired, TorpedoFiredPayload{
				TorpedoID: t.ID, Ship: t.Ship, FireTime: t.FireTime,
				X: t.SrcX, Y: t.SrcY, Heading: t.Heading, Distance: t.Distance,
			})
			continue
		}
		l := e.world.SpawnLaser(f.ship, heading)
		e.emit(EventLaserFired, LaserFiredPayload{
			LaserID: l.ID, Ship: l.Ship, FireTime: l.FireTime,
			X: l.SrcX, Y: l.SrcY, Heading: l.Heading,
		})
	}
}

// destroyDepleted destroys every alive ship whose energy reached zero.
func (e *Engine) destroyDepleted() {
	for _, s := range e.world.Ships {
		if s.Alive && s.Energy <= 0 {
			e.destroyShip(s)
		}
	}
}

func (e *Engine) destroyShip(s *Ship) {
	s.Alive = false
	if s.Energy < 0 {
		s.Energy = 0
	}
	destroyers := append([]int(nil), s.damagedBy...)
	sort.Ints(destroyers)
	e.emit(EventShipDestroyed, ShipDestroyedPayload{Ship: s.Index, X: s.X, Y: s.Y, Destroyers: destroyers})
}

// updateShips clamps energy, applies regeneration and cools the guns.
func (e *Engine) updateShips() {
	p := e.cfg.Physics
	for _, s := range e.world.Ships {
		if s.Energy < 0 {
			s.Energy = 0
		}
		if !s.Alive {
			continue
		}
		if p.EnergyRegen > 0 && s.Energy < p.DefaultEnergy {
			s.Energy = min(s.Energy+p.EnergyRegen, p.DefaultEnergy)
		}
		if s.LaserGunHeat > 0 {
			s.LaserGunHeat--
		}
		if s.TorpedoGunHeat > 0 {
			s.TorpedoGunHeat--
		}
	}
	for _, t := range e.teams {
		if t.AliveShips() > 0 {
			t.lastAlive = e.world.tick
		}
	}
}

func (e *Engine) emit(typ EventType, payload any) {
	e.pending = append(e.pending, Event{Type: typ, Tick: e.world.tick, Payload: payload})
}

// flush dispatches pending events and routes hits and deaths to the teams
// that will see them in their next RUN.
func (e *Engine) flush() {
	for _, ev := range e.pending {
		ev = e.dispatcher.Dispatch(ev)
		e.tickEvents = append(e.tickEvents, ev)
		e.route(ev)
	}
	clear(e.pending)
	e.pending = e.pending[:0]
}

func (e *Engine) route(ev Event) {
	deliver := func(ships ...int) {
		seen := -1
		for _, idx := range ships {
			t := e.teams[e.world.Ships[idx].Team]
			if t.Index != seen && !t.disabled {
				t.inbox = append(t.inbox, ev)
				seen = t.Index
			}
		}
	}
	switch p := ev.Payload.(type) {
	case LaserHitShipPayload:
		deliver(p.Ship, p.Target)
	case TorpedoHitShipPayload:
		deliver(p.Ship, p.Target)
	case ShipDestroyedPayload:
		for _, t := range e.teams {
			if !t.disabled {
				t.inbox = append(t.inbox, ev)
			}
		}
	}
}

func (e *Engine) sampleShips() {
	e.samples = e.samples[:0]
	for _, s := range e.world.Ships {
		e.samples = append(e.samples, s.State())
	}
	e.dispatcher.tick(e.world.tick, e.samples)
}

func (e *Engine) checkGameOver() (bool, error) {
	if e.endRequested {
		return true, nil
	}
	if e.stageActive && e.stage.HasFunction("gameOver") {
		results, err := e.callStage("gameOver", 1)
		if err != nil {
			return false, err
		}
		if len(results) == 1 && lua.LVAsBool(results[0]) {
			return true, nil
		}
	}

	alive := 0
	for _, t := range e.teams {
		if t.AliveShips() > 0 {
			alive++
		}
	}
	if alive == 0 || (len(e.teams) >= 2 && alive <= 1) {
		return true, nil
	}
	return e.maxTicks > 0 && e.world.tick >= e.maxTicks, nil
}

// finish moves to GameOver, computes results and releases every sandbox.
func (e *Engine) finish() {
	if e.state == StateGameOver {
		return
	}
	e.state = StateGameOver
	if e.pending != nil {
		e.flush()
	}

	if e.winner < 0 && len(e.teams) >= 2 && !e.aborted.Load() {
		survivor := -1
		for _, t := range e.teams {
			if t.AliveShips() > 0 {
				if survivor >= 0 {
					survivor = -1
					break
				}
				survivor = t.Index
			}
		}
		e.winner = survivor
	}
	e.results = e.buildResults()
	e.dispatcher.matchEnd(e.results)

	e.release()
	e.publishSnapshot()

	ev := e.logger.Info().Int("ticks", e.results.Ticks).Bool("aborted", e.results.Aborted)
	if e.results.Winner != "" {
		ev = ev.Str("winner", e.results.Winner)
	}
	ev.Msg("Match finished")
}

// release closes every sandbox and detaches the engine from the match
// context. It is idempotent.
func (e *Engine) release() {
	if e.released {
		return
	}
	e.released = true
	for _, t := range e.teams {
		t.ctx.Close()
	}
	if e.stage != nil {
		e.stage.Close()
	}
	if e.stop != nil {
		e.stop()
	}
	e.cancel()
}

// Close releases the engine's sandboxes without playing the match. It is a
// no-op once the match has finished and must not race with Tick.
func (e *Engine) Close() {
	e.release()
}

// Run drives the match to completion, pacing ticks at Match.TPS when set.
// It starts the engine if Start was not called yet.
func (e *Engine) Run(ctx context.Context) (Results, error) {
	if e.state == StateInitializing {
		if err := e.Start(ctx); err != nil {
			return Results{}, err
		}
	}

	var limiter *rate.Limiter
	if tps := e.cfg.Match.TPS; tps > 0 {
		limiter = rate.NewLimiter(rate.Limit(tps), 1)
	}
	for e.state == StateRunning {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				e.Abort()
			}
		}
		if err := e.Tick(); err != nil {
			return e.results, err
		}
	}
	return e.results, nil
}

// Abort stops the match from any goroutine. An in-flight script call is
// interrupted and the next Tick ends the match with ErrAborted.
func (e *Engine) Abort() {
	e.aborted.Store(true)
	e.cancel()
}

// Results returns the final standings once the game is over, or the current
// standings otherwise. It must not race with Tick.
func (e *Engine) Results() Results {
	if e.state == StateGameOver {
		return e.results
	}
	return e.buildResults()
}
