package game

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
)

// Stat is one named numeric statistic reported by the stage.
type Stat struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// shipIntent buffers the commands a ship issued during one script call.
// Nothing is applied to the world until the engine drains the buffer.
type shipIntent struct {
	thrust       bool
	thrustAngle  float64
	thrustForce  float64
	laser        bool
	laserHeading float64
	torpedo      bool
	torpedoAngle float64
	torpedoDist  float64

	name          *string
	shipColor     *RGB
	laserColor    *RGB
	thrusterColor *RGB
	showName      *bool
}

// Team is one script-controlled participant. It may control several ships,
// all sharing one sandbox context.
type Team struct {
	Index  int
	Name   string
	Source sandbox.Source

	ctx   *sandbox.Context
	ships []*Ship

	intents []shipIntent

	// Lua handles, created once in the team's own state.
	shipValues []*lua.LUserData
	allShips   []*lua.LUserData
	world      *lua.LTable
	inbox      []Event

	disabled       bool
	disabledReason string
	disabledAt     int
	errored        bool

	cpu      time.Duration
	steps    int64
	runTicks int

	score float64
	stats []Stat

	lastAlive int // last tick at which the team had a live ship
	result    runResult
}

// runResult is what a RUN call left behind for the engine.
type runResult struct {
	stats sandbox.CallStats
	err   error
}

// Ships returns the team's ships in index order.
func (t *Team) Ships() []*Ship { return t.ships }

// Disabled reports whether the team was removed from the match.
func (t *Team) Disabled() bool { return t.disabled }

// DisabledReason describes why the team was disabled.
func (t *Team) DisabledReason() string { return t.disabledReason }

// Errored reports whether one of the team's calls failed. A console
// consumer may clear the flag once it has shown the failure.
func (t *Team) Errored() bool { return t.errored }

// ClearErrored resets the errored flag.
func (t *Team) ClearErrored() { t.errored = false }

// AliveShips counts the team's live ships.
func (t *Team) AliveShips() int {
	n := 0
	for _, s := range t.ships {
		if s.Alive {
			n++
		}
	}
	return n
}

// CPU returns wall-clock time spent in RUN calls and the number of RUN
// calls made.
func (t *Team) CPU() (time.Duration, int) { return t.cpu, t.runTicks }

// Steps returns the VM instructions executed by every call of the team.
func (t *Team) Steps() int64 { return t.steps }

// Score returns the stage-assigned score.
func (t *Team) Score() float64 { return t.score }

func (t *Team) setStat(key string, value float64) {
	for i := range t.stats {
		if t.stats[i].Key == key {
			t.stats[i].Value = value
			return
		}
	}
	t.stats = append(t.stats, Stat{Key: key, Value: value})
}

func (t *Team) resetIntents() {
	for i := range t.intents {
		t.intents[i] = shipIntent{}
	}
}

// localIndex maps a global ship index to the team's intent slot.
func (t *Team) localIndex(ship int) int {
	for i, s := range t.ships {
		if s.Index == ship {
			return i
		}
	}
	return -1
}
