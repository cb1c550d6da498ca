package game

import (
	"slices"
	"time"
)

// TeamResult is one team's final standing.
type TeamResult struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Rank       int     `json:"rank"` // 1 is best
	Score      float64 `json:"score"`
	Stats      []Stat  `json:"stats,omitempty"`
	CPUPerTick float64 `json:"cpuPerTick"` // microseconds per RUN call
	Steps      int64   `json:"steps"`
	Ticks      int     `json:"ticks"` // RUN calls made
	Disabled   bool    `json:"disabled"`
	Reason     string  `json:"reason,omitempty"`
	AliveShips int     `json:"aliveShips"`
	LastAlive  int     `json:"lastAlive"`
}

// Stat returns the named statistic. Stages choose their own keys, so a
// missing statistic is normal.
func (r TeamResult) Stat(key string) (float64, bool) {
	for _, s := range r.Stats {
		if s.Key == key {
			return s.Value, true
		}
	}
	return 0, false
}

// buildResults snapshots every team and ranks them.
func (e *Engine) buildResults() Results {
	res := Results{Teams: make([]TeamResult, 0, len(e.teams)), Aborted: e.aborted.Load()}
	if e.world != nil {
		res.Ticks = e.world.tick
	}
	if e.winner >= 0 && e.winner < len(e.teams) {
		res.Winner = e.teams[e.winner].Name
	}

	for _, t := range e.teams {
		r := TeamResult{
			Index:      t.Index,
			Name:       t.Name,
			Score:      t.score,
			Stats:      slices.Clone(t.stats),
			Steps:      t.steps,
			Ticks:      t.runTicks,
			Disabled:   t.disabled,
			Reason:     t.disabledReason,
			AliveShips: t.AliveShips(),
			LastAlive:  t.lastAlive,
		}
		if t.runTicks > 0 {
			r.CPUPerTick = float64(t.cpu/time.Microsecond) / float64(t.runTicks)
		}
		res.Teams = append(res.Teams, r)
	}
	rankTeams(res.Teams, e.winner)
	return res
}

// rankTeams orders teams best first and assigns ranks. Disabled teams sort
// after every team that finished. The rest are ordered by winner, score,
// surviving ships, how long they survived and finally index.
func rankTeams(teams []TeamResult, winner int) {
	slices.SortStableFunc(teams, func(a, b TeamResult) int {
		if a.Disabled != b.Disabled {
			if a.Disabled {
				return 1
			}
			return -1
		}
		if (a.Index == winner) != (b.Index == winner) {
			if a.Index == winner {
				return -1
			}
			return 1
		}
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case a.AliveShips != b.AliveShips:
			return b.AliveShips - a.AliveShips
		case a.LastAlive != b.LastAlive:
			return b.LastAlive - a.LastAlive
		}
		return a.Index - b.Index
	})
	for i := range teams {
		teams[i].Rank = i + 1
	}
}
