package game

import (
	"strings"
	"testing"
)

func TestRankTeams(t *testing.T) {
	teams := []TeamResult{
		{Index: 0, Name: "quitter", Disabled: true, Score: 50},
		{Index: 1, Name: "low", Score: 1, AliveShips: 2},
		{Index: 2, Name: "high", Score: 5},
		{Index: 3, Name: "survivor", Score: 1, AliveShips: 3},
		{Index: 4, Name: "winner"},
	}
	rankTeams(teams, 4)

	want := []string{"winner", "high", "survivor", "low", "quitter"}
	for i, name := range want {
		if teams[i].Name != name || teams[i].Rank != i+1 {
			t.Errorf("rank %d: got %s (rank %d), want %s", i+1, teams[i].Name, teams[i].Rank, name)
		}
	}
}

func TestResultsPrint(t *testing.T) {
	res := Results{
		Winner: "alpha",
		Ticks:  900,
		Teams: []TeamResult{
			{Name: "alpha", Rank: 1, Score: 2.346, Stats: []Stat{{Key: "Kills", Value: 3}}, CPUPerTick: 41.6},
			{Name: "beta", Rank: 2, Score: 1, CPUPerTick: 12},
			{Name: "gamma", Rank: 3, Disabled: true, Stats: []Stat{{Key: "Kills", Value: 1}}},
		},
		TPS: 1234.5,
	}

	var sb strings.Builder
	if err := res.Print(&sb); err != nil {
		t.Fatal(err)
	}
	want := `
alpha wins! Congratulations!

Results:
    alpha:
        Rank: 1
        Score: 2.35
        Kills: 3
    beta:
        Rank: 2
        Score: 1
        Kills: -
    gamma:
        Rank: 3 (disabled)
        Score: -
        Kills: 1

CPU time used per tick (microseconds):
  alpha: 42
  beta: 12

TPS: 1234.5
`
	if got := sb.String(); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}
}

func TestResultsPrintWithoutScores(t *testing.T) {
	res := Results{Teams: []TeamResult{{Name: "solo", Rank: 1}}}
	var sb strings.Builder
	if err := res.Print(&sb); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sb.String(), "Score") || strings.Contains(sb.String(), "wins") {
		t.Errorf("unexpected report:\n%s", sb.String())
	}
}
