package game

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Results is the outcome of a finished match, teams ordered by rank.
type Results struct {
	Winner  string       `json:"winner,omitempty"`
	Ticks   int          `json:"ticks"`
	Teams   []TeamResult `json:"teams"`
	Aborted bool         `json:"aborted"`
	TPS     float64      `json:"tps,omitempty"`
}

// HasScores reports whether the stage assigned any score.
func (r Results) HasScores() bool {
	for _, t := range r.Teams {
		if t.Score != 0 {
			return true
		}
	}
	return false
}

// Team looks a team up by name.
func (r Results) Team(name string) (TeamResult, bool) {
	for _, t := range r.Teams {
		if t.Name == name {
			return t, true
		}
	}
	return TeamResult{}, false
}

// Print writes the console report: winner, per-team rank, score and stats,
// then CPU usage.
func (r Results) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if r.Winner != "" {
		fmt.Fprintf(bw, "\n%s wins! Congratulations!\n", r.Winner)
	}

	fmt.Fprintln(bw, "\nResults:")
	scores := r.HasScores()
	var keys []string
	if len(r.Teams) > 0 {
		for _, s := range r.Teams[0].Stats {
			keys = append(keys, s.Key)
		}
	}
	for _, t := range r.Teams {
		fmt.Fprintf(bw, "    %s:\n", t.Name)
		rank := strconv.Itoa(t.Rank)
		if t.Disabled {
			rank += " (disabled)"
		}
		fmt.Fprintf(bw, "        Rank: %s\n", rank)
		if scores {
			score := "-"
			if !t.Disabled {
				score = formatStat(t.Score)
			}
			fmt.Fprintf(bw, "        Score: %s\n", score)
		}
		for _, k := range keys {
			value := "-"
			if v, ok := t.Stat(k); ok {
				value = formatStat(v)
			}
			fmt.Fprintf(bw, "        %s: %s\n", k, value)
		}
	}

	fmt.Fprintln(bw, "\nCPU time used per tick (microseconds):")
	for _, t := range r.Teams {
		if t.Disabled {
			continue
		}
		fmt.Fprintf(bw, "  %s: %d\n", t.Name, int(math.Round(t.CPUPerTick)))
	}
	if r.TPS > 0 {
		fmt.Fprintf(bw, "\nTPS: %s\n", formatStat(r.TPS))
	}
	return bw.Flush()
}

// formatStat rounds to two decimals and drops trailing zeros.
func formatStat(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
