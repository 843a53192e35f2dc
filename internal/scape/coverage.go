package scape

import (
	"context"
	"fmt"
	"math"

	"evopattern/internal/model"
	"evopattern/internal/scan"
)

const (
	DefaultMatchThreshold = 0.85
	DefaultShiftTolerance = 3
	DefaultWindowPenalty  = 0.01
)

// CoverageScape rewards individuals whose windows recur across the series.
// The score is the fraction of series positions covered by any match of any
// window, minus WindowPenalty for every window that recurred at all. An
// individual with no recurring window scores -Inf.
type CoverageScape struct {
	Series           []float64
	Threshold        float64
	ShiftTolerance   int
	WindowPenalty    float64
	MinPatternLength int
}

// NewCoverageScape returns a scape over series with the default scoring
// parameters.
func NewCoverageScape(series []float64) CoverageScape {
	return CoverageScape{
		Series:           series,
		Threshold:        DefaultMatchThreshold,
		ShiftTolerance:   DefaultShiftTolerance,
		WindowPenalty:    DefaultWindowPenalty,
		MinPatternLength: scan.MinPatternLength,
	}
}

func (CoverageScape) Name() string {
	return "coverage"
}

func (s CoverageScape) Evaluate(ctx context.Context, individual model.Individual) (Fitness, Trace, error) {
	n := len(s.Series)
	if n == 0 {
		return 0, nil, fmt.Errorf("coverage scape has an empty series")
	}
	minLen := s.MinPatternLength
	if minLen <= 0 {
		minLen = scan.MinPatternLength
	}

	covered := make([]bool, n)
	coveredCount := 0
	recurrences := 0
	skipped := 0
	matchCount := 0

	for _, w := range individual.Windows {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		if !w.Valid(n) || w.Len() < minLen {
			skipped++
			continue
		}
		pattern := s.Series[w.Start:w.End]
		if scan.StdDev(pattern) < scan.LowVarianceFloor {
			skipped++
			continue
		}

		matches := scan.FindSimilarWindows(pattern, s.Series, s.Threshold, s.ShiftTolerance)
		if len(matches) == 0 {
			continue
		}
		recurrences++
		matchCount += len(matches)
		for _, m := range matches {
			for pos := m.Start; pos < m.End; pos++ {
				if !covered[pos] {
					covered[pos] = true
					coveredCount++
				}
			}
		}
	}

	trace := Trace{
		"covered":         coveredCount,
		"recurrences":     recurrences,
		"skipped_windows": skipped,
		"matches":         matchCount,
	}
	return Fitness(CoverageScore(coveredCount, n, recurrences, s.WindowPenalty)), trace, nil
}

// CoverageScore is the scoring rule used by CoverageScape. It is
// non-decreasing in covered for fixed n, recurrences and penalty.
func CoverageScore(covered, n, recurrences int, penalty float64) float64 {
	if recurrences == 0 || n <= 0 {
		return math.Inf(-1)
	}
	return float64(covered)/float64(n) - penalty*float64(recurrences)
}
