package scan

import (
	"math"

	"evopattern/internal/model"
)

// FindSimilarWindows returns every window [i, i+len(pattern)) of series whose
// content correlates with pattern at or above threshold. Each candidate start
// i may be compared at any effective start within shiftTolerance positions of
// i (clamped to the series); the best of those correlations decides the
// match. Matches are ordered by start and never repeat.
//
// Patterns whose standard deviation is below LowVarianceFloor never match,
// and neither do comparison windows below that floor.
func FindSimilarWindows(pattern, series []float64, threshold float64, shiftTolerance int) []model.Match {
	width := len(pattern)
	n := len(series)
	if width == 0 || width > n {
		return nil
	}
	if StdDev(pattern) < LowVarianceFloor {
		return nil
	}
	if shiftTolerance < 0 {
		shiftTolerance = 0
	}

	// Correlation depends only on the effective start, so compute each one
	// once and let the shift loop pick among them.
	last := n - width
	corr := make([]float64, last+1)
	for start := 0; start <= last; start++ {
		window := series[start : start+width]
		if StdDev(window) < LowVarianceFloor {
			corr[start] = math.NaN()
			continue
		}
		corr[start] = Pearson(pattern, window)
	}

	var matches []model.Match
	for i := 0; i <= last; i++ {
		best := math.NaN()
		for delta := -shiftTolerance; delta <= shiftTolerance; delta++ {
			r := corr[clampInt(i+delta, 0, last)]
			if math.IsNaN(r) {
				continue
			}
			if math.IsNaN(best) || r > best {
				best = r
			}
		}
		if math.IsNaN(best) || best < threshold-correlationEpsilon {
			continue
		}
		matches = append(matches, model.Match{Start: i, End: i + width})
	}
	return matches
}
