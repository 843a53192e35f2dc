package scan

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// LowVarianceFloor is the standard deviation below which a sequence is
	// treated as constant and never correlated.
	LowVarianceFloor = 1e-6
	// MinPatternLength is the shortest pattern worth scanning for.
	MinPatternLength = 5

	correlationEpsilon = 1e-9
)

// StdDev returns the sample standard deviation of values, or 0 when fewer
// than two values are given.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Pearson returns the Pearson correlation of x and y. It returns NaN instead
// of dividing by zero when the lengths differ, fewer than two samples are
// given, or either operand has zero variance.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	if StdDev(x) == 0 || StdDev(y) == 0 {
		return math.NaN()
	}
	r := stat.Correlation(x, y, nil)
	if math.IsInf(r, 0) {
		return math.NaN()
	}
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
