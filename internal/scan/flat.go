package scan

import "evopattern/internal/model"

const (
	FlatWindowLength = 80
	FlatMinStd       = 0.005
)

// DetectFlatPatterns returns the maximal, non-overlapping regions of series
// whose sliding-window standard deviation stays below minStd. A run starts at
// the first quiet window position, extends while the next position is still
// quiet, and closes at the last quiet position plus windowLength. Scanning
// resumes after the closed region.
func DetectFlatPatterns(series []float64, windowLength int, minStd float64) []model.Window {
	n := len(series)
	if windowLength <= 0 || windowLength > n {
		return nil
	}

	last := n - windowLength
	quiet := func(pos int) bool {
		return StdDev(series[pos:pos+windowLength]) < minStd
	}

	var regions []model.Window
	for pos := 0; pos <= last; {
		if !quiet(pos) {
			pos++
			continue
		}
		runStart := pos
		for pos+1 <= last && quiet(pos+1) {
			pos++
		}
		end := pos + windowLength
		if end > n {
			end = n
		}
		regions = append(regions, model.Window{Start: runStart, End: end})
		pos = end
	}
	return regions
}
