package dataextract

import (
	"fmt"
	"math/rand"
)

// GenerateRepeatedMotif returns n uniform [0,1) samples with one random motif
// of motifLen copied to every offset. Later offsets overwrite earlier ones
// where they overlap.
func GenerateRepeatedMotif(rng *rand.Rand, n, motifLen int, offsets []int) ([]float64, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if n <= 0 || motifLen <= 0 {
		return nil, fmt.Errorf("series and motif length must be > 0")
	}
	for _, off := range offsets {
		if off < 0 || off+motifLen > n {
			return nil, fmt.Errorf("motif offset %d out of range for series of %d", off, n)
		}
	}

	series := randomVector(rng, n, 0, 1)
	motif := randomVector(rng, motifLen, 0, 1)
	for _, off := range offsets {
		copy(series[off:off+motifLen], motif)
	}
	return series, nil
}

// GenerateFlatRun returns n samples of noise in [0,1) with [start, start+length)
// held at level. Noise samples are kept at least 0.25 away from level when
// level lies inside [0,1) so the run's edges stay sharp.
func GenerateFlatRun(rng *rand.Rand, n, start, length int, level float64) ([]float64, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if n <= 0 || length <= 0 || start < 0 || start+length > n {
		return nil, fmt.Errorf("flat run [%d,%d) out of range for series of %d", start, start+length, n)
	}

	series := make([]float64, n)
	for i := range series {
		if i >= start && i < start+length {
			series[i] = level
			continue
		}
		v := rng.Float64()
		for v > level-0.25 && v < level+0.25 {
			v = rng.Float64()
		}
		series[i] = v
	}
	return series, nil
}

func randomVector(rng *rand.Rand, length int, min float64, max float64) []float64 {
	if length <= 0 {
		return nil
	}
	if max < min {
		min, max = max, min
	}
	span := max - min
	out := make([]float64, length)
	for i := range out {
		if span == 0 {
			out[i] = min
			continue
		}
		out[i] = min + rng.Float64()*span
	}
	return out
}
