package genotype

import (
	"errors"
	"fmt"
	"math/rand"

	"evopattern/internal/model"
)

// ErrWindowTooLong reports a window length that does not fit in the series.
var ErrWindowTooLong = errors.New("window length exceeds series length")

// InitializePopulation builds popSize individuals, each holding nWindows
// windows of windowLength whose starts are drawn independently and uniformly
// from [0, dataLength-windowLength]. Windows of one individual may overlap.
func InitializePopulation(rng *rand.Rand, popSize, windowLength, dataLength, nWindows int) ([]model.Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if popSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if nWindows <= 0 {
		return nil, fmt.Errorf("windows per individual must be > 0")
	}
	if windowLength <= 0 {
		return nil, fmt.Errorf("window length must be > 0")
	}
	if windowLength > dataLength {
		return nil, fmt.Errorf("%w: window=%d series=%d", ErrWindowTooLong, windowLength, dataLength)
	}

	population := make([]model.Individual, popSize)
	for i := range population {
		population[i] = ConstructIndividual(rng, IndividualID(0, i), windowLength, dataLength, nWindows)
	}
	return population, nil
}

// ConstructIndividual samples one individual. Callers validate the arguments.
func ConstructIndividual(rng *rand.Rand, id string, windowLength, dataLength, nWindows int) model.Individual {
	span := dataLength - windowLength + 1
	windows := make([]model.Window, nWindows)
	for i := range windows {
		start := rng.Intn(span)
		windows[i] = model.Window{Start: start, End: start + windowLength}
	}
	return model.Individual{ID: id, Windows: windows}
}

func IndividualID(generation, index int) string {
	return fmt.Sprintf("ind-%d-%d", generation, index)
}
