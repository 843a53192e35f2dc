package evo

import (
	"fmt"
	"math/rand"

	"evopattern/internal/model"
)

const DefaultTournamentSize = 3

// Selector chooses a parent from a scored population for breeding.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, scored []ScoredIndividual) (model.Individual, error)
}

// TournamentSelector draws TournamentSize distinct members uniformly and
// returns the one with the strictly greatest fitness. Ties go to the member
// drawn first, so a tournament of -Inf scores still yields a parent.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, scored []ScoredIndividual) (model.Individual, error) {
	if rng == nil {
		return model.Individual{}, fmt.Errorf("random source is required")
	}
	if len(scored) == 0 {
		return model.Individual{}, fmt.Errorf("cannot select from an empty population")
	}

	size := s.TournamentSize
	if size <= 0 {
		size = DefaultTournamentSize
	}
	if size > len(scored) {
		size = len(scored)
	}

	drawn := sampleWithoutReplacement(rng, len(scored), size)
	best := drawn[0]
	for _, idx := range drawn[1:] {
		if scored[idx].Fitness > scored[best].Fitness {
			best = idx
		}
	}
	return scored[best].Individual.Clone(), nil
}

// sampleWithoutReplacement returns k distinct indices from [0, n) in draw
// order using a partial Fisher-Yates shuffle.
func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
