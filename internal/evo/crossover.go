package evo

import (
	"math/rand"

	"evopattern/internal/model"
)

// Crossover recombines two parents into two children.
type Crossover interface {
	Name() string
	Cross(rng *rand.Rand, a, b model.Individual) (model.Individual, model.Individual)
}

// WindowListCrossover is single-point crossover over the window list: the
// children swap every window from a cut point in [1, n-1] onward. Window
// bounds are copied verbatim. Parents with fewer than two windows, or with
// differing window counts, come back as unchanged copies.
type WindowListCrossover struct{}

func (WindowListCrossover) Name() string {
	return "window_list"
}

func (WindowListCrossover) Cross(rng *rand.Rand, a, b model.Individual) (model.Individual, model.Individual) {
	c1 := a.Clone()
	c2 := b.Clone()

	n := len(a.Windows)
	if n < 2 || n != len(b.Windows) || rng == nil {
		return c1, c2
	}

	cut := 1 + rng.Intn(n-1)
	for i := cut; i < n; i++ {
		c1.Windows[i], c2.Windows[i] = c2.Windows[i], c1.Windows[i]
	}
	return c1, c2
}

// PassthroughCrossover returns copies of both parents, leaving mutation as
// the only source of variation.
type PassthroughCrossover struct{}

func (PassthroughCrossover) Name() string {
	return "none"
}

func (PassthroughCrossover) Cross(_ *rand.Rand, a, b model.Individual) (model.Individual, model.Individual) {
	return a.Clone(), b.Clone()
}
