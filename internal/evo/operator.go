package evo

import (
	"context"
	"math/rand"

	"evopattern/internal/model"
)

// Operator transforms one individual into a new one. The random source is
// passed explicitly so runs are reproducible from a seed.
type Operator interface {
	Name() string
	Apply(ctx context.Context, rng *rand.Rand, individual model.Individual) (model.Individual, error)
}
