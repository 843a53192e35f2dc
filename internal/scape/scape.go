package scape

import (
	"context"

	"evopattern/internal/model"
)

type Fitness float64

type Trace map[string]any

// Scape scores an individual against the environment it lives in.
// Implementations must be safe for concurrent use.
type Scape interface {
	Name() string
	Evaluate(ctx context.Context, individual model.Individual) (Fitness, Trace, error)
}
