package evo

import (
	"context"
	"fmt"
	"math/rand"

	"evopattern/internal/model"
)

const DefaultMaxShift = 5

// ShiftMutation moves every window by a uniform shift in [-MaxShift, MaxShift]
// and clamps it back inside [0, DataLength]. Window length never changes.
type ShiftMutation struct {
	MaxShift   int
	DataLength int
}

func (ShiftMutation) Name() string {
	return "shift"
}

func (m ShiftMutation) Apply(ctx context.Context, rng *rand.Rand, individual model.Individual) (model.Individual, error) {
	if err := ctx.Err(); err != nil {
		return model.Individual{}, err
	}
	if rng == nil {
		return model.Individual{}, fmt.Errorf("random source is required")
	}
	maxShift := m.MaxShift
	if maxShift < 0 {
		maxShift = 0
	}

	out := individual.Clone()
	for i, w := range out.Windows {
		length := w.Len()
		if length <= 0 || length > m.DataLength {
			return model.Individual{}, fmt.Errorf("window %d of %s has length %d outside series of %d", i, individual.ID, length, m.DataLength)
		}
		shift := rng.Intn(2*maxShift+1) - maxShift
		start := w.Start + shift
		if start < 0 {
			start = 0
		}
		if limit := m.DataLength - length; start > limit {
			start = limit
		}
		out.Windows[i] = model.Window{Start: start, End: start + length}
	}
	return out, nil
}
