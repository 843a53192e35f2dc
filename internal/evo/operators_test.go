package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"evopattern/internal/model"
)

func TestShiftMutationPreservesLengthAndBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 120
	op := ShiftMutation{MaxShift: DefaultMaxShift, DataLength: n}

	for trial := 0; trial < 500; trial++ {
		length := 1 + rng.Intn(n)
		start := rng.Intn(n - length + 1)
		ind := model.Individual{ID: "m", Windows: []model.Window{
			{Start: start, End: start + length},
			{Start: 0, End: length},
			{Start: n - length, End: n},
		}}
		out, err := op.Apply(context.Background(), rng, ind)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if len(out.Windows) != len(ind.Windows) {
			t.Fatalf("window count changed: got=%d want=%d", len(out.Windows), len(ind.Windows))
		}
		for i, w := range out.Windows {
			if w.Len() != length {
				t.Fatalf("trial %d window %d: length got=%d want=%d", trial, i, w.Len(), length)
			}
			if w.Start < 0 || w.End > n {
				t.Fatalf("trial %d window %d out of bounds: %+v", trial, i, w)
			}
			if d := w.Start - ind.Windows[i].Start; d < -DefaultMaxShift || d > DefaultMaxShift {
				t.Fatalf("trial %d window %d moved by %d", trial, i, d)
			}
		}
	}
}

func TestShiftMutationDoesNotAliasInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ind := model.Individual{ID: "a", Windows: []model.Window{{Start: 50, End: 60}}}
	for i := 0; i < 20; i++ {
		if _, err := (ShiftMutation{MaxShift: 5, DataLength: 100}).Apply(context.Background(), rng, ind); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if ind.Windows[0] != (model.Window{Start: 50, End: 60}) {
		t.Fatalf("input mutated: %+v", ind.Windows[0])
	}
}

func TestShiftMutationZeroShiftIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ind := model.Individual{ID: "z", Windows: []model.Window{{Start: 4, End: 14}, {Start: 30, End: 40}}}
	out, err := ShiftMutation{MaxShift: 0, DataLength: 50}.Apply(context.Background(), rng, ind)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i := range ind.Windows {
		if out.Windows[i] != ind.Windows[i] {
			t.Fatalf("window %d: got=%+v want=%+v", i, out.Windows[i], ind.Windows[i])
		}
	}
}

func TestShiftMutationRejectsOversizedWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ind := model.Individual{ID: "big", Windows: []model.Window{{Start: 0, End: 30}}}
	if _, err := (ShiftMutation{MaxShift: 2, DataLength: 20}).Apply(context.Background(), rng, ind); err == nil {
		t.Fatal("expected error for window longer than the series")
	}
	if _, err := (ShiftMutation{MaxShift: 2, DataLength: 40}).Apply(context.Background(), nil, ind); err == nil {
		t.Fatal("expected error for nil random source")
	}
}

func TestWindowListCrossoverSingleWindowIsNoop(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	a := model.Individual{ID: "a", Windows: []model.Window{{Start: 1, End: 11}}}
	b := model.Individual{ID: "b", Windows: []model.Window{{Start: 40, End: 50}}}
	for i := 0; i < 20; i++ {
		c1, c2 := WindowListCrossover{}.Cross(rng, a, b)
		if c1.Windows[0] != a.Windows[0] || c2.Windows[0] != b.Windows[0] {
			t.Fatalf("single-window crossover changed children: %+v %+v", c1.Windows, c2.Windows)
		}
	}
}

func TestWindowListCrossoverSwapsTails(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := model.Individual{ID: "a", Windows: []model.Window{{Start: 0, End: 5}, {Start: 10, End: 15}, {Start: 20, End: 25}, {Start: 30, End: 35}}}
	b := model.Individual{ID: "b", Windows: []model.Window{{Start: 1, End: 6}, {Start: 11, End: 16}, {Start: 21, End: 26}, {Start: 31, End: 36}}}

	seenCuts := map[int]bool{}
	for trial := 0; trial < 100; trial++ {
		c1, c2 := WindowListCrossover{}.Cross(rng, a, b)
		if c1.Windows[0] != a.Windows[0] || c2.Windows[0] != b.Windows[0] {
			t.Fatalf("first window must stay with its parent: %+v %+v", c1.Windows, c2.Windows)
		}
		cut := -1
		for i := range a.Windows {
			switch {
			case c1.Windows[i] == a.Windows[i] && c2.Windows[i] == b.Windows[i]:
				if cut >= 0 {
					t.Fatalf("trial %d: window %d reverted after cut %d", trial, i, cut)
				}
			case c1.Windows[i] == b.Windows[i] && c2.Windows[i] == a.Windows[i]:
				if cut < 0 {
					cut = i
				}
			default:
				t.Fatalf("trial %d: window %d is not copied from a parent", trial, i)
			}
		}
		if cut < 1 {
			t.Fatalf("trial %d: expected a cut in [1,3], got %d", trial, cut)
		}
		seenCuts[cut] = true
	}
	if len(seenCuts) != 3 {
		t.Fatalf("expected every cut point to occur, saw %v", seenCuts)
	}
	if a.Windows[1] != (model.Window{Start: 10, End: 15}) {
		t.Fatalf("parent mutated: %+v", a.Windows)
	}
}

func TestWindowListCrossoverMismatchedLengthsReturnsCopies(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := model.Individual{ID: "a", Windows: []model.Window{{Start: 0, End: 5}, {Start: 10, End: 15}}}
	b := model.Individual{ID: "b", Windows: []model.Window{{Start: 1, End: 6}}}
	c1, c2 := WindowListCrossover{}.Cross(rng, a, b)
	if len(c1.Windows) != 2 || len(c2.Windows) != 1 {
		t.Fatalf("unexpected child shapes: %+v %+v", c1.Windows, c2.Windows)
	}
}

func TestTournamentSelectorPicksStrictBest(t *testing.T) {
	scored := []ScoredIndividual{
		{Individual: model.Individual{ID: "a"}, Fitness: 0.1},
		{Individual: model.Individual{ID: "b"}, Fitness: 0.7},
		{Individual: model.Individual{ID: "c"}, Fitness: math.Inf(-1)},
	}
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		parent, err := TournamentSelector{TournamentSize: 3}.PickParent(rng, scored)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		if parent.ID != "b" {
			t.Fatalf("full tournament must return the best member, got %s", parent.ID)
		}
	}
}

func TestTournamentSelectorHandlesAllInvalid(t *testing.T) {
	scored := []ScoredIndividual{
		{Individual: model.Individual{ID: "a"}, Fitness: math.Inf(-1)},
		{Individual: model.Individual{ID: "b"}, Fitness: math.Inf(-1)},
	}
	rng := rand.New(rand.NewSource(5))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		parent, err := TournamentSelector{}.PickParent(rng, scored)
		if err != nil {
			t.Fatalf("pick parent: %v", err)
		}
		seen[parent.ID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("ties should go to the first drawn member, saw %v", seen)
	}
}

func TestTournamentSelectorErrors(t *testing.T) {
	if _, err := (TournamentSelector{}).PickParent(rand.New(rand.NewSource(1)), nil); err == nil {
		t.Fatal("expected error for empty population")
	}
	if _, err := (TournamentSelector{}).PickParent(nil, []ScoredIndividual{{}}); err == nil {
		t.Fatal("expected error for nil random source")
	}
}

func TestSampleWithoutReplacementDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for trial := 0; trial < 100; trial++ {
		drawn := sampleWithoutReplacement(rng, 10, 3)
		seen := map[int]bool{}
		for _, idx := range drawn {
			if idx < 0 || idx >= 10 || seen[idx] {
				t.Fatalf("invalid draw %v", drawn)
			}
			seen[idx] = true
		}
	}
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	sel, err := ResolveSelector("")
	if err != nil {
		t.Fatalf("resolve default selector: %v", err)
	}
	if sel.Name() != "tournament" {
		t.Fatalf("default selector: got=%s", sel.Name())
	}
	for _, name := range []string{"window_list", "none"} {
		c, err := ResolveCrossover(name)
		if err != nil {
			t.Fatalf("resolve crossover %s: %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("crossover name: got=%s want=%s", c.Name(), name)
		}
	}
	if _, err := ResolveCrossover("uniform"); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := RegisterSelector("tournament", TournamentSelector{}); !errors.Is(err, ErrComponentExists) {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
	if got := ListCrossovers(); len(got) < 2 || got[0] != "none" {
		t.Fatalf("unexpected crossover list %v", got)
	}
	if got := ListSelectors(); len(got) == 0 || got[0] != DefaultSelectorName {
		t.Fatalf("unexpected selector list %v", got)
	}
	_, err = ResolveSelector("roulette")
	if !errors.Is(err, ErrComponentNotFound) || !strings.Contains(err.Error(), "available: tournament") {
		t.Fatalf("unknown selector error should list registered names, got %v", err)
	}
}
