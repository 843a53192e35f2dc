package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"evopattern/internal/genotype"
	"evopattern/internal/model"
	"evopattern/internal/scan"
	"evopattern/internal/scape"
)

func duplicatedMotifSeries(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	series := make([]float64, 200)
	for i := range series {
		series[i] = rng.Float64()
	}
	copy(series[120:170], series[10:60])
	return series
}

func newCoverageMonitor(t *testing.T, series []float64, seed int64, gens int, observer Observer) *PopulationMonitor {
	t.Helper()
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          scape.NewCoverageScape(series),
		Mutation:       ShiftMutation{MaxShift: DefaultMaxShift, DataLength: len(series)},
		PopulationSize: 20,
		Generations:    gens,
		Workers:        4,
		Seed:           seed,
		WindowLength:   50,
		Observer:       observer,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return monitor
}

func TestPopulationMonitorFindsDuplicatedMotif(t *testing.T) {
	series := duplicatedMotifSeries(21)
	initial, err := genotype.InitializePopulation(rand.New(rand.NewSource(21)), 20, 50, len(series), 1)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	monitor := newCoverageMonitor(t, series, 21, 60, nil)
	result, err := monitor.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Best.Fitness < 0.4 {
		t.Fatalf("expected a window recurring at both motif offsets, best fitness=%f", result.Best.Fitness)
	}
	best := result.Best.Individual.Windows[0]
	if math.Abs(float64(best.Start-10)) > 8 && math.Abs(float64(best.Start-120)) > 8 {
		t.Fatalf("best window start %d is not near a motif occurrence", best.Start)
	}
	// Any window on the coverage plateau pairs with its copy 110 samples away.
	copyStart := best.Start + 110
	if best.Start >= 110 {
		copyStart = best.Start - 110
	}
	matches := scan.FindSimilarWindows(series[best.Start:best.End], series, 0.8, 0)
	if !containsWindow(matches, best) || !containsWindow(matches, model.Window{Start: copyStart, End: copyStart + 50}) {
		t.Fatalf("expansion of %+v must hold the window and its copy at %d, got %+v", best, copyStart, matches)
	}
	if result.Best.Fitness < result.FinalBest.Fitness {
		t.Fatalf("best-ever %f below final best %f", result.Best.Fitness, result.FinalBest.Fitness)
	}
}

func TestPopulationMonitorIsDeterministicForSeed(t *testing.T) {
	series := duplicatedMotifSeries(4)
	initial, err := genotype.InitializePopulation(rand.New(rand.NewSource(4)), 20, 50, len(series), 2)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	first, err := newCoverageMonitor(t, series, 99, 8, nil).Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := newCoverageMonitor(t, series, 99, 8, nil).Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(first.BestByGeneration) != len(second.BestByGeneration) {
		t.Fatalf("history lengths differ")
	}
	for i := range first.BestByGeneration {
		a, b := first.BestByGeneration[i], second.BestByGeneration[i]
		if a != b && !(math.IsInf(a, -1) && math.IsInf(b, -1)) {
			t.Fatalf("generation %d: %f != %f", i, a, b)
		}
	}
	for i, w := range first.Best.Individual.Windows {
		if second.Best.Individual.Windows[i] != w {
			t.Fatalf("best individuals differ: %+v vs %+v", first.Best.Individual.Windows, second.Best.Individual.Windows)
		}
	}
}

func TestPopulationMonitorReportsEveryGeneration(t *testing.T) {
	series := duplicatedMotifSeries(8)
	initial, err := genotype.InitializePopulation(rand.New(rand.NewSource(8)), 20, 50, len(series), 1)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var observed []model.GenerationDiagnostics
	result, err := newCoverageMonitor(t, series, 8, 5, func(d model.GenerationDiagnostics) {
		observed = append(observed, d)
	}).Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Five bred generations plus the initial population.
	if len(observed) != 6 || len(result.GenerationDiagnostics) != 6 || len(result.BestByGeneration) != 6 {
		t.Fatalf("generation count: observed=%d diagnostics=%d history=%d", len(observed), len(result.GenerationDiagnostics), len(result.BestByGeneration))
	}
	prevBestEver := math.Inf(-1)
	for i, d := range observed {
		if d.Generation != i || d.WindowLength != 50 {
			t.Fatalf("diagnostics %d mislabelled: %+v", i, d)
		}
		if float64(d.BestEverFitness) < prevBestEver {
			t.Fatalf("best-ever decreased at generation %d", i)
		}
		prevBestEver = float64(d.BestEverFitness)
		if d.BestFitness < d.MinFitness {
			t.Fatalf("best below min at generation %d", i)
		}
	}
	if len(result.FinalPopulation) != 20 {
		t.Fatalf("final population size: got=%d want=20", len(result.FinalPopulation))
	}
	for _, s := range result.FinalPopulation {
		if len(s.Individual.Windows) != 1 || s.Individual.Windows[0].Len() != 50 {
			t.Fatalf("final individual changed shape: %+v", s.Individual)
		}
	}
}

type idScape struct {
	bestID string
}

func (idScape) Name() string { return "id" }

func (s idScape) Evaluate(_ context.Context, individual model.Individual) (scape.Fitness, scape.Trace, error) {
	if individual.ID == s.bestID {
		return 10, nil, nil
	}
	return 1, nil, nil
}

func TestPopulationMonitorKeepsBestEverAcrossGenerations(t *testing.T) {
	initial := make([]model.Individual, 4)
	for i := range initial {
		initial[i] = model.Individual{ID: genotype.IndividualID(0, i), Windows: []model.Window{{Start: i, End: i + 5}}}
	}
	initial[2].ID = "seeded"

	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          idScape{bestID: "seeded"},
		Mutation:       ShiftMutation{MaxShift: 1, DataLength: 20},
		PopulationSize: 4,
		Generations:    3,
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	result, err := monitor.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Best.Fitness != 10 || result.BestGeneration != 0 || result.Best.Individual.ID != "seeded" {
		t.Fatalf("best-ever lost: %+v generation=%d", result.Best, result.BestGeneration)
	}
	if result.FinalBest.Fitness != 1 {
		t.Fatalf("final best: got=%f want=1", result.FinalBest.Fitness)
	}
	if result.FinalBest.Individual.ID != genotype.IndividualID(3, 0) {
		t.Fatalf("final best should be the first maximum, got %s", result.FinalBest.Individual.ID)
	}
}

type failingScape struct{}

func (failingScape) Name() string { return "failing" }

func (failingScape) Evaluate(context.Context, model.Individual) (scape.Fitness, scape.Trace, error) {
	return 0, nil, errors.New("forced failure")
}

func TestPopulationMonitorPropagatesErrors(t *testing.T) {
	initial := []model.Individual{{ID: "a", Windows: []model.Window{{Start: 0, End: 5}}}}

	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          failingScape{},
		Mutation:       ShiftMutation{MaxShift: 1, DataLength: 10},
		PopulationSize: 1,
		Generations:    1,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Run(context.Background(), initial); err == nil {
		t.Fatal("expected scape failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	monitor, err = NewPopulationMonitor(MonitorConfig{
		Scape:          idScape{},
		Mutation:       ShiftMutation{MaxShift: 1, DataLength: 10},
		PopulationSize: 1,
		Generations:    1,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Run(ctx, initial); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	valid := MonitorConfig{
		Scape:          idScape{},
		Mutation:       ShiftMutation{DataLength: 10},
		PopulationSize: 2,
		Generations:    1,
	}
	cases := map[string]func(*MonitorConfig){
		"missing scape":    func(c *MonitorConfig) { c.Scape = nil },
		"missing mutation": func(c *MonitorConfig) { c.Mutation = nil },
		"zero population":  func(c *MonitorConfig) { c.PopulationSize = 0 },
		"zero generations": func(c *MonitorConfig) { c.Generations = 0 },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if _, err := NewPopulationMonitor(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	monitor, err := NewPopulationMonitor(valid)
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if _, err := monitor.Run(context.Background(), []model.Individual{{ID: "only"}}); err == nil {
		t.Fatal("expected initial population size mismatch")
	}
}

func containsWindow(ws []model.Window, want model.Window) bool {
	for _, w := range ws {
		if w == want {
			return true
		}
	}
	return false
}
