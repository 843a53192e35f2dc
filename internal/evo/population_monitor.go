package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"evopattern/internal/genotype"
	"evopattern/internal/model"
	"evopattern/internal/scape"
)

type ScoredIndividual struct {
	Individual model.Individual
	Fitness    float64
	Trace      scape.Trace
}

type RunResult struct {
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	// Best is the highest-scoring individual evaluated in any generation.
	Best           ScoredIndividual
	BestGeneration int
	// FinalBest is the highest-scoring member of the final population.
	FinalBest       ScoredIndividual
	FinalPopulation []ScoredIndividual
}

// Observer receives the diagnostics of every evaluated generation. It is
// called on the monitor goroutine.
type Observer func(model.GenerationDiagnostics)

type MonitorConfig struct {
	Scape          scape.Scape
	Selector       Selector
	Crossover      Crossover
	Mutation       Operator
	PopulationSize int
	Generations    int
	Workers        int
	Seed           int64
	WindowLength   int
	Observer       Observer
	Logger         *slog.Logger
}

type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
	log *slog.Logger
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Scape == nil {
		return nil, fmt.Errorf("scape is required")
	}
	if cfg.Mutation == nil {
		return nil, fmt.Errorf("mutation operator is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: DefaultTournamentSize}
	}
	if cfg.Crossover == nil {
		cfg.Crossover = WindowListCrossover{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PopulationMonitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: logger.With("scape", cfg.Scape.Name(), "window_length", cfg.WindowLength),
	}, nil
}

func (m *PopulationMonitor) Run(ctx context.Context, initial []model.Individual) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}

	population := make([]model.Individual, len(initial))
	for i := range initial {
		population[i] = initial[i].Clone()
	}

	bestHistory := make([]float64, 0, m.cfg.Generations+1)
	diagnostics := make([]model.GenerationDiagnostics, 0, m.cfg.Generations+1)
	best := ScoredIndividual{Fitness: math.Inf(-1)}
	bestGeneration := -1
	var scored []ScoredIndividual

	for gen := 0; gen <= m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		var err error
		scored, err = m.evaluatePopulation(ctx, population)
		if err != nil {
			return RunResult{}, err
		}

		genBestIdx := bestIndex(scored)
		if bestGeneration < 0 || scored[genBestIdx].Fitness > best.Fitness {
			previous := best.Fitness
			best = cloneScored(scored[genBestIdx])
			bestGeneration = gen
			if gen > 0 && best.Fitness > previous {
				m.log.Info("new best",
					"generation", gen,
					"fitness", best.Fitness,
					"windows", best.Individual.Windows,
				)
			}
		}

		diag := summarizeGeneration(scored, gen, m.cfg.WindowLength, best.Fitness)
		diagnostics = append(diagnostics, diag)
		bestHistory = append(bestHistory, diag.BestFitness.Float64())
		m.log.Debug("generation evaluated",
			"generation", gen,
			"best", float64(diag.BestFitness),
			"mean", float64(diag.MeanFitness),
			"valid", diag.ValidCount,
		)
		if m.cfg.Observer != nil {
			m.cfg.Observer(diag)
		}

		// The final pass only scores the last bred population.
		if gen == m.cfg.Generations {
			break
		}
		population, err = m.nextGeneration(ctx, scored, gen+1)
		if err != nil {
			return RunResult{}, err
		}
	}

	return RunResult{
		BestByGeneration:      bestHistory,
		GenerationDiagnostics: diagnostics,
		Best:                  best,
		BestGeneration:        bestGeneration,
		FinalBest:             cloneScored(scored[bestIndex(scored)]),
		FinalPopulation:       scored,
	}, nil
}

func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []model.Individual) ([]ScoredIndividual, error) {
	type job struct {
		idx        int
		individual model.Individual
	}
	type result struct {
		idx    int
		scored ScoredIndividual
		err    error
	}

	jobs := make(chan job)
	results := make(chan result, len(population))

	workerCount := m.cfg.Workers
	if workerCount > len(population) {
		workerCount = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				fitness, trace, err := m.cfg.Scape.Evaluate(ctx, j.individual)
				if err != nil {
					results <- result{idx: j.idx, err: fmt.Errorf("evaluate %s: %w", j.individual.ID, err)}
					continue
				}
				results <- result{idx: j.idx, scored: ScoredIndividual{Individual: j.individual, Fitness: float64(fitness), Trace: trace}}
			}
		}()
	}

	for i := range population {
		jobs <- job{idx: i, individual: population[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]ScoredIndividual, len(population))
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		scored[res.idx] = res.scored
	}
	return scored, nil
}

func (m *PopulationMonitor) nextGeneration(ctx context.Context, scored []ScoredIndividual, generation int) ([]model.Individual, error) {
	size := m.cfg.PopulationSize
	next := make([]model.Individual, 0, size+1)
	for len(next) < size {
		p1, err := m.cfg.Selector.PickParent(m.rng, scored)
		if err != nil {
			return nil, err
		}
		p2, err := m.cfg.Selector.PickParent(m.rng, scored)
		if err != nil {
			return nil, err
		}

		c1, c2 := m.cfg.Crossover.Cross(m.rng, p1, p2)
		for _, child := range []model.Individual{c1, c2} {
			mutated, err := m.cfg.Mutation.Apply(ctx, m.rng, child)
			if err != nil {
				return nil, err
			}
			mutated.ID = genotype.IndividualID(generation, len(next))
			next = append(next, mutated)
		}
	}
	return next[:size], nil
}

func summarizeGeneration(scored []ScoredIndividual, generation, windowLength int, bestEver float64) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{
		Generation:      generation,
		WindowLength:    windowLength,
		BestEverFitness: model.Score(bestEver),
	}
	if len(scored) == 0 {
		return diag
	}

	best := math.Inf(-1)
	worst := math.Inf(1)
	total := 0.0
	valid := 0
	for _, item := range scored {
		if item.Fitness > best {
			best = item.Fitness
		}
		if item.Fitness < worst {
			worst = item.Fitness
		}
		if math.IsInf(item.Fitness, -1) {
			continue
		}
		total += item.Fitness
		valid++
	}

	diag.BestFitness = model.Score(best)
	diag.MinFitness = model.Score(worst)
	diag.ValidCount = valid
	diag.MeanFitness = model.Score(math.Inf(-1))
	if valid > 0 {
		diag.MeanFitness = model.Score(total / float64(valid))
	}
	return diag
}

// bestIndex returns the index of the first maximum fitness.
func bestIndex(scored []ScoredIndividual) int {
	idx := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].Fitness > scored[idx].Fitness {
			idx = i
		}
	}
	return idx
}

func cloneScored(s ScoredIndividual) ScoredIndividual {
	out := s
	out.Individual = s.Individual.Clone()
	if s.Trace != nil {
		out.Trace = make(scape.Trace, len(s.Trace))
		for k, v := range s.Trace {
			out.Trace[k] = v
		}
	}
	return out
}
