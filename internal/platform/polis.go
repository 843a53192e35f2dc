package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"evopattern/internal/evo"
	"evopattern/internal/genotype"
	"evopattern/internal/model"
	"evopattern/internal/scan"
	"evopattern/internal/scape"
	"evopattern/internal/storage"
)

const (
	ModeMulti  = "multi"
	ModeSingle = "single"

	DefaultExpandThreshold = 0.8
	DefaultExpandShift     = 0
)

var ErrPolisNotStarted = errors.New("polis is not initialized")

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
	// Now stamps run records. Defaults to time.Now.
	Now func() time.Time
}

// SearchParams configures the evolutionary search shared by both detection
// paths. Start from DefaultSearchParams; zero thresholds are rejected.
type SearchParams struct {
	Generations     int
	PopulationSize  int
	NWindows        int
	Workers         int
	Seed            int64
	MatchThreshold  float64
	ShiftTolerance  int
	WindowPenalty   float64
	ExpandThreshold float64
	ExpandShift     int
	MaxShift        int
	Selection       string
	Crossover       string
	Observer        evo.Observer
}

func DefaultSearchParams() SearchParams {
	return SearchParams{
		Generations:     100,
		PopulationSize:  20,
		NWindows:        1,
		Workers:         1,
		Seed:            1,
		MatchThreshold:  scape.DefaultMatchThreshold,
		ShiftTolerance:  scape.DefaultShiftTolerance,
		WindowPenalty:   scape.DefaultWindowPenalty,
		ExpandThreshold: DefaultExpandThreshold,
		ExpandShift:     DefaultExpandShift,
		MaxShift:        evo.DefaultMaxShift,
		Selection:       evo.DefaultSelectorName,
		Crossover:       evo.DefaultCrossoverName,
	}
}

func (p SearchParams) validate() error {
	if p.Generations <= 0 {
		return fmt.Errorf("generations must be > 0")
	}
	if p.PopulationSize <= 0 {
		return fmt.Errorf("population size must be > 0")
	}
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be in (0, 1], got %g", p.MatchThreshold)
	}
	if p.ExpandThreshold <= 0 || p.ExpandThreshold > 1 {
		return fmt.Errorf("expand threshold must be in (0, 1], got %g", p.ExpandThreshold)
	}
	if p.ShiftTolerance < 0 || p.ExpandShift < 0 || p.MaxShift < 0 {
		return fmt.Errorf("shift settings must be >= 0")
	}
	if p.WindowPenalty < 0 {
		return fmt.Errorf("window penalty must be >= 0")
	}
	return nil
}

type DetectConfig struct {
	RunID         string
	Source        string
	Series        []float64
	WindowLengths []int
	Search        SearchParams
	// FlatWindowLength and FlatMinStd default to the scanner constants when
	// zero.
	FlatWindowLength int
	FlatMinStd       float64
	// KeepDuplicates disables removal of repeated [start,end) ranges from
	// the pattern set.
	KeepDuplicates bool
}

type SingleConfig struct {
	RunID        string
	Source       string
	Series       []float64
	WindowLength int
	Search       SearchParams
}

// WindowResult is the outcome of the search for one window length.
type WindowResult struct {
	WindowLength     int
	Best             model.Individual
	BestFitness      float64
	FinalBestFitness float64
	Matches          []model.Window
	BestByGeneration []float64
	Diagnostics      []model.GenerationDiagnostics
}

type DetectResult struct {
	RunID       string
	Windows     []WindowResult
	FlatRegions []model.Window
	Patterns    []model.Window
	Warnings    []string
	Record      model.RunRecord
}

type SingleResult struct {
	RunID       string
	Best        model.Window
	BestFitness float64
	Matches     []model.Window
	Window      WindowResult
	Record      model.RunRecord
}

// Polis owns the store and every active detection run.
type Polis struct {
	store storage.Store
	log   *slog.Logger
	now   func() time.Time

	mu      sync.RWMutex
	started bool
	runs    map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Polis{
		store: cfg.Store,
		log:   logger,
		now:   now,
		runs:  make(map[string]context.CancelFunc),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Reset stops every run and clears the store.
func (p *Polis) Reset(ctx context.Context) error {
	p.Stop()
	if err := p.Init(ctx); err != nil {
		return err
	}
	return p.store.Reset(ctx)
}

// Stop cancels every active run. The polis must be initialized again
// before it accepts new runs.
func (p *Polis) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
	p.runs = make(map[string]context.CancelFunc)
	p.started = false
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) Store() storage.Store {
	return p.store
}

// StopRun cancels an active run.
func (p *Polis) StopRun(runID string) error {
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	return ids
}

func (p *Polis) registerRun(ctx context.Context, runID string) (context.Context, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, nil, ErrPolisNotStarted
	}
	if _, exists := p.runs[runID]; exists {
		return nil, nil, fmt.Errorf("run already active: %s", runID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.runs[runID] = cancel
	return runCtx, func() {
		p.mu.Lock()
		delete(p.runs, runID)
		p.mu.Unlock()
		cancel()
	}, nil
}

// DetectPatterns searches every window length in turn, expands the best
// windows found into matches, and appends the series' flat regions. Window
// lengths longer than the series are skipped with a warning; the run fails
// only when every length is skipped.
func (p *Polis) DetectPatterns(ctx context.Context, cfg DetectConfig) (DetectResult, error) {
	if len(cfg.Series) == 0 {
		return DetectResult{}, model.ErrEmptySeries
	}
	if len(cfg.WindowLengths) == 0 {
		return DetectResult{}, fmt.Errorf("at least one window length is required")
	}
	if err := cfg.Search.validate(); err != nil {
		return DetectResult{}, err
	}

	runID := p.runID(cfg.RunID)
	runCtx, done, err := p.registerRun(ctx, runID)
	if err != nil {
		return DetectResult{}, err
	}
	defer done()

	n := len(cfg.Series)
	log := p.log.With("run_id", runID)
	var (
		windows  []WindowResult
		matches  []model.Window
		warnings []string
	)
	for i, length := range cfg.WindowLengths {
		if length > n {
			msg := fmt.Sprintf("window length %d exceeds series length %d, skipped", length, n)
			log.Warn("skipping window length", "window_length", length, "series_length", n)
			warnings = append(warnings, msg)
			continue
		}
		wr, err := p.searchWindowLength(runCtx, log, cfg.Series, length, cfg.Search, cfg.Search.Seed+int64(i))
		if err != nil {
			return DetectResult{}, fmt.Errorf("window length %d: %w", length, err)
		}
		windows = append(windows, wr)
		matches = append(matches, wr.Matches...)
	}
	if len(windows) == 0 {
		return DetectResult{}, fmt.Errorf("%w: every window length exceeds series length %d", genotype.ErrWindowTooLong, n)
	}

	flatLen := cfg.FlatWindowLength
	if flatLen <= 0 {
		flatLen = scan.FlatWindowLength
	}
	flatStd := cfg.FlatMinStd
	if flatStd <= 0 {
		flatStd = scan.FlatMinStd
	}
	flat := scan.DetectFlatPatterns(cfg.Series, flatLen, flatStd)

	patterns := append(append([]model.Window(nil), matches...), flat...)
	if !cfg.KeepDuplicates {
		patterns = dedupWindows(patterns)
	}

	record := p.newRecord(runID, ModeMulti, cfg.Source, n, cfg.Search)
	record.WindowRuns = toWindowRuns(windows)
	record.FlatRegions = flat
	record.Patterns = patterns
	record.Warnings = warnings
	if err := p.persist(ctx, record, cfg.Series, windows); err != nil {
		return DetectResult{}, err
	}
	log.Info("detection finished", "patterns", len(patterns), "flat_regions", len(flat), "skipped", len(warnings))

	return DetectResult{
		RunID:       runID,
		Windows:     windows,
		FlatRegions: flat,
		Patterns:    patterns,
		Warnings:    warnings,
		Record:      record,
	}, nil
}

// DetectSingle runs one search with a single window per individual and
// returns the best window with its expansion. A window length longer than
// the series is an error.
func (p *Polis) DetectSingle(ctx context.Context, cfg SingleConfig) (SingleResult, error) {
	if len(cfg.Series) == 0 {
		return SingleResult{}, model.ErrEmptySeries
	}
	if cfg.WindowLength > len(cfg.Series) {
		return SingleResult{}, fmt.Errorf("%w: window=%d series=%d", genotype.ErrWindowTooLong, cfg.WindowLength, len(cfg.Series))
	}
	search := cfg.Search
	search.NWindows = 1
	if err := search.validate(); err != nil {
		return SingleResult{}, err
	}

	runID := p.runID(cfg.RunID)
	runCtx, done, err := p.registerRun(ctx, runID)
	if err != nil {
		return SingleResult{}, err
	}
	defer done()

	log := p.log.With("run_id", runID)
	wr, err := p.searchWindowLength(runCtx, log, cfg.Series, cfg.WindowLength, search, search.Seed)
	if err != nil {
		return SingleResult{}, err
	}

	record := p.newRecord(runID, ModeSingle, cfg.Source, len(cfg.Series), search)
	record.WindowRuns = toWindowRuns([]WindowResult{wr})
	record.Patterns = append([]model.Window(nil), wr.Matches...)
	if err := p.persist(ctx, record, cfg.Series, []WindowResult{wr}); err != nil {
		return SingleResult{}, err
	}

	return SingleResult{
		RunID:       runID,
		Best:        wr.Best.Windows[0],
		BestFitness: wr.BestFitness,
		Matches:     wr.Matches,
		Window:      wr,
		Record:      record,
	}, nil
}

func (p *Polis) searchWindowLength(ctx context.Context, log *slog.Logger, series []float64, length int, params SearchParams, seed int64) (WindowResult, error) {
	if length <= 0 {
		return WindowResult{}, fmt.Errorf("window length must be > 0")
	}
	nWindows := params.NWindows
	if nWindows <= 0 {
		nWindows = 1
	}
	selector, err := evo.ResolveSelector(params.Selection)
	if err != nil {
		return WindowResult{}, err
	}
	crossover, err := evo.ResolveCrossover(params.Crossover)
	if err != nil {
		return WindowResult{}, err
	}

	initial, err := genotype.InitializePopulation(rand.New(rand.NewSource(seed)), params.PopulationSize, length, len(series), nWindows)
	if err != nil {
		return WindowResult{}, err
	}

	fitness := scape.NewCoverageScape(series)
	fitness.Threshold = params.MatchThreshold
	fitness.ShiftTolerance = params.ShiftTolerance
	fitness.WindowPenalty = params.WindowPenalty

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Scape:          fitness,
		Selector:       selector,
		Crossover:      crossover,
		Mutation:       evo.ShiftMutation{MaxShift: params.MaxShift, DataLength: len(series)},
		PopulationSize: params.PopulationSize,
		Generations:    params.Generations,
		Workers:        params.Workers,
		Seed:           seed,
		WindowLength:   length,
		Observer:       params.Observer,
		Logger:         log,
	})
	if err != nil {
		return WindowResult{}, err
	}

	log.Info("searching window length", "window_length", length, "population", params.PopulationSize, "generations", params.Generations)
	result, err := monitor.Run(ctx, initial)
	if err != nil {
		return WindowResult{}, err
	}

	best := result.Best.Individual
	return WindowResult{
		WindowLength:     length,
		Best:             best,
		BestFitness:      result.Best.Fitness,
		FinalBestFitness: result.FinalBest.Fitness,
		Matches:          ExpandIndividual(series, best, params.ExpandThreshold, params.ExpandShift),
		BestByGeneration: result.BestByGeneration,
		Diagnostics:      result.GenerationDiagnostics,
	}, nil
}

// ExpandIndividual scans the series for every window of individual and
// concatenates the matches in window order.
func ExpandIndividual(series []float64, individual model.Individual, threshold float64, shift int) []model.Window {
	var matches []model.Window
	for _, w := range individual.Windows {
		if !w.Valid(len(series)) {
			continue
		}
		matches = append(matches, scan.FindSimilarWindows(series[w.Start:w.End], series, threshold, shift)...)
	}
	return matches
}

// dedupWindows drops repeated ranges, keeping first occurrences in order.
func dedupWindows(ws []model.Window) []model.Window {
	seen := make(map[model.Window]struct{}, len(ws))
	out := make([]model.Window, 0, len(ws))
	for _, w := range ws {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func (p *Polis) runID(requested string) string {
	if requested != "" {
		return requested
	}
	return "detect-" + p.now().UTC().Format("20060102T150405.000000000")
}

func (p *Polis) newRecord(runID, mode, source string, n int, params SearchParams) model.RunRecord {
	nWindows := params.NWindows
	if nWindows <= 0 {
		nWindows = 1
	}
	return model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Mode:            mode,
		Source:          source,
		SeriesLength:    n,
		Generations:     params.Generations,
		Population:      params.PopulationSize,
		NWindows:        nWindows,
		Seed:            params.Seed,
		CreatedAt:       p.now().UTC(),
	}
}

func (p *Polis) persist(ctx context.Context, record model.RunRecord, series []float64, windows []WindowResult) error {
	if err := p.store.SaveSeries(ctx, record.ID, series); err != nil {
		return fmt.Errorf("save series: %w", err)
	}
	var diagnostics []model.GenerationDiagnostics
	for _, wr := range windows {
		if err := p.store.SaveFitnessHistory(ctx, storage.HistoryKey(record.ID, wr.WindowLength), wr.BestByGeneration); err != nil {
			return fmt.Errorf("save fitness history: %w", err)
		}
		diagnostics = append(diagnostics, wr.Diagnostics...)
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, record.ID, diagnostics); err != nil {
		return fmt.Errorf("save generation diagnostics: %w", err)
	}
	if err := p.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func toWindowRuns(windows []WindowResult) []model.WindowRun {
	out := make([]model.WindowRun, 0, len(windows))
	for _, wr := range windows {
		out = append(out, model.WindowRun{
			WindowLength: wr.WindowLength,
			Best:         wr.Best.Clone(),
			BestFitness:  model.Score(wr.BestFitness),
			Matches:      append([]model.Window(nil), wr.Matches...),
		})
	}
	return out
}

// BestOverall returns the highest best fitness across window lengths, or
// -Inf when there are none.
func (r DetectResult) BestOverall() float64 {
	best := math.Inf(-1)
	for _, wr := range r.Windows {
		if wr.BestFitness > best {
			best = wr.BestFitness
		}
	}
	return best
}
