package evopattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"evopattern/internal/model"
	"evopattern/internal/platform"
	"evopattern/internal/stats"
	"evopattern/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "evopattern.db"

	ModeMulti  = platform.ModeMulti
	ModeSingle = platform.ModeSingle
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store storage.Store
	polis *platform.Polis
	log   *slog.Logger

	artifactsDir string
	exportsDir   string
}

// RunRequest describes one detection run. Build it from DefaultRunRequest:
// zero shift, penalty and flat settings are honored as given.
type RunRequest struct {
	RunID  string
	Source string
	Series []float64
	// Mode is "multi" (every window length, flat regions, dedup) or "single"
	// (one window of WindowLengths[0]).
	Mode             string
	WindowLengths    []int
	NWindows         int
	Generations      int
	Population       int
	Workers          int
	Seed             int64
	MatchThreshold   float64
	ShiftTolerance   int
	WindowPenalty    float64
	ExpandThreshold  float64
	ExpandShift      int
	MaxShift         int
	Selection        string
	Crossover        string
	KeepDuplicates   bool
	FlatWindowLength int
	FlatMinStd       float64
	Observer         func(model.GenerationDiagnostics)
}

// DefaultRunRequest returns the settings used when a caller sets nothing.
func DefaultRunRequest() RunRequest {
	search := platform.DefaultSearchParams()
	return RunRequest{
		Mode:            ModeMulti,
		WindowLengths:   []int{50},
		NWindows:        search.NWindows,
		Generations:     search.Generations,
		Population:      search.PopulationSize,
		Workers:         runtime.NumCPU(),
		Seed:            search.Seed,
		MatchThreshold:  search.MatchThreshold,
		ShiftTolerance:  search.ShiftTolerance,
		WindowPenalty:   search.WindowPenalty,
		ExpandThreshold: search.ExpandThreshold,
		ExpandShift:     search.ExpandShift,
		MaxShift:        search.MaxShift,
		Selection:       search.Selection,
		Crossover:       search.Crossover,
	}
}

// NewRunID names a run the way Run does when RunID is empty.
func NewRunID(req RunRequest, now time.Time) string {
	mode := req.Mode
	if mode == "" {
		mode = ModeMulti
	}
	return fmt.Sprintf("%s-%d-%d", mode, req.Seed, now.UTC().UnixNano())
}

type RunSummary struct {
	RunID        string
	Mode         string
	ArtifactsDir string
	Windows      []platform.WindowResult
	Patterns     []model.Window
	FlatRegions  []model.Window
	Warnings     []string
	BestFitness  float64
	Record       model.RunRecord
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Mode          string
	Source        string
	SeriesLength  int
	WindowLengths []int
	Seed          int64
	Population    int
	Generations   int
	PatternCount  int
	BestFitness   float64
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	// WindowLength selects one search of a multi-size run. Zero selects the
	// first window length of the run.
	WindowLength int
	Limit        int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
	// S3 uploads the exported files when set.
	S3 *stats.S3ExportConfig
}

type ExportSummary struct {
	RunID      string
	Directory  string
	UploadKeys []string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		log:          logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Reset clears every stored run. Artifact directories on disk are kept.
func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	defaults := DefaultRunRequest()
	if req.Mode == "" {
		req.Mode = defaults.Mode
	}
	if req.Mode != ModeMulti && req.Mode != ModeSingle {
		return RunSummary{}, fmt.Errorf("unsupported run mode: %s", req.Mode)
	}
	if len(req.WindowLengths) == 0 {
		req.WindowLengths = defaults.WindowLengths
	}
	if req.Mode == ModeSingle && len(req.WindowLengths) != 1 {
		return RunSummary{}, errors.New("single mode takes exactly one window length")
	}
	for _, w := range req.WindowLengths {
		if w <= 0 {
			return RunSummary{}, fmt.Errorf("window length must be > 0, got %d", w)
		}
	}
	if req.Generations <= 0 {
		req.Generations = defaults.Generations
	}
	if req.Population <= 0 {
		req.Population = defaults.Population
	}
	if req.Workers <= 0 {
		req.Workers = defaults.Workers
	}
	if req.NWindows <= 0 {
		req.NWindows = defaults.NWindows
	}
	if req.Mode == ModeSingle {
		req.NWindows = 1
	}
	if req.MatchThreshold == 0 {
		req.MatchThreshold = defaults.MatchThreshold
	}
	if req.ExpandThreshold == 0 {
		req.ExpandThreshold = defaults.ExpandThreshold
	}
	if req.Selection == "" {
		req.Selection = defaults.Selection
	}
	if req.Crossover == "" {
		req.Crossover = defaults.Crossover
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	if req.RunID == "" {
		req.RunID = NewRunID(req, now)
	}
	search := platform.SearchParams{
		Generations:     req.Generations,
		PopulationSize:  req.Population,
		NWindows:        req.NWindows,
		Workers:         req.Workers,
		Seed:            req.Seed,
		MatchThreshold:  req.MatchThreshold,
		ShiftTolerance:  req.ShiftTolerance,
		WindowPenalty:   req.WindowPenalty,
		ExpandThreshold: req.ExpandThreshold,
		ExpandShift:     req.ExpandShift,
		MaxShift:        req.MaxShift,
		Selection:       req.Selection,
		Crossover:       req.Crossover,
		Observer:        req.Observer,
	}

	summary := RunSummary{RunID: req.RunID, Mode: req.Mode}
	switch req.Mode {
	case ModeSingle:
		result, err := p.DetectSingle(ctx, platform.SingleConfig{
			RunID:        req.RunID,
			Source:       req.Source,
			Series:       req.Series,
			WindowLength: req.WindowLengths[0],
			Search:       search,
		})
		if err != nil {
			return RunSummary{}, err
		}
		summary.Windows = []platform.WindowResult{result.Window}
		summary.Patterns = result.Matches
		summary.BestFitness = result.BestFitness
		summary.Record = result.Record
	default:
		result, err := p.DetectPatterns(ctx, platform.DetectConfig{
			RunID:            req.RunID,
			Source:           req.Source,
			Series:           req.Series,
			WindowLengths:    req.WindowLengths,
			Search:           search,
			FlatWindowLength: req.FlatWindowLength,
			FlatMinStd:       req.FlatMinStd,
			KeepDuplicates:   req.KeepDuplicates,
		})
		if err != nil {
			return RunSummary{}, err
		}
		summary.Windows = result.Windows
		summary.Patterns = result.Patterns
		summary.FlatRegions = result.FlatRegions
		summary.Warnings = result.Warnings
		summary.BestFitness = result.BestOverall()
		summary.Record = result.Record
	}

	runConfig := stats.RunConfig{
		RunID:           req.RunID,
		Mode:            req.Mode,
		Source:          req.Source,
		SeriesLength:    len(req.Series),
		WindowLengths:   append([]int(nil), req.WindowLengths...),
		NWindows:        req.NWindows,
		PopulationSize:  req.Population,
		Generations:     req.Generations,
		Workers:         req.Workers,
		Seed:            req.Seed,
		MatchThreshold:  req.MatchThreshold,
		ShiftTolerance:  req.ShiftTolerance,
		ExpandThreshold: req.ExpandThreshold,
		MaxShift:        req.MaxShift,
		Selection:       req.Selection,
		Crossover:       req.Crossover,
		Dedup:           req.Mode == ModeMulti && !req.KeepDuplicates,
	}
	history := make([]stats.WindowHistory, 0, len(summary.Windows))
	var diagnostics []model.GenerationDiagnostics
	for _, wr := range summary.Windows {
		history = append(history, stats.WindowHistory{
			WindowLength:     wr.WindowLength,
			BestByGeneration: model.Scores(wr.BestByGeneration),
		})
		diagnostics = append(diagnostics, wr.Diagnostics...)
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:                runConfig,
		FitnessHistory:        history,
		GenerationDiagnostics: diagnostics,
		Run:                   summary.Record,
		Series:                req.Series,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntryFor(runConfig, summary.Record)); err != nil {
		return RunSummary{}, err
	}
	summary.ArtifactsDir = filepath.Clean(runDir)
	c.log.Info("run stored", "run_id", req.RunID, "artifacts", summary.ArtifactsDir)
	return summary, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Mode:          e.Mode,
			Source:        e.Source,
			SeriesLength:  e.SeriesLength,
			WindowLengths: e.WindowLengths,
			Seed:          e.Seed,
			Population:    e.PopulationSize,
			Generations:   e.Generations,
			PatternCount:  e.PatternCount,
			BestFitness:   e.BestFitness.Float64(),
		})
	}
	return out, nil
}

// Show returns a stored run record.
func (c *Client) Show(ctx context.Context, req ShowRequest) (model.RunRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "show")
	if err != nil {
		return model.RunRecord{}, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	run, err := c.Show(ctx, ShowRequest{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return nil, err
	}
	windowLength := req.WindowLength
	if windowLength == 0 {
		if len(run.WindowRuns) == 0 {
			return nil, fmt.Errorf("run %s has no window searches", run.ID)
		}
		windowLength = run.WindowRuns[0].WindowLength
	}

	history, ok, err := c.store.GetFitnessHistory(ctx, storage.HistoryKey(run.ID, windowLength))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id %s window length %d", run.ID, windowLength)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	summary := ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}

	if req.S3 != nil {
		exporter, err := stats.NewS3Exporter(ctx, *req.S3)
		if err != nil {
			return ExportSummary{}, err
		}
		keys, err := exporter.UploadRun(ctx, req.OutDir, runID)
		if err != nil {
			return ExportSummary{}, err
		}
		summary.UploadKeys = keys
		c.log.Info("run uploaded", "run_id", runID, "bucket", req.S3.Bucket, "objects", len(keys))
	}
	return summary, nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	return runID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, Logger: c.log})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
