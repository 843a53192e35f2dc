package evopattern

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evopattern/internal/dataextract"
	"evopattern/internal/logx"
	"evopattern/internal/model"
)

func newTestClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    storeKind,
		DBPath:       filepath.Join(base, "evopattern.db"),
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
		Logger:       logx.Discard(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func quickRequest(t *testing.T, seed int64) RunRequest {
	t.Helper()
	series, err := dataextract.GenerateRepeatedMotif(rand.New(rand.NewSource(seed)), 200, 50, []int{10, 120})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := DefaultRunRequest()
	req.Series = series
	req.Source = "synthetic"
	req.Generations = 4
	req.Population = 10
	req.Workers = 2
	req.Seed = seed
	return req
}

func TestDefaultRunRequest(t *testing.T) {
	req := DefaultRunRequest()
	if req.Generations != 100 || req.Population != 20 || req.NWindows != 1 || req.Seed != 1 {
		t.Fatalf("unexpected search defaults: %+v", req)
	}
	if len(req.WindowLengths) != 1 || req.WindowLengths[0] != 50 {
		t.Fatalf("window lengths: got=%v want=[50]", req.WindowLengths)
	}
	if req.MatchThreshold != 0.85 || req.ShiftTolerance != 3 || req.ExpandThreshold != 0.8 || req.MaxShift != 5 {
		t.Fatalf("unexpected scan defaults: %+v", req)
	}
	if req.Workers <= 0 {
		t.Fatalf("workers must default to the cpu count, got %d", req.Workers)
	}
}

func TestClientRunRunsAndExport(t *testing.T) {
	client, base := newTestClient(t, "memory")
	ctx := context.Background()

	req := quickRequest(t, 5)
	req.WindowLengths = []int{50, 40}
	var observed int
	req.Observer = func(model.GenerationDiagnostics) { observed++ }

	summary, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || summary.Mode != ModeMulti {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Windows) != 2 {
		t.Fatalf("window results: got=%d want=2", len(summary.Windows))
	}
	if observed != 10 {
		t.Fatalf("observer calls: got=%d want=10", observed)
	}
	for _, file := range []string{"config.json", "fitness_history.json", "generation_diagnostics.json", "patterns.json", "patterns.csv", "patterns.png"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, file)); err != nil {
			t.Fatalf("artifact %s: %v", file, err)
		}
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].PatternCount != len(summary.Patterns) {
		t.Fatalf("unexpected runs list: %+v", runs)
	}

	run, err := client.Show(ctx, ShowRequest{Latest: true})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if run.ID != summary.RunID || len(run.WindowRuns) != 2 {
		t.Fatalf("unexpected run record: %+v", run)
	}

	history, err := client.FitnessHistory(ctx, FitnessHistoryRequest{RunID: summary.RunID, WindowLength: 40})
	if err != nil {
		t.Fatalf("fitness history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length: got=%d want=5", len(history))
	}
	limited, err := client.FitnessHistory(ctx, FitnessHistoryRequest{Latest: true, Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("limited history: len=%d err=%v", len(limited), err)
	}

	diagnostics, err := client.Diagnostics(ctx, DiagnosticsRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diagnostics) != 10 || diagnostics[0].WindowLength != 50 || diagnostics[9].WindowLength != 40 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID || !strings.HasPrefix(exported.Directory, filepath.Join(base, "exports")) {
		t.Fatalf("unexpected export: %+v", exported)
	}
	data, err := os.ReadFile(filepath.Join(exported.Directory, "config.json"))
	if err != nil {
		t.Fatalf("read exported config: %v", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("decode exported config: %v", err)
	}
	if cfg["run_id"] != summary.RunID || cfg["dedup"] != true {
		t.Fatalf("unexpected exported config: %v", cfg)
	}
}

func TestClientRunSingleMode(t *testing.T) {
	client, _ := newTestClient(t, "sqlite")
	ctx := context.Background()

	req := quickRequest(t, 9)
	req.Mode = ModeSingle
	req.NWindows = 4
	summary, err := client.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Windows) != 1 || len(summary.Windows[0].Best.Windows) != 1 {
		t.Fatalf("single mode must evolve one window: %+v", summary.Windows)
	}
	run, err := client.Show(ctx, ShowRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if run.Mode != ModeSingle || run.NWindows != 1 {
		t.Fatalf("unexpected record: %+v", run)
	}

	if err := client.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := client.Show(ctx, ShowRequest{RunID: summary.RunID}); err == nil {
		t.Fatal("expected missing run after reset")
	}
}

func TestClientRunValidation(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	ctx := context.Background()

	cases := map[string]func(*RunRequest){
		"unknown mode":        func(r *RunRequest) { r.Mode = "pairs" },
		"single with two":     func(r *RunRequest) { r.Mode = ModeSingle; r.WindowLengths = []int{10, 20} },
		"negative window":     func(r *RunRequest) { r.WindowLengths = []int{-1} },
		"unknown crossover":   func(r *RunRequest) { r.Crossover = "uniform" },
		"threshold too large": func(r *RunRequest) { r.MatchThreshold = 2 },
		"empty series":        func(r *RunRequest) { r.Series = nil },
	}
	for name, mutate := range cases {
		req := quickRequest(t, 1)
		mutate(&req)
		if _, err := client.Run(ctx, req); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestClientQueriesRequireRun(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	ctx := context.Background()

	if _, err := client.Show(ctx, ShowRequest{}); err == nil {
		t.Fatal("expected error without run id")
	}
	if _, err := client.Show(ctx, ShowRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected error for run id with latest")
	}
	if _, err := client.Diagnostics(ctx, DiagnosticsRequest{Latest: true}); err == nil {
		t.Fatal("expected error with empty run index")
	}
	if _, err := client.FitnessHistory(ctx, FitnessHistoryRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
}
