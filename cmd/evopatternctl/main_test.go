package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func storeArgs(base string) []string {
	return []string{
		"-store", "sqlite",
		"-db-path", filepath.Join(base, "evopattern.db"),
		"-artifacts-dir", filepath.Join(base, "runs"),
		"-log-level", "error",
	}
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCLIRunAndInspect(t *testing.T) {
	base := t.TempDir()
	csvPath := filepath.Join(base, "series.csv")
	runCommand(t, "generate", "-kind", "flat", "-n", "320", "-seed", "4", "-out", csvPath)

	runArgs := append([]string{"run"}, storeArgs(base)...)
	runArgs = append(runArgs, "-run-id", "cli-run", "-windows", "40,400", "-gens", "3", "-pop", "8", "-workers", "2", csvPath)
	report := runCommand(t, runArgs...)
	for _, want := range []string{
		"run_id=cli-run mode=multi series_length=320",
		"warning: window length 400 exceeds series length 320",
		"Base pattern: index",
		"Similar patterns found:",
		"Best window: start=",
		"Flat regions:",
		"  1. Index 110-210 (length 100)",
		"artifacts_dir=",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}

	runs := runCommand(t, append([]string{"runs"}, storeArgs(base)...)...)
	if !strings.Contains(runs, "run_id=cli-run") {
		t.Fatalf("runs output missing run:\n%s", runs)
	}

	shown := runCommand(t, append(append([]string{"show"}, storeArgs(base)...), "-latest", "-format", "json")...)
	var record struct {
		ID          string `json:"id"`
		FlatRegions []struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"flat_regions"`
	}
	if err := json.Unmarshal([]byte(shown), &record); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, shown)
	}
	if record.ID != "cli-run" || len(record.FlatRegions) != 1 || record.FlatRegions[0].Start != 110 {
		t.Fatalf("unexpected shown record: %+v", record)
	}

	fitness := runCommand(t, append(append([]string{"fitness"}, storeArgs(base)...), "-run-id", "cli-run")...)
	if got := strings.Count(fitness, "generation="); got != 4 {
		t.Fatalf("fitness lines: got=%d want=4\n%s", got, fitness)
	}
	fitnessJSON := runCommand(t, append(append([]string{"fitness"}, storeArgs(base)...), "-run-id", "cli-run", "-json")...)
	var scores []any
	if err := json.Unmarshal([]byte(fitnessJSON), &scores); err != nil || len(scores) != 4 {
		t.Fatalf("fitness json: len=%d err=%v", len(scores), err)
	}

	diagnostics := runCommand(t, append(append([]string{"diagnostics"}, storeArgs(base)...), "-latest")...)
	if got := strings.Count(diagnostics, "window_length=40"); got != 4 {
		t.Fatalf("diagnostics lines: got=%d want=4\n%s", got, diagnostics)
	}

	exportDir := filepath.Join(base, "exports")
	exported := runCommand(t, append(append([]string{"export"}, storeArgs(base)...), "-latest", "-out", exportDir)...)
	if !strings.Contains(exported, "exported run_id=cli-run") {
		t.Fatalf("unexpected export output: %s", exported)
	}
	for _, file := range []string{"patterns.csv", "patterns.png"} {
		if _, err := os.Stat(filepath.Join(exportDir, "cli-run", file)); err != nil {
			t.Fatalf("exported %s: %v", file, err)
		}
	}

	runCommand(t, append([]string{"reset"}, storeArgs(base)...)...)
	var out bytes.Buffer
	if err := run(context.Background(), append(append([]string{"show"}, storeArgs(base)...), "-run-id", "cli-run"), &out); err == nil {
		t.Fatal("expected missing run after reset")
	}
}

func TestCLIRunFromConfigAndRemoteWrite(t *testing.T) {
	base := t.TempDir()
	payloadPath := filepath.Join(base, "series.rw")
	runCommand(t, "generate", "-kind", "motif", "-n", "200", "-offsets", "10,120", "-format", "remote-write", "-metric", "load", "-out", payloadPath)

	configPath := filepath.Join(base, "run.yaml")
	config := "remote_write: " + payloadPath + "\nmetric: load\nmode: single\nwindow_lengths: [50]\ngenerations: 2\npopulation: 6\nworkers: 1\n"
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	args := append(append([]string{"run"}, storeArgs(base)...), "-config", configPath, "-gens", "3", "-format", "json")
	output := runCommand(t, args...)
	var record struct {
		Mode        string `json:"mode"`
		Generations int    `json:"generations"`
		Source      string `json:"source"`
		WindowRuns  []struct {
			WindowLength int `json:"window_length"`
		} `json:"window_runs"`
	}
	if err := json.Unmarshal([]byte(output), &record); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, output)
	}
	if record.Mode != "single" || record.Generations != 3 || !strings.HasSuffix(record.Source, "#load") {
		t.Fatalf("unexpected record: %+v", record)
	}
	if len(record.WindowRuns) != 1 || record.WindowRuns[0].WindowLength != 50 {
		t.Fatalf("unexpected window runs: %+v", record.WindowRuns)
	}
}

func TestCLIErrors(t *testing.T) {
	base := t.TempDir()
	cases := [][]string{
		{},
		{"bogus"},
		append([]string{"run"}, storeArgs(base)...),
		append(append([]string{"run"}, storeArgs(base)...), "-format", "xml", "x.csv"),
		{"generate", "-kind", "sine"},
		append([]string{"export"}, storeArgs(base)...),
	}
	for _, args := range cases {
		var out bytes.Buffer
		if err := run(context.Background(), args, &out); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}
