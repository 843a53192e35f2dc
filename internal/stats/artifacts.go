package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"evopattern/internal/model"
)

const runIndexFile = "run_index.json"

// Files written for every run, in export order.
var runArtifactFiles = []string{
	"config.json",
	"fitness_history.json",
	"generation_diagnostics.json",
	"patterns.json",
	"patterns.csv",
	"patterns.png",
}

type RunConfig struct {
	RunID           string  `json:"run_id"`
	Mode            string  `json:"mode"`
	Source          string  `json:"source,omitempty"`
	SeriesLength    int     `json:"series_length"`
	WindowLengths   []int   `json:"window_lengths"`
	NWindows        int     `json:"n_windows"`
	PopulationSize  int     `json:"population_size"`
	Generations     int     `json:"generations"`
	Workers         int     `json:"workers"`
	Seed            int64   `json:"seed"`
	MatchThreshold  float64 `json:"match_threshold"`
	ShiftTolerance  int     `json:"shift_tolerance"`
	ExpandThreshold float64 `json:"expand_threshold"`
	MaxShift        int     `json:"max_shift"`
	Selection       string  `json:"selection"`
	Crossover       string  `json:"crossover"`
	Dedup           bool    `json:"dedup"`
}

// WindowHistory is the best fitness per generation of one window length.
type WindowHistory struct {
	WindowLength     int           `json:"window_length"`
	BestByGeneration []model.Score `json:"best_by_generation"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	FitnessHistory        []WindowHistory               `json:"fitness_history"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	Run                   model.RunRecord               `json:"run"`
	// Series is only used to draw patterns.png and is not persisted.
	Series []float64 `json:"-"`
}

type RunIndexEntry struct {
	RunID          string      `json:"run_id"`
	Mode           string      `json:"mode"`
	Source         string      `json:"source,omitempty"`
	SeriesLength   int         `json:"series_length"`
	WindowLengths  []int       `json:"window_lengths"`
	PopulationSize int         `json:"population_size"`
	Generations    int         `json:"generations"`
	Seed           int64       `json:"seed"`
	PatternCount   int         `json:"pattern_count"`
	BestFitness    model.Score `json:"best_fitness"`
	CreatedAtUTC   string      `json:"created_at_utc"`
}

type patternsFile struct {
	Patterns    []model.Window    `json:"patterns"`
	FlatRegions []model.Window    `json:"flat_regions"`
	WindowRuns  []model.WindowRun `json:"window_runs"`
	Warnings    []string          `json:"warnings,omitempty"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), artifacts.FitnessHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	run := artifacts.Run
	if err := writeJSON(filepath.Join(runDir, "patterns.json"), patternsFile{
		Patterns:    nonNilWindows(run.Patterns),
		FlatRegions: nonNilWindows(run.FlatRegions),
		WindowRuns:  run.WindowRuns,
		Warnings:    run.Warnings,
	}); err != nil {
		return "", err
	}
	if err := writePatternsCSV(filepath.Join(runDir, "patterns.csv"), run); err != nil {
		return "", err
	}
	if len(artifacts.Series) > 0 {
		title := fmt.Sprintf("%s: %d patterns", run.ID, len(run.Patterns))
		if err := PlotDetectedPatterns(artifacts.Series, run.Patterns, title, filepath.Join(runDir, "patterns.png")); err != nil {
			return "", fmt.Errorf("plot patterns: %w", err)
		}
	}

	return runDir, nil
}

// writePatternsCSV lists evolved matches first, then flat regions.
func writePatternsCSV(path string, run model.RunRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"kind", "window_length", "start", "end", "length"}); err != nil {
		return err
	}
	for _, wr := range run.WindowRuns {
		for _, m := range wr.Matches {
			if err := writer.Write([]string{
				"match",
				strconv.Itoa(wr.WindowLength),
				strconv.Itoa(m.Start),
				strconv.Itoa(m.End),
				strconv.Itoa(m.Len()),
			}); err != nil {
				return err
			}
		}
	}
	for _, f := range run.FlatRegions {
		if err := writer.Write([]string{
			"flat",
			"",
			strconv.Itoa(f.Start),
			strconv.Itoa(f.End),
			strconv.Itoa(f.Len()),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/<run-id>. Files that
// were never written are skipped.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runArtifactFiles {
		srcPath := filepath.Join(src, file)
		if _, err := os.Stat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(srcPath, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadFitnessHistory(baseDir, runID string) ([]WindowHistory, bool, error) {
	var history []WindowHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, "fitness_history.json"), &history)
	return history, ok, err
}

// IndexEntryFor summarizes a run for the run index.
func IndexEntryFor(cfg RunConfig, run model.RunRecord) RunIndexEntry {
	best := model.Score(math.Inf(-1))
	for _, wr := range run.WindowRuns {
		if wr.BestFitness > best {
			best = wr.BestFitness
		}
	}
	return RunIndexEntry{
		RunID:          run.ID,
		Mode:           run.Mode,
		Source:         run.Source,
		SeriesLength:   run.SeriesLength,
		WindowLengths:  append([]int(nil), cfg.WindowLengths...),
		PopulationSize: run.Population,
		Generations:    run.Generations,
		Seed:           run.Seed,
		PatternCount:   len(run.Patterns),
		BestFitness:    best,
		CreatedAtUTC:   run.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func nonNilWindows(ws []model.Window) []model.Window {
	if ws == nil {
		return []model.Window{}
	}
	return ws
}

func runArtifactPath(runID, file string) string {
	return strings.Join([]string{runID, file}, "/")
}
