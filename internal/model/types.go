package model

import (
	"errors"
	"time"
)

// ErrEmptySeries reports a series with no usable values.
var ErrEmptySeries = errors.New("series is empty")

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Window is a half-open index range [Start, End) into a series.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w Window) Len() int {
	return w.End - w.Start
}

// Valid reports whether the window lies inside a series of length n.
func (w Window) Valid(n int) bool {
	return w.Start >= 0 && w.End <= n && w.End-w.Start >= 1
}

// Match is a window whose content correlates with a queried pattern.
type Match = Window

// Individual is one candidate solution: a fixed-size list of windows.
// Windows may overlap.
type Individual struct {
	ID      string   `json:"id"`
	Windows []Window `json:"windows"`
}

// Clone returns a copy that shares no backing storage with i.
func (i Individual) Clone() Individual {
	out := Individual{ID: i.ID}
	if i.Windows != nil {
		out.Windows = append([]Window(nil), i.Windows...)
	}
	return out
}

type GenerationDiagnostics struct {
	Generation      int   `json:"generation"`
	WindowLength    int   `json:"window_length"`
	BestFitness     Score `json:"best_fitness"`
	MeanFitness     Score `json:"mean_fitness"`
	MinFitness      Score `json:"min_fitness"`
	ValidCount      int   `json:"valid_count"`
	BestEverFitness Score `json:"best_ever_fitness"`
}

// WindowRun summarizes the evolutionary search for one window length.
type WindowRun struct {
	WindowLength int        `json:"window_length"`
	Best         Individual `json:"best"`
	BestFitness  Score      `json:"best_fitness"`
	Matches      []Window   `json:"matches"`
}

type RunRecord struct {
	VersionedRecord
	ID           string      `json:"id"`
	Mode         string      `json:"mode"`
	Source       string      `json:"source,omitempty"`
	SeriesLength int         `json:"series_length"`
	Generations  int         `json:"generations"`
	Population   int         `json:"population"`
	NWindows     int         `json:"n_windows"`
	Seed         int64       `json:"seed"`
	WindowRuns   []WindowRun `json:"window_runs"`
	FlatRegions  []Window    `json:"flat_regions,omitempty"`
	Patterns     []Window    `json:"patterns"`
	Warnings     []string    `json:"warnings,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Clone returns a deep copy of the run.
func (r RunRecord) Clone() RunRecord {
	out := r
	out.WindowRuns = make([]WindowRun, len(r.WindowRuns))
	for i, wr := range r.WindowRuns {
		out.WindowRuns[i] = WindowRun{
			WindowLength: wr.WindowLength,
			Best:         wr.Best.Clone(),
			BestFitness:  wr.BestFitness,
			Matches:      append([]Window(nil), wr.Matches...),
		}
	}
	out.FlatRegions = append([]Window(nil), r.FlatRegions...)
	out.Patterns = append([]Window(nil), r.Patterns...)
	out.Warnings = append([]string(nil), r.Warnings...)
	return out
}
