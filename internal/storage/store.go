package storage

import (
	"context"
	"errors"
	"fmt"

	"evopattern/internal/model"
)

// Store persists pattern-detection runs and the per-generation data they
// produce. Get methods report a missing record as (zero, false, nil).
type Store interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveSeries(ctx context.Context, id string, series []float64) error
	GetSeries(ctx context.Context, id string) ([]float64, bool, error)
}

var errNotInitialized = errors.New("store is not initialized")

// HistoryKey addresses the fitness history of one window length of a run.
func HistoryKey(runID string, windowLength int) string {
	return fmt.Sprintf("%s/w%d", runID, windowLength)
}
