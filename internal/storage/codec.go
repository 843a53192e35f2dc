package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/snappy"

	"evopattern/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is stamped on every record written by this build.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// EncodeRun serializes a run as snappy-compressed JSON.
func EncodeRun(run model.RunRecord) ([]byte, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("decompress run: %w", err)
	}
	var run model.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

// EncodeFitnessHistory keeps -Inf entries, which plain JSON numbers cannot
// represent.
func EncodeFitnessHistory(history []float64) ([]byte, error) {
	return json.Marshal(model.Scores(history))
}

func DecodeFitnessHistory(data []byte) ([]float64, error) {
	var scores []model.Score
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, err
	}
	history := make([]float64, len(scores))
	for i, s := range scores {
		history[i] = float64(s)
	}
	return history, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func EncodeSeries(series []float64) ([]byte, error) {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("series value %d is not finite", i)
		}
	}
	raw, err := json.Marshal(series)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func DecodeSeries(data []byte) ([]float64, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress series: %w", err)
	}
	var series []float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, err
	}
	return series, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

// sortRuns orders runs oldest first, then by ID.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
