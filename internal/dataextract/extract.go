package dataextract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"evopattern/internal/model"
)

// ErrEmptySeries reports input that yields no usable values.
var ErrEmptySeries = model.ErrEmptySeries

type SeriesOptions struct {
	// ValueColumnName selects a column by header name. When empty, the first
	// numeric column is used.
	ValueColumnName string
	// Normalize is one of "", "none", "minmax" or "zscore".
	Normalize string
}

// LoadCSVSeries reads a headed CSV and returns one numeric column. Index
// columns without a name ("" or "Unnamed: 0") are ignored, blank and NaN
// cells are dropped.
func LoadCSVSeries(in io.Reader, opts SeriesOptions) ([]float64, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read series header: %w", ErrEmptySeries)
	}
	if err != nil {
		return nil, fmt.Errorf("read series header: %w", err)
	}

	var records [][]string
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read series row %d: %w", row+1, err)
		}
		row++
		if blankRecord(record) {
			continue
		}
		records = append(records, record)
	}

	valueIdx := -1
	if strings.TrimSpace(opts.ValueColumnName) != "" {
		idx, err := columnIndexByName(header, opts.ValueColumnName)
		if err != nil {
			return nil, err
		}
		if !numericColumn(records, idx) {
			return nil, fmt.Errorf("csv column %s is not numeric", opts.ValueColumnName)
		}
		valueIdx = idx
	} else {
		for i, name := range header {
			if unnamedColumn(name) {
				continue
			}
			if numericColumn(records, i) {
				valueIdx = i
				break
			}
		}
	}
	if valueIdx < 0 {
		return nil, errors.New("no numeric column found")
	}

	values := make([]float64, 0, len(records))
	for _, record := range records {
		value, ok := parseCell(record, valueIdx)
		if !ok {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	return NormalizeSeries(values, opts.Normalize)
}

// WriteSeriesCSV writes values as a two-column "t,value" CSV.
func WriteSeriesCSV(out io.Writer, values []float64) error {
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"t", "value"}); err != nil {
		return fmt.Errorf("write series header: %w", err)
	}
	for i, value := range values {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(value, 'f', -1, 64),
		}); err != nil {
			return fmt.Errorf("write series row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush series csv: %w", err)
	}
	return nil
}

// Normalize min-max scales values into [0, 1]. A constant series maps to
// all zeros.
func Normalize(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	return normalizeSeriesMinMax(append([]float64(nil), values...)), nil
}

func NormalizeSeries(values []float64, mode string) ([]float64, error) {
	out := append([]float64(nil), values...)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none":
		return out, nil
	case "minmax":
		return Normalize(out)
	case "zscore":
		if len(out) == 0 {
			return nil, ErrEmptySeries
		}
		return normalizeSeriesZScore(out), nil
	default:
		return nil, fmt.Errorf("unsupported series normalization mode: %s", mode)
	}
}

// numericColumn reports whether every non-blank cell in column idx parses
// as a float and at least one does.
func numericColumn(records [][]string, idx int) bool {
	seen := false
	for _, record := range records {
		if idx >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[idx])
		if raw == "" {
			continue
		}
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

func parseCell(record []string, idx int) (float64, bool) {
	if idx >= len(record) {
		return 0, false
	}
	raw := strings.TrimSpace(record[idx])
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}

func unnamedColumn(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.HasPrefix(name, "Unnamed")
}

func columnIndexByName(header []string, name string) (int, error) {
	want := strings.TrimSpace(strings.ToLower(name))
	for i, field := range header {
		if strings.ToLower(strings.TrimSpace(field)) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("csv column not found: %s", name)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func normalizeSeriesMinMax(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	minValue := values[0]
	maxValue := values[0]
	for _, value := range values[1:] {
		if value < minValue {
			minValue = value
		}
		if value > maxValue {
			maxValue = value
		}
	}
	rangeValue := maxValue - minValue
	if rangeValue == 0 {
		for i := range values {
			values[i] = 0
		}
		return values
	}
	for i := range values {
		values[i] = (values[i] - minValue) / rangeValue
	}
	return values
}

func normalizeSeriesZScore(values []float64) []float64 {
	mean := 0.0
	for _, value := range values {
		mean += value
	}
	mean /= float64(len(values))

	sumSq := 0.0
	for _, value := range values {
		diff := value - mean
		sumSq += diff * diff
	}
	std := math.Sqrt(sumSq / float64(len(values)))
	if std == 0 {
		for i := range values {
			values[i] = 0
		}
		return values
	}
	for i := range values {
		values[i] = (values[i] - mean) / std
	}
	return values
}
