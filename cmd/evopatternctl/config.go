package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"evopattern/pkg/evopattern"
)

// RunFile is the YAML form of a run. Keys left out of the file keep their
// defaults.
type RunFile struct {
	Input       string `yaml:"input"`
	Column      string `yaml:"column"`
	Normalize   string `yaml:"normalize"`
	RemoteWrite string `yaml:"remote_write"`
	Metric      string `yaml:"metric"`

	RunID            string  `yaml:"run_id"`
	Mode             string  `yaml:"mode"`
	WindowLengths    []int   `yaml:"window_lengths"`
	NWindows         int     `yaml:"n_windows"`
	Generations      int     `yaml:"generations"`
	Population       int     `yaml:"population"`
	Workers          int     `yaml:"workers"`
	Seed             int64   `yaml:"seed"`
	MatchThreshold   float64 `yaml:"match_threshold"`
	ShiftTolerance   int     `yaml:"shift_tolerance"`
	WindowPenalty    float64 `yaml:"window_penalty"`
	ExpandThreshold  float64 `yaml:"expand_threshold"`
	ExpandShift      int     `yaml:"expand_shift"`
	MaxShift         int     `yaml:"max_shift"`
	Selection        string  `yaml:"selection"`
	Crossover        string  `yaml:"crossover"`
	KeepDuplicates   bool    `yaml:"keep_duplicates"`
	FlatWindowLength int     `yaml:"flat_window_length"`
	FlatMinStd       float64 `yaml:"flat_min_std"`
}

func defaultRunFile() RunFile {
	req := evopattern.DefaultRunRequest()
	return RunFile{
		Normalize:       "minmax",
		Mode:            req.Mode,
		WindowLengths:   req.WindowLengths,
		NWindows:        req.NWindows,
		Generations:     req.Generations,
		Population:      req.Population,
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
	}
}

func loadRunFile(path string) (RunFile, error) {
	file := defaultRunFile()
	if path == "" {
		return file, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RunFile{}, fmt.Errorf("read run config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return RunFile{}, fmt.Errorf("decode run config %s: %w", path, err)
	}
	return file, nil
}

// overrideFromFlags copies explicitly set flag values onto file.
func overrideFromFlags(file *RunFile, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "input":
			file.Input = v.(string)
		case "column":
			file.Column = v.(string)
		case "normalize":
			file.Normalize = v.(string)
		case "remote-write":
			file.RemoteWrite = v.(string)
		case "metric":
			file.Metric = v.(string)
		case "run-id":
			file.RunID = v.(string)
		case "mode":
			file.Mode = v.(string)
		case "windows":
			lengths, err := parseIntList(v.(string))
			if err != nil {
				return fmt.Errorf("windows: %w", err)
			}
			file.WindowLengths = lengths
		case "n-windows":
			file.NWindows = v.(int)
		case "gens":
			file.Generations = v.(int)
		case "pop":
			file.Population = v.(int)
		case "workers":
			file.Workers = v.(int)
		case "seed":
			file.Seed = v.(int64)
		case "threshold":
			file.MatchThreshold = v.(float64)
		case "shift":
			file.ShiftTolerance = v.(int)
		case "penalty":
			file.WindowPenalty = v.(float64)
		case "expand-threshold":
			file.ExpandThreshold = v.(float64)
		case "expand-shift":
			file.ExpandShift = v.(int)
		case "max-shift":
			file.MaxShift = v.(int)
		case "selection":
			file.Selection = v.(string)
		case "crossover":
			file.Crossover = v.(string)
		case "keep-duplicates":
			file.KeepDuplicates = v.(bool)
		case "flat-window":
			file.FlatWindowLength = v.(int)
		case "flat-min-std":
			file.FlatMinStd = v.(float64)
		}
	}
	return nil
}

func (f RunFile) runRequest() evopattern.RunRequest {
	return evopattern.RunRequest{
		RunID:            f.RunID,
		Source:           f.source(),
		Mode:             f.Mode,
		WindowLengths:    append([]int(nil), f.WindowLengths...),
		NWindows:         f.NWindows,
		Generations:      f.Generations,
		Population:       f.Population,
		Workers:          f.Workers,
		Seed:             f.Seed,
		MatchThreshold:   f.MatchThreshold,
		ShiftTolerance:   f.ShiftTolerance,
		WindowPenalty:    f.WindowPenalty,
		ExpandThreshold:  f.ExpandThreshold,
		ExpandShift:      f.ExpandShift,
		MaxShift:         f.MaxShift,
		Selection:        f.Selection,
		Crossover:        f.Crossover,
		KeepDuplicates:   f.KeepDuplicates,
		FlatWindowLength: f.FlatWindowLength,
		FlatMinStd:       f.FlatMinStd,
	}
}

func (f RunFile) source() string {
	if f.RemoteWrite != "" {
		return f.RemoteWrite + "#" + f.Metric
	}
	return f.Input
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one value is required")
	}
	return out, nil
}
