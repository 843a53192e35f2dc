package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Score is a fitness value that survives JSON round trips even when it is
// the -Inf "no recurrence" sentinel. Non-finite values encode as strings.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	v := float64(s)
	switch {
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		switch raw {
		case "-Inf":
			*s = Score(math.Inf(-1))
		case "+Inf", "Inf":
			*s = Score(math.Inf(1))
		case "NaN":
			*s = Score(math.NaN())
		default:
			return fmt.Errorf("invalid score %q", raw)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

func (s Score) Float64() float64 {
	return float64(s)
}

// Scores converts raw fitness values for persistence.
func Scores(values []float64) []Score {
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Score(v)
	}
	return out
}
