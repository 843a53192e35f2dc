package dataextract

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

const metricNameLabel = "__name__"

// DecodeRemoteWrite extracts one metric from a snappy-compressed Prometheus
// remote-write body. Samples of every series carrying that metric name are
// merged and ordered by timestamp. NaN samples (staleness markers) are
// dropped. An empty metric selects the first series' name.
func DecodeRemoteWrite(payload []byte, metric string) ([]float64, error) {
	decoded, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("decompress remote write: %w", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		return nil, fmt.Errorf("unmarshal remote write: %w", err)
	}

	type sample struct {
		ts    int64
		value float64
	}
	var samples []sample
	for i := range req.Timeseries {
		ts := &req.Timeseries[i]
		name := seriesName(ts.Labels)
		if metric == "" {
			metric = name
		}
		if name != metric {
			continue
		}
		for _, s := range ts.Samples {
			if math.IsNaN(s.Value) {
				continue
			}
			samples = append(samples, sample{ts: s.Timestamp, value: s.Value})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("metric %q: %w", metric, ErrEmptySeries)
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ts < samples[j].ts
	})
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	return values, nil
}

// EncodeRemoteWrite builds a remote-write body holding values as one series
// sampled every stepMillis from startMillis.
func EncodeRemoteWrite(metric string, values []float64, startMillis, stepMillis int64) ([]byte, error) {
	samples := make([]prompb.Sample, len(values))
	for i, v := range values {
		samples[i] = prompb.Sample{Value: v, Timestamp: startMillis + int64(i)*stepMillis}
	}
	req := prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{{
			Labels:  []prompb.Label{{Name: metricNameLabel, Value: metric}},
			Samples: samples,
		}},
	}
	raw, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal remote write: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func seriesName(labels []prompb.Label) string {
	for _, label := range labels {
		if label.Name == metricNameLabel {
			return label.Value
		}
	}
	return ""
}
