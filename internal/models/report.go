package models

import (
	"errors"
	"math"
	"time"
)

// Report is a persisted confidence/performance summary for one source.
type Report struct {
	ID                 string              `json:"id"`
	Source             Source              `json:"source"`
	MinConfidence      float64             `json:"min_confidence"`
	GeneratedAt        time.Time           `json:"generated_at"`
	RunCount           int                 `json:"run_count"`
	LatestRunAt        time.Time           `json:"latest_run_at"`
	Points             []ScatterDataPoint  `json:"points"`
	Metrics            AverageMetrics      `json:"metrics"`
	PercentageBrackets []PercentageBracket `json:"percentage_brackets"`
	RangeBrackets      []RangeBracket      `json:"range_brackets"`
}

// Validate checks that all report fields are valid
func (r *Report) Validate() error {
	if r.ID == "" {
		return errors.New("report ID must not be empty")
	}
	if !r.Source.Valid() {
		return errors.New("report source must be daily or weekly")
	}
	if r.MinConfidence < 0 || r.MinConfidence > 100 {
		return errors.New("min confidence must be between 0 and 100")
	}
	if r.GeneratedAt.IsZero() {
		return errors.New("generated at must be set")
	}
	if r.GeneratedAt.After(time.Now()) {
		return errors.New("generated at must not be in the future")
	}
	if r.RunCount < 0 {
		return errors.New("run count must not be negative")
	}

	m := r.Metrics
	for _, v := range []float64{m.AvgConfidence, m.AvgPerformance, m.PositiveRate, m.Correlation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("metrics must be finite")
		}
	}
	if m.PositiveRate < 0 || m.PositiveRate > 100 {
		return errors.New("positive rate must be between 0 and 100")
	}
	if m.Correlation < -1.0001 || m.Correlation > 1.0001 {
		return errors.New("correlation must be between -1 and 1")
	}
	return nil
}
