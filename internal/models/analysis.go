// Package models defines the core domain entities for the viktor monitor.
// These models represent analysis runs fetched from the analysis backend and
// the statistics derived from them.
//
// Terminology (matching the analysis backend's own naming):
//   - Run: one timestamped batch of token buy-confidence predictions.
//   - Formatted result: the display-formatted prediction for one token.
//   - Performance: realized price change of a token after the observation window.
package models

import (
	"errors"
	"time"
)

// Source identifies which backend feed a run was fetched from.
type Source string

const (
	// SourceDaily is the per-run token analysis feed (/agent/analysis).
	SourceDaily Source = "daily"
	// SourceWeekly is the week-observation analysis feed (/analysis).
	SourceWeekly Source = "weekly"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceDaily || s == SourceWeekly
}

// FormattedResult is a single token prediction as the backend formats it.
// Price and BuyingConfidence are display strings such as "$0.000123" and
// "87.50%"; they are parsed by the confidence engine, not here.
type FormattedResult struct {
	Token            string `json:"token"`
	Price            string `json:"price"`
	BuyingConfidence string `json:"buyingConfidence"`
}

// TokenPerformance is the realized performance of a token after a run.
type TokenPerformance struct {
	Token            string  `json:"token"`
	InitialPrice     float64 `json:"initialPrice"`
	CurrentPrice     float64 `json:"currentPrice"`
	PriceChange      float64 `json:"priceChange"`
	PercentageChange float64 `json:"percentageChange"`
}

// AnalysisRun is one historical analysis event.
//
// Performance is nil when the backend has not measured the run yet. An empty
// non-nil slice means it was measured but nothing matched; both contribute
// no data points.
type AnalysisRun struct {
	ID                int64              `json:"id"`
	Source            Source             `json:"source"`
	CreatedAt         time.Time          `json:"created_at"`
	Results           []FormattedResult  `json:"formatted_results"`
	Performance       []TokenPerformance `json:"performance,omitempty"`
	FearAndGreedIndex string             `json:"fear_and_greed_index,omitempty"`
}

// HasPerformance reports whether the run carries any performance records.
func (r *AnalysisRun) HasPerformance() bool {
	return len(r.Performance) > 0
}

// Validate checks the shape of a run before it is cached.
func (r *AnalysisRun) Validate() error {
	if r.ID <= 0 {
		return errors.New("run ID must be positive")
	}
	if !r.Source.Valid() {
		return errors.New("run source must be daily or weekly")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	for _, res := range r.Results {
		if res.Token == "" {
			return errors.New("formatted result token must not be empty")
		}
	}
	for _, perf := range r.Performance {
		if perf.Token == "" {
			return errors.New("performance token must not be empty")
		}
	}
	return nil
}
