// Package confidence measures how well predicted buying confidence tracks
// realized token performance.
//
// The pipeline is a single pass over in-memory analysis runs:
//
//	FilterRuns -> SanitizeRuns -> BuildPoints -> ComputeMetrics
//
// FilterRuns drops results at or below the minimum confidence and anything
// that cannot be parsed. SanitizeRuns neutralizes outlier performance
// records. BuildPoints joins results to performance by token. ComputeMetrics
// derives averages, the positive-outcome rate and the Pearson correlation.
// PercentageBrackets and RangeBrackets bucket the resulting points.
//
// Every function is pure: the same input always yields the same output and
// inputs are never modified.
package confidence

import "github.com/viktor-monitor/viktor/internal/models"

// Result is the output of Aggregate.
type Result struct {
	Points  []models.ScatterDataPoint `json:"points"`
	Metrics models.AverageMetrics     `json:"metrics"`
}

// Aggregate runs the full pipeline. A minConfidence of 0 keeps every result
// with a positive confidence.
func Aggregate(runs []models.AnalysisRun, minConfidence float64) Result {
	filtered := FilterRuns(runs, minConfidence)
	points := BuildPoints(SanitizeRuns(filtered))
	return Result{
		Points:  points,
		Metrics: ComputeMetrics(points),
	}
}
