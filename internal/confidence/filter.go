package confidence

import (
	"math"

	"github.com/viktor-monitor/viktor/internal/models"
)

// FilterRuns returns a filtered copy of every run. Results whose screening
// confidence is at or below minConfidence are dropped, as are results with
// an unparseable confidence or price, or a confidence outside [0, 100].
// Each run's performance list is reduced to the tokens that survived,
// matched case-sensitively. Input runs are not modified.
func FilterRuns(runs []models.AnalysisRun, minConfidence float64) []models.AnalysisRun {
	filtered := make([]models.AnalysisRun, 0, len(runs))
	for _, run := range runs {
		filtered = append(filtered, filterRun(run, minConfidence))
	}
	return filtered
}

func filterRun(run models.AnalysisRun, minConfidence float64) models.AnalysisRun {
	results := make([]models.FormattedResult, 0, len(run.Results))
	kept := make(map[string]struct{}, len(run.Results))
	for _, res := range run.Results {
		if !passesFilter(res, minConfidence) {
			continue
		}
		results = append(results, res)
		kept[res.Token] = struct{}{}
	}

	performance := make([]models.TokenPerformance, 0, len(run.Performance))
	for _, perf := range run.Performance {
		if _, ok := kept[perf.Token]; ok {
			performance = append(performance, perf)
		}
	}

	out := run
	out.Results = results
	out.Performance = performance
	return out
}

// passesFilter applies the threshold and the malformed-input policy. NaN
// never passes: a result we cannot read is treated as below threshold.
func passesFilter(res models.FormattedResult, minConfidence float64) bool {
	screening := parseScreeningConfidence(res.BuyingConfidence)
	if math.IsNaN(screening) || screening <= minConfidence {
		return false
	}
	if !validConfidence(parseConfidence(res.BuyingConfidence)) {
		return false
	}
	return !math.IsNaN(parsePrice(res.Price))
}
