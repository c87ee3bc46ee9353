package confidence

import (
	"math"
	"strings"

	"github.com/viktor-monitor/viktor/internal/models"
)

// OutlierThreshold is the largest |percentageChange| taken at face value.
// Larger moves are almost always delisted or thinly traded tokens.
const OutlierThreshold = 80.0

// dateLayout matches the en-US short date the dashboard displays.
const dateLayout = "1/2/2006"

// SanitizePerformance returns a copy of perfs in which every percentage
// change whose magnitude exceeds OutlierThreshold is replaced by 0. The
// record itself is kept so the token still counts.
func SanitizePerformance(perfs []models.TokenPerformance) []models.TokenPerformance {
	if perfs == nil {
		return nil
	}
	out := make([]models.TokenPerformance, len(perfs))
	for i, perf := range perfs {
		if math.Abs(perf.PercentageChange) > OutlierThreshold {
			perf.PercentageChange = 0
		}
		out[i] = perf
	}
	return out
}

// SanitizeRuns applies SanitizePerformance to a copy of every run.
func SanitizeRuns(runs []models.AnalysisRun) []models.AnalysisRun {
	out := make([]models.AnalysisRun, len(runs))
	for i, run := range runs {
		run.Performance = SanitizePerformance(run.Performance)
		out[i] = run
	}
	return out
}

// BuildPoints emits one point per result that has a performance record with
// the same token, compared case-insensitively. Results without a match add
// nothing. Runs are expected to have gone through FilterRuns; results that
// still fail to parse are skipped rather than emitted with NaN.
func BuildPoints(runs []models.AnalysisRun) []models.ScatterDataPoint {
	points := make([]models.ScatterDataPoint, 0)
	for _, run := range runs {
		if !run.HasPerformance() {
			continue
		}
		date := run.CreatedAt.Format(dateLayout)

		for _, res := range run.Results {
			perf, ok := findPerformance(run.Performance, res.Token)
			if !ok {
				continue
			}
			confidence := parseConfidence(res.BuyingConfidence)
			price := parsePrice(res.Price)
			if !validConfidence(confidence) || math.IsNaN(price) {
				continue
			}

			points = append(points, models.ScatterDataPoint{
				Token:            res.Token,
				BuyingConfidence: confidence,
				PercentageChange: perf.PercentageChange,
				Date:             date,
				Price:            price,
				CurrentPrice:     perf.CurrentPrice,
				PriceChange:      perf.PriceChange,
			})
		}
	}
	return points
}

func findPerformance(perfs []models.TokenPerformance, token string) (models.TokenPerformance, bool) {
	for _, perf := range perfs {
		if strings.EqualFold(perf.Token, token) {
			return perf, true
		}
	}
	return models.TokenPerformance{}, false
}
