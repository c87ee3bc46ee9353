package confidence

import (
	"math"

	"github.com/viktor-monitor/viktor/internal/models"
)

// ComputeMetrics summarizes points. Every field is 0 for an empty slice.
func ComputeMetrics(points []models.ScatterDataPoint) models.AverageMetrics {
	if len(points) == 0 {
		return models.AverageMetrics{}
	}

	confidences := make([]float64, len(points))
	performances := make([]float64, len(points))
	positive := 0
	for i, p := range points {
		confidences[i] = p.BuyingConfidence
		performances[i] = p.PercentageChange
		if p.PercentageChange > 0 {
			positive++
		}
	}

	return models.AverageMetrics{
		AvgConfidence:  mean(confidences),
		AvgPerformance: mean(performances),
		PositiveRate:   float64(positive) / float64(len(points)) * 100,
		Correlation:    Pearson(confidences, performances),
	}
}

// Pearson returns the product-moment correlation coefficient of xs and ys:
//
//	r = Σ((x-x̄)(y-ȳ)) / (sqrt(Σ(x-x̄)²) · sqrt(Σ(y-ȳ)²))
//
// It returns 0 when the slices differ in length, hold fewer than two values,
// or either axis has zero variance.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	// A constant axis can still produce tiny non-zero deviations once the
	// mean is rounded, so it is detected directly.
	if isConstant(xs) || isConstant(ys) {
		return 0
	}

	xMean := mean(xs)
	yMean := mean(ys)

	var numerator, xDenominator, yDenominator float64
	for i := 0; i < n; i++ {
		dx := xs[i] - xMean
		dy := ys[i] - yMean
		numerator += dx * dy
		xDenominator += dx * dx
		yDenominator += dy * dy
	}

	if xDenominator <= 0 || yDenominator <= 0 {
		return 0
	}
	r := numerator / (math.Sqrt(xDenominator) * math.Sqrt(yDenominator))
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func isConstant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
