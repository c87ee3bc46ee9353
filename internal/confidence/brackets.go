package confidence

import (
	"fmt"
	"math"

	"github.com/viktor-monitor/viktor/internal/models"
)

// rangeWidth is the width of a range bracket in confidence points.
const rangeWidth = 10

// PercentageBrackets groups points by confidence rounded half-up to the
// nearest integer (0..100). Empty buckets are omitted; the result is sorted
// by percentage ascending and each average is rounded to 2 decimals.
func PercentageBrackets(points []models.ScatterDataPoint) []models.PercentageBracket {
	type bucket struct {
		sum    float64
		count  int
		tokens []string
	}
	var buckets [101]bucket

	for _, p := range points {
		if math.IsNaN(p.BuyingConfidence) {
			continue
		}
		key := int(math.Floor(p.BuyingConfidence + 0.5))
		if key < 0 || key > 100 {
			continue
		}
		b := &buckets[key]
		b.sum += p.PercentageChange
		b.count++
		b.tokens = append(b.tokens, p.Token)
	}

	result := make([]models.PercentageBracket, 0)
	for pct, b := range buckets {
		if b.count == 0 {
			continue
		}
		result = append(result, models.PercentageBracket{
			Percentage:     pct,
			AvgPerformance: round2(b.sum / float64(b.count)),
			Count:          b.count,
			Tokens:         b.tokens,
		})
	}
	return result
}

// RangeBrackets groups points into ten buckets of width 10, labelled by
// their bounds ("0-10" ... "90-100"). All ten buckets are returned in
// ascending order, empty ones with a zero average.
//
// A point is placed by floor(confidence/10)*10, so a confidence of exactly
// 100 selects "100-110", which does not exist, and the point is dropped.
func RangeBrackets(points []models.ScatterDataPoint) []models.RangeBracket {
	brackets := make([]models.RangeBracket, 0, 100/rangeWidth)
	for lower := 0; lower < 100; lower += rangeWidth {
		brackets = append(brackets, models.RangeBracket{
			Label:  fmt.Sprintf("%d-%d", lower, lower+rangeWidth),
			Lower:  lower,
			Upper:  lower + rangeWidth,
			Tokens: []string{},
		})
	}

	for _, p := range points {
		if math.IsNaN(p.BuyingConfidence) {
			continue
		}
		idx := int(math.Floor(p.BuyingConfidence / rangeWidth))
		if idx < 0 || idx >= len(brackets) {
			continue
		}
		b := &brackets[idx]
		b.Sum += p.PercentageChange
		b.Count++
		b.Tokens = append(b.Tokens, p.Token)
	}

	for i := range brackets {
		if brackets[i].Count > 0 {
			brackets[i].Average = brackets[i].Sum / float64(brackets[i].Count)
		}
	}
	return brackets
}
