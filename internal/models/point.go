package models

// ScatterDataPoint pairs the predicted confidence of one token in one run
// with its realized performance.
type ScatterDataPoint struct {
	Token            string  `json:"token"`
	BuyingConfidence float64 `json:"buyingConfidence"` // 0–100
	PercentageChange float64 `json:"percentageChange"`
	Date             string  `json:"date"`
	Price            float64 `json:"price"`
	CurrentPrice     float64 `json:"currentPrice"`
	PriceChange      float64 `json:"priceChange"`
}

// AverageMetrics summarizes a set of scatter points.
type AverageMetrics struct {
	AvgConfidence  float64 `json:"avgConfidence"`
	AvgPerformance float64 `json:"avgPerformance"`
	PositiveRate   float64 `json:"positiveRate"` // percent of points with a gain
	Correlation    float64 `json:"correlation"`  // Pearson r, confidence vs performance
}

// PercentageBracket aggregates points whose rounded confidence equals Percentage.
type PercentageBracket struct {
	Percentage     int      `json:"percentage"`
	AvgPerformance float64  `json:"avgPerformance"` // rounded to 2 decimals
	Count          int      `json:"count"`
	Tokens         []string `json:"tokens"`
}

// RangeBracket aggregates points whose confidence falls in [Lower, Upper).
type RangeBracket struct {
	Label   string   `json:"label"`
	Lower   int      `json:"lower"`
	Upper   int      `json:"upper"`
	Sum     float64  `json:"sum"`
	Count   int      `json:"count"`
	Average float64  `json:"average"`
	Tokens  []string `json:"tokens"`
}
