package confidence

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// screeningPrefixLen is how many characters of a confidence string (before
// the '%' sign) take part in the minimum-confidence comparison.
const screeningPrefixLen = 5

// parseScreeningConfidence returns the value used to compare a result
// against the minimum confidence: the text before '%', cut to its first
// five characters. "87.50%" -> 87.5, "100.00%" -> 100.0.
func parseScreeningConfidence(s string) float64 {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if len(s) > screeningPrefixLen {
		s = s[:screeningPrefixLen]
	}
	return parseNumber(s)
}

// parseConfidence strips a trailing '%' and parses the rest.
func parseConfidence(s string) float64 {
	return parseNumber(strings.TrimSuffix(strings.TrimSpace(s), "%"))
}

// parsePrice strips a leading '$' and thousands separators and parses the rest.
func parsePrice(s string) float64 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	return parseNumber(strings.ReplaceAll(s, ",", ""))
}

// parseNumber returns NaN for anything that is not a plain decimal number.
func parseNumber(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	f, _ := d.Float64()
	return f
}

// validConfidence reports whether c is a usable confidence percentage.
func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 100
}

func round2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}
