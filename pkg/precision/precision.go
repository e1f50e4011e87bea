package precision

import "math"

// Decimal places of the report contract.
const (
	ScoreDecimals   = 1
	RateDecimals    = 3
	PercentDecimals = 2
	RankDecimals    = 2
)

// Round rounds half away from zero. NaN and infinities collapse to zero so that a
// report never carries values JSON cannot encode.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(decimals))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// Score rounds an absolute score.
func Score(v float64) float64 {
	return Round(v, ScoreDecimals)
}

// Rate rounds a ratio such as a score rate or difficulty.
func Rate(v float64) float64 {
	return Round(v, RateDecimals)
}

// Percent rounds a value that is already on the 0-100 scale.
func Percent(v float64) float64 {
	return Round(v, PercentDecimals)
}

// PercentOf converts a ratio to the 0-100 scale and rounds it.
func PercentOf(ratio float64) float64 {
	return Percent(ratio * 100)
}

// RankValue rounds a value before rank comparison.
func RankValue(v float64) float64 {
	return Round(v, RankDecimals)
}
