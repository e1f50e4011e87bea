package calculation

import "github.com/montanaflynn/stats"

// CronbachAlpha estimates internal consistency from a respondents x items matrix
// using population variances. The result is clamped to [0,1]; ok is false when the
// matrix has fewer than two items or respondents, or no total variance.
func CronbachAlpha(matrix [][]float64) (float64, bool) {
	if len(matrix) < 2 {
		return 0, false
	}
	k := len(matrix[0])
	if k < 2 {
		return 0, false
	}

	totals := make([]float64, len(matrix))
	var itemVarSum float64
	column := make([]float64, len(matrix))
	for j := 0; j < k; j++ {
		for i, row := range matrix {
			if len(row) != k {
				return 0, false
			}
			column[i] = row[j]
			totals[i] += row[j]
		}
		v, err := stats.PopulationVariance(column)
		if err != nil {
			return 0, false
		}
		itemVarSum += v
	}

	totalVar, err := stats.PopulationVariance(totals)
	if err != nil || totalVar == 0 {
		return 0, false
	}
	alpha := float64(k) / float64(k-1) * (1 - itemVarSum/totalVar)
	return clamp01(alpha), true
}
