package precision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundingRules(t *testing.T) {
	assert.Equal(t, 85.3, Score(85.26))
	assert.Equal(t, 0.667, Rate(2.0/3.0))
	assert.Equal(t, 33.33, PercentOf(1.0/3.0))
	assert.Equal(t, 79.96, RankValue(79.956))
	assert.Equal(t, -1.5, Round(-1.46, 1))
	assert.Equal(t, 0.0, Round(math.NaN(), 2))
	assert.Equal(t, 0.0, Round(math.Inf(1), 2))
	assert.False(t, math.Signbit(Round(-0.0001, 2)))
}

func TestRoundingIsIdempotent(t *testing.T) {
	for _, v := range []float64{0.1, 0.45, 2.675, 33.333333, 99.995, 1234.5678, 0.0005} {
		for _, d := range []int{ScoreDecimals, RateDecimals, PercentDecimals} {
			once := Round(v, d)
			assert.Equal(t, once, Round(once, d), "v=%v d=%d", v, d)
		}
	}
}
