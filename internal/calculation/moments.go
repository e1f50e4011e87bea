package calculation

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Moments are the mergeable central moments of a sample. M2, M3 and M4 are sums of
// powered deviations from the mean, so chunks combine exactly with the pairwise
// update of Chan et al. extended to the third and fourth moments.
type Moments struct {
	N    int
	Sum  float64
	Mean float64
	M2   float64
	M3   float64
	M4   float64
	Min  float64
	Max  float64
}

// NewMoments computes the moments of data in two passes.
func NewMoments(data []float64) Moments {
	if len(data) == 0 {
		return Moments{}
	}
	mean, _ := stats.Mean(data)
	sum, _ := stats.Sum(data)
	min, _ := stats.Min(data)
	max, _ := stats.Max(data)

	m := Moments{N: len(data), Sum: sum, Mean: mean, Min: min, Max: max}
	for _, v := range data {
		d := v - mean
		d2 := d * d
		m.M2 += d2
		m.M3 += d2 * d
		m.M4 += d2 * d2
	}
	return m
}

// Merge combines two partitions without revisiting raw values.
func (m Moments) Merge(o Moments) Moments {
	if m.N == 0 {
		return o
	}
	if o.N == 0 {
		return m
	}
	na, nb := float64(m.N), float64(o.N)
	n := na + nb
	delta := o.Mean - m.Mean
	delta2 := delta * delta

	out := Moments{
		N:   m.N + o.N,
		Sum: m.Sum + o.Sum,
		Min: math.Min(m.Min, o.Min),
		Max: math.Max(m.Max, o.Max),
	}
	out.Mean = m.Mean + delta*nb/n
	out.M2 = m.M2 + o.M2 + delta2*na*nb/n
	out.M3 = m.M3 + o.M3 +
		delta2*delta*na*nb*(na-nb)/(n*n) +
		3*delta*(na*o.M2-nb*m.M2)/n
	out.M4 = m.M4 + o.M4 +
		delta2*delta2*na*nb*(na*na-na*nb+nb*nb)/(n*n*n) +
		6*delta2*(na*na*o.M2+nb*nb*m.M2)/(n*n) +
		4*delta*(na*o.M3-nb*m.M3)/n
	return out
}

// Variance is the sample variance (ddof=1); zero below two observations.
func (m Moments) Variance() float64 {
	if m.N < 2 {
		return 0
	}
	return m.M2 / float64(m.N-1)
}

// StdDev is the sample standard deviation.
func (m Moments) StdDev() float64 {
	return math.Sqrt(m.Variance())
}

// Skewness is the adjusted Fisher-Pearson coefficient; zero when undefined.
func (m Moments) Skewness() float64 {
	if m.N < 3 || m.M2 <= 0 {
		return 0
	}
	n := float64(m.N)
	g1 := math.Sqrt(n) * m.M3 / math.Pow(m.M2, 1.5)
	return g1 * math.Sqrt(n*(n-1)) / (n - 2)
}

// Kurtosis is the sample excess kurtosis; zero when undefined.
func (m Moments) Kurtosis() float64 {
	if m.N < 4 || m.M2 <= 0 {
		return 0
	}
	n := float64(m.N)
	g2 := n*m.M4/(m.M2*m.M2) - 3
	return ((n+1)*g2 + 6) * (n - 1) / ((n - 2) * (n - 3))
}
