package bandit

import (
	"math"
	"math/rand/v2"
)

// gammaSample draws from Gamma(shape, 1) using the Marsaglia-Tsang method.
func gammaSample(r *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// Gamma(a) = Gamma(a+1) * U^(1/a)
		u := r.Float64()
		for u == 0 {
			u = r.Float64()
		}
		return gammaSample(r, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := r.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// betaSample draws from Beta(alpha, beta) as X/(X+Y) with X~Gamma(alpha), Y~Gamma(beta).
func betaSample(r *rand.Rand, alpha, beta float64) float64 {
	x := gammaSample(r, alpha)
	y := gammaSample(r, beta)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// normalApprox approximates a Beta(alpha, beta) draw with a normal distribution
// of the same mean and variance, clamped to [0, 1].
func normalApprox(r *rand.Rand, alpha, beta float64) float64 {
	n := alpha + beta
	mean := alpha / n
	variance := alpha * beta / (n * n * (n + 1))
	s := mean + math.Sqrt(variance)*r.NormFloat64()
	return math.Max(0, math.Min(1, s))
}
