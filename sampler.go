package surrogate

import (
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Base-sample generation.
//////

// MaxQMCDimension is the largest base-sample dimensionality the
// quasi-Monte-Carlo sampler supports. One prime base is consumed per
// dimension; beyond this ceiling the low-discrepancy guarantees degrade, so
// the sampler refuses with a SamplerLimitError and callers fall back to
// independent sampling.
const MaxQMCDimension = 1111

// haltonPrimes holds the first MaxQMCDimension primes, one radical-inverse
// base per sample dimension.
var haltonPrimes = sievePrimes(MaxQMCDimension)

// sievePrimes returns the first n primes.
func sievePrimes(n int) []int {
	primes := make([]int, 0, n)

	for candidate := 2; len(primes) < n; candidate++ {
		isPrime := true

		for _, p := range primes {
			if p*p > candidate {
				break
			}

			if candidate%p == 0 {
				isPrime = false

				break
			}
		}

		if isPrime {
			primes = append(primes, candidate)
		}
	}

	return primes
}

// radicalInverse computes the base-b radical inverse of i, the core of the
// Halton low-discrepancy sequence.
func radicalInverse(i, base int) float64 {
	var (
		inv  = 1.0 / float64(base)
		frac = inv
		out  float64
	)

	for i > 0 {
		out += float64(i%base) * frac
		i /= base
		frac *= inv
	}

	return out
}

// qmcNormalSamples draws an n × dim matrix of standard-normal base samples
// from a randomly-shifted Halton sequence pushed through the normal quantile
// function. Fails with a SamplerLimitError when dim exceeds MaxQMCDimension.
func qmcNormalSamples(n, dim int, seed uint64) (*mat.Dense, error) {
	if dim > MaxQMCDimension {
		return nil, &SamplerLimitError{Dim: dim, Max: MaxQMCDimension}
	}

	rng := exprand.New(exprand.NewSource(seed))
	norm := distuv.Normal{Mu: 0, Sigma: 1}

	// Cranley-Patterson rotation: one uniform shift per dimension decorrelates
	// repeated draws while preserving low discrepancy.
	shifts := make([]float64, dim)
	for j := range shifts {
		shifts[j] = rng.Float64()
	}

	const eps = 1e-12

	out := mat.NewDense(n, dim, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			u := radicalInverse(i+1, haltonPrimes[j]) + shifts[j]
			if u >= 1 {
				u -= 1
			}

			u = clamp(u, eps, 1-eps)

			out.Set(i, j, norm.Quantile(u))
		}
	}

	return out, nil
}

// iidNormalSamples draws an n × dim matrix of independent standard-normal
// base samples. This is the fallback when the QMC sampler's dimensionality
// ceiling is exceeded.
func iidNormalSamples(n, dim int, seed uint64) *mat.Dense {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: exprand.NewSource(seed)}

	out := mat.NewDense(n, dim, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			out.Set(i, j, norm.Rand())
		}
	}

	return out
}
