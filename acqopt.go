package surrogate

import (
	"fmt"
	"math"
	"sort"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

//////
// Default acquisition optimizer.
//////

// penaltyWeight scales the quadratic penalty applied to bound and inequality
// violations in the relaxed objective.
const penaltyWeight = 1e4

// OptimizeAcqf is the default AcquisitionOptimizer: derivative-free
// multi-restart maximization of the acquisition function over the bounds box.
//
// The n candidate points are optimized jointly as one flattened vector.
// Restarts are seeded with the best of a batch of random joint candidates;
// each restart runs Nelder-Mead on the penalized negative acquisition. Fixed
// features are pinned out of the optimization variables; bound and inequality
// violations are discouraged by a quadratic penalty and removed entirely by a
// final clamp. The rounding callback, when given, is applied to the winning
// candidates, which are then re-scored to report the attained value.
//
// Options:
//   - "num_restarts" (int): local restarts, default 4.
//   - "raw_samples" (int): random joint candidates scored to seed the
//     restarts, default 64.
//   - "seed" (int): seed for restart sampling, default 0.
func OptimizeAcqf(
	acqf AcquisitionFunction,
	bounds *Tensor,
	n int,
	inequalityConstraints []InequalityConstraint,
	fixedFeatures map[int]float64,
	roundingFunc RoundingFunc,
	options map[string]any,
) (*Tensor, *Tensor, error) {
	if bounds.Dim() != 2 || bounds.Size(0) != 2 {
		return nil, nil, fmt.Errorf("surrogate: bounds must have shape 2 x d, got %v", bounds.Shape())
	}

	d := bounds.Size(1)
	lo := bounds.Row(0)
	hi := bounds.Row(1)

	numRestarts := intOption(options, KeyNumRestarts, 4)
	rawSamples := intOption(options, KeyRawSamples, 64)
	seed := uint64(intOption(options, KeySeed, 0))

	var free []int

	for j := 0; j < d; j++ {
		if _, pinned := fixedFeatures[j]; !pinned {
			free = append(free, j)
		}
	}

	// assemble expands a free-variable vector into the full n × d candidate
	// tensor, clamped into bounds with fixed features pinned.
	assemble := func(z []float64) *Tensor {
		out := Zeros(n, d).To(bounds.Dtype(), bounds.Device())

		for i := 0; i < n; i++ {
			row := out.Row(i)

			for k, j := range free {
				row[j] = clamp(z[i*len(free)+k], lo[j], hi[j])
			}

			for j, v := range fixedFeatures {
				row[j] = v
			}
		}

		return out
	}

	var evalErr error

	score := func(z []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}

		x := assemble(z)

		value, err := acqf.Evaluate(x)
		if err != nil {
			evalErr = err

			return math.Inf(1)
		}

		var penalty float64

		// Out-of-bounds distance of the unclamped variables.
		for i := 0; i < n; i++ {
			for k, j := range free {
				v := z[i*len(free)+k]

				if v < lo[j] {
					penalty += (lo[j] - v) * (lo[j] - v)
				} else if v > hi[j] {
					penalty += (v - hi[j]) * (v - hi[j])
				}
			}
		}

		for i := 0; i < n; i++ {
			row := x.Row(i)

			for _, ic := range inequalityConstraints {
				var lhs float64
				for k, j := range ic.Indices {
					lhs += ic.Coefficients[k] * row[j]
				}

				if lhs < ic.Bound {
					penalty += (ic.Bound - lhs) * (ic.Bound - lhs)
				}
			}
		}

		return -value + penaltyWeight*penalty
	}

	rng := exprand.New(exprand.NewSource(seed))

	randomStart := func() []float64 {
		z := make([]float64, n*len(free))

		for i := 0; i < n; i++ {
			for k, j := range free {
				z[i*len(free)+k] = lo[j] + rng.Float64()*(hi[j]-lo[j])
			}
		}

		return z
	}

	// Seed restarts with the best scoring random joint candidates.
	type scored struct {
		z []float64
		f float64
	}

	raws := make([]scored, 0, rawSamples)

	for i := 0; i < rawSamples && evalErr == nil; i++ {
		z := randomStart()
		raws = append(raws, scored{z: z, f: score(z)})
	}

	if evalErr != nil {
		return nil, nil, evalErr
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].f < raws[j].f })

	if numRestarts > len(raws) {
		numRestarts = len(raws)
	}

	best := raws[0]

	for r := 0; r < numRestarts && len(free) > 0; r++ {
		problem := optimize.Problem{Func: score}
		settings := &optimize.Settings{MajorIterations: 200, FuncEvaluations: 1500}

		result, err := optimize.Minimize(problem, raws[r].z, settings, &optimize.NelderMead{})

		if evalErr != nil {
			return nil, nil, evalErr
		}

		if err != nil || result == nil {
			continue
		}

		if result.F < best.f {
			best = scored{z: result.X, f: result.F}
		}
	}

	candidates := assemble(best.z)

	if roundingFunc != nil {
		candidates = roundingFunc(candidates)
	}

	attained, err := acqf.Evaluate(candidates)
	if err != nil {
		return nil, nil, err
	}

	value := NewTensor([]float64{attained}, 1).To(bounds.Dtype(), bounds.Device())

	return candidates, value, nil
}

// boundsFromDigest builds the 2 × d bounds tensor (lower and upper rows) in
// the session's dtype and device from raw digest bounds.
func boundsFromDigest(bounds [][2]float64, dtype Dtype, device Device) *Tensor {
	d := len(bounds)

	raw := mat.NewDense(d, 2, nil)
	for j, b := range bounds {
		raw.Set(j, 0, b[0])
		raw.Set(j, 1, b[1])
	}

	return FromDense(raw).To(dtype, device).Transpose()
}
