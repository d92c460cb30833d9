package surrogate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//////
// Default acquisition: Monte-Carlo log noisy expected improvement.
//////

// logNEI scores candidate batches by log noisy expected improvement: the log
// of the Monte-Carlo estimate of how much the best candidate improves on the
// best observed point, under joint posterior samples that include the
// observed and pending points. Outcome constraints enter as smoothed
// feasibility weights.
type logNEI struct {
	model              Model
	objectiveWeights   []float64
	outcomeConstraints *OutcomeConstraints
	xObserved          *Tensor
	xPending           *Tensor

	mcSamples int
	qmc       bool
	seed      uint64
	tau       float64

	// Base samples are drawn once per sample dimensionality and reused across
	// evaluations, so the acquisition surface is deterministic during one
	// optimization run.
	baseSamples map[int]*mat.Dense
}

// NewLogNoisyEI is the default AcquisitionConstructor.
//
// Options:
//   - "mc_samples" (int): Monte-Carlo sample count, default 128.
//   - "qmc" (bool): quasi-Monte-Carlo base sampling, default true. With QMC
//     enabled, construction fails with a SamplerLimitError when the base
//     sample dimensionality (outputs × joint points) already exceeds
//     MaxQMCDimension for the observed and pending points alone.
//   - "seed" (int): base-sample seed, default 0.
//   - "constraint_tau" (float64): sigmoid temperature for constraint
//     smoothing, default 1e-3.
func NewLogNoisyEI(
	model Model,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
	xObserved *Tensor,
	xPending *Tensor,
	options map[string]any,
) (AcquisitionFunction, error) {
	if objectiveWeights == nil {
		return nil, fmt.Errorf("NewLogNoisyEI requires objective weights: %w", ErrDataRequired)
	}

	acqf := &logNEI{
		model:              model,
		objectiveWeights:   append([]float64(nil), objectiveWeights.Data()...),
		outcomeConstraints: outcomeConstraints,
		xObserved:          xObserved,
		xPending:           xPending,
		mcSamples:          intOption(options, KeyMCSamples, 128),
		qmc:                boolOption(options, KeyQMC, true),
		seed:               uint64(intOption(options, KeySeed, 0)),
		tau:                floatOption(options, "constraint_tau", 1e-3),
		baseSamples:        make(map[int]*mat.Dense),
	}

	if acqf.qmc {
		// The joint batch always contains at least one candidate point on top
		// of the observed and pending baselines.
		fixedRows := 1
		if xObserved != nil {
			fixedRows += xObserved.Size(0)
		}

		if xPending != nil {
			fixedRows += xPending.Size(0)
		}

		if dim := model.NumOutputs() * fixedRows; dim > MaxQMCDimension {
			return nil, &SamplerLimitError{Dim: dim, Max: MaxQMCDimension}
		}
	}

	return acqf, nil
}

// Evaluate scores a candidate batch X (q × d). Higher is better.
func (a *logNEI) Evaluate(X *Tensor) (float64, error) {
	if X.Dim() != 2 {
		return 0, fmt.Errorf("surrogate: acquisition requires a 2-D candidate tensor, got %d dims", X.Dim())
	}

	q := X.Size(0)

	nPend := 0
	if a.xPending != nil {
		nPend = a.xPending.Size(0)
	}

	nObs := 0
	if a.xObserved != nil {
		nObs = a.xObserved.Size(0)
	}

	joint := CatRows(X, a.xPending, a.xObserved)

	mean, cov, err := a.model.Posterior(joint)
	if err != nil {
		return 0, err
	}

	m := a.model.NumOutputs()
	p := joint.Size(0)

	base, err := a.base(a.mcSamples, m*p)
	if err != nil {
		return 0, err
	}

	factors, err := covFactors(cov, m, p)
	if err != nil {
		return 0, err
	}

	var sumImprovement float64

	f := make([]float64, m)

	for s := 0; s < a.mcSamples; s++ {
		incumbent := math.Inf(-1)
		candidateBest := math.Inf(-1)

		for pi := 0; pi < p; pi++ {
			// Correlated posterior draw for point pi across all outputs.
			for o := 0; o < m; o++ {
				v := mean.At(pi, o)
				for j := 0; j <= pi; j++ {
					v += factors[o].At(pi, j) * base.At(s, o*p+j)
				}

				f[o] = v
			}

			obj := 0.0
			for o, w := range a.objectiveWeights {
				if o < m {
					obj += w * f[o]
				}
			}

			feas := a.feasibility(f)

			if pi < q+nPend {
				score := feas * obj
				if obj < 0 {
					// A negative objective is penalized, not rewarded, by
					// infeasibility.
					score = obj + (1-feas)*math.Abs(obj)
				}

				candidateBest = math.Max(candidateBest, score)
			} else {
				incumbent = math.Max(incumbent, feas*obj)
			}
		}

		if nObs == 0 {
			incumbent = 0
		}

		sumImprovement += math.Max(candidateBest-incumbent, 0)
	}

	return math.Log(sumImprovement/float64(a.mcSamples) + 1e-25), nil
}

// feasibility is the smoothed probability that outcome draws f satisfy the
// outcome constraints, a product of sigmoids of the per-row slack.
func (a *logNEI) feasibility(f []float64) float64 {
	if a.outcomeConstraints == nil {
		return 1
	}

	k := a.outcomeConstraints.A.Size(0)

	out := 1.0

	for r := 0; r < k; r++ {
		var lhs float64
		for o, v := range a.outcomeConstraints.A.Row(r) {
			if o < len(f) {
				lhs += v * f[o]
			}
		}

		slack := a.outcomeConstraints.B.Data()[r] - lhs

		out *= 1 / (1 + math.Exp(-slack/a.tau))
	}

	return out
}

// base returns the cached base-sample matrix for the given dimensionality,
// drawing it on first use.
func (a *logNEI) base(n, dim int) (*mat.Dense, error) {
	if cached, ok := a.baseSamples[dim]; ok {
		return cached, nil
	}

	var (
		samples *mat.Dense
		err     error
	)

	if a.qmc {
		samples, err = qmcNormalSamples(n, dim, a.seed)
		if err != nil {
			return nil, err
		}
	} else {
		samples = iidNormalSamples(n, dim, a.seed)
	}

	a.baseSamples[dim] = samples

	return samples, nil
}

// covFactors extracts a lower-triangular factor per output block of an
// (m × p × p) covariance tensor, escalating diagonal jitter when a block is
// numerically indefinite. As a last resort the block degrades to independent
// per-point standard deviations.
func covFactors(cov *Tensor, m, p int) ([]*mat.TriDense, error) {
	factors := make([]*mat.TriDense, m)

	for o := 0; o < m; o++ {
		block := mat.NewSymDense(p, nil)

		for aIx := 0; aIx < p; aIx++ {
			for b := aIx; b < p; b++ {
				block.SetSym(aIx, b, cov.At(o, aIx, b))
			}
		}

		var chol mat.Cholesky

		factored := false

		for attempt := 0; attempt < 4; attempt++ {
			if chol.Factorize(block) {
				factored = true

				break
			}

			bump := jitter * math.Pow(10, float64(attempt))
			for i := 0; i < p; i++ {
				block.SetSym(i, i, block.At(i, i)+bump)
			}
		}

		l := mat.NewTriDense(p, mat.Lower, nil)

		if factored {
			chol.LTo(l)
		} else {
			for i := 0; i < p; i++ {
				l.SetTri(i, i, math.Sqrt(math.Max(block.At(i, i), 0)))
			}
		}

		factors[o] = l
	}

	return factors, nil
}
