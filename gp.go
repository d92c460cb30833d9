package surrogate

import (
	"fmt"
	"math"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Const, vars, types.
//////

// jitter is added to the kernel diagonal to keep Cholesky factorizations
// stable.
const jitter = 1e-6

// gpRegression is a single-outcome Gaussian-process regressor with an
// automatic-relevance-determination RBF kernel: one lengthscale per input
// feature, a signal variance and a learned noise floor on top of the provided
// per-observation noise variances. It is the default surrogate, one instance
// per outcome.
//
// Hyperparameters are kept in log space so likelihood optimization is
// unconstrained. After fitting, the Cholesky factor of the training kernel
// and the weight vector alpha = K⁻¹y are cached for posterior queries.
type gpRegression struct {
	x    *mat.Dense // n × d training inputs
	y    []float64
	yvar []float64

	metric string
	dtype  Dtype
	device Device

	logLengthscales []float64 // length d
	logSignal       float64
	logNoise        float64
	warp            *inputWarp // nil unless input warping is enabled

	chol  mat.Cholesky
	alpha *mat.VecDense
}

// inputWarp is a per-feature Kumaraswamy-CDF warp applied to inputs
// normalized to the unit interval by the observed feature ranges. Its two
// log-shape parameters per feature are fitted together with the kernel
// hyperparameters.
type inputWarp struct {
	logA []float64
	logB []float64

	lo  []float64 // observed per-feature minima
	span []float64
}

func (w *inputWarp) apply(row []float64) []float64 {
	out := make([]float64, len(row))

	for j, v := range row {
		u := 0.5
		if w.span[j] > 0 {
			u = clamp((v-w.lo[j])/w.span[j], 1e-9, 1-1e-9)
		}

		a := math.Exp(w.logA[j])
		b := math.Exp(w.logB[j])

		out[j] = 1 - math.Pow(1-math.Pow(u, a), b)
	}

	return out
}

//////
// Methods.
//////

// NumOutputs returns 1; a gpRegression models a single outcome.
func (gp *gpRegression) NumOutputs() int { return 1 }

// NumFeatures returns the input feature dimensionality.
func (gp *gpRegression) NumFeatures() int {
	_, d := gp.x.Dims()

	return d
}

// warped returns the (possibly warped) representation of a raw input row.
func (gp *gpRegression) warped(row []float64) []float64 {
	if gp.warp == nil {
		return row
	}

	return gp.warp.apply(row)
}

// kernel evaluates the ARD RBF covariance between two raw input rows.
func (gp *gpRegression) kernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("surrogate: kernel inputs must have the same length")
	}

	w1 := gp.warped(x1)
	w2 := gp.warped(x2)

	var sum float64

	for j := range w1 {
		diff := (w1[j] - w2[j]) / math.Exp(gp.logLengthscales[j])

		sum += diff * diff
	}

	return math.Exp(2*gp.logSignal) * math.Exp(-0.5*sum)
}

// trainKernel builds the training covariance matrix including observation
// noise on the diagonal.
func (gp *gpRegression) trainKernel() *mat.SymDense {
	n, _ := gp.x.Dims()

	k := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := gp.kernel(gp.x.RawRowView(i), gp.x.RawRowView(j))

			if i == j {
				v += gp.yvar[i] + math.Exp(gp.logNoise) + jitter
			}

			k.SetSym(i, j, v)
		}
	}

	return k
}

// refresh factorizes the training kernel and recomputes alpha. Returns an
// error if the kernel is not positive definite.
func (gp *gpRegression) refresh() error {
	k := gp.trainKernel()

	if ok := gp.chol.Factorize(k); !ok {
		return fmt.Errorf("surrogate: training kernel is not positive definite for metric %q", gp.metric)
	}

	n := len(gp.y)

	gp.alpha = mat.NewVecDense(n, nil)

	return gp.chol.SolveVecTo(gp.alpha, mat.NewVecDense(n, gp.y))
}

// Posterior computes the joint posterior at query points X (q × d): mean of
// shape (q × 1) and covariance of shape (1 × q × q).
func (gp *gpRegression) Posterior(X *Tensor) (*Tensor, *Tensor, error) {
	if X.Dim() != 2 {
		return nil, nil, fmt.Errorf("surrogate: Posterior requires a 2-D query tensor, got %d dims", X.Dim())
	}

	n, _ := gp.x.Dims()
	q := X.Size(0)

	// Cross-covariance between training and query points.
	kStar := mat.NewDense(n, q, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < q; j++ {
			kStar.Set(i, j, gp.kernel(gp.x.RawRowView(i), X.Row(j)))
		}
	}

	mean := Zeros(q, 1).To(gp.dtype, gp.device)

	for j := 0; j < q; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += kStar.At(i, j) * gp.alpha.AtVec(i)
		}

		mean.Set(sum, j, 0)
	}

	// cov = K** - K*ᵀ K⁻¹ K*.
	v := mat.NewDense(n, q, nil)
	if err := gp.chol.SolveTo(v, kStar); err != nil {
		return nil, nil, err
	}

	cov := Zeros(1, q, q).To(gp.dtype, gp.device)

	for a := 0; a < q; a++ {
		for b := a; b < q; b++ {
			val := gp.kernel(X.Row(a), X.Row(b))

			for i := 0; i < n; i++ {
				val -= kStar.At(i, a) * v.At(i, b)
			}

			if a == b && val < 0 {
				val = 0
			}

			cov.Set(val, 0, a, b)
			cov.Set(val, 0, b, a)
		}
	}

	return mean, cov, nil
}

// StateDict exports the fitted hyperparameters in natural scale.
func (gp *gpRegression) StateDict() map[string]*Tensor {
	d := gp.NumFeatures()

	ls := Zeros(1, d).To(gp.dtype, gp.device)
	for j, v := range gp.logLengthscales {
		ls.Set(math.Exp(v), 0, j)
	}

	out := map[string]*Tensor{
		"lengthscale":     ls,
		"signal_variance": NewTensor([]float64{math.Exp(2 * gp.logSignal)}, 1).To(gp.dtype, gp.device),
		"noise":           NewTensor([]float64{math.Exp(gp.logNoise)}, 1).To(gp.dtype, gp.device),
	}

	if gp.warp != nil {
		wa := Zeros(1, d).To(gp.dtype, gp.device)
		wb := Zeros(1, d).To(gp.dtype, gp.device)

		for j := range gp.warp.logA {
			wa.Set(math.Exp(gp.warp.logA[j]), 0, j)
			wb.Set(math.Exp(gp.warp.logB[j]), 0, j)
		}

		out["warp_a"] = wa
		out["warp_b"] = wb
	}

	return out
}

// Lengthscale exposes the kernel's per-feature lengthscales as a (1 × d)
// tensor.
func (gp *gpRegression) Lengthscale() (*Tensor, error) {
	d := gp.NumFeatures()

	ls := Zeros(1, d).To(gp.dtype, gp.device)
	for j, v := range gp.logLengthscales {
		ls.Set(math.Exp(v), 0, j)
	}

	return ls, nil
}

//////
// Hyperparameter fitting.
//////

// pack serializes the free hyperparameters into the optimization vector.
func (gp *gpRegression) pack() []float64 {
	theta := append([]float64(nil), gp.logLengthscales...)
	theta = append(theta, gp.logSignal, gp.logNoise)

	if gp.warp != nil {
		theta = append(theta, gp.warp.logA...)
		theta = append(theta, gp.warp.logB...)
	}

	return theta
}

// unpack restores hyperparameters from an optimization vector.
func (gp *gpRegression) unpack(theta []float64) {
	d := gp.NumFeatures()

	copy(gp.logLengthscales, theta[:d])
	gp.logSignal = theta[d]
	gp.logNoise = theta[d+1]

	if gp.warp != nil {
		copy(gp.warp.logA, theta[d+2:2*d+2])
		copy(gp.warp.logB, theta[2*d+2:3*d+2])
	}
}

// negLogMarginalLikelihood is the default fitting objective:
// ½ yᵀK⁻¹y + ½ log|K| + n/2 log 2π.
func (gp *gpRegression) negLogMarginalLikelihood() float64 {
	if err := gp.refresh(); err != nil {
		return math.Inf(1)
	}

	n := len(gp.y)

	return 0.5*mat.Dot(mat.NewVecDense(n, gp.y), gp.alpha) +
		0.5*gp.chol.LogDet() +
		0.5*float64(n)*math.Log(2*math.Pi)
}

// negLOOPseudoLikelihood is the leave-one-out alternative objective, computed
// in closed form from the kernel inverse (Sundararajan & Keerthi).
func (gp *gpRegression) negLOOPseudoLikelihood() float64 {
	if err := gp.refresh(); err != nil {
		return math.Inf(1)
	}

	n := len(gp.y)

	var kinv mat.SymDense
	if err := gp.chol.InverseTo(&kinv); err != nil {
		return math.Inf(1)
	}

	var ll float64

	for i := 0; i < n; i++ {
		kii := kinv.At(i, i)
		if kii <= 0 {
			return math.Inf(1)
		}

		s2 := 1 / kii
		mu := gp.y[i] - gp.alpha.AtVec(i)*s2
		resid := gp.y[i] - mu

		ll += -0.5*math.Log(2*math.Pi*s2) - resid*resid/(2*s2)
	}

	return -ll
}

// lengthscalePrior returns the negative log density of the lengthscale prior,
// or 0 when no prior is configured. The prior spec follows the constructor's
// free-form map: {"lengthscale_prior": {"mu": float, "sigma": float}} places
// a log-normal prior on every lengthscale.
func (gp *gpRegression) lengthscalePrior(prior map[string]any) float64 {
	spec := subOptions(prior, "lengthscale_prior")
	if spec == nil {
		return 0
	}

	dist := distuv.LogNormal{
		Mu:    floatOption(spec, "mu", 0),
		Sigma: floatOption(spec, "sigma", 1),
	}

	var penalty float64

	for _, v := range gp.logLengthscales {
		penalty -= dist.LogProb(math.Exp(v))
	}

	return penalty
}

// fitHyperparameters optimizes the log hyperparameters with Nelder-Mead. When
// the optimizer fails to improve on the starting point, the starting point is
// kept.
func (gp *gpRegression) fitHyperparameters(useLOO bool, prior map[string]any) error {
	objective := func(theta []float64) float64 {
		gp.unpack(theta)

		var nll float64
		if useLOO {
			nll = gp.negLOOPseudoLikelihood()
		} else {
			nll = gp.negLogMarginalLikelihood()
		}

		return nll + gp.lengthscalePrior(prior)
	}

	theta0 := gp.pack()
	f0 := objective(theta0)

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{MajorIterations: 200, FuncEvaluations: 2000}

	result, err := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if err == nil && result != nil && !math.IsInf(result.F, 0) && !math.IsNaN(result.F) && result.F < f0 {
		gp.unpack(result.X)
	} else {
		gp.unpack(theta0)
	}

	return gp.refresh()
}

// loadStateDict initializes hyperparameters from an exported state dict.
// Missing keys keep their current values.
func (gp *gpRegression) loadStateDict(state map[string]*Tensor) {
	d := gp.NumFeatures()

	if ls, ok := state["lengthscale"]; ok && ls.Numel() == d {
		for j, v := range ls.Data() {
			gp.logLengthscales[j] = math.Log(math.Max(v, 1e-12))
		}
	}

	if sv, ok := state["signal_variance"]; ok && sv.Numel() == 1 {
		gp.logSignal = 0.5 * math.Log(math.Max(sv.Data()[0], 1e-12))
	}

	if nv, ok := state["noise"]; ok && nv.Numel() == 1 {
		gp.logNoise = math.Log(math.Max(nv.Data()[0], 1e-12))
	}

	if gp.warp != nil {
		if wa, ok := state["warp_a"]; ok && wa.Numel() == d {
			for j, v := range wa.Data() {
				gp.warp.logA[j] = math.Log(math.Max(v, 1e-12))
			}
		}

		if wb, ok := state["warp_b"]; ok && wb.Numel() == d {
			for j, v := range wb.Data() {
				gp.warp.logB[j] = math.Log(math.Max(v, 1e-12))
			}
		}
	}
}

//////
// Factory.
//////

// newGPRegression assembles an unfitted regressor for one outcome.
func newGPRegression(x, y, yvar *Tensor, metric string, useWarping bool) *gpRegression {
	n := x.Size(0)
	d := x.Size(1)

	xm := mat.NewDense(n, d, append([]float64(nil), x.Data()...))

	gp := &gpRegression{
		x:               xm,
		y:               append([]float64(nil), y.Data()...),
		yvar:            append([]float64(nil), yvar.Data()...),
		metric:          metric,
		dtype:           x.Dtype(),
		device:          x.Device(),
		logLengthscales: make([]float64, d),
		logSignal:       math.Log(math.Max(stdev(y.Data()), 1e-3)),
		logNoise:        math.Log(1e-4),
	}

	if useWarping {
		w := &inputWarp{
			logA: make([]float64, d),
			logB: make([]float64, d),
			lo:   make([]float64, d),
			span: make([]float64, d),
		}

		for j := 0; j < d; j++ {
			lo, hi := math.Inf(1), math.Inf(-1)

			for i := 0; i < n; i++ {
				v := xm.At(i, j)
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}

			w.lo[j] = lo
			w.span[j] = hi - lo
		}

		gp.warp = w
	}

	return gp
}

// stdev returns the sample standard deviation, or 0 for fewer than two
// values.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	return math.Sqrt(stat.Variance(xs, nil))
}

//////
// Fully-Bayesian ensemble.
//////

// gpEnsemble approximates a fully-Bayesian single-outcome surrogate as an
// ensemble of hyperparameter samples around the maximum-a-posteriori fit.
// Posterior moments are mixture moments across the ensemble; the lengthscale
// carries a leading sample dimension.
type gpEnsemble struct {
	samples []*gpRegression
}

// IsFullyBayesian marks the ensemble for median-lengthscale handling in
// feature importances.
func (e *gpEnsemble) IsFullyBayesian() bool { return true }

func (e *gpEnsemble) NumOutputs() int { return 1 }

func (e *gpEnsemble) NumFeatures() int { return e.samples[0].NumFeatures() }

// StateDict exports the MAP sample's parameters.
func (e *gpEnsemble) StateDict() map[string]*Tensor { return e.samples[0].StateDict() }

// Posterior mixes the per-sample posteriors: the mean is the average of
// sample means and the covariance is the average sample covariance plus the
// spread of sample means.
func (e *gpEnsemble) Posterior(X *Tensor) (*Tensor, *Tensor, error) {
	q := X.Size(0)
	s := float64(len(e.samples))

	mean := Zeros(q, 1).To(X.Dtype(), X.Device())
	cov := Zeros(1, q, q).To(X.Dtype(), X.Device())

	sampleMeans := make([]*Tensor, len(e.samples))

	for si, gp := range e.samples {
		m, c, err := gp.Posterior(X)
		if err != nil {
			return nil, nil, err
		}

		sampleMeans[si] = m

		for a := 0; a < q; a++ {
			mean.Set(mean.At(a, 0)+m.At(a, 0)/s, a, 0)

			for b := 0; b < q; b++ {
				cov.Set(cov.At(0, a, b)+c.At(0, a, b)/s, 0, a, b)
			}
		}
	}

	for _, m := range sampleMeans {
		for a := 0; a < q; a++ {
			for b := 0; b < q; b++ {
				da := m.At(a, 0) - mean.At(a, 0)
				db := m.At(b, 0) - mean.At(b, 0)

				cov.Set(cov.At(0, a, b)+da*db/s, 0, a, b)
			}
		}
	}

	return mean, cov, nil
}

// Lengthscale stacks the per-sample lengthscales into an (s × 1 × d) tensor.
func (e *gpEnsemble) Lengthscale() (*Tensor, error) {
	d := e.NumFeatures()
	s := len(e.samples)

	out := Zeros(s, 1, d).To(e.samples[0].dtype, e.samples[0].device)

	for si, gp := range e.samples {
		ls, err := gp.Lengthscale()
		if err != nil {
			return nil, err
		}

		for j := 0; j < d; j++ {
			out.Set(ls.At(0, j), si, 0, j)
		}
	}

	return out, nil
}

// newGPEnsemble perturbs the fitted base regressor into numSamples
// deterministic hyperparameter samples.
func newGPEnsemble(base *gpRegression, numSamples int, seed uint64) (*gpEnsemble, error) {
	rng := exprand.New(exprand.NewSource(seed))
	norm := distuv.Normal{Mu: 0, Sigma: 0.1, Src: rng}

	samples := make([]*gpRegression, numSamples)
	samples[0] = base

	for si := 1; si < numSamples; si++ {
		clone := newGPRegression(
			FromDense(base.x).To(base.dtype, base.device),
			NewTensor(append([]float64(nil), base.y...), len(base.y), 1).To(base.dtype, base.device),
			NewTensor(append([]float64(nil), base.yvar...), len(base.yvar), 1).To(base.dtype, base.device),
			base.metric,
			base.warp != nil,
		)

		clone.logSignal = base.logSignal + norm.Rand()
		clone.logNoise = base.logNoise + norm.Rand()

		for j := range clone.logLengthscales {
			clone.logLengthscales[j] = base.logLengthscales[j] + norm.Rand()
		}

		if clone.warp != nil && base.warp != nil {
			copy(clone.warp.logA, base.warp.logA)
			copy(clone.warp.logB, base.warp.logB)
		}

		if err := clone.refresh(); err != nil {
			return nil, err
		}

		samples[si] = clone
	}

	return &gpEnsemble{samples: samples}, nil
}
