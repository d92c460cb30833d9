package surrogate

//////
// Fitted-surrogate capability surface.
//////

// Model is an opaque fitted surrogate. The orchestrator owns a Model
// exclusively once stored and only ever replaces it wholesale.
//
// Posterior returns the joint posterior over query points X (n × d) for all
// m outputs: mean of shape (n × m) and covariance of shape (m × n × n), with
// one n × n joint block per output.
type Model interface {
	NumOutputs() int
	NumFeatures() int
	Posterior(X *Tensor) (mean, cov *Tensor, err error)
	StateDict() map[string]*Tensor
}

// ModelList is implemented by composite models made of one sub-model per
// outcome. Feature importances iterate sub-models through it.
type ModelList interface {
	Model
	Models() []Model
}

// SubsetModel is implemented by models that can restrict themselves to a
// subset of their outputs. Generation uses it to drop outcomes the current
// objective and constraints do not reference.
type SubsetModel interface {
	Model
	Subset(idcs []int) (Model, error)
}

// LengthscaleProvider is implemented by models whose covariance kernel
// exposes per-feature lengthscales. A plain model returns shape (1 × d); a
// fully-Bayesian ensemble returns (s × 1 × d) with a leading sample
// dimension.
type LengthscaleProvider interface {
	Lengthscale() (*Tensor, error)
}

// FullyBayesian marks models represented as an ensemble of hyperparameter
// samples rather than a single point estimate.
type FullyBayesian interface {
	IsFullyBayesian() bool
}

// isFullyBayesian reports whether m is a sample ensemble.
func isFullyBayesian(m Model) bool {
	fb, ok := m.(FullyBayesian)

	return ok && fb.IsFullyBayesian()
}
