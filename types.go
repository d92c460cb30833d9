package surrogate

//////
// Data model.
//////

// Dataset holds the observations for a single outcome: inputs X (n × d),
// observed values Y (n × 1) and observation noise variances Yvar (n × 1).
// All three tensors of a dataset, and all datasets passed to a single Fit
// call, must share dtype and device.
type Dataset struct {
	X    *Tensor
	Y    *Tensor
	Yvar *Tensor
}

// SearchSpaceDigest is an immutable description of the feasible region.
//
// Fields:
//   - Bounds: per-dimension [lower, upper] box bounds, one entry per feature.
//   - TaskFeatures: column indices of X to model as task identifiers.
//   - FidelityFeatures: column indices of X that are fidelity parameters.
//   - TargetValues: target value per fixed dimension, keyed by column index.
//
// Column indices may be negative (counting from the trailing dimension); Fit
// normalizes them against the observed feature dimensionality once.
type SearchSpaceDigest struct {
	Bounds           [][2]float64
	TaskFeatures     []int
	FidelityFeatures []int
	TargetValues     map[int]float64
}

// OutcomeConstraints encodes linear inequality constraints over outcomes,
// A · f(x) <= B, with A of shape (k × m) and B of shape (k).
type OutcomeConstraints struct {
	A *Tensor
	B *Tensor
}

// LinearConstraints encodes linear inequality constraints over input
// features, A · x <= B, with A of shape (k × d) and B of shape (k).
type LinearConstraints struct {
	A *Tensor
	B *Tensor
}

// InequalityConstraint is the sparse per-row form consumed by acquisition
// optimizers: sum over i of Coefficients[i] * x[Indices[i]] >= Bound.
type InequalityConstraint struct {
	Indices      []int
	Coefficients []float64
	Bound        float64
}

// RoundingFunc rounds a single candidate vector (a 1-D tensor of length d)
// to the feasible grid. Generation wraps it with Tensor.MapRows so it applies
// row-wise to arbitrarily-batched candidate tensors.
type RoundingFunc func(x *Tensor) *Tensor

// Option-bag keys recognized in OptConfig.Options.
const (
	// KeyAcqfKwargs selects the nested bag of acquisition-specific options
	// passed through to the AcquisitionConstructor.
	KeyAcqfKwargs = "acquisition_function_kwargs"

	// KeyOptimizerKwargs selects the nested bag of optimizer-specific options
	// passed through to the AcquisitionOptimizer.
	KeyOptimizerKwargs = "optimizer_kwargs"

	// KeySubsetModel toggles restricting the fitted model to the outcomes the
	// current objective and constraints need. Defaults to true.
	KeySubsetModel = "subset_model"

	// KeyQMC toggles quasi-Monte-Carlo base sampling inside the default
	// acquisition. Generation forces it to false when retrying after a
	// sampler dimensionality failure.
	KeyQMC = "qmc"

	// KeyMCSamples sets the Monte-Carlo sample count of the default
	// acquisition.
	KeyMCSamples = "mc_samples"

	// KeySeed seeds the samplers of the default acquisition and optimizer.
	KeySeed = "seed"

	// KeyNumRestarts sets the restart count of the default acquisition
	// optimizer.
	KeyNumRestarts = "num_restarts"

	// KeyRawSamples sets the random candidate count used to seed restarts in
	// the default acquisition optimizer.
	KeyRawSamples = "raw_samples"

	// KeyNumSamples requests a fully-Bayesian ensemble of the given size from
	// the default model constructor.
	KeyNumSamples = "num_samples"
)

// OptConfig is a per-generation request.
//
// Fields:
//   - ObjectiveWeights: signed weight per outcome; the sign encodes the
//     optimization direction, zero excludes the outcome from the objective.
//   - OutcomeConstraints: linear inequalities over outcomes, or nil.
//   - LinearConstraints: linear inequalities over input features, or nil.
//   - FixedFeatures: values to pin per column index during generation.
//   - PendingObservations: per-outcome tensors of already-proposed but
//     unevaluated points, or nil.
//   - Options: free-form generation options, see the Key* constants.
//   - RoundingFunc: optional candidate-rounding callback, or nil.
//   - IsMOO: multi-objective mode flag. BestPoint rejects MOO requests.
type OptConfig struct {
	ObjectiveWeights    *Tensor
	OutcomeConstraints  *OutcomeConstraints
	LinearConstraints   *LinearConstraints
	FixedFeatures       map[int]float64
	PendingObservations []*Tensor
	Options             map[string]any
	RoundingFunc        RoundingFunc
	IsMOO               bool
}

// GenResult is the outcome of one generation round.
//
// Fields:
//   - Points: candidate points (n × d), detached and on host memory.
//   - Weights: per-candidate weights, all ones.
//   - Metadata: generation metadata. Contains the key
//     "expected_acquisition_value" iff the optimizer reported a non-empty
//     acquisition value.
type GenResult struct {
	Points   *Tensor
	Weights  *Tensor
	Metadata map[string]any
}

//////
// Pluggable strategies.
//////

// ModelFitRequest bundles the inputs of a ModelConstructor call.
//
// Xs, Ys and Yvars are parallel per-outcome lists. TaskFeatures and
// FidelityFeatures are normalized column indices. StateDict optionally
// warm-starts fitting from a previous model's parameters; RefitModel controls
// whether hyperparameters are re-optimized or taken from StateDict as-is.
// Prior carries a free-form prior specification and Options the extra
// constructor configuration supplied at orchestrator construction.
type ModelFitRequest struct {
	Xs    []*Tensor
	Ys    []*Tensor
	Yvars []*Tensor

	TaskFeatures     []int
	FidelityFeatures []int
	MetricNames      []string

	StateDict  map[string]*Tensor
	RefitModel bool

	UseInputWarping          bool
	UseLOOCVPseudoLikelihood bool

	Prior   map[string]any
	Options map[string]any
}

// ModelConstructor fits a surrogate from per-outcome data. It must return a
// model on the same dtype/device as the input tensors.
type ModelConstructor func(req ModelFitRequest) (Model, error)

// ModelPredictor computes the posterior mean (n × m) and covariance
// (m × n × n) of a fitted surrogate at query points X (n × d).
type ModelPredictor func(model Model, X *Tensor) (mean, cov *Tensor, err error)

// AcquisitionFunction scores a candidate batch X (q × d) by expected value of
// information. Higher is better.
type AcquisitionFunction interface {
	Evaluate(X *Tensor) (float64, error)
}

// AcquisitionConstructor builds a scoring function from a fitted model plus
// problem context. XObserved and XPending may be nil. The options bag carries
// acquisition-specific configuration (see Key* constants).
type AcquisitionConstructor func(
	model Model,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
	xObserved *Tensor,
	xPending *Tensor,
	options map[string]any,
) (AcquisitionFunction, error)

// AcquisitionOptimizer finds n points maximizing acqf over the bounds box
// (a 2 × d tensor of lower and upper rows), subject to inequality constraints
// and fixed features, rounding candidates through roundingFunc when non-nil.
// Returns the candidates (n × d) and the attained acquisition value (empty
// when the optimizer does not report one).
type AcquisitionOptimizer func(
	acqf AcquisitionFunction,
	bounds *Tensor,
	n int,
	inequalityConstraints []InequalityConstraint,
	fixedFeatures map[int]float64,
	roundingFunc RoundingFunc,
	options map[string]any,
) (candidates, acqValue *Tensor, err error)

// ModelLike is the view of an orchestrator a BestPointRecommender reads from:
// posterior prediction plus the training inputs the session was fitted on.
type ModelLike interface {
	Predict(X *Tensor) (mean, cov *Tensor, err error)
	TrainingInputs() []*Tensor
}

// BestPointRecommender proposes the best point under current beliefs, or nil
// when no point qualifies. Bounds are the raw digest bounds; targetFidelities
// maps fidelity columns to their target values.
type BestPointRecommender func(
	model ModelLike,
	bounds [][2]float64,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
	linearConstraints *LinearConstraints,
	fixedFeatures map[int]float64,
	options map[string]any,
	targetFidelities map[int]float64,
) (*Tensor, error)
