package surrogate

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

//////
// Exported functionalities.
//////

// Config controls a SurrogateOptimizer. Zero-valued strategy fields fall back
// to the package defaults, so Config{} and DefaultConfig() construct the same
// optimizer except for the flags that default to true.
type Config struct {
	// ModelConstructor fits a surrogate from per-outcome data.
	// Defaults to FitGPModel.
	ModelConstructor ModelConstructor

	// ModelPredictor computes posterior mean and covariance at query points.
	// Defaults to PredictFromModel.
	ModelPredictor ModelPredictor

	// AcquisitionConstructor builds the scoring function for generation.
	// Defaults to NewLogNoisyEI.
	AcquisitionConstructor AcquisitionConstructor

	// AcquisitionOptimizer maximizes the scoring function over the feasible
	// region. Defaults to OptimizeAcqf.
	AcquisitionOptimizer AcquisitionOptimizer

	// BestPointRecommender proposes the best point under current beliefs.
	// Defaults to RecommendBestObservedPoint.
	BestPointRecommender BestPointRecommender

	// RefitOnCV refits the surrogate for each cross-validation fold instead
	// of warm-starting from the fitted model's parameters.
	RefitOnCV bool

	// RefitOnUpdate refits the surrogate when training data is replaced via
	// Update.
	RefitOnUpdate bool

	// WarmStartRefitting seeds refits with the previous model's parameters to
	// speed up fitting.
	WarmStartRefitting bool

	// UseInputWarping enables learned input warping in the default surrogate.
	UseInputWarping bool

	// UseLOOCVPseudoLikelihood fits the default surrogate against the
	// leave-one-out pseudo-likelihood instead of the marginal likelihood.
	UseLOOCVPseudoLikelihood bool

	// Prior optionally specifies the surrogate's hyperparameter priors, e.g.
	// {"lengthscale_prior": {"mu": 0.0, "sigma": 1.0}}.
	Prior map[string]any

	// Options carries extra free-form configuration passed through to every
	// ModelConstructor call.
	Options map[string]any

	// Logger receives structured events (construction notice, fits, fallback
	// retries). Defaults to logr.Discard(); errors are never logged and
	// swallowed, they always propagate to the caller.
	Logger logr.Logger
}

// DefaultConfig returns a default configuration: Gaussian-process surrogates
// per outcome, log noisy expected improvement, multi-restart acquisition
// optimization and best-observed-point recommendation.
func DefaultConfig() Config {
	return Config{
		ModelConstructor:       FitGPModel,
		ModelPredictor:         PredictFromModel,
		AcquisitionConstructor: NewLogNoisyEI,
		AcquisitionOptimizer:   OptimizeAcqf,
		BestPointRecommender:   RecommendBestObservedPoint,
		RefitOnUpdate:          true,
		WarmStartRefitting:     true,
		Logger:                 logr.Discard(),
	}
}

// SurrogateOptimizer orchestrates one round of Bayesian-optimization
// acquisition: it fits a probabilistic surrogate on observed data, builds an
// acquisition function scoring candidate points by expected value of
// information, optimizes it over the feasible region and returns new points
// to evaluate. Cross-validation and best-point recommendation are independent
// read paths over the fitted state.
//
// The five numerical subsystems (model construction, prediction, acquisition
// construction, acquisition optimization, best-point recommendation) are
// pluggable strategies supplied through Config with sensible defaults.
//
// Thread safety:
//   - An instance is single-owner. Fit, Update and SetModel mutate state read
//     by Gen, Predict and BestPoint, so concurrent use of one instance
//     requires external serialization. CrossValidate operates on a scratch
//     model and does not mutate the primary fitted state.
type SurrogateOptimizer struct {
	config Config
	logger logr.Logger

	xs     []*Tensor
	ys     []*Tensor
	yvars  []*Tensor
	dtype  Dtype
	device Device

	metricNames      []string
	taskFeatures     []int
	fidelityFeatures []int

	model             Model
	searchSpaceDigest *SearchSpaceDigest
}

//////
// Factory.
//////

// New creates a SurrogateOptimizer from config, substituting package defaults
// for unset strategies. It emits a one-time structured construction notice on
// the configured logger, replacing the deprecation warning older releases
// raised through the language runtime.
func New(config Config) *SurrogateOptimizer {
	defaults := DefaultConfig()

	if config.ModelConstructor == nil {
		config.ModelConstructor = defaults.ModelConstructor
	}

	if config.ModelPredictor == nil {
		config.ModelPredictor = defaults.ModelPredictor
	}

	if config.AcquisitionConstructor == nil {
		config.AcquisitionConstructor = defaults.AcquisitionConstructor
	}

	if config.AcquisitionOptimizer == nil {
		config.AcquisitionOptimizer = defaults.AcquisitionOptimizer
	}

	if config.BestPointRecommender == nil {
		config.BestPointRecommender = defaults.BestPointRecommender
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	logger.V(1).Info("legacy surrogate optimizer constructed",
		"refitOnCV", config.RefitOnCV,
		"warmStartRefitting", config.WarmStartRefitting,
	)

	return &SurrogateOptimizer{
		config: config,
		logger: logger,
	}
}

//////
// Fitting and prediction.
//////

// Fit fits the surrogate on per-outcome datasets, capturing the session's
// dtype and device from the first outcome's X tensor and normalizing the
// digest's task and fidelity column indices against the observed feature
// dimensionality. A previously fitted model is replaced wholesale.
//
// Fails with ErrDataRequired when datasets is empty.
func (s *SurrogateOptimizer) Fit(
	datasets []Dataset,
	metricNames []string,
	searchSpaceDigest SearchSpaceDigest,
) error {
	if len(datasets) == 0 {
		return fmt.Errorf("SurrogateOptimizer.Fit requires non-empty data sets: %w", ErrDataRequired)
	}

	xs, ys, yvars := flattenDatasets(datasets)

	d := xs[0].Size(-1)

	taskFeatures, err := normalizeIndices(searchSpaceDigest.TaskFeatures, d)
	if err != nil {
		return err
	}

	fidelityFeatures, err := normalizeIndices(searchSpaceDigest.FidelityFeatures, d)
	if err != nil {
		return err
	}

	s.xs, s.ys, s.yvars = xs, ys, yvars
	s.metricNames = append([]string(nil), metricNames...)
	s.dtype = xs[0].Dtype()
	s.device = xs[0].Device()
	s.taskFeatures = taskFeatures
	s.fidelityFeatures = fidelityFeatures

	// The digest is stored for later use (e.g. during generation) and is
	// immutable from here on.
	digest := searchSpaceDigest
	s.searchSpaceDigest = &digest

	model, err := s.config.ModelConstructor(ModelFitRequest{
		Xs:                       s.xs,
		Ys:                       s.ys,
		Yvars:                    s.yvars,
		TaskFeatures:             s.taskFeatures,
		FidelityFeatures:         s.fidelityFeatures,
		MetricNames:              s.metricNames,
		RefitModel:               true,
		UseInputWarping:          s.config.UseInputWarping,
		UseLOOCVPseudoLikelihood: s.config.UseLOOCVPseudoLikelihood,
		Prior:                    s.config.Prior,
		Options:                  s.config.Options,
	})
	if err != nil {
		return err
	}

	s.model = model

	s.logger.V(1).Info("fitted surrogate", "outcomes", len(s.xs), "features", d)

	return nil
}

// Predict computes the posterior mean and covariance at query points X
// through the configured predictor. Fails with ErrNotFitted before Fit.
func (s *SurrogateOptimizer) Predict(X *Tensor) (*Tensor, *Tensor, error) {
	model, err := s.Model()
	if err != nil {
		return nil, nil, err
	}

	return s.config.ModelPredictor(model, X)
}

// TrainingInputs returns the per-outcome training inputs of the current
// session. Together with Predict it lets best-point recommenders treat the
// orchestrator itself as a model-like object.
func (s *SurrogateOptimizer) TrainingInputs() []*Tensor { return s.xs }

//////
// Accessors.
//////

// Model returns the fitted surrogate. Fails with ErrNotFitted before Fit.
func (s *SurrogateOptimizer) Model() (Model, error) {
	if s.model == nil {
		return nil, &NotFittedError{What: "model"}
	}

	return s.model, nil
}

// SetModel replaces the fitted surrogate directly. A few collaborators, such
// as best-point recommenders operating on cloned optimizers, set the model
// without refitting.
func (s *SurrogateOptimizer) SetModel(model Model) { s.model = model }

// SearchSpaceDigest returns the digest captured by the last Fit. Fails with
// ErrNotFitted before Fit.
func (s *SurrogateOptimizer) SearchSpaceDigest() (*SearchSpaceDigest, error) {
	if s.searchSpaceDigest == nil {
		return nil, &NotFittedError{What: "search_space_digest"}
	}

	return s.searchSpaceDigest, nil
}

// SetSearchSpaceDigest always fails: the digest is immutable post-fit and may
// only be set as a side effect of Fit.
func (s *SurrogateOptimizer) SetSearchSpaceDigest(*SearchSpaceDigest) error {
	return fmt.Errorf("setting search_space_digest manually is disallowed: %w", ErrUnsupported)
}

//////
// Generation.
//////

// Gen runs one acquisition round and returns n new candidate points.
//
// The round computes the pending and observed point sets from the stored
// training data and the request, optionally restricts the model to the
// outcomes the objective and constraints need (on by default, toggled by the
// "subset_model" option), builds the acquisition function and maximizes it
// over the digest's bounds under the request's constraints, fixed features
// and rounding callback.
//
// When the acquisition subsystem reports that the quasi-Monte-Carlo sampler's
// dimensionality ceiling was exceeded, the round is retried exactly once with
// independent sampling; any other failure, or a second failure, propagates.
//
// Fails with ErrNotImplemented when the digest declares fidelity features:
// this orchestrator variant does not support multi-fidelity generation.
func (s *SurrogateOptimizer) Gen(
	n int,
	searchSpaceDigest SearchSpaceDigest,
	optConfig OptConfig,
) (*GenResult, error) {
	if len(searchSpaceDigest.FidelityFeatures) > 0 {
		return nil, fmt.Errorf("SurrogateOptimizer does not support fidelity features: %w", ErrNotImplemented)
	}

	model, err := s.Model()
	if err != nil {
		return nil, err
	}

	options := optConfig.Options
	acfOptions := subOptions(options, KeyAcqfKwargs)
	optimizerOptions := subOptions(options, KeyOptimizerKwargs)

	xPending, xObserved := getXPendingAndObserved(
		s.xs,
		optConfig.ObjectiveWeights,
		optConfig.OutcomeConstraints,
		searchSpaceDigest.Bounds,
		optConfig.PendingObservations,
		optConfig.LinearConstraints,
		optConfig.FixedFeatures,
	)

	objectiveWeights := optConfig.ObjectiveWeights
	outcomeConstraints := optConfig.OutcomeConstraints

	// Subset the model to only the outcomes needed for this optimization.
	if boolOption(options, KeySubsetModel, true) {
		subset, err := subsetModel(model, objectiveWeights, outcomeConstraints)
		if err != nil {
			return nil, err
		}

		model = subset.Model
		objectiveWeights = subset.ObjectiveWeights
		outcomeConstraints = subset.OutcomeConstraints
	}

	bounds := boundsFromDigest(searchSpaceDigest.Bounds, s.dtype, s.device)

	roundingFunc := RoundingWrapper(optConfig.RoundingFunc)
	inequalityConstraints := toInequalityConstraints(optConfig.LinearConstraints)

	makeAndOptimize := func(overrideQMC bool) (*Tensor, *Tensor, error) {
		buildOptions := acfOptions

		if overrideQMC {
			buildOptions = make(map[string]any, len(acfOptions)+1)
			for k, v := range acfOptions {
				buildOptions[k] = v
			}

			buildOptions[KeyQMC] = false
		}

		acqf, err := s.config.AcquisitionConstructor(
			model,
			objectiveWeights,
			outcomeConstraints,
			xObserved,
			xPending,
			buildOptions,
		)
		if err != nil {
			return nil, nil, err
		}

		return s.config.AcquisitionOptimizer(
			acqf,
			bounds,
			n,
			inequalityConstraints,
			optConfig.FixedFeatures,
			roundingFunc,
			optimizerOptions,
		)
	}

	candidates, acqValue, err := makeAndOptimize(false)
	if err != nil {
		var limitErr *SamplerLimitError
		if !errors.As(err, &limitErr) {
			return nil, err
		}

		// Dimension too large for the QMC sampler; fall back to independent
		// sampling.
		s.logger.V(1).Info("qmc sampler dimensionality exceeded, retrying with iid sampling",
			"dim", limitErr.Dim, "max", limitErr.Max)

		candidates, acqValue, err = makeAndOptimize(true)
		if err != nil {
			return nil, err
		}
	}

	metadata := map[string]any{}
	if acqValue != nil && acqValue.Numel() > 0 {
		metadata["expected_acquisition_value"] = append([]float64(nil), acqValue.Data()...)
	}

	return &GenResult{
		Points:   candidates.Detach(),
		Weights:  Ones(n).To(s.dtype, CPU),
		Metadata: metadata,
	}, nil
}

//////
// Best point.
//////

// BestPoint proposes the best point under the current fitted beliefs, or nil
// when no point qualifies. Target fidelity values are restricted to columns
// the digest actually marks as fidelity features.
//
// Fails with ErrNotImplemented for multi-objective requests: a single best
// observed point is undefined there.
func (s *SurrogateOptimizer) BestPoint(
	searchSpaceDigest SearchSpaceDigest,
	optConfig OptConfig,
) (*Tensor, error) {
	if optConfig.IsMOO {
		return nil, fmt.Errorf("best observed point is incompatible with multi-objective problems: %w", ErrNotImplemented)
	}

	targetFidelities := make(map[int]float64)

	for column, value := range searchSpaceDigest.TargetValues {
		for _, fidelity := range searchSpaceDigest.FidelityFeatures {
			if column == fidelity {
				targetFidelities[column] = value

				break
			}
		}
	}

	return s.config.BestPointRecommender(
		s,
		searchSpaceDigest.Bounds,
		optConfig.ObjectiveWeights,
		optConfig.OutcomeConstraints,
		optConfig.LinearConstraints,
		optConfig.FixedFeatures,
		optConfig.Options,
		targetFidelities,
	)
}

//////
// Cross-validation.
//////

// CrossValidate fits a scratch model on the given fold's datasets and
// predicts at XTest, leaving the primary fitted model untouched. Unless
// RefitOnCV is set, the scratch fit is warm-started from a deep copy of the
// current model's parameter state and skips re-optimization.
//
// Fails with ErrNotFitted before Fit.
func (s *SurrogateOptimizer) CrossValidate(datasets []Dataset, xTest *Tensor) (*Tensor, *Tensor, error) {
	if s.model == nil {
		return nil, nil, fmt.Errorf("cannot cross-validate a model that has not been fitted: %w", ErrNotFitted)
	}

	var stateDict map[string]*Tensor
	if !s.config.RefitOnCV {
		stateDict = cloneStateDict(s.model.StateDict())
	}

	xs, ys, yvars := flattenDatasets(datasets)

	model, err := s.config.ModelConstructor(ModelFitRequest{
		Xs:                       xs,
		Ys:                       ys,
		Yvars:                    yvars,
		TaskFeatures:             s.taskFeatures,
		FidelityFeatures:         s.fidelityFeatures,
		MetricNames:              s.metricNames,
		StateDict:                stateDict,
		RefitModel:               s.config.RefitOnCV,
		UseInputWarping:          s.config.UseInputWarping,
		UseLOOCVPseudoLikelihood: s.config.UseLOOCVPseudoLikelihood,
		Prior:                    s.config.Prior,
		Options:                  s.config.Options,
	})
	if err != nil {
		return nil, nil, err
	}

	return s.config.ModelPredictor(model, xTest)
}

//////
// Updating.
//////

// Update replaces the training data and refits through the model
// constructor, warm-starting from the current model's parameters when
// WarmStartRefitting is set. RefitOnUpdate controls whether hyperparameters
// are re-optimized. The session's dtype, device and normalized feature
// indices are kept.
//
// Fails with ErrNotFitted before Fit and ErrDataRequired on empty datasets.
func (s *SurrogateOptimizer) Update(datasets []Dataset, metricNames []string) error {
	if s.model == nil {
		return fmt.Errorf("cannot update a model that has not been fitted: %w", ErrNotFitted)
	}

	if len(datasets) == 0 {
		return fmt.Errorf("SurrogateOptimizer.Update requires non-empty data sets: %w", ErrDataRequired)
	}

	var stateDict map[string]*Tensor
	if s.config.WarmStartRefitting {
		stateDict = cloneStateDict(s.model.StateDict())
	}

	xs, ys, yvars := flattenDatasets(datasets)

	model, err := s.config.ModelConstructor(ModelFitRequest{
		Xs:                       xs,
		Ys:                       ys,
		Yvars:                    yvars,
		TaskFeatures:             s.taskFeatures,
		FidelityFeatures:         s.fidelityFeatures,
		MetricNames:              metricNames,
		StateDict:                stateDict,
		RefitModel:               s.config.RefitOnUpdate,
		UseInputWarping:          s.config.UseInputWarping,
		UseLOOCVPseudoLikelihood: s.config.UseLOOCVPseudoLikelihood,
		Prior:                    s.config.Prior,
		Options:                  s.config.Options,
	})
	if err != nil {
		return err
	}

	s.xs, s.ys, s.yvars = xs, ys, yvars
	s.metricNames = append([]string(nil), metricNames...)
	s.model = model

	return nil
}

//////
// Feature importances.
//////

// FeatureImportances derives per-feature importances from the fitted
// surrogate's kernel lengthscales. See FeatureImportancesFromModel.
//
// Fails with ErrNotFitted before Fit.
func (s *SurrogateOptimizer) FeatureImportances() (*Tensor, error) {
	if s.model == nil {
		return nil, fmt.Errorf("cannot calculate feature importances without a fitted model, call Fit first: %w", ErrNotFitted)
	}

	return FeatureImportancesFromModel(s.model)
}

//////
// Helper functions.
//////

// flattenDatasets splits per-outcome datasets into parallel X/Y/Yvar lists.
func flattenDatasets(datasets []Dataset) (xs, ys, yvars []*Tensor) {
	xs = make([]*Tensor, len(datasets))
	ys = make([]*Tensor, len(datasets))
	yvars = make([]*Tensor, len(datasets))

	for i, ds := range datasets {
		xs[i] = ds.X
		ys[i] = ds.Y
		yvars[i] = ds.Yvar
	}

	return xs, ys, yvars
}

// cloneStateDict deep-copies a state dict so scratch fits cannot alias the
// primary model's parameters.
func cloneStateDict(state map[string]*Tensor) map[string]*Tensor {
	if state == nil {
		return nil
	}

	out := make(map[string]*Tensor, len(state))

	for key, value := range state {
		out[key] = value.Clone()
	}

	return out
}
