package surrogate

import (
	"fmt"
)

//////
// Default strategies: model construction and prediction.
//////

// FitGPModel is the default ModelConstructor. It fits one ARD-RBF
// Gaussian-process regressor per outcome and composes them into a model list.
//
// Hyperparameters are optimized against the log marginal likelihood, or the
// leave-one-out pseudo-likelihood when the request sets the LOO flag. A
// warm-start state dict initializes the hyperparameters; when RefitModel is
// false and a state dict is present, the stored values are used without
// re-optimization. Task features are modeled as ordinary input dimensions.
//
// A "num_samples" entry (> 1) in the request options turns each outcome's
// surrogate into an approximate fully-Bayesian ensemble of that size.
func FitGPModel(req ModelFitRequest) (Model, error) {
	if len(req.Xs) == 0 {
		return nil, fmt.Errorf("FitGPModel requires non-empty data: %w", ErrDataRequired)
	}

	if len(req.Ys) != len(req.Xs) || len(req.Yvars) != len(req.Xs) {
		return nil, fmt.Errorf("surrogate: Xs, Ys and Yvars must be parallel lists (%d, %d, %d)",
			len(req.Xs), len(req.Ys), len(req.Yvars))
	}

	numSamples := intOption(req.Options, KeyNumSamples, 0)
	seed := uint64(intOption(req.Options, KeySeed, 0))

	models := make([]Model, len(req.Xs))

	for i := range req.Xs {
		metric := fmt.Sprintf("metric_%d", i)
		if i < len(req.MetricNames) {
			metric = req.MetricNames[i]
		}

		gp := newGPRegression(req.Xs[i], req.Ys[i], req.Yvars[i], metric, req.UseInputWarping)

		state := subStateDict(req.StateDict, i)
		if state != nil {
			gp.loadStateDict(state)
		}

		if req.RefitModel || state == nil {
			if err := gp.fitHyperparameters(req.UseLOOCVPseudoLikelihood, req.Prior); err != nil {
				return nil, err
			}
		} else if err := gp.refresh(); err != nil {
			return nil, err
		}

		if numSamples > 1 {
			ensemble, err := newGPEnsemble(gp, numSamples, seed+uint64(i)+1)
			if err != nil {
				return nil, err
			}

			models[i] = ensemble
		} else {
			models[i] = gp
		}
	}

	return &modelList{models: models}, nil
}

// PredictFromModel is the default ModelPredictor: it reads the model's joint
// posterior at the query points.
func PredictFromModel(model Model, X *Tensor) (*Tensor, *Tensor, error) {
	return model.Posterior(X)
}
