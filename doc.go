// Package surrogate orchestrates single rounds of Bayesian-optimization
// acquisition. Given observed input/output data it fits a probabilistic
// surrogate model, builds an acquisition function that scores candidate
// points by expected value of information, optimizes that function over the
// feasible region, and returns new points to evaluate.
//
// # Features
//
// The package includes the following key features:
//
//   - Pluggable Numerical Subsystems: model construction, posterior
//     prediction, acquisition construction, acquisition optimization and
//     best-point recommendation are strategy functions supplied through
//     Config, each with a sensible default
//   - Gaussian-Process Defaults: one ARD-RBF Gaussian-process regressor per
//     outcome, fitted by marginal likelihood or leave-one-out
//     pseudo-likelihood, with optional input warping and approximate
//     fully-Bayesian ensembles
//   - Constrained Generation: outcome constraints, linear input constraints,
//     fixed features, pending observations and candidate rounding
//   - Outcome Subsetting: generation restricts the fitted model to the
//     outcomes the current objective and constraints reference
//   - Quasi-Monte-Carlo Sampling with Fallback: low-discrepancy base samples
//     by default, with a one-shot automatic retry on independent sampling
//     when the sampler's dimensionality ceiling is exceeded
//   - Cross-Validation: scratch refits per fold, warm-started from the
//     fitted model's parameters
//   - Feature Importances: per-outcome importances derived from kernel
//     lengthscales
//
// # Usage
//
// A session is one Fit followed by any number of reads:
//
//	optimizer := surrogate.New(surrogate.DefaultConfig())
//
//	err := optimizer.Fit(datasets, metricNames, digest)
//	if err != nil {
//	    return err
//	}
//
//	result, err := optimizer.Gen(2, digest, surrogate.OptConfig{
//	    ObjectiveWeights: surrogate.NewTensor([]float64{-1}, 1),
//	})
//	if err != nil {
//	    return err
//	}
//
//	// result.Points holds 2 new candidate points to evaluate.
//
// Predict, CrossValidate, BestPoint and FeatureImportances are independent
// read paths over the fitted state and fail with ErrNotFitted before Fit.
//
// # Concurrency
//
// Every operation is synchronous and runs to completion on the caller's
// goroutine; there is no internal scheduling, cancellation or timeout
// support. An optimizer instance is single-owner: Fit, Update and SetModel
// mutate state read by the other operations, so concurrent use of one
// instance requires external serialization. CrossValidate is safe alongside
// reads, as it only builds a scratch model local to the call.
package surrogate
