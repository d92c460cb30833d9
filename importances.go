package surrogate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

//////
// Kernel-lengthscale feature importances.
//////

// FeatureImportancesFromModel derives an (outcomes × features) importance
// matrix from a fitted model's kernel lengthscales: shorter lengthscales mean
// the kernel reacts faster along that feature, so importance is the
// element-wise inverse of the lengthscale, row-normalized so each outcome's
// importances sum to 1.
//
// A composite model is iterated sub-model by sub-model; a plain model is
// treated as a singleton. For a fully-Bayesian sample ensemble, the median
// lengthscale across the ensemble is used.
//
// Fails with ErrNotImplemented when a sub-model does not expose lengthscales
// or exposes them with a feature dimensionality that does not match its
// inputs.
func FeatureImportancesFromModel(model Model) (*Tensor, error) {
	var models []Model

	if list, ok := model.(ModelList); ok {
		models = list.Models()
	} else {
		models = []Model{model}
	}

	var rows []*Tensor

	for _, sub := range models {
		ls, err := extractLengthscale(sub)
		if err != nil {
			return nil, err
		}

		rows = append(rows, ls)
	}

	importances := CatRows(rows...)

	// Invert and row-normalize.
	m := importances.Size(0)
	d := importances.Size(1)

	for i := 0; i < m; i++ {
		row := importances.Row(i)

		var sum float64

		for j := 0; j < d; j++ {
			row[j] = 1 / row[j]
			sum += row[j]
		}

		for j := 0; j < d; j++ {
			row[j] /= sum
		}
	}

	return importances.Detach(), nil
}

// extractLengthscale reads one sub-model's lengthscale as a (1 × d) tensor,
// collapsing a fully-Bayesian ensemble to its median sample.
func extractLengthscale(sub Model) (*Tensor, error) {
	provider, ok := sub.(LengthscaleProvider)
	if !ok {
		return nil, fmt.Errorf("failed to extract lengthscales from the model's covariance kernel: %w", ErrNotImplemented)
	}

	ls, err := provider.Lengthscale()
	if err != nil || ls == nil {
		return nil, fmt.Errorf("failed to extract lengthscales from the model's covariance kernel: %w", ErrNotImplemented)
	}

	if ls.Size(-1) != sub.NumFeatures() {
		return nil, fmt.Errorf("lengthscale dimensionality %d does not match the model's %d input features: %w",
			ls.Size(-1), sub.NumFeatures(), ErrNotImplemented)
	}

	// Add a unit batch dimension for uniformity with vectorized models.
	if ls.Dim() == 2 {
		ls = ls.Reshape(1, ls.Size(0), ls.Size(1))
	}

	d := ls.Size(-1)

	if isFullyBayesian(sub) {
		// Take the median over the posterior samples.
		samples := ls.Size(0)

		median := Zeros(1, d).To(ls.Dtype(), ls.Device())

		values := make([]float64, samples)

		for j := 0; j < d; j++ {
			for si := 0; si < samples; si++ {
				values[si] = ls.At(si, 0, j)
			}

			sort.Float64s(values)

			median.Set(stat.Quantile(0.5, stat.Empirical, values, nil), 0, j)
		}

		return median, nil
	}

	return ls.Reshape(ls.Size(0)*ls.Size(1), d), nil
}
