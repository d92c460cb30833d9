package surrogate

import (
	"fmt"
	"strings"
)

//////
// Per-outcome composite model.
//////

// modelList composes one sub-model per outcome into a single multi-output
// surrogate. Sub-models are independent: the joint covariance is
// block-diagonal across outcomes.
type modelList struct {
	models []Model
}

// Models returns the per-outcome sub-models.
func (ml *modelList) Models() []Model { return ml.models }

func (ml *modelList) NumOutputs() int {
	var total int
	for _, m := range ml.models {
		total += m.NumOutputs()
	}

	return total
}

func (ml *modelList) NumFeatures() int { return ml.models[0].NumFeatures() }

// Posterior assembles the per-model posteriors into a (q × m) mean and an
// (m × q × q) covariance with one joint block per output.
func (ml *modelList) Posterior(X *Tensor) (*Tensor, *Tensor, error) {
	q := X.Size(0)
	m := ml.NumOutputs()

	mean := Zeros(q, m).To(X.Dtype(), X.Device())
	cov := Zeros(m, q, q).To(X.Dtype(), X.Device())

	offset := 0

	for _, sub := range ml.models {
		subMean, subCov, err := sub.Posterior(X)
		if err != nil {
			return nil, nil, err
		}

		mo := sub.NumOutputs()

		for o := 0; o < mo; o++ {
			for a := 0; a < q; a++ {
				mean.Set(subMean.At(a, o), a, offset+o)

				for b := 0; b < q; b++ {
					cov.Set(subCov.At(o, a, b), offset+o, a, b)
				}
			}
		}

		offset += mo
	}

	return mean, cov, nil
}

// StateDict merges the sub-model state dicts under "models.<i>." prefixes,
// one prefix per sub-model position.
func (ml *modelList) StateDict() map[string]*Tensor {
	out := make(map[string]*Tensor)

	for i, sub := range ml.models {
		for key, value := range sub.StateDict() {
			out[fmt.Sprintf("models.%d.%s", i, key)] = value
		}
	}

	return out
}

// Subset restricts the composite to the given output indices. Requires every
// sub-model to be single-output so indices map one-to-one onto sub-models.
func (ml *modelList) Subset(idcs []int) (Model, error) {
	for _, sub := range ml.models {
		if sub.NumOutputs() != 1 {
			return nil, fmt.Errorf("subsetting a model list with multi-output sub-models: %w", ErrUnsupported)
		}
	}

	models := make([]Model, len(idcs))

	for i, ix := range idcs {
		if ix < 0 || ix >= len(ml.models) {
			return nil, fmt.Errorf("surrogate: subset index %d out of range for %d outputs", ix, len(ml.models))
		}

		models[i] = ml.models[ix]
	}

	return &modelList{models: models}, nil
}

// subStateDict extracts sub-model i's entries from a merged state dict,
// stripping the "models.<i>." prefix. Returns nil when no entry matches.
func subStateDict(state map[string]*Tensor, i int) map[string]*Tensor {
	if state == nil {
		return nil
	}

	prefix := fmt.Sprintf("models.%d.", i)

	var out map[string]*Tensor

	for key, value := range state {
		if strings.HasPrefix(key, prefix) {
			if out == nil {
				out = make(map[string]*Tensor)
			}

			out[strings.TrimPrefix(key, prefix)] = value
		}
	}

	return out
}
