package surrogate

import (
	"math"
)

//////
// Default best-point recommender.
//////

// RecommendBestObservedPoint is the default BestPointRecommender: it returns
// the feasible observed point with the best posterior-mean scalarization, or
// nil when no observed point is feasible.
//
// Feasibility screens the union of the model-like object's training inputs
// against the bounds, linear constraints and fixed features; target
// fidelities enter as additional pinned values. Outcome constraints are
// checked against the posterior means, so a point whose predicted outcomes
// violate a constraint does not qualify.
func RecommendBestObservedPoint(
	model ModelLike,
	bounds [][2]float64,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
	linearConstraints *LinearConstraints,
	fixedFeatures map[int]float64,
	options map[string]any,
	targetFidelities map[int]float64,
) (*Tensor, error) {
	_ = options

	pinned := make(map[int]float64, len(fixedFeatures)+len(targetFidelities))

	for j, v := range fixedFeatures {
		pinned[j] = v
	}

	for j, v := range targetFidelities {
		pinned[j] = v
	}

	candidates := uniqueRows(CatRows(model.TrainingInputs()...))
	if candidates == nil {
		return nil, nil
	}

	var kept []*Tensor

	for i := 0; i < candidates.Size(0); i++ {
		row := candidates.Row(i)

		if inBounds(row, bounds) && satisfiesLinear(row, linearConstraints) && matchesFixed(row, pinned) {
			kept = append(kept, NewTensor(append([]float64(nil), row...), 1, candidates.Size(1)).To(candidates.Dtype(), candidates.Device()))
		}
	}

	feasible := CatRows(kept...)
	if feasible == nil {
		return nil, nil
	}

	mean, _, err := model.Predict(feasible)
	if err != nil {
		return nil, err
	}

	bestScore := math.Inf(-1)
	bestIdx := -1

	for i := 0; i < feasible.Size(0); i++ {
		if outcomeConstraints != nil && !meanFeasible(mean.Row(i), outcomeConstraints) {
			continue
		}

		var score float64
		if objectiveWeights != nil {
			for o, w := range objectiveWeights.Data() {
				if o < mean.Size(1) {
					score += w * mean.At(i, o)
				}
			}
		}

		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return nil, nil
	}

	row := feasible.Row(bestIdx)

	return NewTensor(append([]float64(nil), row...), len(row)).To(feasible.Dtype(), feasible.Device()).Detach(), nil
}

// meanFeasible reports whether posterior means f satisfy A·f <= B.
func meanFeasible(f []float64, oc *OutcomeConstraints) bool {
	k := oc.A.Size(0)

	for r := 0; r < k; r++ {
		var lhs float64
		for o, v := range oc.A.Row(r) {
			if o < len(f) {
				lhs += v * f[o]
			}
		}

		if lhs > oc.B.Data()[r]+constraintTol {
			return false
		}
	}

	return true
}
