package surrogate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

//////
// Helper functions.
//////

// constraintTol is the slack allowed when checking feasibility of observed
// points against bounds, linear constraints and fixed features.
const constraintTol = 1e-8

// normalizeIndices resolves possibly-negative column indices against the
// feature dimensionality d, so that -1 refers to the last column. Returns an
// error if any resolved index falls outside [0, d).
func normalizeIndices(indices []int, d int) ([]int, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	out := make([]int, len(indices))

	for i, ix := range indices {
		resolved := ix
		if resolved < 0 {
			resolved += d
		}

		if resolved < 0 || resolved >= d {
			return nil, fmt.Errorf("surrogate: feature index %d out of range for %d features", ix, d)
		}

		out[i] = resolved
	}

	return out, nil
}

// clamp restricts v to the closed interval [lo, hi].
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// boolOption reads a bool from an option bag, falling back to def when the
// key is absent or holds a non-bool.
func boolOption(opts map[string]any, key string, def bool) bool {
	if opts == nil {
		return def
	}

	if v, ok := opts[key].(bool); ok {
		return v
	}

	return def
}

// intOption reads an int from an option bag, falling back to def.
func intOption(opts map[string]any, key string, def int) int {
	if opts == nil {
		return def
	}

	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}

	return def
}

// floatOption reads a float64 from an option bag, falling back to def.
func floatOption(opts map[string]any, key string, def float64) float64 {
	if opts == nil {
		return def
	}

	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}

	return def
}

// subOptions reads a nested option bag, returning nil when absent.
func subOptions(opts map[string]any, key string) map[string]any {
	if opts == nil {
		return nil
	}

	if v, ok := opts[key].(map[string]any); ok {
		return v
	}

	return nil
}

// rowKey renders a row as a canonical string so rows can be compared and
// deduplicated exactly.
func rowKey(row []float64) string {
	var b strings.Builder

	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}

	return b.String()
}

// uniqueRows drops duplicate rows of a 2-D tensor, keeping first occurrences
// in order. Returns nil for a nil or empty input.
func uniqueRows(t *Tensor) *Tensor {
	if t == nil || t.Numel() == 0 {
		return nil
	}

	n := t.Size(0)
	seen := make(map[string]bool, n)

	var kept []*Tensor

	for i := 0; i < n; i++ {
		row := t.Row(i)

		key := rowKey(row)
		if seen[key] {
			continue
		}

		seen[key] = true
		kept = append(kept, NewTensor(append([]float64(nil), row...), 1, t.Size(1)).To(t.Dtype(), t.Device()))
	}

	return CatRows(kept...)
}

// inBounds reports whether every coordinate of row lies inside the box.
func inBounds(row []float64, bounds [][2]float64) bool {
	for j, b := range bounds {
		if row[j] < b[0]-constraintTol || row[j] > b[1]+constraintTol {
			return false
		}
	}

	return true
}

// satisfiesLinear reports whether row satisfies A·x <= B.
func satisfiesLinear(row []float64, lc *LinearConstraints) bool {
	if lc == nil {
		return true
	}

	k := lc.A.Size(0)

	for i := 0; i < k; i++ {
		var sum float64
		for j, v := range lc.A.Row(i) {
			sum += v * row[j]
		}

		if sum > lc.B.Data()[i]+constraintTol {
			return false
		}
	}

	return true
}

// matchesFixed reports whether row takes the pinned value on every fixed
// feature.
func matchesFixed(row []float64, fixed map[int]float64) bool {
	for j, v := range fixed {
		if math.Abs(row[j]-v) > constraintTol {
			return false
		}
	}

	return true
}

// getXPendingAndObserved computes the pending and observed point sets for one
// generation round.
//
// Pending points are the deduplicated union of the per-outcome
// pending-observation tensors. Observed points are the rows present in the
// training inputs of every outcome referenced by the objective weights or the
// outcome constraints, restricted to rows feasible under the bounds, linear
// constraints and fixed features of the request. Either result is nil when
// empty.
func getXPendingAndObserved(
	xs []*Tensor,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
	bounds [][2]float64,
	pending []*Tensor,
	linearConstraints *LinearConstraints,
	fixedFeatures map[int]float64,
) (xPending, xObserved *Tensor) {
	xPending = uniqueRows(CatRows(pending...))

	relevant := relevantOutcomes(len(xs), objectiveWeights, outcomeConstraints)
	if len(relevant) == 0 {
		return xPending, nil
	}

	// Rows observed for every relevant outcome.
	counts := make(map[string]int)

	for _, oi := range relevant[1:] {
		x := xs[oi]
		seen := make(map[string]bool)

		for i := 0; i < x.Size(0); i++ {
			key := rowKey(x.Row(i))
			if !seen[key] {
				seen[key] = true
				counts[key]++
			}
		}
	}

	first := xs[relevant[0]]
	need := len(relevant) - 1

	var kept []*Tensor
	seen := make(map[string]bool)

	for i := 0; i < first.Size(0); i++ {
		row := first.Row(i)

		key := rowKey(row)
		if seen[key] || counts[key] != need {
			continue
		}

		seen[key] = true

		if !inBounds(row, bounds) || !satisfiesLinear(row, linearConstraints) || !matchesFixed(row, fixedFeatures) {
			continue
		}

		kept = append(kept, NewTensor(append([]float64(nil), row...), 1, first.Size(1)).To(first.Dtype(), first.Device()))
	}

	return xPending, CatRows(kept...)
}

// relevantOutcomes returns the sorted outcome indices referenced by a nonzero
// objective weight or a nonzero outcome-constraint column.
func relevantOutcomes(m int, objectiveWeights *Tensor, outcomeConstraints *OutcomeConstraints) []int {
	needed := make([]bool, m)

	if objectiveWeights != nil {
		for i, w := range objectiveWeights.Data() {
			if i < m && w != 0 {
				needed[i] = true
			}
		}
	}

	if outcomeConstraints != nil {
		k := outcomeConstraints.A.Size(0)
		for i := 0; i < k; i++ {
			for j, v := range outcomeConstraints.A.Row(i) {
				if j < m && v != 0 {
					needed[j] = true
				}
			}
		}
	}

	var out []int

	for i, ok := range needed {
		if ok {
			out = append(out, i)
		}
	}

	return out
}

// toInequalityConstraints converts dense linear constraints A·x <= B into the
// sparse "sum of coefficients times coordinates >= bound" form consumed by
// acquisition optimizers. Returns nil when there are no constraints.
func toInequalityConstraints(linearConstraints *LinearConstraints) []InequalityConstraint {
	if linearConstraints == nil {
		return nil
	}

	k := linearConstraints.A.Size(0)

	out := make([]InequalityConstraint, 0, k)

	for i := 0; i < k; i++ {
		var ic InequalityConstraint

		for j, v := range linearConstraints.A.Row(i) {
			if v != 0 {
				ic.Indices = append(ic.Indices, j)
				ic.Coefficients = append(ic.Coefficients, -v)
			}
		}

		ic.Bound = -linearConstraints.B.Data()[i]

		out = append(out, ic)
	}

	return out
}

// RoundingWrapper lifts a single-candidate rounding callback to batched
// candidate tensors. The returned function applies f independently to every
// row along the last dimension of an arbitrarily-batched tensor and
// reassembles the original batch shape. A nil callback wraps to nil.
func RoundingWrapper(f RoundingFunc) RoundingFunc {
	if f == nil {
		return nil
	}

	return func(x *Tensor) *Tensor {
		if x.Dim() == 1 {
			return f(x)
		}

		return x.MapRows(func(row []float64) []float64 {
			rounded := f(NewTensor(row, len(row)).To(x.Dtype(), x.Device()))

			return rounded.Data()
		})
	}
}
