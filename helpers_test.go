package surrogate

import (
	"fmt"
)

//////
// Shared test fixtures.
//////

// fakeModel is a deterministic stand-in surrogate: constant or callback-based
// posterior means with a small diagonal covariance.
type fakeModel struct {
	outputs  int
	features int

	// meanFn maps an input row to per-outcome means. Defaults to zeros.
	meanFn func(row []float64) []float64

	state map[string]*Tensor
}

func (m *fakeModel) NumOutputs() int { return m.outputs }

func (m *fakeModel) NumFeatures() int { return m.features }

func (m *fakeModel) Posterior(X *Tensor) (*Tensor, *Tensor, error) {
	q := X.Size(0)

	mean := Zeros(q, m.outputs).To(X.Dtype(), X.Device())
	cov := Zeros(m.outputs, q, q).To(X.Dtype(), X.Device())

	for i := 0; i < q; i++ {
		if m.meanFn != nil {
			for o, v := range m.meanFn(X.Row(i)) {
				if o < m.outputs {
					mean.Set(v, i, o)
				}
			}
		}

		for o := 0; o < m.outputs; o++ {
			cov.Set(0.01, o, i, i)
		}
	}

	return mean, cov, nil
}

func (m *fakeModel) StateDict() map[string]*Tensor {
	if m.state == nil {
		return map[string]*Tensor{}
	}

	return m.state
}

// fakeSubsetModel augments fakeModel with outcome subsetting and records the
// requested indices.
type fakeSubsetModel struct {
	fakeModel

	subsetCalls [][]int
}

func (m *fakeSubsetModel) Subset(idcs []int) (Model, error) {
	m.subsetCalls = append(m.subsetCalls, append([]int(nil), idcs...))

	return &fakeModel{outputs: len(idcs), features: m.features, meanFn: m.meanFn}, nil
}

// fakeLengthscaleModel augments fakeModel with a kernel lengthscale.
type fakeLengthscaleModel struct {
	fakeModel

	lengthscale *Tensor
	lsErr       error
	bayesian    bool
}

func (m *fakeLengthscaleModel) Lengthscale() (*Tensor, error) {
	return m.lengthscale, m.lsErr
}

func (m *fakeLengthscaleModel) IsFullyBayesian() bool { return m.bayesian }

// fakeModelList composes fakes into a ModelList.
type fakeModelList struct {
	fakeModel

	subs []Model
}

func (m *fakeModelList) Models() []Model { return m.subs }

// fakeAcqf scores candidates by negative distance of the first row to a
// target point, so the optimizer has a known maximizer.
type fakeAcqf struct {
	target []float64
}

func (a *fakeAcqf) Evaluate(X *Tensor) (float64, error) {
	row := X.Row(0)

	var dist float64
	for j, t := range a.target {
		diff := row[j] - t
		dist += diff * diff
	}

	return -dist, nil
}

// errAcqf fails every evaluation with a fixed error.
type errAcqf struct {
	err error
}

func (a *errAcqf) Evaluate(*Tensor) (float64, error) { return 0, a.err }

// makeDataset builds a deterministic dataset with n points in d dimensions,
// outputs following a linear function of the inputs.
func makeDataset(n, d int, slope float64) Dataset {
	x := Zeros(n, d)
	y := Zeros(n, 1)
	yvar := Zeros(n, 1)

	for i := 0; i < n; i++ {
		var sum float64

		for j := 0; j < d; j++ {
			v := float64(i)/float64(n) + 0.1*float64(j)
			x.Set(v, i, j)
			sum += v
		}

		y.Set(slope*sum, i, 0)
		yvar.Set(1e-4, i, 0)
	}

	return Dataset{X: x, Y: y, Yvar: yvar}
}

// quickDigest builds a unit-box digest in d dimensions.
func quickDigest(d int) SearchSpaceDigest {
	bounds := make([][2]float64, d)
	for j := range bounds {
		bounds[j] = [2]float64{0, 1}
	}

	return SearchSpaceDigest{Bounds: bounds}
}

// uniformWeights builds an all-ones objective weight tensor over m outcomes.
func uniformWeights(m int) *Tensor {
	return Ones(m)
}

// namedMetrics builds metric names metric_0 ... metric_{m-1}.
func namedMetrics(m int) []string {
	out := make([]string, m)
	for i := range out {
		out[i] = fmt.Sprintf("metric_%d", i)
	}

	return out
}
