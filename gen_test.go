package surrogate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fittedOptimizer builds an optimizer with a fake single-outcome model already
// fitted on a small dataset in d dimensions.
func fittedOptimizer(t *testing.T, config Config, outcomes, d int) *SurrogateOptimizer {
	t.Helper()

	if config.ModelConstructor == nil {
		config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
			return &fakeModel{outputs: len(req.Xs), features: d}, nil
		}
	}

	s := New(config)

	datasets := make([]Dataset, outcomes)
	for i := range datasets {
		datasets[i] = makeDataset(6, d, float64(i+1))
	}

	require.NoError(t, s.Fit(datasets, namedMetrics(outcomes), quickDigest(d)))

	return s
}

func TestGenRejectsFidelityFeatures(t *testing.T) {
	s := fittedOptimizer(t, DefaultConfig(), 1, 2)

	digest := quickDigest(2)
	digest.FidelityFeatures = []int{1}

	_, err := s.Gen(1, digest, OptConfig{ObjectiveWeights: uniformWeights(1)})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestGenBeforeFit(t *testing.T) {
	s := New(DefaultConfig())

	_, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestGenShapeAndWeights(t *testing.T) {
	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}

	s := fittedOptimizer(t, config, 1, 2)

	digest := quickDigest(2)

	result, err := s.Gen(3, digest, OptConfig{ObjectiveWeights: uniformWeights(1)})
	require.NoError(t, err)

	require.Equal(t, []int{3, 2}, result.Points.Shape())

	for i := 0; i < 3; i++ {
		for j, b := range digest.Bounds {
			v := result.Points.At(i, j)
			assert.GreaterOrEqual(t, v, b[0])
			assert.LessOrEqual(t, v, b[1])
		}
	}

	require.Equal(t, []int{3}, result.Weights.Shape())

	for _, w := range result.Weights.Data() {
		assert.Equal(t, 1.0, w)
	}

	_, ok := result.Metadata["expected_acquisition_value"]
	assert.True(t, ok, "default optimizer reports an attained acquisition value")
}

func TestGenMetadataOmittedForEmptyAcqValue(t *testing.T) {
	config := DefaultConfig()
	config.AcquisitionOptimizer = func(_ AcquisitionFunction, bounds *Tensor, n int, _ []InequalityConstraint, _ map[int]float64, _ RoundingFunc, _ map[string]any) (*Tensor, *Tensor, error) {
		return Zeros(n, bounds.Size(1)), nil, nil
	}

	s := fittedOptimizer(t, config, 1, 2)

	result, err := s.Gen(2, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	require.NoError(t, err)

	_, ok := result.Metadata["expected_acquisition_value"]
	assert.False(t, ok)
}

func TestGenRetriesOnceWithoutQMC(t *testing.T) {
	var qmcSettings []bool

	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, options map[string]any) (AcquisitionFunction, error) {
		qmc := boolOption(options, KeyQMC, true)
		qmcSettings = append(qmcSettings, qmc)

		if qmc {
			return nil, fmt.Errorf("building base samples: %w", &SamplerLimitError{Dim: 2000, Max: MaxQMCDimension})
		}

		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}

	s := fittedOptimizer(t, config, 1, 2)

	result, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	require.NoError(t, err)

	// First attempt honored the default (qmc on), the retry forced it off.
	assert.Equal(t, []bool{true, false}, qmcSettings)
	assert.Equal(t, []int{1, 2}, result.Points.Shape())
}

func TestGenSecondSamplerFailurePropagates(t *testing.T) {
	calls := 0

	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		calls++

		return nil, &SamplerLimitError{Dim: 2000, Max: MaxQMCDimension}
	}

	s := fittedOptimizer(t, config, 1, 2)

	_, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 2, calls, "exactly one retry")
}

func TestGenUnrelatedErrorNotRetried(t *testing.T) {
	boom := fmt.Errorf("acquisition exploded: %w", ErrUnsupported)
	calls := 0

	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		calls++

		return nil, boom
	}

	s := fittedOptimizer(t, config, 1, 2)

	_, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "wrapping ErrUnsupported without the sampler error type must not trigger a retry")
}

func TestGenOptimizerSamplerFailureAlsoRetried(t *testing.T) {
	optCalls := 0

	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}
	config.AcquisitionOptimizer = func(_ AcquisitionFunction, bounds *Tensor, n int, _ []InequalityConstraint, _ map[int]float64, _ RoundingFunc, _ map[string]any) (*Tensor, *Tensor, error) {
		optCalls++

		if optCalls == 1 {
			return nil, nil, &SamplerLimitError{Dim: 1500, Max: MaxQMCDimension}
		}

		return Zeros(n, bounds.Size(1)), NewTensor([]float64{0.1}, 1), nil
	}

	s := fittedOptimizer(t, config, 1, 2)

	result, err := s.Gen(2, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	require.NoError(t, err)
	assert.Equal(t, 2, optCalls)
	assert.Equal(t, []float64{0.1}, result.Metadata["expected_acquisition_value"])
}

func TestGenSubsetsModelByDefault(t *testing.T) {
	sub := &fakeSubsetModel{fakeModel: fakeModel{outputs: 3, features: 2}}

	var constructed Model

	config := DefaultConfig()
	config.ModelConstructor = func(ModelFitRequest) (Model, error) { return sub, nil }
	config.AcquisitionConstructor = func(model Model, weights *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		constructed = model

		require.Equal(t, 1, weights.Numel(), "weights reduced alongside the model")

		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit(
		[]Dataset{makeDataset(6, 2, 1), makeDataset(6, 2, 2), makeDataset(6, 2, 3)},
		namedMetrics(3),
		quickDigest(2),
	))

	// Only the middle outcome carries weight.
	weights := NewTensor([]float64{0, 1, 0}, 3)

	_, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: weights})
	require.NoError(t, err)

	require.Len(t, sub.subsetCalls, 1)
	assert.Equal(t, []int{1}, sub.subsetCalls[0])
	assert.Equal(t, 1, constructed.NumOutputs())
}

func TestGenSubsetDisabled(t *testing.T) {
	sub := &fakeSubsetModel{fakeModel: fakeModel{outputs: 2, features: 2}}

	config := DefaultConfig()
	config.ModelConstructor = func(ModelFitRequest) (Model, error) { return sub, nil }
	config.AcquisitionConstructor = func(model Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		assert.Equal(t, 2, model.NumOutputs())

		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit(
		[]Dataset{makeDataset(6, 2, 1), makeDataset(6, 2, 2)},
		namedMetrics(2),
		quickDigest(2),
	))

	_, err := s.Gen(1, quickDigest(2), OptConfig{
		ObjectiveWeights: NewTensor([]float64{1, 0}, 2),
		Options:          map[string]any{KeySubsetModel: false},
	})
	require.NoError(t, err)

	assert.Empty(t, sub.subsetCalls)
}

func TestGenPassesFixedFeaturesAndRounding(t *testing.T) {
	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		return &fakeAcqf{target: []float64{0.5, 0.5, 0.5}}, nil
	}

	s := fittedOptimizer(t, config, 1, 3)

	rounded := 0
	roundingFunc := func(x *Tensor) *Tensor {
		rounded++

		// Snap the first coordinate to a 0.25 grid.
		out := x.Clone()
		out.Set(0.25*float64(int(out.At(0)/0.25+0.5)), 0)

		return out
	}

	result, err := s.Gen(2, quickDigest(3), OptConfig{
		ObjectiveWeights: uniformWeights(1),
		FixedFeatures:    map[int]float64{2: 0.75},
		RoundingFunc:     roundingFunc,
	})
	require.NoError(t, err)
	assert.Greater(t, rounded, 0)

	for i := 0; i < 2; i++ {
		assert.InDelta(t, 0.75, result.Points.At(i, 2), 1e-12, "fixed feature pinned")

		grid := result.Points.At(i, 0) / 0.25
		assert.InDelta(t, float64(int(grid+0.5)), grid, 1e-9, "first coordinate snapped to grid")
	}
}

func TestGenPropagatesOptimizerError(t *testing.T) {
	boom := errors.New("optimizer failed")

	config := DefaultConfig()
	config.AcquisitionConstructor = func(_ Model, _ *Tensor, _ *OutcomeConstraints, _, _ *Tensor, _ map[string]any) (AcquisitionFunction, error) {
		return &fakeAcqf{target: []float64{0.5, 0.5}}, nil
	}
	config.AcquisitionOptimizer = func(_ AcquisitionFunction, _ *Tensor, _ int, _ []InequalityConstraint, _ map[int]float64, _ RoundingFunc, _ map[string]any) (*Tensor, *Tensor, error) {
		return nil, nil, boom
	}

	s := fittedOptimizer(t, config, 1, 2)

	_, err := s.Gen(1, quickDigest(2), OptConfig{ObjectiveWeights: uniformWeights(1)})
	assert.ErrorIs(t, err, boom)
}
