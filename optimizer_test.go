package surrogate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitRequiresData(t *testing.T) {
	calls := 0

	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		calls++

		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s := New(config)

	err := s.Fit(nil, nil, quickDigest(2))

	assert.ErrorIs(t, err, ErrDataRequired)
	assert.Equal(t, 0, calls, "no model should be constructed on empty data")

	_, err = s.Model()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitCapturesSessionState(t *testing.T) {
	var got ModelFitRequest

	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		got = req

		return &fakeModel{outputs: len(req.Xs), features: req.Xs[0].Size(-1)}, nil
	}

	s := New(config)

	digest := quickDigest(3)
	digest.TaskFeatures = []int{-1}
	digest.FidelityFeatures = []int{0}

	err := s.Fit(
		[]Dataset{makeDataset(5, 3, 1.0), makeDataset(5, 3, -1.0)},
		namedMetrics(2),
		digest,
	)
	require.NoError(t, err)

	// Negative indices normalize against the feature dimension.
	assert.Equal(t, []int{2}, got.TaskFeatures)
	assert.Equal(t, []int{0}, got.FidelityFeatures)
	assert.Equal(t, namedMetrics(2), got.MetricNames)
	assert.True(t, got.RefitModel)
	assert.Len(t, got.Xs, 2)

	model, err := s.Model()
	require.NoError(t, err)
	assert.Equal(t, 2, model.NumOutputs())

	stored, err := s.SearchSpaceDigest()
	require.NoError(t, err)
	assert.Equal(t, digest.Bounds, stored.Bounds)
}

func TestFitRejectsOutOfRangeIndices(t *testing.T) {
	s := New(DefaultConfig())

	digest := quickDigest(2)
	digest.TaskFeatures = []int{5}

	err := s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), digest)
	assert.Error(t, err)
}

func TestAccessorsBeforeFit(t *testing.T) {
	s := New(DefaultConfig())

	_, err := s.Model()
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = s.SearchSpaceDigest()
	assert.ErrorIs(t, err, ErrNotFitted)

	_, _, err = s.Predict(Zeros(1, 2))
	assert.ErrorIs(t, err, ErrNotFitted)

	_, _, err = s.CrossValidate([]Dataset{makeDataset(4, 2, 1.0)}, Zeros(1, 2))
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = s.FeatureImportances()
	assert.ErrorIs(t, err, ErrNotFitted)

	err = s.Update([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestSetSearchSpaceDigestDisallowed(t *testing.T) {
	s := New(DefaultConfig())

	digest := quickDigest(2)

	err := s.SetSearchSpaceDigest(&digest)
	assert.ErrorIs(t, err, ErrUnsupported)

	// Even after a successful fit the setter stays disabled.
	config := DefaultConfig()
	config.ModelConstructor = func(ModelFitRequest) (Model, error) {
		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s = New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), digest))

	err = s.SetSearchSpaceDigest(&digest)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSetModel(t *testing.T) {
	s := New(DefaultConfig())

	m := &fakeModel{outputs: 1, features: 2}
	s.SetModel(m)

	got, err := s.Model()
	require.NoError(t, err)
	assert.Same(t, Model(m), got)
}

func TestPredictDelegates(t *testing.T) {
	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		return &fakeModel{
			outputs:  1,
			features: 2,
			meanFn:   func(row []float64) []float64 { return []float64{row[0] + row[1]} },
		}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	X := NewTensor([]float64{0.25, 0.5}, 1, 2)

	mean, cov, err := s.Predict(X)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1}, mean.Shape())
	assert.InDelta(t, 0.75, mean.At(0, 0), 1e-12)
	assert.Equal(t, []int{1, 1, 1}, cov.Shape())
}

func TestCrossValidateWarmStartsWithoutRefit(t *testing.T) {
	fitRequests := []ModelFitRequest{}

	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		fitRequests = append(fitRequests, req)

		return &fakeModel{
			outputs:  1,
			features: 2,
			state:    map[string]*Tensor{"lengthscale": Ones(1, 2)},
		}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(6, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	fitted, err := s.Model()
	require.NoError(t, err)

	_, _, err = s.CrossValidate([]Dataset{makeDataset(4, 2, 1.0)}, Zeros(2, 2))
	require.NoError(t, err)
	require.Len(t, fitRequests, 2)

	cvReq := fitRequests[1]

	assert.False(t, cvReq.RefitModel)
	require.NotNil(t, cvReq.StateDict)

	// The scratch fit receives a deep copy, never the fitted model's tensors.
	assert.NotSame(t, fitted.StateDict()["lengthscale"], cvReq.StateDict["lengthscale"])

	// The primary model is untouched.
	after, err := s.Model()
	require.NoError(t, err)
	assert.Same(t, fitted, after)
}

func TestCrossValidateRefitSkipsWarmStart(t *testing.T) {
	fitRequests := []ModelFitRequest{}

	config := DefaultConfig()
	config.RefitOnCV = true
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		fitRequests = append(fitRequests, req)

		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(6, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	_, _, err := s.CrossValidate([]Dataset{makeDataset(4, 2, 1.0)}, Zeros(2, 2))
	require.NoError(t, err)
	require.Len(t, fitRequests, 2)

	assert.True(t, fitRequests[1].RefitModel)
	assert.Nil(t, fitRequests[1].StateDict)
}

func TestCrossValidateConstructorError(t *testing.T) {
	boom := errors.New("fit failed")

	calls := 0

	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		calls++

		if calls > 1 {
			return nil, boom
		}

		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	_, _, err := s.CrossValidate([]Dataset{makeDataset(4, 2, 1.0)}, Zeros(1, 2))
	assert.ErrorIs(t, err, boom)
}

func TestUpdateReplacesDataAndModel(t *testing.T) {
	fitRequests := []ModelFitRequest{}

	config := DefaultConfig()
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		fitRequests = append(fitRequests, req)

		return &fakeModel{
			outputs:  1,
			features: 2,
			state:    map[string]*Tensor{"noise": Ones(1)},
		}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(6, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	before, err := s.Model()
	require.NoError(t, err)

	fresh := makeDataset(8, 2, 2.0)

	require.NoError(t, s.Update([]Dataset{fresh}, []string{"renamed"}))
	require.Len(t, fitRequests, 2)

	// Warm start and refit are both on by default.
	assert.NotNil(t, fitRequests[1].StateDict)
	assert.True(t, fitRequests[1].RefitModel)
	assert.Equal(t, []string{"renamed"}, fitRequests[1].MetricNames)

	after, err := s.Model()
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	inputs := s.TrainingInputs()
	require.Len(t, inputs, 1)
	assert.Same(t, fresh.X, inputs[0])
}

func TestUpdateRequiresData(t *testing.T) {
	config := DefaultConfig()
	config.ModelConstructor = func(ModelFitRequest) (Model, error) {
		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), quickDigest(2)))

	err := s.Update(nil, nil)
	assert.ErrorIs(t, err, ErrDataRequired)
}

func TestUpdateWithoutWarmStart(t *testing.T) {
	fitRequests := []ModelFitRequest{}

	config := DefaultConfig()
	config.WarmStartRefitting = false
	config.RefitOnUpdate = false
	config.ModelConstructor = func(req ModelFitRequest) (Model, error) {
		fitRequests = append(fitRequests, req)

		return &fakeModel{outputs: 1, features: 2}, nil
	}

	s := New(config)
	require.NoError(t, s.Fit([]Dataset{makeDataset(4, 2, 1.0)}, namedMetrics(1), quickDigest(2)))
	require.NoError(t, s.Update([]Dataset{makeDataset(5, 2, 1.0)}, namedMetrics(1)))

	require.Len(t, fitRequests, 2)
	assert.Nil(t, fitRequests[1].StateDict)
	assert.False(t, fitRequests[1].RefitModel)
}
