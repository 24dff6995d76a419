package scaler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/model"
)

var cols = []string{"recency", "frequency", "monetary"}

func TestFit_PopulationStatistics(t *testing.T) {
	m := [][]float64{
		{1, 2, 10},
		{3, 4, 20},
		{5, 6, 60},
	}
	params, err := Fit(cols, m)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, params["recency"].Mean, 1e-12)
	assert.InDelta(t, 1.632993161855452, params["recency"].Std, 1e-12)
	assert.InDelta(t, 4.0, params["frequency"].Mean, 1e-12)
	assert.InDelta(t, 30.0, params["monetary"].Mean, 1e-12)
	assert.InDelta(t, 21.602468994692867, params["monetary"].Std, 1e-12)
}

func TestFit_ZeroVariance(t *testing.T) {
	m := [][]float64{
		{1, 1, 10},
		{3, 1, 20},
		{5, 1, 60},
	}
	_, err := Fit(cols, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDegenerateFeature)

	var dfe *model.DegenerateFeatureError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, "frequency", dfe.Column)
}

func TestFit_NearConstantFloatColumn(t *testing.T) {
	m := [][]float64{{0.1, 1, 1}, {0.1, 2, 2}, {0.1, 3, 3}}
	_, err := Fit(cols, m)
	assert.ErrorIs(t, err, model.ErrDegenerateFeature)
}

func TestFit_Empty(t *testing.T) {
	_, err := Fit(cols, nil)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestFit_RaggedRow(t *testing.T) {
	_, err := Fit(cols, [][]float64{{1, 2, 3}, {1, 2}})
	assert.Error(t, err)
}

func TestTransform_ZeroMeanUnitVariance(t *testing.T) {
	m := [][]float64{{1, 2, 10}, {3, 4, 20}, {5, 6, 60}, {7, 1, 5}}
	params, err := Fit(cols, m)
	require.NoError(t, err)

	z, err := Transform(cols, params, m)
	require.NoError(t, err)

	for j := range cols {
		var sum, ss float64
		for _, row := range z {
			sum += row[j]
			ss += row[j] * row[j]
		}
		assert.InDelta(t, 0, sum/float64(len(z)), 1e-12)
		assert.InDelta(t, 1, ss/float64(len(z)), 1e-12)
	}
}

func TestInversePoint_RoundTrip(t *testing.T) {
	params := map[string]model.ScalerParam{
		"recency":   {Mean: 30, Std: 10},
		"frequency": {Mean: 4, Std: 2},
		"monetary":  {Mean: 500, Std: 250},
	}
	p := []float64{12, 7, 1234.5}
	z, err := TransformPoint(cols, params, p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1.8, 1.5, 2.938}, z, 1e-9)

	back, err := InversePoint(cols, params, z)
	require.NoError(t, err)
	assert.InDeltaSlice(t, p, back, 1e-9)
}

func TestTransformPoint_MissingParams(t *testing.T) {
	_, err := TransformPoint(cols, map[string]model.ScalerParam{"recency": {Mean: 0, Std: 1}}, []float64{1, 2, 3})
	assert.Error(t, err)
}
