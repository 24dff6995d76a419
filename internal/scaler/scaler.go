// Package scaler standardizes feature columns to zero mean and unit variance.
// Statistics are fitted once at training time and stored in the artifact;
// scoring only ever applies stored statistics.
package scaler

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// degenerateTolerance is the relative std below which a column counts as
// constant. Exact zero is too strict once the mean is a rounded float.
const degenerateTolerance = 1e-12

// Fit computes per-column mean and population standard deviation. A column
// with zero variance fails with a DegenerateFeatureError.
func Fit(columns []string, matrix [][]float64) (map[string]model.ScalerParam, error) {
	if len(matrix) == 0 {
		return nil, &model.InvalidParameterError{Name: "matrix", Value: 0, Reason: "cannot fit scaler on zero rows"}
	}
	n := float64(len(matrix))
	params := make(map[string]model.ScalerParam, len(columns))
	for j, col := range columns {
		var sum float64
		for i, row := range matrix {
			if len(row) != len(columns) {
				return nil, eris.Errorf("scaler: row %d has %d values, want %d", i, len(row), len(columns))
			}
			sum += row[j]
		}
		mean := sum / n

		var ss float64
		for _, row := range matrix {
			d := row[j] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / n)

		if std <= degenerateTolerance*math.Max(1, math.Abs(mean)) {
			return nil, &model.DegenerateFeatureError{Column: col, Value: matrix[0][j]}
		}
		params[col] = model.ScalerParam{Mean: mean, Std: std}
	}
	return params, nil
}

// TransformPoint standardizes one point in column order.
func TransformPoint(columns []string, params map[string]model.ScalerParam, point []float64) ([]float64, error) {
	if len(point) != len(columns) {
		return nil, eris.Errorf("scaler: point has %d values, want %d", len(point), len(columns))
	}
	out := make([]float64, len(point))
	for j, col := range columns {
		p, ok := params[col]
		if !ok {
			return nil, eris.Errorf("scaler: no parameters for column %q", col)
		}
		out[j] = (point[j] - p.Mean) / p.Std
	}
	return out, nil
}

// Transform standardizes every row of matrix.
func Transform(columns []string, params map[string]model.ScalerParam, matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		z, err := TransformPoint(columns, params, row)
		if err != nil {
			return nil, eris.Wrapf(err, "scaler: row %d", i)
		}
		out[i] = z
	}
	return out, nil
}

// InversePoint maps a standardized point back to raw feature units.
func InversePoint(columns []string, params map[string]model.ScalerParam, z []float64) ([]float64, error) {
	if len(z) != len(columns) {
		return nil, eris.Errorf("scaler: point has %d values, want %d", len(z), len(columns))
	}
	out := make([]float64, len(z))
	for j, col := range columns {
		p, ok := params[col]
		if !ok {
			return nil, eris.Errorf("scaler: no parameters for column %q", col)
		}
		out[j] = z[j]*p.Std + p.Mean
	}
	return out, nil
}
