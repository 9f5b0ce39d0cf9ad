package dataset

import (
	"math"

	"github.com/pkg/errors"
)

// StandardScaler standardizes features to zero mean and unit variance using
// statistics taken from the rows it was fitted on. Constant columns are
// centered but not scaled.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// Fit computes per-column mean and population standard deviation.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return errors.New("cannot fit scaler on zero rows")
	}
	width := len(x[0])
	mean := make([]float64, width)
	for i, row := range x {
		if len(row) != width {
			return errors.Errorf("row %d has %d columns, expected %d", i, len(row), width)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.mean, s.scale = mean, scale
	return nil
}

// Transform returns standardized copies of the rows.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if s.mean == nil {
		return nil, errors.New("scaler is not fitted")
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.mean) {
			return nil, errors.Errorf("row %d has %d columns, scaler was fitted on %d", i, len(row), len(s.mean))
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.mean[j]) / s.scale[j]
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits on x and returns x standardized.
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}

// Mean returns the fitted column means.
func (s *StandardScaler) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Scale returns the fitted column scales.
func (s *StandardScaler) Scale() []float64 { return append([]float64(nil), s.scale...) }
