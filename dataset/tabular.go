package dataset

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// TabularDataset serves rows of a feature matrix with a scalar target.
// Features come back as [F] tensors and labels as [1].
type TabularDataset struct {
	x [][]float64
	y []float64
}

// NewTabularDataset wraps x and y without copying them.
func NewTabularDataset(x [][]float64, y []float64) (*TabularDataset, error) {
	if len(x) != len(y) {
		return nil, errors.Errorf("%d feature rows against %d targets", len(x), len(y))
	}
	for i := 1; i < len(x); i++ {
		if len(x[i]) != len(x[0]) {
			return nil, errors.Errorf("row %d has %d features, expected %d", i, len(x[i]), len(x[0]))
		}
	}
	return &TabularDataset{x: x, y: y}, nil
}

func (d *TabularDataset) Len() int { return len(d.y) }

// Features returns the number of feature columns.
func (d *TabularDataset) Features() int {
	if len(d.x) == 0 {
		return 0
	}
	return len(d.x[0])
}

func (d *TabularDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.y) {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.y))
	}
	x, err := tensor.NewTensor([]int{len(d.x[idx])}, d.x[idx], nil)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.NewTensor([]int{1}, []float64{d.y[idx]}, nil)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// Row returns the raw features and target at idx.
func (d *TabularDataset) Row(idx int) ([]float64, float64) {
	return d.x[idx], d.y[idx]
}
