package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// SubsetDataset exposes the first n samples of another Dataset. It backs
// the train_limit setting for quick runs on part of a split.
type SubsetDataset struct {
	base Dataset
	n    int
}

// NewSubsetDataset limits base to its first n samples. n is clamped to
// base.Len(); zero gives an empty dataset.
func NewSubsetDataset(base Dataset, n int) (*SubsetDataset, error) {
	if base == nil {
		return nil, errors.New("subset of a nil dataset")
	}
	if n < 0 {
		return nil, errors.Errorf("subset size must be >= 0, got %d", n)
	}
	return &SubsetDataset{base: base, n: min(n, base.Len())}, nil
}

func (s *SubsetDataset) Len() int { return s.n }

// Get returns sample idx of the underlying dataset. Indices at or past the
// subset size fail even when the underlying dataset holds them.
func (s *SubsetDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= s.n {
		return nil, nil, errors.Errorf("subset index %d out of range [0, %d)", idx, s.n)
	}
	return s.base.Get(idx)
}
