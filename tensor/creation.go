package tensor

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/device"
)

// NewTensor creates a tensor that owns a copy of data. A nil data slice
// produces zeros.
func NewTensor(shape []int, data []float64, dev device.Device) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	buf := make([]float64, n)
	if data != nil {
		if len(data) != n {
			return nil, errors.Wrapf(ErrShape, "data length %d does not match shape %v (%d elements)", len(data), shape, n)
		}
		copy(buf, data)
	}
	return &Tensor{Shape: cloneShape(shape), Data: buf, Device: dev}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dev device.Device) (*Tensor, error) {
	return NewTensor(shape, nil, dev)
}

// Ones creates a tensor filled with ones.
func Ones(shape []int, dev device.Device) (*Tensor, error) {
	return Full(shape, 1, dev)
}

// Full creates a tensor filled with value.
func Full(shape []int, value float64, dev device.Device) (*Tensor, error) {
	t, err := NewTensor(shape, nil, dev)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// RandomNormal creates a tensor with samples from N(mean, std^2) drawn from rng.
func RandomNormal(shape []int, mean, std float64, rng *rand.Rand, dev device.Device) (*Tensor, error) {
	t, err := NewTensor(shape, nil, dev)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = mean + std*rng.NormFloat64()
	}
	return t, nil
}

// RandomUniform creates a tensor with samples from U(low, high) drawn from rng.
func RandomUniform(shape []int, low, high float64, rng *rand.Rand, dev device.Device) (*Tensor, error) {
	t, err := NewTensor(shape, nil, dev)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = low + (high-low)*rng.Float64()
	}
	return t, nil
}

// FromScalar creates a tensor of shape [1] holding value.
func FromScalar(value float64, dev device.Device) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float64{value}, Device: dev}
}
