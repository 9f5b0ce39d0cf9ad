package tensor

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/device"
)

// Clone returns a deep copy detached from the autograd graph.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: cloneShape(t.Shape), Data: data, Device: t.Device, requiresGrad: t.requiresGrad}
}

// Detach returns a tensor sharing t's storage that records no history and
// never requires gradients.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Shape: t.Shape, Data: t.Data, Device: t.Device}
}

// Item returns the single value held by a one-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, errors.Errorf("item requires a single-element tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float64, error) {
	if len(indices) != len(t.Shape) {
		return 0, errors.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, v := range indices {
		if v < 0 || v >= t.Shape[i] {
			return 0, errors.Errorf("index %d out of range for dimension %d of size %d", v, i, t.Shape[i])
		}
		idx = idx*t.Shape[i] + v
	}
	return t.Data[idx], nil
}

func (t *Tensor) Numel() int {
	return len(t.Data)
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Size returns a copy of the shape.
func (t *Tensor) Size() []int {
	return cloneShape(t.Shape)
}

// ToDevice returns a copy of t placed on dev. The copy is detached from the
// autograd graph. If t is already on dev it is returned unchanged.
func (t *Tensor) ToDevice(dev device.Device) *Tensor {
	if dev == nil || t.Device == dev {
		return t
	}
	out := t.Clone()
	out.requiresGrad = false
	out.Device = dev
	return out
}

// MoveTo rebinds t to dev in place. Parameters use this so optimizers keep
// their references.
func (t *Tensor) MoveTo(dev device.Device) {
	t.Device = dev
	if t.grad != nil {
		t.grad.Device = dev
	}
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.grad = nil
		}
	}
}

// Equal reports whether two tensors have the same shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
