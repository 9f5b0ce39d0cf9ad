// Package tensor provides dense float64 tensors with reverse-mode automatic
// differentiation, placed on a device from the device package.
package tensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/device"
)

// ErrShape is returned when operand shapes are incompatible.
var ErrShape = errors.New("incompatible shapes")

// Operation is a recorded differentiable step. Backward receives the
// gradient of the output and returns one gradient per input, nil for inputs
// that do not need one.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

// Tensor is a row-major float64 array.
type Tensor struct {
	Shape  []int
	Data   []float64
	Device device.Device

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)", t.Shape, t.dev().Kind(), len(t.Data))
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// IsLeaf reports whether t was created directly rather than by an operation.
func (t *Tensor) IsLeaf() bool {
	return t.creator == nil
}

func (t *Tensor) dev() device.Device {
	if t.Device == nil {
		return device.Host()
	}
	return t.Device
}

func (t *Tensor) workers() int {
	return t.dev().Workers()
}

func calculateNumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validateShape(shape []int) error {
	for i, d := range shape {
		if d < 0 {
			return errors.Errorf("invalid dimension %d at index %d", d, i)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapesEqual reports whether two shapes are identical.
func ShapesEqual(a, b []int) bool {
	return shapesEqual(a, b)
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// PrintData renders up to maxElements values for debugging.
func (t *Tensor) PrintData(maxElements int) string {
	n := len(t.Data)
	if maxElements > 0 && n > maxElements {
		n = maxElements
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", t.Data[i])
	}
	s := "[" + strings.Join(parts, ", ")
	if n < len(t.Data) {
		s += fmt.Sprintf(", ... (%d more)", len(t.Data)-n)
	}
	return s + "]"
}
