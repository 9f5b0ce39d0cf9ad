package tensor

import (
	"github.com/pkg/errors"
	gt "gorgonia.org/tensor"
)

// dense builds a gorgonia view over a private copy of t's data, so in-place
// gorgonia operations never touch t.
func (t *Tensor) dense() *gt.Dense {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return gt.New(gt.WithShape(t.Shape...), gt.WithBacking(data))
}

func float64Data(d *gt.Dense) ([]float64, error) {
	switch v := d.Data().(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	default:
		return nil, errors.Errorf("unexpected dense data type %T", v)
	}
}

func intData(d *gt.Dense) ([]int, error) {
	switch v := d.Data().(type) {
	case []int:
		return v, nil
	case int:
		return []int{v}, nil
	default:
		return nil, errors.Errorf("unexpected dense data type %T", v)
	}
}

// permute materialises t with its axes reordered by perm.
func permute(t *Tensor, perm []int) ([]float64, []int, error) {
	d := t.dense()
	if err := d.T(perm...); err != nil {
		return nil, nil, errors.Wrapf(err, "transpose %v by %v", t.Shape, perm)
	}
	if err := d.Transpose(); err != nil {
		return nil, nil, errors.Wrapf(err, "materialise transpose of %v", t.Shape)
	}
	data, err := float64Data(d)
	if err != nil {
		return nil, nil, err
	}
	return data, cloneShape(d.Shape()), nil
}

func normalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, errors.Errorf("axis out of range for rank %d", rank)
	}
	return axis, nil
}

// Argmax returns the index of the maximum along axis. The result holds the
// indices as float64 and drops the reduced axis; reducing a vector yields
// shape [1].
func Argmax(t *Tensor, axis int) (*Tensor, error) {
	axis, err := normalizeAxis(axis, len(t.Shape))
	if err != nil {
		return nil, err
	}
	res, err := t.dense().Argmax(axis)
	if err != nil {
		return nil, errors.Wrapf(err, "argmax over axis %d of %v", axis, t.Shape)
	}
	idx, err := intData(res)
	if err != nil {
		return nil, err
	}

	shape := make([]int, 0, len(t.Shape)-1)
	shape = append(shape, t.Shape[:axis]...)
	shape = append(shape, t.Shape[axis+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}

	data := make([]float64, len(idx))
	for i, v := range idx {
		data[i] = float64(v)
	}
	return &Tensor{Shape: shape, Data: data, Device: t.Device}, nil
}
