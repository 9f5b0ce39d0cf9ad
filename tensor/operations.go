package tensor

import (
	"math"

	"github.com/pkg/errors"
)

// MatMulOp multiplies a [..., k] tensor by a [k, m] matrix.
type MatMulOp struct {
	a, b *Tensor
	rows int
	k, m int
}

func (op *MatMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MatMulOp) Backward(g *Tensor) ([]*Tensor, error) {
	var da, db *Tensor
	k, m := op.k, op.m
	if op.a.requiresGrad {
		out := make([]float64, op.rows*k)
		forEachRow(op.rows, op.a.workers(), func(start, end int) {
			for r := start; r < end; r++ {
				grow := g.Data[r*m : (r+1)*m]
				for p := 0; p < k; p++ {
					brow := op.b.Data[p*m : (p+1)*m]
					var s float64
					for j, v := range grow {
						s += v * brow[j]
					}
					out[r*k+p] = s
				}
			}
		})
		da = gradLike(op.a, out)
	}
	if op.b.requiresGrad {
		out := make([]float64, k*m)
		forEachRow(k, op.b.workers(), func(start, end int) {
			for p := start; p < end; p++ {
				orow := out[p*m : (p+1)*m]
				for r := 0; r < op.rows; r++ {
					av := op.a.Data[r*k+p]
					if av == 0 {
						continue
					}
					grow := g.Data[r*m : (r+1)*m]
					for j, v := range grow {
						orow[j] += av * v
					}
				}
			}
		})
		db = gradLike(op.b, out)
	}
	return []*Tensor{da, db}, nil
}

// MatMul multiplies a by the matrix b over a's last axis. Leading axes of a
// are treated as a batch.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 1 || len(b.Shape) != 2 {
		return nil, errors.Wrapf(ErrShape, "matmul of %v by %v", a.Shape, b.Shape)
	}
	k := a.Shape[len(a.Shape)-1]
	if b.Shape[0] != k {
		return nil, errors.Wrapf(ErrShape, "matmul inner dimensions %v x %v", a.Shape, b.Shape)
	}
	m := b.Shape[1]
	rows := 0
	if k > 0 {
		rows = len(a.Data) / k
	}

	out := make([]float64, rows*m)
	forEachRow(rows, a.workers(), func(start, end int) {
		for r := start; r < end; r++ {
			orow := out[r*m : (r+1)*m]
			for p := 0; p < k; p++ {
				av := a.Data[r*k+p]
				if av == 0 {
					continue
				}
				brow := b.Data[p*m : (p+1)*m]
				for j, bv := range brow {
					orow[j] += av * bv
				}
			}
		}
	})

	shape := append(cloneShape(a.Shape[:len(a.Shape)-1]), m)
	return result(shape, out, &MatMulOp{a: a, b: b, rows: rows, k: k, m: m}, a, b), nil
}

// AddBiasOp broadcasts a vector over the last axis of x.
type AddBiasOp struct {
	x, bias *Tensor
}

func (op *AddBiasOp) Inputs() []*Tensor { return []*Tensor{op.x, op.bias} }

func (op *AddBiasOp) Backward(g *Tensor) ([]*Tensor, error) {
	var dx, db *Tensor
	if op.x.requiresGrad {
		dx = g
	}
	if op.bias.requiresGrad {
		m := len(op.bias.Data)
		out := make([]float64, m)
		for i, v := range g.Data {
			out[i%m] += v
		}
		db = gradLike(op.bias, out)
	}
	return []*Tensor{dx, db}, nil
}

// AddBias adds bias to every row of x's last axis.
func AddBias(x, bias *Tensor) (*Tensor, error) {
	if len(bias.Shape) != 1 || len(x.Shape) == 0 || x.Shape[len(x.Shape)-1] != bias.Shape[0] {
		return nil, errors.Wrapf(ErrShape, "bias %v for input %v", bias.Shape, x.Shape)
	}
	m := bias.Shape[0]
	out := make([]float64, len(x.Data))
	for i, v := range x.Data {
		out[i] = v + bias.Data[i%m]
	}
	return result(cloneShape(x.Shape), out, &AddBiasOp{x: x, bias: bias}, x, bias), nil
}

// MulOp is elementwise multiplication of equally shaped tensors.
type MulOp struct {
	a, b *Tensor
}

func (op *MulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MulOp) Backward(g *Tensor) ([]*Tensor, error) {
	var da, db *Tensor
	if op.a.requiresGrad {
		out := make([]float64, len(g.Data))
		for i, v := range g.Data {
			out[i] = v * op.b.Data[i]
		}
		da = gradLike(op.a, out)
	}
	if op.b.requiresGrad {
		out := make([]float64, len(g.Data))
		for i, v := range g.Data {
			out[i] = v * op.a.Data[i]
		}
		db = gradLike(op.b, out)
	}
	return []*Tensor{da, db}, nil
}

// Mul multiplies a and b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !shapesEqual(a.Shape, b.Shape) {
		return nil, errors.Wrapf(ErrShape, "mul of %v and %v", a.Shape, b.Shape)
	}
	out := make([]float64, len(a.Data))
	for i := range out {
		out[i] = a.Data[i] * b.Data[i]
	}
	return result(cloneShape(a.Shape), out, &MulOp{a: a, b: b}, a, b), nil
}

// ReLUOp is max(0, x).
type ReLUOp struct {
	x *Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *ReLUOp) Backward(g *Tensor) ([]*Tensor, error) {
	out := make([]float64, len(g.Data))
	for i, v := range op.x.Data {
		if v > 0 {
			out[i] = g.Data[i]
		}
	}
	return []*Tensor{gradLike(op.x, out)}, nil
}

func ReLU(x *Tensor) *Tensor {
	out := make([]float64, len(x.Data))
	for i, v := range x.Data {
		if v > 0 {
			out[i] = v
		}
	}
	return result(cloneShape(x.Shape), out, &ReLUOp{x: x}, x)
}

// ReshapeOp changes shape without moving data.
type ReshapeOp struct {
	x *Tensor
}

func (op *ReshapeOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *ReshapeOp) Backward(g *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradLike(op.x, g.Data)}, nil
}

// Reshape returns x viewed with a new shape holding the same element count.
func Reshape(x *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != len(x.Data) {
		return nil, errors.Wrapf(ErrShape, "reshape %v to %v", x.Shape, shape)
	}
	return result(cloneShape(shape), x.Data, &ReshapeOp{x: x}, x), nil
}

// TransposeOp swaps two axes.
type TransposeOp struct {
	x          *Tensor
	dim0, dim1 int
}

func (op *TransposeOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *TransposeOp) Backward(g *Tensor) ([]*Tensor, error) {
	perm := swapPerm(len(g.Shape), op.dim0, op.dim1)
	data, _, err := permute(g, perm)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradLike(op.x, data)}, nil
}

// Transpose swaps axes dim0 and dim1. Negative axes count from the end.
func Transpose(x *Tensor, dim0, dim1 int) (*Tensor, error) {
	rank := len(x.Shape)
	d0, err := normalizeAxis(dim0, rank)
	if err != nil {
		return nil, errors.Wrapf(ErrShape, "transpose dim %d of %v", dim0, x.Shape)
	}
	d1, err := normalizeAxis(dim1, rank)
	if err != nil {
		return nil, errors.Wrapf(ErrShape, "transpose dim %d of %v", dim1, x.Shape)
	}
	if d0 == d1 {
		return Reshape(x, x.Shape)
	}

	data, shape, err := permute(x, swapPerm(rank, d0, d1))
	if err != nil {
		return nil, err
	}
	return result(shape, data, &TransposeOp{x: x, dim0: d0, dim1: d1}, x), nil
}

func swapPerm(rank, a, b int) []int {
	perm := make([]int, rank)
	for i := range perm {
		perm[i] = i
	}
	perm[a], perm[b] = perm[b], perm[a]
	return perm
}

// MSEOp is the mean squared error reduced to a scalar.
type MSEOp struct {
	pred, target *Tensor
}

func (op *MSEOp) Inputs() []*Tensor { return []*Tensor{op.pred, op.target} }

func (op *MSEOp) Backward(g *Tensor) ([]*Tensor, error) {
	n := float64(len(op.pred.Data))
	scale := 2 * g.Data[0] / n
	diff := make([]float64, len(op.pred.Data))
	for i := range diff {
		diff[i] = scale * (op.pred.Data[i] - op.target.Data[i])
	}
	var dp, dt *Tensor
	if op.pred.requiresGrad {
		dp = gradLike(op.pred, diff)
	}
	if op.target.requiresGrad {
		neg := make([]float64, len(diff))
		for i, v := range diff {
			neg[i] = -v
		}
		dt = gradLike(op.target, neg)
	}
	return []*Tensor{dp, dt}, nil
}

// MSE returns mean((pred-target)^2) as a [1] tensor.
func MSE(pred, target *Tensor) (*Tensor, error) {
	if !shapesEqual(pred.Shape, target.Shape) {
		return nil, errors.Wrapf(ErrShape, "mse of %v against %v", pred.Shape, target.Shape)
	}
	if len(pred.Data) == 0 {
		return nil, errors.Wrap(ErrShape, "mse of an empty tensor")
	}
	var s float64
	for i, p := range pred.Data {
		d := p - target.Data[i]
		s += d * d
	}
	return result([]int{1}, []float64{s / float64(len(pred.Data))}, &MSEOp{pred: pred, target: target}, pred, target), nil
}

// SoftmaxCrossEntropyOp fuses log-softmax over axis 1 with negative
// log-likelihood.
type SoftmaxCrossEntropyOp struct {
	logits  *Tensor
	probs   []float64
	labels  []int
	classes int
	inner   int
}

func (op *SoftmaxCrossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.logits} }

func (op *SoftmaxCrossEntropyOp) Backward(g *Tensor) ([]*Tensor, error) {
	count := len(op.labels)
	scale := g.Data[0] / float64(count)
	out := make([]float64, len(op.probs))
	for i, p := range op.probs {
		out[i] = p * scale
	}
	for pos, label := range op.labels {
		n, s := pos/op.inner, pos%op.inner
		out[(n*op.classes+label)*op.inner+s] -= scale
	}
	return []*Tensor{gradLike(op.logits, out)}, nil
}

// SoftmaxCrossEntropy computes the mean cross entropy of channel-first
// logits [N, C, d1...] against class indices [N, d1...].
func SoftmaxCrossEntropy(logits, labels *Tensor) (*Tensor, error) {
	if len(logits.Shape) < 2 || len(labels.Shape) != len(logits.Shape)-1 || labels.Shape[0] != logits.Shape[0] {
		return nil, errors.Wrapf(ErrShape, "cross entropy of %v against %v", logits.Shape, labels.Shape)
	}
	for i := 2; i < len(logits.Shape); i++ {
		if logits.Shape[i] != labels.Shape[i-1] {
			return nil, errors.Wrapf(ErrShape, "cross entropy of %v against %v", logits.Shape, labels.Shape)
		}
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	inner := calculateNumElements(logits.Shape[2:])
	count := n * inner
	if count == 0 || classes == 0 {
		return nil, errors.Wrap(ErrShape, "cross entropy of an empty tensor")
	}

	idx := make([]int, count)
	for i, v := range labels.Data {
		c := int(v)
		if float64(c) != v || c < 0 || c >= classes {
			return nil, errors.Errorf("label %v out of range for %d classes", v, classes)
		}
		idx[i] = c
	}

	probs := make([]float64, len(logits.Data))
	var total float64
	for pos := 0; pos < count; pos++ {
		b, s := pos/inner, pos%inner
		at := func(c int) int { return (b*classes+c)*inner + s }
		maxv := math.Inf(-1)
		for c := 0; c < classes; c++ {
			maxv = math.Max(maxv, logits.Data[at(c)])
		}
		var sum float64
		for c := 0; c < classes; c++ {
			e := math.Exp(logits.Data[at(c)] - maxv)
			probs[at(c)] = e
			sum += e
		}
		for c := 0; c < classes; c++ {
			probs[at(c)] /= sum
		}
		total += math.Log(sum) + maxv - logits.Data[at(idx[pos])]
	}

	op := &SoftmaxCrossEntropyOp{logits: logits, probs: probs, labels: idx, classes: classes, inner: inner}
	return result([]int{1}, []float64{total / float64(count)}, op, logits), nil
}
