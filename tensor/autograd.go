package tensor

import (
	"github.com/pkg/errors"
)

// Backward computes gradients of t with respect to every leaf that requires
// them, seeding with ones. Gradients accumulate into the leaves' Grad.
func (t *Tensor) Backward() error {
	seed, err := Ones(t.Shape, t.Device)
	if err != nil {
		return err
	}
	return t.BackwardWithGrad(seed)
}

// BackwardWithGrad runs backpropagation from t seeded with grad.
func (t *Tensor) BackwardWithGrad(grad *Tensor) error {
	if !t.requiresGrad {
		return errors.New("backward on a tensor that does not require grad")
	}
	if !shapesEqual(grad.Shape, t.Shape) {
		return errors.Wrapf(ErrShape, "seed gradient %v for tensor %v", grad.Shape, t.Shape)
	}

	order := topoSort(t)
	grads := map[*Tensor]*Tensor{t: grad}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			if node.requiresGrad {
				accumulateLeaf(node, g)
			}
			continue
		}

		inGrads, err := node.creator.Backward(g)
		if err != nil {
			return errors.Wrap(err, "backward")
		}
		for j, in := range node.creator.Inputs() {
			if j >= len(inGrads) || inGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if prev, ok := grads[in]; ok {
				grads[in] = addFresh(prev, inGrads[j])
			} else {
				grads[in] = inGrads[j]
			}
		}
	}
	return nil
}

// topoSort returns the graph reachable from root with inputs ordered before
// the nodes that consume them.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				if in.requiresGrad {
					visit(in)
				}
			}
		}
		order = append(order, n)
	}
	visit(root)
	return order
}

func accumulateLeaf(leaf, g *Tensor) {
	if leaf.grad == nil {
		leaf.grad = &Tensor{Shape: cloneShape(leaf.Shape), Data: make([]float64, len(leaf.Data)), Device: leaf.Device}
	}
	for i, v := range g.Data {
		leaf.grad.Data[i] += v
	}
}

func addFresh(a, b *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i := range out {
		out[i] = a.Data[i] + b.Data[i]
	}
	return &Tensor{Shape: cloneShape(a.Shape), Data: out, Device: a.Device}
}

// result builds an op output, recording op only when an input needs gradients.
func result(shape []int, data []float64, op Operation, inputs ...*Tensor) *Tensor {
	out := &Tensor{Shape: shape, Data: data, Device: inputs[0].Device}
	for _, in := range inputs {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	return out
}

func gradLike(t *Tensor, data []float64) *Tensor {
	return &Tensor{Shape: cloneShape(t.Shape), Data: data, Device: t.Device}
}
