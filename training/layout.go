package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// layoutPlan is the fixed shape contract between the model's output and the
// loss input for one Fit call. It is derived from the first batch and then
// applied unchanged to every batch of every epoch.
type layoutPlan struct {
	moveChannel   bool
	predRank      int
	labelRank     int
	reshapeLabels bool
	labelTail     []int
}

// planLayout decides how predictions and labels are reconciled before the
// loss. Channel-first losses fed by a channel-last model of rank >= 3 get
// the trailing axis moved to axis 1. Labels whose per-sample element count
// matches the expected target shape are reshaped to it, so [N, 1] labels
// work with [N] targets and the other way around.
func planLayout(loss Loss, layout Layout, pred, labels *tensor.Tensor) (*layoutPlan, error) {
	p := &layoutPlan{predRank: len(pred.Shape), labelRank: len(labels.Shape)}
	if p.predRank == 0 || p.labelRank == 0 || pred.Shape[0] != labels.Shape[0] {
		return nil, errors.Wrapf(ErrShapeMismatch, "predictions %v against labels %v", pred.Shape, labels.Shape)
	}

	shape := pred.Size()
	var want []int
	if isChannelFirst(loss) {
		if p.predRank < 2 {
			return nil, errors.Wrapf(ErrShapeMismatch, "channel-first loss needs predictions of rank >= 2, got %v", pred.Shape)
		}
		if layout == ChannelLast && p.predRank >= 3 {
			p.moveChannel = true
			shape = append([]int{shape[0], shape[p.predRank-1]}, shape[1:p.predRank-1]...)
		}
		want = shape[2:]
	} else {
		want = shape[1:]
	}

	tail := labels.Shape[1:]
	switch {
	case tensor.ShapesEqual(tail, want):
	case numel(tail) == numel(want):
		p.reshapeLabels = true
		p.labelTail = append([]int(nil), want...)
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "predictions %v (reconciled %v) against labels %v", pred.Shape, shape, labels.Shape)
	}
	return p, nil
}

// apply reconciles one batch. Predictions keep their autograd history.
func (p *layoutPlan) apply(pred, labels *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(pred.Shape) != p.predRank || len(labels.Shape) != p.labelRank {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "predictions %v and labels %v do not match the run layout (ranks %d/%d)",
			pred.Shape, labels.Shape, p.predRank, p.labelRank)
	}

	var err error
	if p.moveChannel {
		for ax := p.predRank - 1; ax > 1; ax-- {
			pred, err = tensor.Transpose(pred, ax, ax-1)
			if err != nil {
				return nil, nil, errors.Wrap(err, "move channel axis")
			}
		}
	}
	if p.reshapeLabels {
		labels, err = tensor.Reshape(labels, append([]int{labels.Shape[0]}, p.labelTail...))
		if err != nil {
			return nil, nil, errors.Wrap(ErrShapeMismatch, err.Error())
		}
	}
	return pred, labels, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
