package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns a differentiable one-element tensor.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// ChannelFirstLoss is implemented by losses that expect the class dimension
// right after the batch dimension, [N, C, d1...], with targets [N, d1...].
type ChannelFirstLoss interface {
	ChannelFirst() bool
}

func isChannelFirst(l Loss) bool {
	cf, ok := l.(ChannelFirstLoss)
	return ok && cf.ChannelFirst()
}

// MSELoss implements Mean Squared Error loss function
type MSELoss struct {
	reduction string // "mean" or "sum"
}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss(reduction string) *MSELoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &MSELoss{reduction: reduction}
}

// Forward computes the MSE loss: L = (1/N) * sum((y_pred - y_true)^2)
func (mse *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.MSE(predicted, target)
	if err != nil {
		return nil, errors.Wrap(err, "mse loss")
	}
	if mse.reduction == "sum" {
		n := tensor.FromScalar(float64(predicted.Numel()), loss.Device)
		return tensor.Mul(loss, n)
	}
	return loss, nil
}

func (mse *MSELoss) ChannelFirst() bool { return false }

// CrossEntropyLoss combines softmax over the class dimension with negative
// log-likelihood. Predictions are logits [N, C, d1...]; targets hold class
// indices [N, d1...].
type CrossEntropyLoss struct{}

func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	loss, err := tensor.SoftmaxCrossEntropy(predicted, target)
	if err != nil {
		return nil, errors.Wrap(err, "cross entropy loss")
	}
	return loss, nil
}

func (ce *CrossEntropyLoss) ChannelFirst() bool { return true }
