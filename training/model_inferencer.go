package training

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/tensor"
)

// ModelInferencer runs a trained model forward without gradients or
// optimizer state.
type ModelInferencer struct {
	model  Model
	device device.Device
}

// NewModelInferencer resolves devicePreference, places model there and puts
// it in eval mode.
func NewModelInferencer(model Model, devicePreference string) (*ModelInferencer, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	dev, err := device.Resolve(devicePreference)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve device %q", devicePreference)
	}
	if p, ok := model.(Placer); ok {
		if err := p.To(dev); err != nil {
			return nil, errors.Wrapf(err, "place model on %s", dev)
		}
	}
	model.Eval()
	return &ModelInferencer{model: model, device: dev}, nil
}

func (mi *ModelInferencer) Device() device.Device { return mi.device }

// LoadWeights copies sd into the model.
func (mi *ModelInferencer) LoadWeights(sd checkpoints.StateDict) error {
	if err := mi.model.LoadStateDict(sd); err != nil {
		return errors.Wrap(err, "load weights")
	}
	return nil
}

// LoadCheckpoint restores the model from the checkpoint file at path.
func (mi *ModelInferencer) LoadCheckpoint(path string) (*checkpoints.Checkpoint, error) {
	return RestoreCheckpoint(mi.model, path)
}

// Predict runs the model on features. A single sample of rank 1 is treated
// as a batch of one and the batch dimension is kept in the result.
func (mi *ModelInferencer) Predict(features *tensor.Tensor) (*tensor.Tensor, error) {
	x := features.ToDevice(mi.device)
	if len(x.Shape) == 1 {
		var err error
		x, err = tensor.Reshape(x, []int{1, x.Shape[0]})
		if err != nil {
			return nil, err
		}
	}
	out, err := forward(mi.model, x)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	return out, nil
}

// PredictProvider runs every batch of provider and returns the flattened
// predictions alongside the flattened labels.
func (mi *ModelInferencer) PredictProvider(ctx context.Context, provider BatchProvider) ([]float64, []float64, error) {
	var preds, targets []float64
	batch, err := forEachBatch(ctx, provider, func(_ int, b *Batch) error {
		out, err := mi.Predict(b.Features)
		if err != nil {
			return err
		}
		if out.Numel() != b.Labels.Numel() {
			return errors.Wrapf(ErrShapeMismatch, "predictions %v against labels %v", out.Shape, b.Labels.Shape)
		}
		preds = append(preds, out.Data...)
		targets = append(targets, b.Labels.Data...)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "predict batch %d", batch)
	}
	return preds, targets, nil
}
