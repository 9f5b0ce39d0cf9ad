package training

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/device"
)

// EvaluationResult is the outcome of one evaluation pass.
type EvaluationResult struct {
	Loss    float64            `json:"loss"`
	Samples int                `json:"samples"`
	Metrics map[string]float64 `json:"metrics"`
}

// Evaluate runs model in eval mode over provider and reports the
// sample-weighted loss plus every reducer's value, keyed by name. Batches are
// used where they are; no device copy is made.
func Evaluate(ctx context.Context, model Model, loss Loss, provider BatchProvider, reducers ...MetricReducer) (*EvaluationResult, error) {
	return evaluateOn(ctx, nil, model, loss, provider, reducers)
}

// Evaluate runs the trainer's model over provider on the trainer's device.
// The trainer reads as Running for the duration, so Fit and Evaluate exclude
// each other with ErrTrainerBusy. The previous state is restored afterwards.
func (t *Trainer) Evaluate(ctx context.Context, provider BatchProvider, reducers ...MetricReducer) (*EvaluationResult, error) {
	prev, ok := t.begin()
	if !ok {
		return nil, ErrTrainerBusy
	}
	defer t.state.Store(int32(prev))
	return evaluateOn(ctx, t.device, t.model, t.criterion, provider, reducers)
}

func evaluateOn(ctx context.Context, dev device.Device, model Model, loss Loss, provider BatchProvider, reducers []MetricReducer) (*EvaluationResult, error) {
	if model == nil || loss == nil || provider == nil {
		return nil, errors.New("model, loss and provider are required")
	}
	model.Eval()

	ev := &evaluator{model: model, loss: loss, device: dev}
	mean, n, batch, err := ev.evaluate(ctx, provider, reducers...)
	if err != nil {
		if batch >= 0 {
			return nil, errors.Wrapf(err, "evaluate batch %d", batch)
		}
		return nil, errors.Wrap(err, "evaluate")
	}

	res := &EvaluationResult{Loss: mean, Samples: n, Metrics: make(map[string]float64, len(reducers))}
	for _, r := range reducers {
		res.Metrics[r.Name()] = r.Value()
	}
	return res, nil
}
