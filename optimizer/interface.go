// Package optimizer implements first-order optimizers that update tensor
// parameters in place from their accumulated gradients.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/tensor"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	// Step applies one update using the parameters' current gradients.
	// Parameters without a gradient are skipped.
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)
	LoadState(state *OptimizerState) error
	GetStepCount() uint64
}

// OptimizerState is the serialisable state of an optimizer. StateData holds
// per-parameter buffers named "<kind>_<index>".
type OptimizerState struct {
	Type       string                `json:"type"`
	StepCount  uint64                `json:"step_count"`
	Parameters map[string]float64    `json:"parameters"`
	StateData  checkpoints.StateDict `json:"state_data"`
}

// Config selects and parameterises an optimizer by name.
type Config struct {
	Name         string
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
}

// New builds the optimizer named in cfg ("adam", "sgd" or "rmsprop") over params.
func New(cfg Config, params []*tensor.Tensor) (Optimizer, error) {
	if cfg.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	switch strings.ToLower(cfg.Name) {
	case "", "adam":
		c := DefaultAdamConfig()
		c.LearningRate = cfg.LearningRate
		c.WeightDecay = cfg.WeightDecay
		return NewAdam(params, c), nil
	case "sgd":
		c := DefaultSGDConfig()
		c.LearningRate = cfg.LearningRate
		c.Momentum = cfg.Momentum
		c.WeightDecay = cfg.WeightDecay
		return NewSGD(params, c), nil
	case "rmsprop":
		c := DefaultRMSPropConfig()
		c.LearningRate = cfg.LearningRate
		c.Momentum = cfg.Momentum
		c.WeightDecay = cfg.WeightDecay
		return NewRMSProp(params, c), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q", cfg.Name)
	}
}

// gradWithDecay returns grad + weightDecay*param as a fresh slice, or the
// gradient itself when there is no decay.
func gradWithDecay(param *tensor.Tensor, weightDecay float64) []float64 {
	g := param.Grad().Data
	if weightDecay == 0 {
		return g
	}
	out := make([]float64, len(g))
	for i, v := range g {
		out[i] = v + weightDecay*param.Data[i]
	}
	return out
}

func newBuffers(params []*tensor.Tensor) [][]float64 {
	bufs := make([][]float64, len(params))
	for i, p := range params {
		bufs[i] = make([]float64, len(p.Data))
	}
	return bufs
}

func bufferName(kind string, idx int) string {
	return fmt.Sprintf("%s_%d", kind, idx)
}

func exportBuffers(sd checkpoints.StateDict, kind string, bufs [][]float64) checkpoints.StateDict {
	for i, b := range bufs {
		sd = append(sd, checkpoints.WeightTensor{
			Name:  bufferName(kind, i),
			Shape: []int{len(b)},
			Data:  append([]float64(nil), b...),
		})
	}
	return sd
}

func importBuffers(sd checkpoints.StateDict, kind string, bufs [][]float64) error {
	for i, b := range bufs {
		w, ok := sd.Lookup(bufferName(kind, i))
		if !ok {
			return errors.Errorf("missing state buffer %s", bufferName(kind, i))
		}
		if len(w.Data) != len(b) {
			return errors.Errorf("state buffer %s: expected %d values, got %d", w.Name, len(b), len(w.Data))
		}
	}
	for i, b := range bufs {
		w, _ := sd.Lookup(bufferName(kind, i))
		copy(b, w.Data)
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return errors.New("nil optimizer state")
	}
	if state.Type != optimizerType {
		return errors.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
