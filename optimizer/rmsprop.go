package optimizer

import (
	"math"
	"sync"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/tensor"
)

type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	Momentum     float64
	WeightDecay  float64
}

func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
	}
}

// RMSProp scales updates by a running average of squared gradients.
type RMSProp struct {
	params   []*tensor.Tensor
	config   RMSPropConfig
	sqAvg    [][]float64
	momentum [][]float64
	step     uint64
	mu       sync.RWMutex
}

func NewRMSProp(params []*tensor.Tensor, config RMSPropConfig) *RMSProp {
	return &RMSProp{
		params:   params,
		config:   config,
		sqAvg:    newBuffers(params),
		momentum: newBuffers(params),
	}
}

func (r *RMSProp) Step() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.config
	for i, p := range r.params {
		if p.Grad() == nil {
			continue
		}
		g := gradWithDecay(p, c.WeightDecay)
		sq, buf := r.sqAvg[i], r.momentum[i]
		for j, gv := range g {
			sq[j] = c.Alpha*sq[j] + (1-c.Alpha)*gv*gv
			update := gv / (math.Sqrt(sq[j]) + c.Epsilon)
			if c.Momentum > 0 {
				buf[j] = c.Momentum*buf[j] + update
				update = buf[j]
			}
			p.Data[j] -= c.LearningRate * update
		}
	}
	r.step++
	return nil
}

func (r *RMSProp) ZeroGrad() {
	tensor.ZeroGrad(r.params)
}

func (r *RMSProp) GetLR() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.LearningRate
}

func (r *RMSProp) SetLR(lr float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.LearningRate = lr
}

func (r *RMSProp) GetStepCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.step
}

func (r *RMSProp) GetState() (*OptimizerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd := exportBuffers(checkpoints.StateDict{}, "squared_grad_avg", r.sqAvg)
	sd = exportBuffers(sd, "momentum", r.momentum)
	return &OptimizerState{
		Type:      "RMSProp",
		StepCount: r.step,
		Parameters: map[string]float64{
			"learning_rate": r.config.LearningRate,
			"alpha":         r.config.Alpha,
			"epsilon":       r.config.Epsilon,
			"momentum":      r.config.Momentum,
			"weight_decay":  r.config.WeightDecay,
		},
		StateData: sd,
	}, nil
}

func (r *RMSProp) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := importBuffers(state.StateData, "squared_grad_avg", r.sqAvg); err != nil {
		return err
	}
	if err := importBuffers(state.StateData, "momentum", r.momentum); err != nil {
		return err
	}
	r.step = state.StepCount
	if lr, ok := state.Parameters["learning_rate"]; ok {
		r.config.LearningRate = lr
	}
	return nil
}
