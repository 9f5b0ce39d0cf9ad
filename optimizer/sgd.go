package optimizer

import (
	"sync"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/tensor"
)

type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

func DefaultSGDConfig() SGDConfig {
	return SGDConfig{LearningRate: 0.01}
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	params     []*tensor.Tensor
	config     SGDConfig
	velocities [][]float64
	step       uint64
	mu         sync.RWMutex
}

func NewSGD(params []*tensor.Tensor, config SGDConfig) *SGD {
	return &SGD{params: params, config: config, velocities: newBuffers(params)}
}

func (sgd *SGD) Step() error {
	sgd.mu.Lock()
	defer sgd.mu.Unlock()

	c := sgd.config
	for i, p := range sgd.params {
		if p.Grad() == nil {
			continue
		}
		g := gradWithDecay(p, c.WeightDecay)
		if c.Momentum == 0 {
			for j, gv := range g {
				p.Data[j] -= c.LearningRate * gv
			}
			continue
		}

		v := sgd.velocities[i]
		for j, gv := range g {
			if sgd.step == 0 {
				v[j] = gv
			} else {
				v[j] = c.Momentum*v[j] + (1-c.Dampening)*gv
			}
			update := v[j]
			if c.Nesterov {
				update = gv + c.Momentum*v[j]
			}
			p.Data[j] -= c.LearningRate * update
		}
	}
	sgd.step++
	return nil
}

func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.params)
}

func (sgd *SGD) GetLR() float64 {
	sgd.mu.RLock()
	defer sgd.mu.RUnlock()
	return sgd.config.LearningRate
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.mu.Lock()
	defer sgd.mu.Unlock()
	sgd.config.LearningRate = lr
}

func (sgd *SGD) GetStepCount() uint64 {
	sgd.mu.RLock()
	defer sgd.mu.RUnlock()
	return sgd.step
}

func (sgd *SGD) GetState() (*OptimizerState, error) {
	sgd.mu.RLock()
	defer sgd.mu.RUnlock()
	nesterov := 0.0
	if sgd.config.Nesterov {
		nesterov = 1
	}
	return &OptimizerState{
		Type:      "SGD",
		StepCount: sgd.step,
		Parameters: map[string]float64{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"dampening":     sgd.config.Dampening,
			"weight_decay":  sgd.config.WeightDecay,
			"nesterov":      nesterov,
		},
		StateData: exportBuffers(checkpoints.StateDict{}, "momentum", sgd.velocities),
	}, nil
}

func (sgd *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	sgd.mu.Lock()
	defer sgd.mu.Unlock()
	if err := importBuffers(state.StateData, "momentum", sgd.velocities); err != nil {
		return err
	}
	sgd.step = state.StepCount
	if lr, ok := state.Parameters["learning_rate"]; ok {
		sgd.config.LearningRate = lr
	}
	return nil
}
