package optimizer

import (
	"math"
	"sync"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/tensor"
)

type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns the defaults from the Adam paper.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam optimizer with bias-corrected moments.
type Adam struct {
	params []*tensor.Tensor
	config AdamConfig
	m, v   [][]float64
	step   uint64
	mu     sync.RWMutex
}

func NewAdam(params []*tensor.Tensor, config AdamConfig) *Adam {
	return &Adam{params: params, config: config, m: newBuffers(params), v: newBuffers(params)}
}

func (adam *Adam) Step() error {
	adam.mu.Lock()
	defer adam.mu.Unlock()

	adam.step++
	c := adam.config
	bias1 := 1 - math.Pow(c.Beta1, float64(adam.step))
	bias2 := 1 - math.Pow(c.Beta2, float64(adam.step))

	for i, p := range adam.params {
		if p.Grad() == nil {
			continue
		}
		g := gradWithDecay(p, c.WeightDecay)
		m, v := adam.m[i], adam.v[i]
		for j, gv := range g {
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*gv
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*gv*gv
			mHat := m[j] / bias1
			vHat := v[j] / bias2
			p.Data[j] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
		}
	}
	return nil
}

func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.params)
}

func (adam *Adam) GetLR() float64 {
	adam.mu.RLock()
	defer adam.mu.RUnlock()
	return adam.config.LearningRate
}

func (adam *Adam) SetLR(lr float64) {
	adam.mu.Lock()
	defer adam.mu.Unlock()
	adam.config.LearningRate = lr
}

func (adam *Adam) GetStepCount() uint64 {
	adam.mu.RLock()
	defer adam.mu.RUnlock()
	return adam.step
}

func (adam *Adam) GetState() (*OptimizerState, error) {
	adam.mu.RLock()
	defer adam.mu.RUnlock()
	sd := exportBuffers(checkpoints.StateDict{}, "m", adam.m)
	sd = exportBuffers(sd, "v", adam.v)
	return &OptimizerState{
		Type:      "Adam",
		StepCount: adam.step,
		Parameters: map[string]float64{
			"learning_rate": adam.config.LearningRate,
			"beta1":         adam.config.Beta1,
			"beta2":         adam.config.Beta2,
			"epsilon":       adam.config.Epsilon,
			"weight_decay":  adam.config.WeightDecay,
		},
		StateData: sd,
	}, nil
}

func (adam *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	adam.mu.Lock()
	defer adam.mu.Unlock()
	if err := importBuffers(state.StateData, "m", adam.m); err != nil {
		return err
	}
	if err := importBuffers(state.StateData, "v", adam.v); err != nil {
		return err
	}
	adam.step = state.StepCount
	if lr, ok := state.Parameters["learning_rate"]; ok {
		adam.config.LearningRate = lr
	}
	return nil
}
