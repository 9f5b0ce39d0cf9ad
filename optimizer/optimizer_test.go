package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-regress/tensor"
)

func param(t *testing.T, data []float64) *tensor.Tensor {
	t.Helper()
	w, err := tensor.NewTensor([]int{len(data)}, data, nil)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	w.SetRequiresGrad(true)
	return w
}

// lossBackward accumulates the gradient of mean((w-target)^2) into w.
func lossBackward(t *testing.T, w *tensor.Tensor, target []float64) {
	t.Helper()
	y, _ := tensor.NewTensor(w.Shape, target, nil)
	loss, err := tensor.MSE(w, y)
	if err != nil {
		t.Fatalf("MSE: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward: %v", err)
	}
}

func TestOptimizersConverge(t *testing.T) {
	tests := []struct {
		name  string
		build func(params []*tensor.Tensor) Optimizer
		steps int
	}{
		{"sgd", func(p []*tensor.Tensor) Optimizer { return NewSGD(p, SGDConfig{LearningRate: 0.1}) }, 300},
		{"sgd momentum", func(p []*tensor.Tensor) Optimizer {
			return NewSGD(p, SGDConfig{LearningRate: 0.05, Momentum: 0.9})
		}, 500},
		{"adam", func(p []*tensor.Tensor) Optimizer {
			c := DefaultAdamConfig()
			c.LearningRate = 0.05
			return NewAdam(p, c)
		}, 1500},
		{"rmsprop", func(p []*tensor.Tensor) Optimizer {
			c := DefaultRMSPropConfig()
			c.LearningRate = 0.01
			return NewRMSProp(p, c)
		}, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := param(t, []float64{5, -3})
			target := []float64{1, 2}
			opt := tt.build([]*tensor.Tensor{w})

			for i := 0; i < tt.steps; i++ {
				opt.ZeroGrad()
				lossBackward(t, w, target)
				if err := opt.Step(); err != nil {
					t.Fatalf("Step: %v", err)
				}
			}
			for i := range target {
				if math.Abs(w.Data[i]-target[i]) > 0.05 {
					t.Errorf("w[%d]: expected ~%v, got %v", i, target[i], w.Data[i])
				}
			}
			if opt.GetStepCount() != uint64(tt.steps) {
				t.Errorf("expected %d steps, got %d", tt.steps, opt.GetStepCount())
			}
		})
	}
}

func TestSGDSingleStep(t *testing.T) {
	w := param(t, []float64{1, 1})
	opt := NewSGD([]*tensor.Tensor{w}, SGDConfig{LearningRate: 0.5})

	lossBackward(t, w, []float64{0, 2})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// grad = (w-target) for a mean over 2 elements: [1, -1]
	if w.Data[0] != 0.5 || w.Data[1] != 1.5 {
		t.Errorf("expected [0.5 1.5], got %v", w.Data)
	}
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	w := param(t, []float64{0})
	c := DefaultAdamConfig()
	c.LearningRate = 0.1
	opt := NewAdam([]*tensor.Tensor{w}, c)

	lossBackward(t, w, []float64{10})
	opt.Step()
	if math.Abs(w.Data[0]-0.1) > 1e-6 {
		t.Errorf("expected first Adam step of lr, got %v", w.Data[0])
	}
}

func TestStepSkipsParametersWithoutGrad(t *testing.T) {
	w := param(t, []float64{3})
	opt := NewAdam([]*tensor.Tensor{w}, DefaultAdamConfig())
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if w.Data[0] != 3 {
		t.Errorf("parameter without gradient changed to %v", w.Data[0])
	}
}

func TestZeroGrad(t *testing.T) {
	w := param(t, []float64{1})
	opt := NewSGD([]*tensor.Tensor{w}, DefaultSGDConfig())
	lossBackward(t, w, []float64{0})
	opt.ZeroGrad()
	if w.Grad() != nil {
		t.Error("expected gradient to be cleared")
	}
}

func TestLearningRate(t *testing.T) {
	opt := NewRMSProp(nil, DefaultRMSPropConfig())
	opt.SetLR(0.123)
	if opt.GetLR() != 0.123 {
		t.Errorf("expected 0.123, got %v", opt.GetLR())
	}
}

func TestStateRoundTrip(t *testing.T) {
	makeAdam := func(w *tensor.Tensor) Optimizer {
		c := DefaultAdamConfig()
		c.LearningRate = 0.05
		return NewAdam([]*tensor.Tensor{w}, c)
	}

	a := param(t, []float64{5, -3})
	optA := makeAdam(a)
	for i := 0; i < 10; i++ {
		optA.ZeroGrad()
		lossBackward(t, a, []float64{1, 2})
		optA.Step()
	}
	state, err := optA.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	b := param(t, a.Data)
	optB := makeAdam(b)
	if err := optB.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	for _, pair := range []struct {
		w   *tensor.Tensor
		opt Optimizer
	}{{a, optA}, {b, optB}} {
		pair.opt.ZeroGrad()
		lossBackward(t, pair.w, []float64{1, 2})
		pair.opt.Step()
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Errorf("restored optimizer diverged at %d: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}

	t.Run("type mismatch", func(t *testing.T) {
		sgd := NewSGD([]*tensor.Tensor{b}, DefaultSGDConfig())
		if err := sgd.LoadState(state); err == nil {
			t.Fatal("expected type mismatch error")
		}
	})
}

func TestNew(t *testing.T) {
	w := param(t, []float64{1})
	for _, name := range []string{"adam", "SGD", "rmsprop", ""} {
		if _, err := New(Config{Name: name, LearningRate: 0.01}, []*tensor.Tensor{w}); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New(Config{Name: "lbfgs", LearningRate: 0.01}, nil); err == nil {
		t.Error("expected error for unknown optimizer")
	}
	if _, err := New(Config{Name: "adam"}, nil); err == nil {
		t.Error("expected error for zero learning rate")
	}
}
