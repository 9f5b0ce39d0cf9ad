package training

// Optimizer updates model parameters from their accumulated gradients. All
// optimizers in the optimizer package satisfy it.
type Optimizer interface {
	ZeroGrad()   // Resets gradients for all parameters
	Step() error // Updates parameters based on gradients
}

// lrReporter is implemented by optimizers that expose a learning rate. The
// trainer records it in checkpoints.
type lrReporter interface {
	GetLR() float64
}

func learningRate(opt Optimizer) float64 {
	if r, ok := opt.(lrReporter); ok {
		return r.GetLR()
	}
	return 0
}
