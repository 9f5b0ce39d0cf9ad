package training

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.NewTensor(shape, data, nil)
	if err != nil {
		t.Fatalf("NewTensor(%v): %v", shape, err)
	}
	return x
}

// sliceProvider replays a fixed list of batches.
type sliceProvider struct {
	batches []*Batch
	pos     int
	resets  int
}

func (p *sliceProvider) Len() int      { return len(p.batches) }
func (p *sliceProvider) HasNext() bool { return p.pos < len(p.batches) }
func (p *sliceProvider) Reset() error {
	p.pos = 0
	p.resets++
	return nil
}
func (p *sliceProvider) Next() (*Batch, error) {
	if p.pos >= len(p.batches) {
		return nil, nil
	}
	b := p.batches[p.pos]
	p.pos++
	return b, nil
}

// uniformProvider returns batches of the given sizes with features [n, 1]
// and labels [n, 1] filled with ones.
func uniformProvider(t *testing.T, sizes ...int) *sliceProvider {
	t.Helper()
	p := &sliceProvider{}
	for _, n := range sizes {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		p.batches = append(p.batches, &Batch{
			Features: mustTensor(t, []int{n, 1}, ones),
			Labels:   mustTensor(t, []int{n, 1}, ones),
		})
	}
	return p
}

// identityModel multiplies its input by an identity matrix parameter, so
// predictions equal the features while gradients still flow.
type identityModel struct {
	weight   *tensor.Tensor
	training bool
	layout   Layout
	placedOn device.Device
}

func newIdentityModel(t *testing.T, features int) *identityModel {
	t.Helper()
	eye := make([]float64, features*features)
	for i := 0; i < features; i++ {
		eye[i*features+i] = 1
	}
	w := mustTensor(t, []int{features, features}, eye)
	w.SetRequiresGrad(true)
	return &identityModel{weight: w, training: true}
}

func (m *identityModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	w := m.weight
	if !m.training {
		w = w.Detach()
	}
	return tensor.MatMul(x, w)
}

func (m *identityModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.weight} }
func (m *identityModel) Train()                       { m.training = true }
func (m *identityModel) Eval()                        { m.training = false }
func (m *identityModel) OutputLayout() Layout         { return m.layout }

func (m *identityModel) To(dev device.Device) error {
	m.placedOn = dev
	m.weight.MoveTo(dev)
	return nil
}

func (m *identityModel) StateDict() checkpoints.StateDict {
	return checkpoints.StateDict{{
		Name:  "weight",
		Shape: m.weight.Size(),
		Data:  append([]float64(nil), m.weight.Data...),
	}}
}

func (m *identityModel) LoadStateDict(sd checkpoints.StateDict) error {
	w, ok := sd.Lookup("weight")
	if !ok || len(w.Data) != len(m.weight.Data) {
		return errors.New("weight missing or wrong size")
	}
	copy(m.weight.Data, w.Data)
	return nil
}

// markerOptimizer adds 1 to the first weight on every step so each epoch
// leaves a distinct model state.
type markerOptimizer struct {
	model     *identityModel
	zeroGrads int
	steps     int
	err       error
}

func (o *markerOptimizer) ZeroGrad() {
	o.zeroGrads++
	tensor.ZeroGrad(o.model.Parameters())
}

func (o *markerOptimizer) Step() error {
	if o.err != nil {
		return o.err
	}
	o.steps++
	o.model.weight.Data[0]++
	return nil
}

func (o *markerOptimizer) GetLR() float64 { return 0.5 }

// lossFunc adapts a function to Loss.
type lossFunc func(pred, labels *tensor.Tensor) (*tensor.Tensor, error)

func (f lossFunc) Forward(pred, labels *tensor.Tensor) (*tensor.Tensor, error) { return f(pred, labels) }

// scalarLoss returns v as a differentiable leaf.
func scalarLoss(v float64) *tensor.Tensor {
	l := tensor.FromScalar(v, nil)
	l.SetRequiresGrad(true)
	return l
}

// recordingCheckpointer keeps every checkpoint it is asked to save.
type recordingCheckpointer struct {
	epochs []int
	saved  []*checkpoints.Checkpoint
	paths  []string
	err    error
}

func (r *recordingCheckpointer) SaveCheckpoint(c *checkpoints.Checkpoint, path string) error {
	if r.err != nil {
		return r.err
	}
	r.epochs = append(r.epochs, c.TrainingState.Epoch)
	r.saved = append(r.saved, c)
	r.paths = append(r.paths, path)
	return nil
}

func cpuResolver() *device.Resolver {
	return device.NewResolver()
}

// collect attaches a channel observer to a fresh Progress.
func collect() (*Progress, <-chan EpochMetrics) {
	p := NewProgress()
	return p, p.Channel(64)
}

func drain(p *Progress, ch <-chan EpochMetrics) []EpochMetrics {
	var got []EpochMetrics
	done := make(chan struct{})
	go func() {
		for m := range ch {
			got = append(got, m)
		}
		close(done)
	}()
	p.Close()
	<-done
	return got
}
