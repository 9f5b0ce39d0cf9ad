package layers

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/tensor"
)

// Module is one executable layer.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// Linear implements y = xW + b over the last axis of x.
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform weights and
// zero bias.
func NewLinear(inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, -bound, bound, rng, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create weight tensor")
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight, training: true}
	if bias {
		b, err := tensor.Zeros([]int{outputSize}, nil)
		if err != nil {
			return nil, errors.Wrap(err, "create bias tensor")
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}
	return l, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	w, b := l.weight, l.bias
	if !l.training {
		w = w.Detach()
		if b != nil {
			b = b.Detach()
		}
	}
	out, err := tensor.MatMul(input, w)
	if err != nil {
		return nil, errors.Wrapf(err, "linear %v -> %v", input.Shape, l.weight.Shape)
	}
	if b != nil {
		out, err = tensor.AddBias(out, b)
		if err != nil {
			return nil, errors.Wrap(err, "bias addition")
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// ReLUModule applies max(0, x).
type ReLUModule struct {
	training bool
}

func NewReLU() *ReLUModule {
	return &ReLUModule{training: true}
}

func (r *ReLUModule) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLU(input), nil
}

func (r *ReLUModule) Parameters() []*tensor.Tensor { return nil }
func (r *ReLUModule) Train()                       { r.training = true }
func (r *ReLUModule) Eval()                        { r.training = false }
func (r *ReLUModule) IsTraining() bool             { return r.training }

// DropoutModule zeroes activations with probability rate during training and
// scales survivors by 1/(1-rate). It is the identity in eval mode.
type DropoutModule struct {
	rate     float64
	rng      *rand.Rand
	training bool
}

func NewDropout(rate float64, rng *rand.Rand) *DropoutModule {
	return &DropoutModule{rate: rate, rng: rng, training: true}
}

func (d *DropoutModule) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.rate == 0 {
		return input, nil
	}
	keep := 1 / (1 - d.rate)
	mask := make([]float64, len(input.Data))
	for i := range mask {
		if d.rng.Float64() >= d.rate {
			mask[i] = keep
		}
	}
	m := &tensor.Tensor{Shape: input.Size(), Data: mask, Device: input.Device}
	return tensor.Mul(input, m)
}

func (d *DropoutModule) Parameters() []*tensor.Tensor { return nil }
func (d *DropoutModule) Train()                       { d.training = true }
func (d *DropoutModule) Eval()                        { d.training = false }
func (d *DropoutModule) IsTraining() bool             { return d.training }

// Sequential runs modules in order and owns their parameters by name.
type Sequential struct {
	spec     *ModelSpec
	modules  []Module
	names    []string
	training bool
}

// Build instantiates a compiled spec. seed drives weight initialisation and
// dropout masks.
func Build(spec *ModelSpec, seed int64) (*Sequential, error) {
	if spec == nil || !spec.Compiled {
		return nil, errors.New("model spec is not compiled")
	}
	rng := rand.New(rand.NewSource(seed))
	s := &Sequential{spec: spec, training: true}

	for _, layer := range spec.Layers {
		var m Module
		switch layer.Type {
		case Dense:
			in := layer.InputShape[len(layer.InputShape)-1]
			l, err := NewLinear(in, layer.Units, layer.UseBias, rng)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %s", layer.Name)
			}
			m = l
		case ReLU:
			m = NewReLU()
		case Dropout:
			m = NewDropout(layer.Rate, rand.New(rand.NewSource(rng.Int63())))
		default:
			return nil, errors.Errorf("layer %s: unsupported type %s", layer.Name, layer.Type)
		}
		s.modules = append(s.modules, m)
		s.names = append(s.names, layer.Name)
	}
	return s, nil
}

// NewRegressionModel builds the features -> hidden -> ReLU -> dropout ->
// outputs network.
func NewRegressionModel(features, hidden, outputs int, dropout float64, seed int64) (*Sequential, error) {
	spec, err := RegressionSpec(features, hidden, outputs, dropout)
	if err != nil {
		return nil, err
	}
	return Build(spec, seed)
}

func (s *Sequential) Spec() *ModelSpec { return s.spec }

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	for i, m := range s.modules {
		var err error
		out, err = m.Forward(out)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %s", s.names[i])
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// NamedParameters pairs every parameter with a "layer.weight" or
// "layer.bias" name.
func (s *Sequential) NamedParameters() ([]string, []*tensor.Tensor) {
	var names []string
	var params []*tensor.Tensor
	for i, m := range s.modules {
		for j, p := range m.Parameters() {
			suffix := "weight"
			if j > 0 {
				suffix = "bias"
			}
			names = append(names, s.names[i]+"."+suffix)
			params = append(params, p)
		}
	}
	return names, params
}

func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// To places every parameter on dev in place.
func (s *Sequential) To(dev device.Device) error {
	for _, p := range s.Parameters() {
		p.MoveTo(dev)
	}
	return nil
}

// StateDict returns a deep copy of all parameters.
func (s *Sequential) StateDict() checkpoints.StateDict {
	names, params := s.NamedParameters()
	sd := make(checkpoints.StateDict, len(params))
	for i, p := range params {
		sd[i] = checkpoints.WeightTensor{
			Name:  names[i],
			Shape: p.Size(),
			Data:  append([]float64(nil), p.Data...),
		}
	}
	return sd
}

// LoadStateDict copies values from sd into the matching parameters. Every
// parameter must be present with the same shape.
func (s *Sequential) LoadStateDict(sd checkpoints.StateDict) error {
	names, params := s.NamedParameters()
	if len(sd) != len(params) {
		return errors.Errorf("state dict has %d tensors, model has %d parameters", len(sd), len(params))
	}
	for i, p := range params {
		w, ok := sd.Lookup(names[i])
		if !ok {
			return errors.Errorf("state dict is missing %s", names[i])
		}
		if !tensor.ShapesEqual(w.Shape, p.Shape) {
			return errors.Errorf("%s: expected shape %v, got %v", names[i], p.Shape, w.Shape)
		}
		if len(w.Data) != len(p.Data) {
			return errors.Errorf("%s: expected %d values, got %d", names[i], len(p.Data), len(w.Data))
		}
	}
	for i, p := range params {
		w, _ := sd.Lookup(names[i])
		copy(p.Data, w.Data)
	}
	return nil
}
