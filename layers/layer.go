// Package layers describes feed-forward models as layer specifications and
// builds executable modules from them.
package layers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type LayerType int

const (
	Dense LayerType = iota
	ReLU
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// LayerSpec is the configuration of one layer. Shapes and parameter counts
// are filled in by Compile.
type LayerSpec struct {
	Type LayerType `json:"type"`
	Name string    `json:"name"`

	Units   int     `json:"units,omitempty"`
	UseBias bool    `json:"use_bias,omitempty"`
	Rate    float64 `json:"rate,omitempty"`

	InputShape      []int   `json:"input_shape,omitempty"`
	OutputShape     []int   `json:"output_shape,omitempty"`
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec is a compiled stack of layers.
type ModelSpec struct {
	Layers          []LayerSpec `json:"layers"`
	TotalParameters int64       `json:"total_parameters"`
	InputShape      []int       `json:"input_shape"`
	OutputShape     []int       `json:"output_shape"`
	Compiled        bool        `json:"compiled"`
}

// ModelBuilder assembles a ModelSpec fluently. The first error encountered is
// reported by Compile.
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	err        error
}

// NewModelBuilder creates a builder for inputs of inputShape, whose last
// axis is the feature axis.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{inputShape: append([]int(nil), inputShape...)}
}

func (mb *ModelBuilder) add(layer LayerSpec) *ModelBuilder {
	if layer.Name == "" {
		layer.Name = fmt.Sprintf("%s%d", strings.ToLower(layer.Type.String()), len(mb.layers)+1)
	}
	for _, l := range mb.layers {
		if l.Name == layer.Name && mb.err == nil {
			mb.err = errors.Errorf("duplicate layer name %q", layer.Name)
		}
	}
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a fully connected layer with the given number of units.
func (mb *ModelBuilder) AddDense(units int, useBias bool, name string) *ModelBuilder {
	if units <= 0 && mb.err == nil {
		mb.err = errors.Errorf("dense layer %q: units must be positive, got %d", name, units)
	}
	return mb.add(LayerSpec{Type: Dense, Name: name, Units: units, UseBias: useBias})
}

func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.add(LayerSpec{Type: ReLU, Name: name})
}

// AddDropout adds inverted dropout that zeroes activations with probability
// rate while training.
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	if (rate < 0 || rate >= 1) && mb.err == nil {
		mb.err = errors.Errorf("dropout layer %q: rate must be in [0, 1), got %v", name, rate)
	}
	return mb.add(LayerSpec{Type: Dropout, Name: name, Rate: rate})
}

// Compile validates the stack and computes shapes and parameter counts.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if mb.err != nil {
		return nil, mb.err
	}
	if len(mb.layers) == 0 {
		return nil, errors.New("cannot compile empty model")
	}
	if len(mb.inputShape) == 0 || mb.inputShape[len(mb.inputShape)-1] <= 0 {
		return nil, errors.Errorf("input shape %v has no feature axis", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: append([]int(nil), mb.inputShape...),
	}
	copy(model.Layers, mb.layers)

	current := model.InputShape
	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = append([]int(nil), current...)
		layer.OutputShape = append([]int(nil), current...)
		layer.ParameterShapes = nil
		layer.ParameterCount = 0

		if layer.Type == Dense {
			in := current[len(current)-1]
			layer.OutputShape[len(current)-1] = layer.Units
			layer.ParameterShapes = append(layer.ParameterShapes, []int{in, layer.Units})
			layer.ParameterCount = int64(in * layer.Units)
			if layer.UseBias {
				layer.ParameterShapes = append(layer.ParameterShapes, []int{layer.Units})
				layer.ParameterCount += int64(layer.Units)
			}
		}

		model.TotalParameters += layer.ParameterCount
		current = layer.OutputShape
	}
	model.OutputShape = append([]int(nil), current...)
	model.Compiled = true
	return model, nil
}

// InputFeatures is the size of the input feature axis.
func (ms *ModelSpec) InputFeatures() int {
	return ms.InputShape[len(ms.InputShape)-1]
}

// OutputFeatures is the size of the output feature axis.
func (ms *ModelSpec) OutputFeatures() int {
	return ms.OutputShape[len(ms.OutputShape)-1]
}

// Summary renders a per-layer table of shapes and parameter counts.
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Model Summary:\n")
	fmt.Fprintf(&b, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&b, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&b, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&b, "Layers: %d\n\n", len(ms.Layers))
	for i, layer := range ms.Layers {
		fmt.Fprintf(&b, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type)
		fmt.Fprintf(&b, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&b, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&b, "  Params: %d\n\n", layer.ParameterCount)
	}
	return b.String()
}

// RegressionSpec describes features -> hidden -> ReLU -> dropout -> outputs.
func RegressionSpec(features, hidden, outputs int, dropout float64) (*ModelSpec, error) {
	return NewModelBuilder([]int{1, features}).
		AddDense(hidden, true, "fc1").
		AddReLU("relu").
		AddDropout(dropout, "dropout").
		AddDense(outputs, true, "fc2").
		Compile()
}
