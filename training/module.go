package training

import (
	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/tensor"
)

// Model is the parameterized function being trained. layers.Sequential
// satisfies it.
type Model interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train() // Sets module to training mode
	Eval()  // Sets module to evaluation mode; Forward must not record gradients

	// StateDict returns a deep copy of the parameters. Later training must
	// not alter a returned snapshot.
	StateDict() checkpoints.StateDict
	LoadStateDict(sd checkpoints.StateDict) error
}

// AuxForwarder is implemented by models that return auxiliary outputs along
// with their predictions. The trainer calls ForwardAux when available and
// ignores everything but the first result.
type AuxForwarder interface {
	ForwardAux(input *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error)
}

// Placer is implemented by models that can move their parameters to a device.
type Placer interface {
	To(dev device.Device) error
}

// Layout describes where a model puts the channel (class) dimension.
type Layout int

const (
	// ChannelLast means predictions are [N, d1..., C]. This is the default.
	ChannelLast Layout = iota
	// ChannelFirst means predictions are [N, C, d1...].
	ChannelFirst
)

func (l Layout) String() string {
	if l == ChannelFirst {
		return "channel-first"
	}
	return "channel-last"
}

// LayoutDeclarer is implemented by models that declare their output layout.
type LayoutDeclarer interface {
	OutputLayout() Layout
}

func forward(m Model, x *tensor.Tensor) (*tensor.Tensor, error) {
	if aux, ok := m.(AuxForwarder); ok {
		out, _, err := aux.ForwardAux(x)
		return out, err
	}
	return m.Forward(x)
}

func modelLayout(m Model) Layout {
	if d, ok := m.(LayoutDeclarer); ok {
		return d.OutputLayout()
	}
	return ChannelLast
}
