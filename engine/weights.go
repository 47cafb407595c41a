package engine

import (
	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/pkg/errors"
)

// Tensor is one named parameter tensor in export form.
type Tensor struct {
	Layer string    `json:"layer"`
	Kind  string    `json:"kind"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

const (
	KindWeight = "weight"
	KindBias   = "bias"
)

// ExportWeights copies every parameter tensor out of the network, in
// layer order.
func (n *Network) ExportWeights() []Tensor {
	var out []Tensor
	for i := range n.spec.Layers {
		l := &n.spec.Layers[i]
		if l.ParameterCount == 0 {
			continue
		}
		s := &n.states[i]
		out = append(out,
			Tensor{Layer: l.Name, Kind: KindWeight, Shape: weightShape(l), Data: append([]float32(nil), s.w...)},
			Tensor{Layer: l.Name, Kind: KindBias, Shape: []int{len(s.b)}, Data: append([]float32(nil), s.b...)},
		)
	}
	return out
}

// LoadWeights copies tensors into matching layers by name. Unknown
// layer names and size mismatches are errors; layers absent from the
// tensor list keep their current values, so a backbone-only weight
// file leaves the head initialized.
func (n *Network) LoadWeights(tensors []Tensor) error {
	for _, t := range tensors {
		i := n.spec.LayerIndex(t.Layer)
		if i < 0 {
			return errors.Errorf("weights reference unknown layer %q", t.Layer)
		}
		s := &n.states[i]
		var dst []float32
		switch t.Kind {
		case KindWeight:
			dst = s.w
		case KindBias:
			dst = s.b
		default:
			return errors.Errorf("layer %s: unknown tensor kind %q", t.Layer, t.Kind)
		}
		if len(dst) != len(t.Data) {
			return errors.Errorf("layer %s %s: got %d values, layer holds %d",
				t.Layer, t.Kind, len(t.Data), len(dst))
		}
		copy(dst, t.Data)
	}
	return nil
}

func weightShape(l *model.LayerSpec) []int {
	switch l.Type {
	case model.Conv2D:
		return []int{l.OutChannels, l.InChannels, l.KernelSize, l.KernelSize}
	case model.Dense:
		return []int{l.OutputSize, l.InputSize}
	default:
		return nil
	}
}
