// Package model defines network structure as pure configuration: layer
// specifications, shape and parameter accounting, and the trainability
// flags the staged training schedule flips between stages. Execution
// lives in the engine package.
package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// LayerType enumerates the layer kinds the compute engine executes.
type LayerType int

const (
	Conv2D LayerType = iota
	MaxPool2D
	Flatten
	Dense
	ReLU
	Dropout
	Sigmoid
)

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case MaxPool2D:
		return "MaxPool2D"
	case Flatten:
		return "Flatten"
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Dropout:
		return "Dropout"
	case Sigmoid:
		return "Sigmoid"
	default:
		return "Unknown"
	}
}

// LayerSpec is the configuration of a single layer. Shape fields are
// filled in during compilation.
type LayerSpec struct {
	Type LayerType `json:"type"`
	Name string    `json:"name"`

	// Conv2D
	InChannels  int `json:"in_channels,omitempty"`
	OutChannels int `json:"out_channels,omitempty"`
	KernelSize  int `json:"kernel_size,omitempty"`
	Stride      int `json:"stride,omitempty"`
	Padding     int `json:"padding,omitempty"`

	// MaxPool2D
	PoolSize int `json:"pool_size,omitempty"`

	// Dense
	InputSize  int `json:"input_size,omitempty"`
	OutputSize int `json:"output_size,omitempty"`

	// Dropout
	Rate float64 `json:"rate,omitempty"`

	// Trainable marks whether the optimizer may update this layer's
	// parameters. Backbone marks membership in the pretrained feature
	// extractor; only backbone layers are ever frozen.
	Trainable bool `json:"trainable"`
	Backbone  bool `json:"backbone"`

	// Computed during compilation. Shapes are per sample, CHW.
	InputShape     []int `json:"input_shape,omitempty"`
	OutputShape    []int `json:"output_shape,omitempty"`
	ParameterCount int64 `json:"parameter_count,omitempty"`
}

// Spec is a complete sequential model as configuration.
type Spec struct {
	Layers          []LayerSpec `json:"layers"`
	InputShape      []int       `json:"input_shape"`
	OutputShape     []int       `json:"output_shape"`
	TotalParameters int64       `json:"total_parameters"`
	Compiled        bool        `json:"compiled"`
}

// Compile computes per-layer shapes and parameter counts.
func (s *Spec) Compile() error {
	if len(s.Layers) == 0 {
		return errors.New("cannot compile empty model")
	}
	if len(s.InputShape) != 3 {
		return errors.Errorf("input shape must be [channels, height, width], got %v", s.InputShape)
	}

	cur := s.InputShape
	total := int64(0)

	for i := range s.Layers {
		l := &s.Layers[i]
		l.InputShape = append([]int(nil), cur...)

		out, params, err := computeLayerInfo(l, cur)
		if err != nil {
			return errors.Wrapf(err, "layer %d (%s)", i, l.Name)
		}
		l.OutputShape = out
		l.ParameterCount = params
		total += params
		cur = out
	}

	s.OutputShape = cur
	s.TotalParameters = total
	s.Compiled = true
	return nil
}

func computeLayerInfo(l *LayerSpec, in []int) ([]int, int64, error) {
	switch l.Type {
	case Conv2D:
		if len(in) != 3 {
			return nil, 0, errors.Errorf("Conv2D requires CHW input, got %v", in)
		}
		if l.KernelSize <= 0 || l.OutChannels <= 0 {
			return nil, 0, errors.Errorf("Conv2D needs kernel_size and out_channels")
		}
		if l.Stride == 0 {
			l.Stride = 1
		}
		l.InChannels = in[0]
		outH := (in[1]+2*l.Padding-l.KernelSize)/l.Stride + 1
		outW := (in[2]+2*l.Padding-l.KernelSize)/l.Stride + 1
		if outH <= 0 || outW <= 0 {
			return nil, 0, errors.Errorf("Conv2D output collapses to %dx%d", outH, outW)
		}
		params := int64(l.OutChannels*l.InChannels*l.KernelSize*l.KernelSize + l.OutChannels)
		return []int{l.OutChannels, outH, outW}, params, nil

	case MaxPool2D:
		if len(in) != 3 {
			return nil, 0, errors.Errorf("MaxPool2D requires CHW input, got %v", in)
		}
		if l.PoolSize <= 0 {
			return nil, 0, errors.Errorf("MaxPool2D needs pool_size")
		}
		outH := in[1] / l.PoolSize
		outW := in[2] / l.PoolSize
		if outH <= 0 || outW <= 0 {
			return nil, 0, errors.Errorf("MaxPool2D output collapses to %dx%d", outH, outW)
		}
		return []int{in[0], outH, outW}, 0, nil

	case Flatten:
		n := 1
		for _, d := range in {
			n *= d
		}
		return []int{n}, 0, nil

	case Dense:
		if len(in) != 1 {
			return nil, 0, errors.Errorf("Dense requires flat input, got %v", in)
		}
		if l.OutputSize <= 0 {
			return nil, 0, errors.Errorf("Dense needs output_size")
		}
		l.InputSize = in[0]
		params := int64(l.InputSize*l.OutputSize + l.OutputSize)
		return []int{l.OutputSize}, params, nil

	case ReLU, Dropout, Sigmoid:
		return append([]int(nil), in...), 0, nil

	default:
		return nil, 0, errors.Errorf("unsupported layer type %s", l.Type)
	}
}

// LayerIndex returns the index of the named layer, or -1.
func (s *Spec) LayerIndex(name string) int {
	for i := range s.Layers {
		if s.Layers[i].Name == name {
			return i
		}
	}
	return -1
}

// SetTrainableFrom sets the trainability boundary inside the backbone:
// the named layer and every backbone layer after it become trainable,
// everything before it stays frozen. An empty name freezes the whole
// backbone. Head layers are always trainable.
func (s *Spec) SetTrainableFrom(name string) error {
	boundary := -1
	if name != "" {
		boundary = s.LayerIndex(name)
		if boundary < 0 {
			return errors.Errorf("unknown layer %q", name)
		}
		if !s.Layers[boundary].Backbone {
			return errors.Errorf("layer %q is not a backbone layer", name)
		}
	}

	for i := range s.Layers {
		l := &s.Layers[i]
		if !l.Backbone {
			l.Trainable = true
			continue
		}
		l.Trainable = boundary >= 0 && i >= boundary
	}
	return nil
}

// TrainableParameters counts the parameters the optimizer may update.
func (s *Spec) TrainableParameters() int64 {
	var n int64
	for i := range s.Layers {
		if s.Layers[i].Trainable {
			n += s.Layers[i].ParameterCount
		}
	}
	return n
}

// Summary renders the architecture dump written to model-structure.txt.
func (s *Spec) Summary() string {
	var sb strings.Builder
	if !s.Compiled {
		return "model not compiled"
	}
	fmt.Fprintf(&sb, "Input shape: %v\n", s.InputShape)
	fmt.Fprintf(&sb, "Output shape: %v\n", s.OutputShape)
	fmt.Fprintf(&sb, "Total parameters: %d\n", s.TotalParameters)
	fmt.Fprintf(&sb, "Trainable parameters: %d\n\n", s.TrainableParameters())

	for i, l := range s.Layers {
		marker := " "
		if l.Trainable && l.ParameterCount > 0 {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%3d %s %-22s %-10s %v -> %v params=%d\n",
			i, marker, l.Name, l.Type.String(), l.InputShape, l.OutputShape, l.ParameterCount)
	}
	return sb.String()
}
