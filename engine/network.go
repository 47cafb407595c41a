// Package engine executes compiled models on the CPU: forward and
// backward passes, weighted binary cross-entropy, and the optimizers
// the run config selects between stages.
package engine

import (
	"math"
	"math/rand"

	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/pkg/errors"
)

const probEpsilon = 1e-7

// layerState holds the parameters, gradients, and forward caches for
// one layer. Parameter-free layers only use the caches.
type layerState struct {
	w, b   []float32
	dw, db []float32

	input  []float32
	output []float32
	mask   []float32
	argmax []int
}

// Network binds a compiled model spec to parameter storage and an
// optimizer. One network lives for the whole run; stages swap the
// optimizer and the trainability boundary, never the weights.
type Network struct {
	spec   *model.Spec
	states []layerState
	rng    *rand.Rand

	opt          Optimizer
	classWeights map[int]float64
}

// NewNetwork allocates and initializes parameters for a compiled spec.
// Weights use Xavier uniform initialization; biases start at zero.
func NewNetwork(spec *model.Spec, seed int64) (*Network, error) {
	if !spec.Compiled {
		return nil, errors.New("model spec must be compiled")
	}
	n := &Network{
		spec:   spec,
		states: make([]layerState, len(spec.Layers)),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for i := range spec.Layers {
		l := &spec.Layers[i]
		switch l.Type {
		case model.Conv2D:
			wn := l.OutChannels * l.InChannels * l.KernelSize * l.KernelSize
			fanIn := l.InChannels * l.KernelSize * l.KernelSize
			fanOut := l.OutChannels * l.KernelSize * l.KernelSize
			n.states[i] = newParamState(n.rng, wn, l.OutChannels, fanIn, fanOut)
		case model.Dense:
			n.states[i] = newParamState(n.rng, l.InputSize*l.OutputSize, l.OutputSize, l.InputSize, l.OutputSize)
		}
	}
	return n, nil
}

func newParamState(rng *rand.Rand, wn, bn, fanIn, fanOut int) layerState {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	s := layerState{
		w:  make([]float32, wn),
		b:  make([]float32, bn),
		dw: make([]float32, wn),
		db: make([]float32, bn),
	}
	for i := range s.w {
		s.w[i] = (rng.Float32()*2 - 1) * limit
	}
	return s
}

// Spec returns the model structure the network executes.
func (n *Network) Spec() *model.Spec { return n.spec }

// Compile attaches the optimizer and class weighting for the next
// training stage. Passing nil weights disables class weighting.
func (n *Network) Compile(opt Optimizer, classWeights map[int]float64) {
	n.opt = opt
	n.classWeights = classWeights
}

// Optimizer returns the optimizer attached by the last Compile.
func (n *Network) Optimizer() Optimizer { return n.opt }

func (n *Network) classWeight(label int) float64 {
	if n.classWeights == nil {
		return 1.0
	}
	w, ok := n.classWeights[label]
	if !ok {
		return 1.0
	}
	return w
}

func prod(shape []int) int {
	p := 1
	for _, d := range shape {
		p *= d
	}
	return p
}

// forward runs the batch through every layer, caching activations for
// a subsequent backward pass. Dropout is only active while training.
func (n *Network) forward(data []float32, batch int, training bool) ([]float32, error) {
	if len(data) != batch*prod(n.spec.InputShape) {
		return nil, errors.Errorf("batch data length %d does not match %d samples of shape %v",
			len(data), batch, n.spec.InputShape)
	}

	cur := data
	for i := range n.spec.Layers {
		l := &n.spec.Layers[i]
		s := &n.states[i]
		s.input = cur

		switch l.Type {
		case model.Conv2D:
			s.output = n.convForward(l, s, cur, batch)
		case model.MaxPool2D:
			s.output = n.poolForward(l, s, cur, batch)
		case model.Flatten:
			s.output = cur
		case model.Dense:
			s.output = n.denseForward(l, s, cur, batch)
		case model.ReLU:
			out := make([]float32, len(cur))
			for j, v := range cur {
				if v > 0 {
					out[j] = v
				}
			}
			s.output = out
		case model.Dropout:
			s.output = n.dropoutForward(l, s, cur, training)
		case model.Sigmoid:
			out := make([]float32, len(cur))
			for j, v := range cur {
				out[j] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
			}
			s.output = out
		default:
			return nil, errors.Errorf("layer %s: unsupported type %s", l.Name, l.Type)
		}
		cur = s.output
	}
	return cur, nil
}

func (n *Network) convForward(l *model.LayerSpec, s *layerState, in []float32, batch int) []float32 {
	ic, ih, iw := l.InputShape[0], l.InputShape[1], l.InputShape[2]
	oc, oh, ow := l.OutputShape[0], l.OutputShape[1], l.OutputShape[2]
	inSize := ic * ih * iw
	outSize := oc * oh * ow
	k, st, pad := l.KernelSize, l.Stride, l.Padding

	out := make([]float32, batch*outSize)
	for b := 0; b < batch; b++ {
		inBase := b * inSize
		outBase := b * outSize
		for o := 0; o < oc; o++ {
			wBase := o * ic * k * k
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					sum := s.b[o]
					for c := 0; c < ic; c++ {
						for ky := 0; ky < k; ky++ {
							iy := oy*st - pad + ky
							if iy < 0 || iy >= ih {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox*st - pad + kx
								if ix < 0 || ix >= iw {
									continue
								}
								sum += s.w[wBase+c*k*k+ky*k+kx] * in[inBase+c*ih*iw+iy*iw+ix]
							}
						}
					}
					out[outBase+o*oh*ow+oy*ow+ox] = sum
				}
			}
		}
	}
	return out
}

func (n *Network) poolForward(l *model.LayerSpec, s *layerState, in []float32, batch int) []float32 {
	c, ih, iw := l.InputShape[0], l.InputShape[1], l.InputShape[2]
	oh, ow := l.OutputShape[1], l.OutputShape[2]
	inSize := c * ih * iw
	outSize := c * oh * ow
	p := l.PoolSize

	out := make([]float32, batch*outSize)
	s.argmax = make([]int, batch*outSize)
	for b := 0; b < batch; b++ {
		inBase := b * inSize
		outBase := b * outSize
		for ch := 0; ch < c; ch++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := float32(math.Inf(-1))
					bestIdx := -1
					for ky := 0; ky < p; ky++ {
						iy := oy*p + ky
						for kx := 0; kx < p; kx++ {
							ix := ox*p + kx
							idx := inBase + ch*ih*iw + iy*iw + ix
							if in[idx] > best {
								best = in[idx]
								bestIdx = idx
							}
						}
					}
					oi := outBase + ch*oh*ow + oy*ow + ox
					out[oi] = best
					s.argmax[oi] = bestIdx
				}
			}
		}
	}
	return out
}

func (n *Network) denseForward(l *model.LayerSpec, s *layerState, in []float32, batch int) []float32 {
	out := make([]float32, batch*l.OutputSize)
	for b := 0; b < batch; b++ {
		inBase := b * l.InputSize
		outBase := b * l.OutputSize
		for o := 0; o < l.OutputSize; o++ {
			sum := s.b[o]
			wBase := o * l.InputSize
			for i := 0; i < l.InputSize; i++ {
				sum += s.w[wBase+i] * in[inBase+i]
			}
			out[outBase+o] = sum
		}
	}
	return out
}

func (n *Network) dropoutForward(l *model.LayerSpec, s *layerState, in []float32, training bool) []float32 {
	if !training {
		s.mask = nil
		return in
	}
	keep := float32(1.0 - l.Rate)
	s.mask = make([]float32, len(in))
	out := make([]float32, len(in))
	for i := range in {
		if n.rng.Float64() >= l.Rate {
			s.mask[i] = 1.0 / keep
			out[i] = in[i] * s.mask[i]
		}
	}
	return out
}
