package engine

import (
	"math"

	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/pkg/errors"
)

// batchLoss computes weighted binary cross-entropy and accuracy at the
// 0.5 threshold. Probabilities are clamped away from 0 and 1 before
// the logs.
func (n *Network) batchLoss(probs []float32, labels []int) (loss, acc float64) {
	correct := 0
	for i, label := range labels {
		p := float64(probs[i])
		if p < probEpsilon {
			p = probEpsilon
		} else if p > 1-probEpsilon {
			p = 1 - probEpsilon
		}
		w := n.classWeight(label)
		if label == 1 {
			loss -= w * math.Log(p)
		} else {
			loss -= w * math.Log(1-p)
		}
		pred := 0
		if probs[i] >= 0.5 {
			pred = 1
		}
		if pred == label {
			correct++
		}
	}
	nSamples := float64(len(labels))
	return loss / nSamples, float64(correct) / nSamples
}

// TrainBatch runs one optimizer step: forward with dropout active,
// backward through every trainable layer, then parameter updates.
func (n *Network) TrainBatch(data []float32, labels []int) (loss, acc float64, err error) {
	if n.opt == nil {
		return 0, 0, errors.New("network not compiled with an optimizer")
	}
	batch := len(labels)
	probs, err := n.forward(data, batch, true)
	if err != nil {
		return 0, 0, err
	}
	loss, acc = n.batchLoss(probs, labels)

	if err := n.backward(probs, labels); err != nil {
		return 0, 0, err
	}
	n.applyUpdates()
	return loss, acc, nil
}

// EvaluateBatch runs inference and scores it without touching weights.
func (n *Network) EvaluateBatch(data []float32, labels []int) (loss, acc float64, err error) {
	batch := len(labels)
	probs, err := n.forward(data, batch, false)
	if err != nil {
		return 0, 0, err
	}
	loss, acc = n.batchLoss(probs, labels)
	return loss, acc, nil
}

// Predict returns the positive-class probability for each sample.
func (n *Network) Predict(data []float32, batch int) ([]float64, error) {
	probs, err := n.forward(data, batch, false)
	if err != nil {
		return nil, err
	}
	out := make([]float64, batch)
	for i := range out {
		out[i] = float64(probs[i])
	}
	return out, nil
}

// firstTrainable is the earliest parameterized layer the optimizer may
// update; the backward pass does not propagate below it.
func (n *Network) firstTrainable() int {
	for i := range n.spec.Layers {
		l := &n.spec.Layers[i]
		if l.Trainable && l.ParameterCount > 0 {
			return i
		}
	}
	return len(n.spec.Layers)
}

// backward propagates loss gradients from the output down to the
// earliest trainable layer. The final sigmoid is folded into the loss
// gradient, so the pass starts at the layer before it.
func (n *Network) backward(probs []float32, labels []int) error {
	last := len(n.spec.Layers) - 1
	if n.spec.Layers[last].Type != model.Sigmoid {
		return errors.Errorf("output layer must be Sigmoid, got %s", n.spec.Layers[last].Type)
	}
	stop := n.firstTrainable()
	if stop > last {
		return errors.New("no trainable layers")
	}

	// d(loss)/d(logit) for sigmoid with binary cross-entropy, averaged
	// over the batch and scaled by the class weight.
	nSamples := float32(len(labels))
	grad := make([]float32, len(labels))
	for i, label := range labels {
		grad[i] = float32(n.classWeight(label)) * (probs[i] - float32(label)) / nSamples
	}

	for i := last - 1; i >= stop; i-- {
		l := &n.spec.Layers[i]
		s := &n.states[i]
		batch := len(labels)
		needInput := i > stop

		switch l.Type {
		case model.Conv2D:
			grad = n.convBackward(l, s, grad, batch, needInput)
		case model.MaxPool2D:
			grad = poolBackward(l, s, grad, batch)
		case model.Flatten:
			// identity
		case model.Dense:
			grad = n.denseBackward(l, s, grad, batch, needInput)
		case model.ReLU:
			next := make([]float32, len(grad))
			for j := range grad {
				if s.output[j] > 0 {
					next[j] = grad[j]
				}
			}
			grad = next
		case model.Dropout:
			if s.mask != nil {
				next := make([]float32, len(grad))
				for j := range grad {
					next[j] = grad[j] * s.mask[j]
				}
				grad = next
			}
		default:
			return errors.Errorf("layer %s: no backward for type %s", l.Name, l.Type)
		}
	}
	return nil
}

func (n *Network) convBackward(l *model.LayerSpec, s *layerState, dOut []float32, batch int, needInput bool) []float32 {
	ic, ih, iw := l.InputShape[0], l.InputShape[1], l.InputShape[2]
	oc, oh, ow := l.OutputShape[0], l.OutputShape[1], l.OutputShape[2]
	inSize := ic * ih * iw
	outSize := oc * oh * ow
	k, st, pad := l.KernelSize, l.Stride, l.Padding

	zero(s.dw)
	zero(s.db)
	var dIn []float32
	if needInput {
		dIn = make([]float32, batch*inSize)
	}

	for b := 0; b < batch; b++ {
		inBase := b * inSize
		outBase := b * outSize
		for o := 0; o < oc; o++ {
			wBase := o * ic * k * k
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					g := dOut[outBase+o*oh*ow+oy*ow+ox]
					if g == 0 {
						continue
					}
					s.db[o] += g
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
								wi := wBase + c*k*k + ky*k + kx
								ii := inBase + c*ih*iw + iy*iw + ix
								s.dw[wi] += g * s.input[ii]
								if needInput {
									dIn[ii] += g * s.w[wi]
								}
							}
						}
					}
				}
			}
		}
	}
	return dIn
}

func poolBackward(l *model.LayerSpec, s *layerState, dOut []float32, batch int) []float32 {
	dIn := make([]float32, batch*prod(l.InputShape))
	for i, g := range dOut {
		dIn[s.argmax[i]] += g
	}
	return dIn
}

func (n *Network) denseBackward(l *model.LayerSpec, s *layerState, dOut []float32, batch int, needInput bool) []float32 {
	zero(s.dw)
	zero(s.db)
	var dIn []float32
	if needInput {
		dIn = make([]float32, batch*l.InputSize)
	}
	for b := 0; b < batch; b++ {
		inBase := b * l.InputSize
		outBase := b * l.OutputSize
		for o := 0; o < l.OutputSize; o++ {
			g := dOut[outBase+o]
			if g == 0 {
				continue
			}
			s.db[o] += g
			wBase := o * l.InputSize
			for i := 0; i < l.InputSize; i++ {
				s.dw[wBase+i] += g * s.input[inBase+i]
				if needInput {
					dIn[inBase+i] += g * s.w[wBase+i]
				}
			}
		}
	}
	return dIn
}

func zero(xs []float32) {
	for i := range xs {
		xs[i] = 0
	}
}

// applyUpdates steps the optimizer over every trainable parameter
// tensor, keyed by layer name so moment buffers survive across steps.
func (n *Network) applyUpdates() {
	for i := range n.spec.Layers {
		l := &n.spec.Layers[i]
		if !l.Trainable || l.ParameterCount == 0 {
			continue
		}
		s := &n.states[i]
		n.opt.Update(l.Name+".weight", s.w, s.dw)
		n.opt.Update(l.Name+".bias", s.b, s.db)
	}
}
