package engine

import (
	"math"

	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/pkg/errors"
)

// Optimizer updates one parameter slice per call. Keys identify the
// parameter tensor (layer name plus weight or bias), so stateful
// optimizers keep independent moment buffers per tensor.
type Optimizer interface {
	Update(key string, params, grads []float32)
	GetLR() float64
	SetLR(lr float64)
	Name() string
}

// NewOptimizer builds the optimizer a run config names.
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(lr, 0.9), nil
	case "rmsprop":
		return NewRMSprop(lr, 0.9, 1e-7), nil
	case "adam":
		return NewAdam(lr, 0.9, 0.999, 1e-8), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q (supported: %v)", name, config.SupportedOptimizers)
	}
}

// SGD implements stochastic gradient descent with classical momentum.
type SGD struct {
	lr       float64
	momentum float64
	velocity map[string][]float32
}

func NewSGD(lr, momentum float64) *SGD {
	return &SGD{lr: lr, momentum: momentum, velocity: make(map[string][]float32)}
}

func (o *SGD) Update(key string, params, grads []float32) {
	v, ok := o.velocity[key]
	if !ok {
		v = make([]float32, len(params))
		o.velocity[key] = v
	}
	lr := float32(o.lr)
	m := float32(o.momentum)
	for i := range params {
		v[i] = m*v[i] - lr*grads[i]
		params[i] += v[i]
	}
}

func (o *SGD) GetLR() float64   { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }
func (o *SGD) Name() string     { return "sgd" }

// RMSprop keeps an exponential moving average of squared gradients and
// divides the step by its root.
type RMSprop struct {
	lr      float64
	decay   float64
	epsilon float64
	cache   map[string][]float32
}

func NewRMSprop(lr, decay, epsilon float64) *RMSprop {
	return &RMSprop{lr: lr, decay: decay, epsilon: epsilon, cache: make(map[string][]float32)}
}

func (o *RMSprop) Update(key string, params, grads []float32) {
	c, ok := o.cache[key]
	if !ok {
		c = make([]float32, len(params))
		o.cache[key] = c
	}
	d := o.decay
	for i := range params {
		g := float64(grads[i])
		c[i] = float32(d*float64(c[i]) + (1-d)*g*g)
		params[i] -= float32(o.lr * g / (math.Sqrt(float64(c[i])) + o.epsilon))
	}
}

func (o *RMSprop) GetLR() float64   { return o.lr }
func (o *RMSprop) SetLR(lr float64) { o.lr = lr }
func (o *RMSprop) Name() string     { return "rmsprop" }

// Adam combines bias-corrected first and second moment estimates.
type Adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	m       map[string][]float32
	v       map[string][]float32
	steps   map[string]int
}

func NewAdam(lr, beta1, beta2, epsilon float64) *Adam {
	return &Adam{
		lr: lr, beta1: beta1, beta2: beta2, epsilon: epsilon,
		m:     make(map[string][]float32),
		v:     make(map[string][]float32),
		steps: make(map[string]int),
	}
}

func (o *Adam) Update(key string, params, grads []float32) {
	m, ok := o.m[key]
	if !ok {
		m = make([]float32, len(params))
		o.m[key] = m
		o.v[key] = make([]float32, len(params))
	}
	v := o.v[key]
	o.steps[key]++
	t := float64(o.steps[key])

	c1 := 1 - math.Pow(o.beta1, t)
	c2 := 1 - math.Pow(o.beta2, t)
	for i := range params {
		g := float64(grads[i])
		m[i] = float32(o.beta1*float64(m[i]) + (1-o.beta1)*g)
		v[i] = float32(o.beta2*float64(v[i]) + (1-o.beta2)*g*g)
		mHat := float64(m[i]) / c1
		vHat := float64(v[i]) / c2
		params[i] -= float32(o.lr * mHat / (math.Sqrt(vHat) + o.epsilon))
	}
}

func (o *Adam) GetLR() float64   { return o.lr }
func (o *Adam) SetLR(lr float64) { o.lr = lr }
func (o *Adam) Name() string     { return "adam" }
