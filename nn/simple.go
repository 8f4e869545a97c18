package nn

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Activation applies an elementwise nonlinearity without changing shape.
type Activation struct {
	shape  []int
	name   string
	preAct []float32
	output []float32
	grad   []float32
}

func NewActivation(inShape []int, name string) (*Activation, error) {
	if name == "" {
		return nil, errors.Errorf("activation layer needs an activation kind")
	}
	if err := checkActivation(name); err != nil {
		return nil, err
	}
	n := NumElems(inShape)
	return &Activation{
		shape:  copyShape(inShape),
		name:   name,
		preAct: make([]float32, n),
		output: make([]float32, n),
		grad:   make([]float32, n),
	}, nil
}

func (a *Activation) OutShape() []int { return a.shape }

func (a *Activation) Forward(x []float32, train bool) []float32 {
	copy(a.preAct, x)
	for i, z := range x {
		a.output[i] = activate(a.name, z)
	}
	return a.output
}

func (a *Activation) Backward(grad []float32) []float32 {
	for i := range grad {
		a.grad[i] = grad[i] * activateDeriv(a.name, a.preAct[i], a.output[i])
	}
	return a.grad
}

func (a *Activation) Params() []Param { return nil }
func (a *Activation) Grads() []Param  { return nil }

// Dropout zeroes a random fraction of its input during training, scaling
// the survivors so inference needs no adjustment. Outside training it is
// the identity.
type Dropout struct {
	shape  []int
	rate   float64
	mask   []bool
	output []float32
	grad   []float32
}

func NewDropout(inShape []int, rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	n := NumElems(inShape)
	return &Dropout{
		shape:  copyShape(inShape),
		rate:   rate,
		mask:   make([]bool, n),
		output: make([]float32, n),
		grad:   make([]float32, n),
	}, nil
}

func (d *Dropout) OutShape() []int { return d.shape }

func (d *Dropout) Forward(x []float32, train bool) []float32 {
	if !train || d.rate == 0 {
		copy(d.output, x)
		return d.output
	}
	keep := float32(1 / (1 - d.rate))
	for i, v := range x {
		if rand.Float64() < d.rate {
			d.mask[i] = true
			d.output[i] = 0
		} else {
			d.mask[i] = false
			d.output[i] = v * keep
		}
	}
	return d.output
}

func (d *Dropout) Backward(grad []float32) []float32 {
	keep := float32(1 / (1 - d.rate))
	for i, g := range grad {
		if d.mask[i] {
			d.grad[i] = 0
		} else {
			d.grad[i] = g * keep
		}
	}
	return d.grad
}

func (d *Dropout) Params() []Param { return nil }
func (d *Dropout) Grads() []Param  { return nil }

// Reshape reinterprets its input in a new shape with the same element
// count. Flatten is the special case of a 1D target.
type Reshape struct {
	inShape  []int
	outShape []int
}

func NewReshape(inShape []int, target []int) (*Reshape, error) {
	if NumElems(inShape) != NumElems(target) {
		return nil, errors.Errorf("cannot reshape %v into %v", inShape, target)
	}
	for _, dim := range target {
		if dim <= 0 {
			return nil, errors.Errorf("bad target shape %v", target)
		}
	}
	return &Reshape{inShape: copyShape(inShape), outShape: copyShape(target)}, nil
}

func NewFlatten(inShape []int) (*Reshape, error) {
	return NewReshape(inShape, []int{NumElems(inShape)})
}

func (r *Reshape) OutShape() []int { return r.outShape }

func (r *Reshape) Forward(x []float32, train bool) []float32 { return x }
func (r *Reshape) Backward(grad []float32) []float32         { return grad }

func (r *Reshape) Params() []Param { return nil }
func (r *Reshape) Grads() []Param  { return nil }
