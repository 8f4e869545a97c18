package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Dense is a fully connected layer over 1D input with an optional fused
// activation. Weights are stored flattened as [units, inputSize].
type Dense struct {
	inSize     int
	units      int
	activation string

	weights []float32
	biases  []float32

	gradWeights []float32
	gradBiases  []float32

	preAct     []float32
	output     []float32
	inputGrad  []float32
	savedInput []float32

	backend Backend
}

func NewDense(inShape []int, units int, activation string) (*Dense, error) {
	if len(inShape) != 1 {
		return nil, errors.Errorf("dense input must be 1D, got %v", inShape)
	}
	if units <= 0 {
		return nil, errors.Errorf("dense needs positive units, got %d", units)
	}
	if err := checkActivation(activation); err != nil {
		return nil, err
	}
	inSize := inShape[0]

	scale := float32(math.Sqrt(2.0 / float64(inSize)))
	weights := make([]float32, units*inSize)
	for i := range weights {
		weights[i] = (rand.Float32()*2 - 1) * scale
	}

	return &Dense{
		inSize:      inSize,
		units:       units,
		activation:  activation,
		weights:     weights,
		biases:      make([]float32, units),
		gradWeights: make([]float32, len(weights)),
		gradBiases:  make([]float32, units),
		preAct:      make([]float32, units),
		output:      make([]float32, units),
		inputGrad:   make([]float32, inSize),
		savedInput:  make([]float32, inSize),
	}, nil
}

func (d *Dense) OutShape() []int { return []int{d.units} }

func (d *Dense) setBackend(b Backend) { d.backend = b }

// Units and Activation expose the configuration the builder checks when
// deciding whether to append the final classification layer.
func (d *Dense) Units() int         { return d.units }
func (d *Dense) Activation() string { return d.activation }

func (d *Dense) Forward(x []float32, train bool) []float32 {
	if train {
		copy(d.savedInput, x)
	}
	run := runSequential
	if d.backend != nil {
		run = d.backend.For
	}
	run(d.units, func(u int) {
		sum := d.biases[u]
		row := u * d.inSize
		for i := 0; i < d.inSize; i++ {
			sum += d.weights[row+i] * x[i]
		}
		d.preAct[u] = sum
		d.output[u] = activate(d.activation, sum)
	})
	return d.output
}

func (d *Dense) Backward(grad []float32) []float32 {
	for i := range d.inputGrad {
		d.inputGrad[i] = 0
	}
	for u := 0; u < d.units; u++ {
		dz := grad[u] * activateDeriv(d.activation, d.preAct[u], d.output[u])
		if dz == 0 {
			continue
		}
		d.gradBiases[u] += dz
		row := u * d.inSize
		for i := 0; i < d.inSize; i++ {
			d.gradWeights[row+i] += dz * d.savedInput[i]
			d.inputGrad[i] += dz * d.weights[row+i]
		}
	}
	return d.inputGrad
}

func (d *Dense) Params() []Param {
	return []Param{
		{Shape: []int{d.units, d.inSize}, Data: d.weights},
		{Shape: []int{d.units}, Data: d.biases},
	}
}

func (d *Dense) Grads() []Param {
	return []Param{
		{Shape: []int{d.units, d.inSize}, Data: d.gradWeights},
		{Shape: []int{d.units}, Data: d.gradBiases},
	}
}
