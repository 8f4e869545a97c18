package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Conv2D is a 2D convolution over [channels, height, width] input with
// stride 1 and no padding. Weights are stored flattened as
// [filters, inChannels, kernel, kernel] with an optional fused activation.
type Conv2D struct {
	inShape    []int
	filters    int
	kernel     int
	activation string

	outH, outW int

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

func NewConv2D(inShape []int, filters, kernel int, activation string) (*Conv2D, error) {
	if len(inShape) != 3 {
		return nil, errors.Errorf("conv input must be [channels, height, width], got %v", inShape)
	}
	if filters <= 0 || kernel <= 0 {
		return nil, errors.Errorf("conv needs positive filters and kernel size (got %d, %d)", filters, kernel)
	}
	if err := checkActivation(activation); err != nil {
		return nil, err
	}
	channels, height, width := inShape[0], inShape[1], inShape[2]
	outH := height - kernel + 1
	outW := width - kernel + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("kernel %d does not fit %dx%d input", kernel, height, width)
	}

	// He initialization
	scale := float32(math.Sqrt(2.0 / float64(channels*kernel*kernel)))
	weights := make([]float32, filters*channels*kernel*kernel)
	for i := range weights {
		weights[i] = (rand.Float32()*2 - 1) * scale
	}

	outN := filters * outH * outW
	return &Conv2D{
		inShape:     copyShape(inShape),
		filters:     filters,
		kernel:      kernel,
		activation:  activation,
		outH:        outH,
		outW:        outW,
		weights:     weights,
		biases:      make([]float32, filters),
		gradWeights: make([]float32, len(weights)),
		gradBiases:  make([]float32, filters),
		preAct:      make([]float32, outN),
		output:      make([]float32, outN),
		inputGrad:   make([]float32, NumElems(inShape)),
		savedInput:  make([]float32, NumElems(inShape)),
	}, nil
}

func (c *Conv2D) OutShape() []int {
	return []int{c.filters, c.outH, c.outW}
}

func (c *Conv2D) setBackend(b Backend) { c.backend = b }

func (c *Conv2D) Forward(x []float32, train bool) []float32 {
	channels, _, width := c.inShape[0], c.inShape[1], c.inShape[2]
	if train {
		copy(c.savedInput, x)
	}

	run := runSequential
	if c.backend != nil {
		run = c.backend.For
	}
	run(c.filters, func(f int) {
		wBase := f * channels * c.kernel * c.kernel
		oBase := f * c.outH * c.outW
		for oh := 0; oh < c.outH; oh++ {
			for ow := 0; ow < c.outW; ow++ {
				sum := c.biases[f]
				for ch := 0; ch < channels; ch++ {
					iBase := ch * c.inShape[1] * width
					kBase := wBase + ch*c.kernel*c.kernel
					for kh := 0; kh < c.kernel; kh++ {
						iRow := iBase + (oh+kh)*width + ow
						kRow := kBase + kh*c.kernel
						for kw := 0; kw < c.kernel; kw++ {
							sum += c.weights[kRow+kw] * x[iRow+kw]
						}
					}
				}
				idx := oBase + oh*c.outW + ow
				c.preAct[idx] = sum
				c.output[idx] = activate(c.activation, sum)
			}
		}
	})
	return c.output
}

func (c *Conv2D) Backward(grad []float32) []float32 {
	channels, _, width := c.inShape[0], c.inShape[1], c.inShape[2]
	for i := range c.inputGrad {
		c.inputGrad[i] = 0
	}

	for f := 0; f < c.filters; f++ {
		wBase := f * channels * c.kernel * c.kernel
		oBase := f * c.outH * c.outW
		for oh := 0; oh < c.outH; oh++ {
			for ow := 0; ow < c.outW; ow++ {
				idx := oBase + oh*c.outW + ow
				dz := grad[idx] * activateDeriv(c.activation, c.preAct[idx], c.output[idx])
				if dz == 0 {
					continue
				}
				c.gradBiases[f] += dz
				for ch := 0; ch < channels; ch++ {
					iBase := ch * c.inShape[1] * width
					kBase := wBase + ch*c.kernel*c.kernel
					for kh := 0; kh < c.kernel; kh++ {
						iRow := iBase + (oh+kh)*width + ow
						kRow := kBase + kh*c.kernel
						for kw := 0; kw < c.kernel; kw++ {
							c.gradWeights[kRow+kw] += dz * c.savedInput[iRow+kw]
							c.inputGrad[iRow+kw] += dz * c.weights[kRow+kw]
						}
					}
				}
			}
		}
	}
	return c.inputGrad
}

func (c *Conv2D) Params() []Param {
	channels := c.inShape[0]
	return []Param{
		{Shape: []int{c.filters, channels, c.kernel, c.kernel}, Data: c.weights},
		{Shape: []int{c.filters}, Data: c.biases},
	}
}

func (c *Conv2D) Grads() []Param {
	channels := c.inShape[0]
	return []Param{
		{Shape: []int{c.filters, channels, c.kernel, c.kernel}, Data: c.gradWeights},
		{Shape: []int{c.filters}, Data: c.gradBiases},
	}
}
