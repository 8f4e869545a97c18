package nn

import (
	"github.com/pkg/errors"
)

// Pool2D is a max or average pooling layer over [channels, height, width]
// input, with stride equal to the pool size.
type Pool2D struct {
	inShape []int
	size    int
	// "max" or "avg"
	kind string

	outH, outW int

	output    []float32
	inputGrad []float32
	// index of the winning input element per output element (max only)
	argmax []int
}

func NewPool2D(inShape []int, size int, kind string) (*Pool2D, error) {
	if len(inShape) != 3 {
		return nil, errors.Errorf("pool input must be [channels, height, width], got %v", inShape)
	}
	if size <= 0 {
		return nil, errors.Errorf("pool size must be positive, got %d", size)
	}
	if kind != "max" && kind != "avg" {
		return nil, errors.Errorf("unsupported pool kind %q", kind)
	}
	channels, height, width := inShape[0], inShape[1], inShape[2]
	outH := height / size
	outW := width / size
	if outH == 0 || outW == 0 {
		return nil, errors.Errorf("pool size %d does not fit %dx%d input", size, height, width)
	}
	outN := channels * outH * outW
	return &Pool2D{
		inShape:   copyShape(inShape),
		size:      size,
		kind:      kind,
		outH:      outH,
		outW:      outW,
		output:    make([]float32, outN),
		inputGrad: make([]float32, NumElems(inShape)),
		argmax:    make([]int, outN),
	}, nil
}

func (p *Pool2D) OutShape() []int {
	return []int{p.inShape[0], p.outH, p.outW}
}

func (p *Pool2D) Forward(x []float32, train bool) []float32 {
	channels, _, width := p.inShape[0], p.inShape[1], p.inShape[2]
	area := float32(p.size * p.size)
	for ch := 0; ch < channels; ch++ {
		iBase := ch * p.inShape[1] * width
		oBase := ch * p.outH * p.outW
		for oh := 0; oh < p.outH; oh++ {
			for ow := 0; ow < p.outW; ow++ {
				idx := oBase + oh*p.outW + ow
				if p.kind == "max" {
					best := x[iBase+oh*p.size*width+ow*p.size]
					bestIdx := iBase + oh*p.size*width + ow*p.size
					for kh := 0; kh < p.size; kh++ {
						for kw := 0; kw < p.size; kw++ {
							in := iBase + (oh*p.size+kh)*width + ow*p.size + kw
							if x[in] > best {
								best = x[in]
								bestIdx = in
							}
						}
					}
					p.output[idx] = best
					p.argmax[idx] = bestIdx
				} else {
					var sum float32
					for kh := 0; kh < p.size; kh++ {
						for kw := 0; kw < p.size; kw++ {
							sum += x[iBase+(oh*p.size+kh)*width+ow*p.size+kw]
						}
					}
					p.output[idx] = sum / area
				}
			}
		}
	}
	return p.output
}

func (p *Pool2D) Backward(grad []float32) []float32 {
	for i := range p.inputGrad {
		p.inputGrad[i] = 0
	}
	channels, _, width := p.inShape[0], p.inShape[1], p.inShape[2]
	area := float32(p.size * p.size)
	for ch := 0; ch < channels; ch++ {
		iBase := ch * p.inShape[1] * width
		oBase := ch * p.outH * p.outW
		for oh := 0; oh < p.outH; oh++ {
			for ow := 0; ow < p.outW; ow++ {
				idx := oBase + oh*p.outW + ow
				if p.kind == "max" {
					p.inputGrad[p.argmax[idx]] += grad[idx]
				} else {
					share := grad[idx] / area
					for kh := 0; kh < p.size; kh++ {
						for kw := 0; kw < p.size; kw++ {
							p.inputGrad[iBase+(oh*p.size+kh)*width+ow*p.size+kw] += share
						}
					}
				}
			}
		}
	}
	return p.inputGrad
}

func (p *Pool2D) Params() []Param { return nil }
func (p *Pool2D) Grads() []Param  { return nil }
