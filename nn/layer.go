package nn

import (
	"math"

	"github.com/pkg/errors"
)

// Layer is one executable stage of a compiled model. Forward and Backward
// operate on flattened values in the layer's input/output shapes (shapes
// exclude the batch dimension; gradient accumulation provides batching).
type Layer interface {
	// OutShape is the output shape fixed at build time.
	OutShape() []int
	Forward(x []float32, train bool) []float32
	// Backward consumes the gradient w.r.t. the layer output, accumulates
	// parameter gradients, and returns the gradient w.r.t. the input.
	Backward(grad []float32) []float32
	// Params enumerates trainable tensors in canonical order (weights
	// before bias). Stateless layers return nil.
	Params() []Param
	// Grads is aligned index-for-index with Params.
	Grads() []Param
}

// Supported activation kinds. The empty string means linear.
func validActivation(name string) bool {
	switch name {
	case "", "relu", "sigmoid", "tanh":
		return true
	}
	return false
}

func activate(name string, z float32) float32 {
	switch name {
	case "relu":
		if z < 0 {
			return 0
		}
		return z
	case "sigmoid":
		return float32(1 / (1 + math.Exp(-float64(z))))
	case "tanh":
		return float32(math.Tanh(float64(z)))
	default:
		return z
	}
}

// activateDeriv returns d(activation)/dz given the pre-activation z and
// the already-computed activation a.
func activateDeriv(name string, z, a float32) float32 {
	switch name {
	case "relu":
		if z > 0 {
			return 1
		}
		return 0
	case "sigmoid":
		return a * (1 - a)
	case "tanh":
		return 1 - a*a
	default:
		return 1
	}
}

func checkActivation(name string) error {
	if !validActivation(name) {
		return errors.Errorf("unsupported activation %q", name)
	}
	return nil
}
