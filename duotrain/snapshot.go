package duotrain

import (
	"github.com/pkg/errors"
)

// WeightTensor is one trainable tensor in portable form: its shape plus a
// flattened copy of its values.
type WeightTensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NumElems returns the element count implied by the shape.
func (t WeightTensor) NumElems() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// WeightSnapshot is an ordered sequence of weight tensors, one per
// trainable parameter, in the exact order the model enumerates them.
// Reconstruction is positional; there is no name-based matching.
type WeightSnapshot []WeightTensor

// Validate checks the structural invariant of every entry: each dimension
// positive and len(Data) equal to the product of the shape.
func (snap WeightSnapshot) Validate() error {
	for i, t := range snap {
		if len(t.Shape) == 0 {
			return SerializationError{errors.Errorf("entry %d: empty shape", i)}
		}
		for _, dim := range t.Shape {
			if dim <= 0 {
				return SerializationError{errors.Errorf("entry %d: bad dimension %d", i, dim)}
			}
		}
		if len(t.Data) != t.NumElems() {
			return SerializationError{errors.Errorf(
				"entry %d: %d values for shape %v (want %d)",
				i, len(t.Data), t.Shape, t.NumElems())}
		}
	}
	return nil
}
