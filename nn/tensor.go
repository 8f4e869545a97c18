// Package nn implements the tensor-compute capability consumed by the
// training core: layer implementations, binary cross-entropy training,
// compute backends, and the declarative model builder.
package nn

import (
	"sync"
)

// NumElems returns the element count of a shape.
func NumElems(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Param is a live view of one trainable tensor: its shape plus the
// layer-owned backing slice. Mutating Data mutates the layer.
type Param struct {
	Shape []int
	Data  []float32
}

// scratch recycles temporary buffers used by benchmarking, prediction and
// weight extraction so that every exit path returns its allocations.
var scratch = sync.Pool{
	New: func() interface{} {
		return make([]float32, 0, 4096)
	},
}

func getScratch(n int) []float32 {
	buf := scratch.Get().([]float32)
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	return buf[:n]
}

func putScratch(buf []float32) {
	scratch.Put(buf[:0])
}
