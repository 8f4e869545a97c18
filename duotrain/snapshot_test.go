package duotrain

import (
	"errors"
	"testing"
)

func TestSnapshotValidate(t *testing.T) {
	check := func(snap WeightSnapshot, ok bool) {
		err := snap.Validate()
		if ok && err != nil {
			t.Errorf("Validate(%v) failed: %v", snap, err)
		} else if !ok && err == nil {
			t.Errorf("Validate(%v) accepted", snap)
		}
		if err != nil {
			var serr SerializationError
			if !errors.As(err, &serr) {
				t.Errorf("Validate error is %T; want SerializationError", err)
			}
		}
	}
	check(WeightSnapshot{}, true)
	check(WeightSnapshot{{Shape: []int{2, 3}, Data: make([]float32, 6)}}, true)
	check(WeightSnapshot{{Shape: []int{1}, Data: []float32{0.5}}}, true)
	check(WeightSnapshot{{Shape: nil, Data: []float32{1}}}, false)
	check(WeightSnapshot{{Shape: []int{2, 0}, Data: nil}}, false)
	check(WeightSnapshot{{Shape: []int{2, -3}, Data: make([]float32, 6)}}, false)
	// 3x3x3x8 kernel declares 216 elements
	check(WeightSnapshot{{Shape: []int{3, 3, 3, 8}, Data: make([]float32, 200)}}, false)
	check(WeightSnapshot{{Shape: []int{3, 3, 3, 8}, Data: make([]float32, 216)}}, true)
}

func TestWeightTensorNumElems(t *testing.T) {
	check := func(shape []int, expected int) {
		n := WeightTensor{Shape: shape}.NumElems()
		if n != expected {
			t.Errorf("NumElems(%v) = %d; want %d", shape, n, expected)
		}
	}
	check([]int{4}, 4)
	check([]int{3, 3, 3, 8}, 216)
	check([]int{1, 28, 28}, 784)
}
