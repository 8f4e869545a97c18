package nn

import (
	"github.com/duotrain/duotrain/duotrain"
	"github.com/pkg/errors"
)

// Weight transfer protocol. Extract and Apply are the two halves of both
// live migration between execution contexts and external save/load; the
// snapshot format is identical in every case.

// Extract copies every trainable tensor of the model, in the model's
// canonical enumeration order, into a portable snapshot. The returned
// snapshot holds no references into the model's memory.
func Extract(m *Model) duotrain.WeightSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	params := m.paramTensors()
	snap := make(duotrain.WeightSnapshot, len(params))
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		snap[i] = duotrain.WeightTensor{
			Shape: copyShape(p.Shape),
			Data:  data,
		}
	}
	return snap
}

// Apply validates the snapshot against the model's parameter structure and
// installs the tensors in order. On any mismatch it returns a
// SerializationError without having mutated the model.
func Apply(m *Model, snap duotrain.WeightSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	params := m.paramTensors()
	if len(snap) != len(params) {
		return duotrain.SerializationError{Err: errors.Errorf(
			"snapshot has %d tensors, model has %d", len(snap), len(params))}
	}
	for i, t := range snap {
		if !shapeEqual(t.Shape, params[i].Shape) {
			return duotrain.SerializationError{Err: errors.Errorf(
				"tensor %d has shape %v, model parameter has %v",
				i, t.Shape, params[i].Shape)}
		}
	}
	for i, t := range snap {
		copy(params[i].Data, t.Data)
	}
	return nil
}
