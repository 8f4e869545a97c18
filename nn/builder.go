package nn

import (
	"github.com/duotrain/duotrain/duotrain"
	"github.com/pkg/errors"
)

// Build translates a declarative layer spec sequence into a model,
// threading the running output shape through each layer. After the
// user-specified layers it guarantees the architecture is usable for
// binary classification: a flattening layer is inserted if the output
// still has spatial dimensions, and a 1-unit sigmoid dense layer is
// appended unless the stack already ends in one. Any failure returns a
// BuildError and no partial model.
func Build(specs []duotrain.LayerSpec, inputShape []int) (*Model, error) {
	if len(inputShape) == 0 {
		return nil, duotrain.BuildError{Layer: -1, Err: errors.Errorf("empty input shape")}
	}
	for _, dim := range inputShape {
		if dim <= 0 {
			return nil, duotrain.BuildError{Layer: -1, Err: errors.Errorf("bad input shape %v", inputShape)}
		}
	}

	shape := copyShape(inputShape)
	layers := make([]Layer, 0, len(specs)+2)

	for i, spec := range specs {
		layer, err := buildLayer(spec, shape)
		if err != nil {
			return nil, duotrain.BuildError{Layer: i, Err: err}
		}
		layers = append(layers, layer)
		shape = layer.OutShape()
	}

	if len(shape) > 1 {
		flat, err := NewFlatten(shape)
		if err != nil {
			return nil, duotrain.BuildError{Layer: -1, Err: err}
		}
		layers = append(layers, flat)
		shape = flat.OutShape()
	}

	if !endsInSigmoidUnit(layers) {
		head, err := NewDense(shape, 1, "sigmoid")
		if err != nil {
			return nil, duotrain.BuildError{Layer: -1, Err: err}
		}
		layers = append(layers, head)
	}

	return &Model{inputShape: copyShape(inputShape), layers: layers}, nil
}

func buildLayer(spec duotrain.LayerSpec, inShape []int) (Layer, error) {
	switch spec.Kind {
	case duotrain.KindConv:
		return NewConv2D(inShape, spec.Filters, spec.KernelSize, spec.Activation)
	case duotrain.KindPool:
		kind := spec.PoolKind
		if kind == "" {
			kind = "max"
		}
		return NewPool2D(inShape, spec.PoolSize, kind)
	case duotrain.KindActivation:
		return NewActivation(inShape, spec.Activation)
	case duotrain.KindDropout:
		return NewDropout(inShape, spec.Rate)
	case duotrain.KindFlatten:
		return NewFlatten(inShape)
	case duotrain.KindDense:
		if len(inShape) != 1 {
			return nil, errors.Errorf("dense layer needs flattened input, got shape %v", inShape)
		}
		return NewDense(inShape, spec.Units, spec.Activation)
	case duotrain.KindReshape:
		return NewReshape(inShape, spec.TargetShape)
	default:
		return nil, errors.Errorf("unknown layer kind %q", spec.Kind)
	}
}

func endsInSigmoidUnit(layers []Layer) bool {
	if len(layers) == 0 {
		return false
	}
	dense, ok := layers[len(layers)-1].(*Dense)
	return ok && dense.Units() == 1 && dense.Activation() == "sigmoid"
}
