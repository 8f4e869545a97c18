package duotrain

import (
	"strings"

	"github.com/pkg/errors"
)

// LayerKind identifies one of the supported layer variants.
type LayerKind string

const (
	KindConv       LayerKind = "Conv"
	KindPool       LayerKind = "Pool"
	KindActivation LayerKind = "Activation"
	KindDropout    LayerKind = "Dropout"
	KindFlatten    LayerKind = "Flatten"
	KindDense      LayerKind = "Dense"
	KindReshape    LayerKind = "Reshape"
)

var layerKinds = []LayerKind{
	KindConv, KindPool, KindActivation, KindDropout,
	KindFlatten, KindDense, KindReshape,
}

// NormalizeLayerKind maps an untrusted kind tag to its canonical form.
// Tags that cross the background channel are serialized and may arrive as
// plain lowercase strings, so we accept either the canonical tag or its
// lowercase equivalent, and nothing else.
func NormalizeLayerKind(s string) (LayerKind, error) {
	for _, kind := range layerKinds {
		if s == string(kind) || s == strings.ToLower(string(kind)) {
			return kind, nil
		}
	}
	return "", errors.Errorf("unknown layer kind %q", s)
}

// LayerSpec is a declarative description of one network layer. Each kind
// uses only the fields relevant to it; the rest stay at their zero value.
// A spec list is immutable once submitted to a build.
type LayerSpec struct {
	Kind LayerKind `json:"kind"`

	// Conv
	Filters    int `json:"filters,omitempty"`
	KernelSize int `json:"kernel_size,omitempty"`

	// Pool
	PoolSize int `json:"pool_size,omitempty"`
	// "max" or "avg"
	PoolKind string `json:"pool_kind,omitempty"`

	// Activation; also used by Conv and Dense ("relu", "sigmoid", "tanh")
	Activation string `json:"activation,omitempty"`

	// Dropout
	Rate float64 `json:"rate,omitempty"`

	// Dense
	Units int `json:"units,omitempty"`

	// Reshape
	TargetShape []int `json:"target_shape,omitempty"`
}

// NormalizeLayerSpecs validates the kind tags of specs that crossed a
// serialization boundary, returning a copy with canonical tags.
func NormalizeLayerSpecs(specs []LayerSpec) ([]LayerSpec, error) {
	out := make([]LayerSpec, len(specs))
	for i, spec := range specs {
		kind, err := NormalizeLayerKind(string(spec.Kind))
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		out[i] = spec
		out[i].Kind = kind
	}
	return out, nil
}

// IsFinalSigmoidUnit reports whether the spec already is the 1-unit
// sigmoid dense layer that binary classification needs at the end.
func (spec LayerSpec) IsFinalSigmoidUnit() bool {
	return spec.Kind == KindDense && spec.Units == 1 && spec.Activation == "sigmoid"
}
