package duotrain

import (
	"testing"
)

func TestNormalizeLayerKind(t *testing.T) {
	check := func(s string, expected LayerKind, ok bool) {
		kind, err := NormalizeLayerKind(s)
		if ok && err != nil {
			t.Errorf("NormalizeLayerKind(%q) failed: %v", s, err)
		} else if !ok && err == nil {
			t.Errorf("NormalizeLayerKind(%q) = %v; want error", s, kind)
		} else if ok && kind != expected {
			t.Errorf("NormalizeLayerKind(%q) = %v; want %v", s, kind, expected)
		}
	}
	check("Conv", KindConv, true)
	check("conv", KindConv, true)
	check("Dense", KindDense, true)
	check("dense", KindDense, true)
	check("pool", KindPool, true)
	check("flatten", KindFlatten, true)
	check("CONV", "", false)
	check("Convolution", "", false)
	check("", "", false)
	check("dense ", "", false)
}

func TestNormalizeLayerSpecs(t *testing.T) {
	specs := []LayerSpec{
		{Kind: "conv", Filters: 8, KernelSize: 3, Activation: "relu"},
		{Kind: "Dense", Units: 4},
	}
	out, err := NormalizeLayerSpecs(specs)
	if err != nil {
		t.Fatalf("NormalizeLayerSpecs failed: %v", err)
	}
	if out[0].Kind != KindConv || out[1].Kind != KindDense {
		t.Errorf("kinds not canonicalized: %v, %v", out[0].Kind, out[1].Kind)
	}
	if out[0].Filters != 8 || out[0].KernelSize != 3 || out[0].Activation != "relu" {
		t.Errorf("conv fields lost in normalization: %+v", out[0])
	}
	// the input slice must not be mutated
	if specs[0].Kind != "conv" {
		t.Errorf("input specs mutated: %v", specs[0].Kind)
	}

	if _, err := NormalizeLayerSpecs([]LayerSpec{{Kind: "blah"}}); err == nil {
		t.Errorf("unknown kind accepted")
	}
}

func TestIsFinalSigmoidUnit(t *testing.T) {
	check := func(spec LayerSpec, expected bool) {
		if spec.IsFinalSigmoidUnit() != expected {
			t.Errorf("IsFinalSigmoidUnit(%+v) != %v", spec, expected)
		}
	}
	check(LayerSpec{Kind: KindDense, Units: 1, Activation: "sigmoid"}, true)
	check(LayerSpec{Kind: KindDense, Units: 2, Activation: "sigmoid"}, false)
	check(LayerSpec{Kind: KindDense, Units: 1, Activation: "relu"}, false)
	check(LayerSpec{Kind: KindConv, Units: 1, Activation: "sigmoid"}, false)
}
