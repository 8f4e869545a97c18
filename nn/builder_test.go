package nn

import (
	"errors"
	"testing"

	"github.com/duotrain/duotrain/duotrain"
)

func TestBuildAppendsClassifierHead(t *testing.T) {
	// no layers at all: the builder must still produce a usable binary
	// classifier over the flattened input
	model, err := Build(nil, []int{4})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	layers := model.Layers()
	if len(layers) != 1 {
		t.Fatalf("got %d layers; want 1", len(layers))
	}
	dense, ok := layers[0].(*Dense)
	if !ok || dense.Units() != 1 || dense.Activation() != "sigmoid" {
		t.Errorf("head is not a 1-unit sigmoid dense layer: %T", layers[0])
	}
	if out := model.OutputShape(); len(out) != 1 || out[0] != 1 {
		t.Errorf("output shape = %v; want [1]", out)
	}
}

func TestBuildAutoFlatten(t *testing.T) {
	model, err := Build(nil, []int{1, 4, 4})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	layers := model.Layers()
	if len(layers) != 2 {
		t.Fatalf("got %d layers; want flatten + head", len(layers))
	}
	if _, ok := layers[0].(*Reshape); !ok {
		t.Errorf("first layer is %T; want flatten", layers[0])
	}
	if out := model.OutputShape(); len(out) != 1 || out[0] != 1 {
		t.Errorf("output shape = %v; want [1]", out)
	}
}

func TestBuildShapeThreading(t *testing.T) {
	specs := []duotrain.LayerSpec{
		{Kind: duotrain.KindConv, Filters: 8, KernelSize: 3, Activation: "relu"},
		{Kind: duotrain.KindPool, PoolSize: 2},
		{Kind: duotrain.KindFlatten},
		{Kind: duotrain.KindDense, Units: 16, Activation: "relu"},
	}
	model, err := Build(specs, []int{1, 12, 12})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	layers := model.Layers()
	// 4 specified plus the appended head
	if len(layers) != 5 {
		t.Fatalf("got %d layers; want 5", len(layers))
	}
	check := func(idx int, expected []int) {
		got := layers[idx].OutShape()
		if len(got) != len(expected) {
			t.Fatalf("layer %d shape = %v; want %v", idx, got, expected)
		}
		for i := range got {
			if got[i] != expected[i] {
				t.Errorf("layer %d shape = %v; want %v", idx, got, expected)
				break
			}
		}
	}
	check(0, []int{8, 10, 10})
	check(1, []int{8, 5, 5})
	check(2, []int{200})
	check(3, []int{16})
	check(4, []int{1})
}

func TestBuildKeepsExistingHead(t *testing.T) {
	specs := []duotrain.LayerSpec{
		{Kind: duotrain.KindFlatten},
		{Kind: duotrain.KindDense, Units: 1, Activation: "sigmoid"},
	}
	model, err := Build(specs, []int{2, 3, 3})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(model.Layers()) != 2 {
		t.Errorf("head appended twice: %d layers", len(model.Layers()))
	}
}

func TestBuildErrors(t *testing.T) {
	check := func(specs []duotrain.LayerSpec, inputShape []int, wantLayer int) {
		_, err := Build(specs, inputShape)
		if err == nil {
			t.Errorf("Build(%v, %v) accepted", specs, inputShape)
			return
		}
		var berr duotrain.BuildError
		if !errors.As(err, &berr) {
			t.Errorf("Build error is %T; want BuildError", err)
			return
		}
		if berr.Layer != wantLayer {
			t.Errorf("BuildError.Layer = %d; want %d", berr.Layer, wantLayer)
		}
	}
	// dense before flattening
	check([]duotrain.LayerSpec{
		{Kind: duotrain.KindDense, Units: 4},
	}, []int{1, 4, 4}, 0)
	// kernel larger than input
	check([]duotrain.LayerSpec{
		{Kind: duotrain.KindConv, Filters: 2, KernelSize: 9, Activation: "relu"},
	}, []int{1, 4, 4}, 0)
	// second layer is the broken one
	check([]duotrain.LayerSpec{
		{Kind: duotrain.KindFlatten},
		{Kind: duotrain.KindDense, Units: 4, Activation: "bogus"},
	}, []int{1, 4, 4}, 1)
	// bad input shape, not attributable to a layer
	check(nil, []int{0, 4}, -1)
	check(nil, nil, -1)
}
