package app

import (
	"testing"

	"github.com/duotrain/duotrain/duotrain"
)

func TestSavedWeightsRoundTrip(t *testing.T) {
	snap := duotrain.WeightSnapshot{
		{Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
		{Shape: []int{2}, Data: []float32{5, 6}},
	}
	SaveWeights("round-trip", snap)

	saved := GetSavedWeights("round-trip")
	if saved == nil {
		t.Fatalf("GetSavedWeights failed")
	}
	if len(saved.Snapshot) != 2 || saved.Snapshot[0].Data[3] != 4 {
		t.Errorf("snapshot corrupted: %+v", saved.Snapshot)
	}

	// saving again under the same name replaces, not duplicates
	snap[0].Data[0] = 9
	SaveWeights("round-trip", snap)
	saved = GetSavedWeights("round-trip")
	if saved.Snapshot[0].Data[0] != 9 {
		t.Errorf("overwrite lost: %v", saved.Snapshot[0].Data)
	}
	count := 0
	for _, name := range ListSavedWeights() {
		if name == "round-trip" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("name stored %d times; want 1", count)
	}

	if GetSavedWeights("no-such-name") != nil {
		t.Errorf("GetSavedWeights returned a missing entry")
	}
}

func TestExportImportWeights(t *testing.T) {
	if err := MainSession.SetArchitecture(denseSpecs(), []int{4}); err != nil {
		t.Fatalf("SetArchitecture failed: %v", err)
	}
	defer MainSession.Dispose()

	snap, err := ExportWeights()
	if err != nil {
		t.Fatalf("ExportWeights failed: %v", err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("exported snapshot invalid: %v", err)
	}

	// perturb and import back
	snap[0].Data[0] += 1.5
	if err := ImportWeights(snap); err != nil {
		t.Fatalf("ImportWeights failed: %v", err)
	}
	after, err := ExportWeights()
	if err != nil {
		t.Fatalf("ExportWeights failed: %v", err)
	}
	if after[0].Data[0] != snap[0].Data[0] {
		t.Errorf("imported value lost: %v vs %v", after[0].Data[0], snap[0].Data[0])
	}

	// a mismatched snapshot is rejected and the current weights survive
	bad := duotrain.WeightSnapshot{
		{Shape: []int{3, 3, 3, 8}, Data: make([]float32, 216)},
	}
	if err := ImportWeights(bad); err == nil {
		t.Fatalf("ImportWeights accepted a mismatched snapshot")
	}
	unchanged, err := ExportWeights()
	if err != nil {
		t.Fatalf("ExportWeights failed: %v", err)
	}
	if unchanged[0].Data[0] != after[0].Data[0] {
		t.Errorf("rejected import mutated the model")
	}
}
