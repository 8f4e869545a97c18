package app

import (
	"testing"
	"time"

	"github.com/duotrain/duotrain/duotrain"
)

func TestInProcChannelJob(t *testing.T) {
	ds := makeDataset(t, "channel-job")
	ch := newInProcChannel()
	defer ch.Dispose()

	// lowercase kind tags must survive the serialization boundary
	err := ch.Init(duotrain.InitRequest{
		LayerSpecs: []duotrain.LayerSpec{
			{Kind: "dense", Units: 4, Activation: "relu"},
		},
		InputShape:   []int{4},
		LearningRate: 0.1,
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	snap, err := ch.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("snapshot invalid: %v", err)
	}

	err = ch.Start(duotrain.StartRequest{
		DatasetID:    ds.ID,
		TotalEpochs:  4,
		BatchSize:    2,
		LearningRate: 0.1,
		Resume:       snap,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	epochs := 0
	for {
		var env duotrain.Envelope
		select {
		case env = <-ch.Events():
		case <-time.After(10 * time.Second):
			t.Fatalf("no envelope after %d epochs", epochs)
		}
		if env.Type == duotrain.MsgProgress {
			epochs++
			continue
		}
		if env.Type != duotrain.MsgComplete {
			t.Fatalf("got %v; want COMPLETE", env.Type)
		}
		if env.Complete.CompletedEpochs != 4 || epochs != 4 {
			t.Errorf("completed %d epochs, %d reported; want 4", env.Complete.CompletedEpochs, epochs)
		}
		break
	}
}

func TestInProcChannelRejectsBadSpecs(t *testing.T) {
	ch := newInProcChannel()
	defer ch.Dispose()

	err := ch.Init(duotrain.InitRequest{
		LayerSpecs: []duotrain.LayerSpec{{Kind: "Convolution"}},
		InputShape: []int{4},
	})
	if err == nil {
		t.Errorf("Init accepted an unknown kind tag")
	}

	if err := ch.Start(duotrain.StartRequest{DatasetID: 1, TotalEpochs: 1}); err == nil {
		t.Errorf("Start accepted before a successful Init")
	}
}
