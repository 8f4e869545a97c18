package worker

import (
	"testing"
	"time"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
)

func testLoader(datasetID int) ([][]float32, []float32, error) {
	inputs := [][]float32{
		{0.9, 0.1, 0.5, 0.5},
		{0.8, 0.3, 0.1, 0.9},
		{0.1, 0.9, 0.5, 0.5},
		{0.2, 0.8, 0.9, 0.1},
	}
	labels := []float32{1, 1, 0, 0}
	return inputs, labels, nil
}

func decode(t *testing.T, raw []byte) duotrain.Envelope {
	t.Helper()
	if raw == nil {
		t.Fatalf("expected a reply envelope")
	}
	var env duotrain.Envelope
	if err := env.UnmarshalFrom(raw); err != nil {
		t.Fatalf("bad reply envelope: %v", err)
	}
	return env
}

func initEnvelope() []byte {
	return duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgInit,
		UUID: "init-1",
		Init: &duotrain.InitRequest{
			// lowercase kind tags, as they arrive after serialization
			LayerSpecs: []duotrain.LayerSpec{
				{Kind: "dense", Units: 4, Activation: "relu"},
			},
			InputShape:   []int{4},
			LearningRate: 0.1,
		},
	})
}

func awaitEnvelope(t *testing.T, events <-chan duotrain.Envelope) duotrain.Envelope {
	t.Helper()
	select {
	case env := <-events:
		return env
	case <-time.After(10 * time.Second):
		t.Fatalf("no envelope emitted")
		return duotrain.Envelope{}
	}
}

func newTestRunner() (*Runner, chan duotrain.Envelope) {
	events := make(chan duotrain.Envelope, 64)
	runner := NewRunner(&nn.SequentialBackend{}, testLoader, func(raw []byte) {
		var env duotrain.Envelope
		if err := env.UnmarshalFrom(raw); err != nil {
			panic(err)
		}
		events <- env
	})
	return runner, events
}

func TestRunnerFullJob(t *testing.T) {
	runner, events := newTestRunner()

	reply := decode(t, runner.Handle(initEnvelope()))
	if reply.Type != duotrain.MsgModelReady {
		t.Fatalf("INIT reply = %v (%s)", reply.Type, reply.Error)
	}

	reply = decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgStart,
		UUID: "start-1",
		Start: &duotrain.StartRequest{
			DatasetID:    1,
			TotalEpochs:  5,
			BatchSize:    2,
			LearningRate: 0.1,
		},
	})))
	if reply.Type != duotrain.MsgModelReady {
		t.Fatalf("START reply = %v (%s)", reply.Type, reply.Error)
	}

	for epoch := 0; epoch < 5; epoch++ {
		env := awaitEnvelope(t, events)
		if env.Type != duotrain.MsgProgress {
			t.Fatalf("event %d is %v; want PROGRESS", epoch, env.Type)
		}
		if env.Progress.Epoch != epoch {
			t.Errorf("progress epoch = %d; want %d", env.Progress.Epoch, epoch)
		}
	}
	env := awaitEnvelope(t, events)
	if env.Type != duotrain.MsgComplete {
		t.Fatalf("final event is %v; want COMPLETE", env.Type)
	}
	if env.Complete.CompletedEpochs != 5 {
		t.Errorf("completed %d epochs; want 5", env.Complete.CompletedEpochs)
	}
	if err := env.Complete.Snapshot.Validate(); err != nil {
		t.Errorf("final snapshot invalid: %v", err)
	}
}

func TestRunnerOrdering(t *testing.T) {
	runner, _ := newTestRunner()

	// START before INIT
	reply := decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type:  duotrain.MsgStart,
		Start: &duotrain.StartRequest{DatasetID: 1, TotalEpochs: 1},
	})))
	if reply.Type != duotrain.MsgError {
		t.Errorf("START before INIT replied %v; want ERROR", reply.Type)
	}

	// SNAPSHOT before INIT
	reply = decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgSnapshot,
	})))
	if reply.Type != duotrain.MsgError {
		t.Errorf("SNAPSHOT before INIT replied %v; want ERROR", reply.Type)
	}

	// unknown kind tag must be rejected at the boundary
	reply = decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgInit,
		Init: &duotrain.InitRequest{
			LayerSpecs: []duotrain.LayerSpec{{Kind: "Convolution"}},
			InputShape: []int{4},
		},
	})))
	if reply.Type != duotrain.MsgError {
		t.Errorf("bad kind tag replied %v; want ERROR", reply.Type)
	}

	// unknown message type
	reply = decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: "BOGUS",
	})))
	if reply.Type != duotrain.MsgError {
		t.Errorf("unknown type replied %v; want ERROR", reply.Type)
	}
}

func TestRunnerStop(t *testing.T) {
	runner, events := newTestRunner()

	decode(t, runner.Handle(initEnvelope()))
	decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgStart,
		Start: &duotrain.StartRequest{
			DatasetID:    1,
			TotalEpochs:  1000000,
			BatchSize:    2,
			LearningRate: 0.1,
		},
	})))

	// let at least one epoch complete, then request a stop
	env := awaitEnvelope(t, events)
	if env.Type != duotrain.MsgProgress {
		t.Fatalf("first event is %v; want PROGRESS", env.Type)
	}
	if raw := runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{Type: duotrain.MsgStop})); raw != nil {
		t.Errorf("STOP produced a direct reply")
	}

	for {
		env = awaitEnvelope(t, events)
		if env.Type == duotrain.MsgProgress {
			continue
		}
		if env.Type != duotrain.MsgComplete {
			t.Fatalf("got %v after STOP; want COMPLETE", env.Type)
		}
		break
	}
	if env.Complete.CompletedEpochs < 1 || env.Complete.CompletedEpochs >= 1000000 {
		t.Errorf("completed %d epochs after stop", env.Complete.CompletedEpochs)
	}
	if err := env.Complete.Snapshot.Validate(); err != nil {
		t.Errorf("stop snapshot invalid: %v", err)
	}
}

func TestRunnerResume(t *testing.T) {
	runner, events := newTestRunner()
	decode(t, runner.Handle(initEnvelope()))

	// build the same architecture and use its weights as the resume point
	ref, err := nn.Build([]duotrain.LayerSpec{
		{Kind: duotrain.KindDense, Units: 4, Activation: "relu"},
	}, []int{4})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	resume := nn.Extract(ref)

	// starting at the final epoch runs zero epochs, so the COMPLETE
	// snapshot is exactly the resume weights
	reply := decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgStart,
		Start: &duotrain.StartRequest{
			DatasetID:    1,
			TotalEpochs:  3,
			StartEpoch:   3,
			BatchSize:    2,
			LearningRate: 0.1,
			Resume:       resume,
		},
	})))
	if reply.Type != duotrain.MsgModelReady {
		t.Fatalf("START reply = %v (%s)", reply.Type, reply.Error)
	}

	env := awaitEnvelope(t, events)
	if env.Type != duotrain.MsgComplete {
		t.Fatalf("got %v; want COMPLETE", env.Type)
	}
	if env.Complete.CompletedEpochs != 3 {
		t.Errorf("completed = %d; want 3", env.Complete.CompletedEpochs)
	}
	for i := range resume {
		for j := range resume[i].Data {
			if env.Complete.Snapshot[i].Data[j] != resume[i].Data[j] {
				t.Fatalf("resume weights not installed (tensor %d)", i)
			}
		}
	}
}

func TestRunnerSnapshot(t *testing.T) {
	runner, _ := newTestRunner()
	decode(t, runner.Handle(initEnvelope()))

	reply := decode(t, runner.Handle(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgSnapshot,
	})))
	if reply.Type != duotrain.MsgWeights {
		t.Fatalf("SNAPSHOT reply = %v (%s)", reply.Type, reply.Error)
	}
	if err := reply.Weights.Snapshot.Validate(); err != nil {
		t.Errorf("snapshot invalid: %v", err)
	}
}
