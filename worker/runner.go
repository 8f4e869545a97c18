// Package worker implements a background execution context: it owns its
// own compiled model and epoch loop, and speaks the channel protocol as
// serialized envelopes. The same core backs the in-process background
// channel and the standalone worker binary.
package worker

import (
	"log"
	"sync/atomic"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

// DatasetLoader resolves a dataset reference to its samples.
type DatasetLoader func(datasetID int) ([][]float32, []float32, error)

// Runner handles channel protocol envelopes for one execution context.
// Handle processes INIT/SNAPSHOT/STOP/DISPOSE synchronously and returns
// the reply envelope; START spawns the epoch loop, whose PROGRESS and
// COMPLETE/ERROR envelopes go to the emit sink.
type Runner struct {
	mu      sync.Mutex
	backend nn.Backend
	loader  DatasetLoader
	emit    func(raw []byte)

	model   *nn.Model
	running bool
	stop    int32
}

func NewRunner(backend nn.Backend, loader DatasetLoader, emit func(raw []byte)) *Runner {
	return &Runner{backend: backend, loader: loader, emit: emit}
}

func errEnvelope(uuid string, err error) []byte {
	return duotrain.JsonMarshal(duotrain.Envelope{
		Type:  duotrain.MsgError,
		UUID:  uuid,
		Error: err.Error(),
	})
}

// Handle dispatches one request envelope. STOP has no direct reply and
// returns nil; the running loop exits at the next epoch boundary and a
// COMPLETE envelope follows on the emit sink.
func (r *Runner) Handle(raw []byte) []byte {
	var env duotrain.Envelope
	if err := env.UnmarshalFrom(raw); err != nil {
		return errEnvelope("", err)
	}

	switch env.Type {
	case duotrain.MsgInit:
		return r.handleInit(env)
	case duotrain.MsgStart:
		return r.handleStart(env)
	case duotrain.MsgStop:
		atomic.StoreInt32(&r.stop, 1)
		return nil
	case duotrain.MsgSnapshot:
		return r.handleSnapshot(env)
	case duotrain.MsgDispose:
		r.handleDispose()
		return duotrain.JsonMarshal(duotrain.Envelope{Type: duotrain.MsgModelReady, UUID: env.UUID})
	default:
		return errEnvelope(env.UUID, errors.Errorf("unexpected message type %q", env.Type))
	}
}

func (r *Runner) handleInit(env duotrain.Envelope) []byte {
	if env.Init == nil {
		return errEnvelope(env.UUID, errors.Errorf("INIT without payload"))
	}
	// the kind tags crossed a serialization boundary and are untrusted
	specs, err := duotrain.NormalizeLayerSpecs(env.Init.LayerSpecs)
	if err != nil {
		return errEnvelope(env.UUID, err)
	}
	model, err := nn.Build(specs, env.Init.InputShape)
	if err != nil {
		return errEnvelope(env.UUID, err)
	}
	model.Compile(env.Init.LearningRate, r.backend)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errEnvelope(env.UUID, errors.Errorf("cannot replace model while training"))
	}
	r.model = model
	return duotrain.JsonMarshal(duotrain.Envelope{Type: duotrain.MsgModelReady, UUID: env.UUID})
}

func (r *Runner) handleSnapshot(env duotrain.Envelope) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return errEnvelope(env.UUID, errors.Errorf("no model in this context"))
	}
	return duotrain.JsonMarshal(duotrain.Envelope{
		Type:    duotrain.MsgWeights,
		UUID:    env.UUID,
		Weights: &duotrain.WeightsPayload{Snapshot: nn.Extract(r.model)},
	})
}

func (r *Runner) handleDispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	atomic.StoreInt32(&r.stop, 1)
	r.model = nil
	if r.backend != nil {
		r.backend.Release()
	}
}

func (r *Runner) handleStart(env duotrain.Envelope) []byte {
	if env.Start == nil {
		return errEnvelope(env.UUID, errors.Errorf("START without payload"))
	}
	req := *env.Start

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return errEnvelope(env.UUID, errors.Errorf("START before INIT"))
	}
	if r.running {
		return errEnvelope(env.UUID, errors.Errorf("already training"))
	}
	if len(req.Resume) > 0 {
		if err := nn.Apply(r.model, req.Resume); err != nil {
			return errEnvelope(env.UUID, err)
		}
	}
	r.model.SetLearningRate(req.LearningRate)
	r.running = true
	atomic.StoreInt32(&r.stop, 0)
	go r.fitLoop(r.model, req, env.UUID)
	return duotrain.JsonMarshal(duotrain.Envelope{Type: duotrain.MsgModelReady, UUID: env.UUID})
}

// fitLoop runs epochs until done or stopped. The stop flag is only
// checked at epoch boundaries, so a stop request has worst-case latency
// of one epoch.
func (r *Runner) fitLoop(model *nn.Model, req duotrain.StartRequest, uuid string) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	inputs, labels, err := r.loader(req.DatasetID)
	if err == nil && len(inputs) == 0 {
		err = errors.Errorf("dataset %d is empty", req.DatasetID)
	}
	if err != nil {
		r.emit(errEnvelope(uuid, duotrain.TrainingError{Err: err}))
		return
	}

	completed := req.StartEpoch
	for epoch := req.StartEpoch; epoch < req.TotalEpochs; epoch++ {
		if atomic.LoadInt32(&r.stop) != 0 {
			break
		}
		loss, acc, err := model.TrainEpoch(inputs, labels, req.BatchSize)
		if err != nil {
			r.emit(errEnvelope(uuid, duotrain.TrainingError{Err: err}))
			return
		}
		completed = epoch + 1
		r.emit(duotrain.JsonMarshal(duotrain.Envelope{
			Type: duotrain.MsgProgress,
			UUID: uuid,
			Progress: &duotrain.ProgressUpdate{
				Epoch:    epoch,
				Loss:     loss,
				Accuracy: acc,
			},
		}))
	}

	log.Printf("[worker] loop exiting after %d/%d epochs", completed, req.TotalEpochs)
	r.emit(duotrain.JsonMarshal(duotrain.Envelope{
		Type: duotrain.MsgComplete,
		UUID: uuid,
		Complete: &duotrain.CompletePayload{
			CompletedEpochs: completed,
			Snapshot:        nn.Extract(model),
		},
	}))
}
