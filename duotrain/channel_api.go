package duotrain

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Background channel protocol. Every message crosses a serialization
// boundary regardless of transport, so the receiving side must normalize
// layer kind tags before dispatch (see NormalizeLayerSpecs).

type MsgType string

const (
	MsgInit     MsgType = "INIT"
	MsgStart    MsgType = "START"
	MsgStop     MsgType = "STOP"
	MsgSnapshot MsgType = "SNAPSHOT"
	MsgDispose  MsgType = "DISPOSE"

	MsgModelReady MsgType = "MODEL_READY"
	MsgProgress   MsgType = "PROGRESS"
	MsgComplete   MsgType = "COMPLETE"
	MsgWeights    MsgType = "WEIGHTS"
	MsgError      MsgType = "ERROR"
)

// Envelope is the unit actually sent over the channel. Exactly one of the
// payload fields is set, matching Type.
type Envelope struct {
	Type MsgType `json:"type"`
	// request/session UUID
	UUID string `json:"uuid,omitempty"`

	Init     *InitRequest     `json:"init,omitempty"`
	Start    *StartRequest    `json:"start,omitempty"`
	Progress *ProgressUpdate  `json:"progress,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
	Weights  *WeightsPayload  `json:"weights,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// UnmarshalFrom decodes a wire envelope, rejecting malformed payloads
// explicitly rather than panicking on untrusted input.
func (env *Envelope) UnmarshalFrom(raw []byte) error {
	if err := json.Unmarshal(raw, env); err != nil {
		return errors.Wrap(err, "bad envelope")
	}
	if env.Type == "" {
		return errors.Errorf("envelope missing type")
	}
	return nil
}

// scheduler->context
// build and compile a model inside the context
type InitRequest struct {
	LayerSpecs   []LayerSpec `json:"layer_specs"`
	InputShape   []int       `json:"input_shape"`
	LearningRate float64     `json:"learning_rate"`
}

// scheduler->context
// run the epoch loop; PROGRESS follows per epoch, then COMPLETE or ERROR
type StartRequest struct {
	DatasetID    int     `json:"dataset_id"`
	TotalEpochs  int     `json:"total_epochs"`
	StartEpoch   int     `json:"start_epoch"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	// load these weights before the first epoch, if present
	Resume WeightSnapshot `json:"resume,omitempty"`
}

// context->scheduler
type ProgressUpdate struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// context->scheduler
// final weights after the loop exits, whether it ran to completion or was
// stopped at an epoch boundary
type CompletePayload struct {
	CompletedEpochs int            `json:"completed_epochs"`
	Snapshot        WeightSnapshot `json:"snapshot"`
}

// context->scheduler, reply to SNAPSHOT
type WeightsPayload struct {
	Snapshot WeightSnapshot `json:"snapshot"`
}
