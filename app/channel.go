package app

import (
	"log"
	"net/http"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
	"github.com/duotrain/duotrain/worker"

	gouuid "github.com/google/uuid"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

// Channel is the scheduler's handle on a background execution context.
// Requests are envelope-shaped even in process: every payload crosses a
// serialization boundary, so the two contexts can never share memory by
// accident.
type Channel interface {
	Init(req duotrain.InitRequest) error
	Start(req duotrain.StartRequest) error
	// Stop is cooperative: the loop exits at the next epoch boundary and
	// a COMPLETE envelope follows on Events.
	Stop()
	Snapshot() (duotrain.WeightSnapshot, error)
	Events() <-chan duotrain.Envelope
	Dispose()
}

// NewChannel returns the configured background channel: a standalone
// worker if one is configured, otherwise the in-process context.
func NewChannel() Channel {
	if Config.WorkerURL != "" {
		return newRemoteChannel(Config.WorkerURL)
	}
	return newInProcChannel()
}

// InProcChannel runs the background context on an independent goroutine
// inside this process. It is immune to foreground throttling but uses the
// sequential CPU backend, so it is typically slower per operation.
type InProcChannel struct {
	runner *worker.Runner
	events chan duotrain.Envelope
}

func newInProcChannel() *InProcChannel {
	ch := &InProcChannel{
		events: make(chan duotrain.Envelope, 16),
	}
	ch.runner = worker.NewRunner(&nn.SequentialBackend{}, LoadSamples, func(raw []byte) {
		var env duotrain.Envelope
		if err := env.UnmarshalFrom(raw); err != nil {
			log.Printf("[channel] dropping malformed envelope: %v", err)
			return
		}
		ch.events <- env
	})
	return ch
}

// call sends one request envelope and decodes the synchronous reply.
func (ch *InProcChannel) call(env duotrain.Envelope) (*duotrain.Envelope, error) {
	env.UUID = gouuid.New().String()
	raw := ch.runner.Handle(duotrain.JsonMarshal(env))
	if raw == nil {
		return nil, nil
	}
	var reply duotrain.Envelope
	if err := reply.UnmarshalFrom(raw); err != nil {
		return nil, err
	}
	if reply.Type == duotrain.MsgError {
		return nil, errors.New(reply.Error)
	}
	return &reply, nil
}

func (ch *InProcChannel) Init(req duotrain.InitRequest) error {
	_, err := ch.call(duotrain.Envelope{Type: duotrain.MsgInit, Init: &req})
	return err
}

func (ch *InProcChannel) Start(req duotrain.StartRequest) error {
	_, err := ch.call(duotrain.Envelope{Type: duotrain.MsgStart, Start: &req})
	return err
}

func (ch *InProcChannel) Stop() {
	ch.call(duotrain.Envelope{Type: duotrain.MsgStop})
}

func (ch *InProcChannel) Snapshot() (duotrain.WeightSnapshot, error) {
	reply, err := ch.call(duotrain.Envelope{Type: duotrain.MsgSnapshot})
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Weights == nil {
		return nil, errors.Errorf("no weights in reply")
	}
	return reply.Weights.Snapshot, nil
}

func (ch *InProcChannel) Events() <-chan duotrain.Envelope {
	return ch.events
}

func (ch *InProcChannel) Dispose() {
	ch.call(duotrain.Envelope{Type: duotrain.MsgDispose})
}

// RemoteChannel reaches a standalone worker program over HTTP. Progress
// envelopes come back through POST /worker/progress on the coordinator.
type RemoteChannel struct {
	baseURL string
	events  chan duotrain.Envelope
}

var remoteMu sync.Mutex
var activeRemote *RemoteChannel

func newRemoteChannel(baseURL string) *RemoteChannel {
	ch := &RemoteChannel{
		baseURL: baseURL,
		events:  make(chan duotrain.Envelope, 16),
	}
	remoteMu.Lock()
	activeRemote = ch
	remoteMu.Unlock()
	return ch
}

func (ch *RemoteChannel) call(env duotrain.Envelope) (*duotrain.Envelope, error) {
	env.UUID = gouuid.New().String()
	var reply duotrain.Envelope
	if err := duotrain.JsonPost(ch.baseURL, "/channel", env, &reply); err != nil {
		return nil, err
	}
	if reply.Type == duotrain.MsgError {
		return nil, errors.New(reply.Error)
	}
	return &reply, nil
}

func (ch *RemoteChannel) Init(req duotrain.InitRequest) error {
	_, err := ch.call(duotrain.Envelope{Type: duotrain.MsgInit, Init: &req})
	return err
}

func (ch *RemoteChannel) Start(req duotrain.StartRequest) error {
	_, err := ch.call(duotrain.Envelope{Type: duotrain.MsgStart, Start: &req})
	return err
}

func (ch *RemoteChannel) Stop() {
	// no direct reply to STOP; a COMPLETE envelope follows via /worker/progress
	env := duotrain.Envelope{Type: duotrain.MsgStop, UUID: gouuid.New().String()}
	if err := duotrain.JsonPost(ch.baseURL, "/channel", env, nil); err != nil {
		log.Printf("[channel] stop request failed: %v", err)
	}
}

func (ch *RemoteChannel) Snapshot() (duotrain.WeightSnapshot, error) {
	reply, err := ch.call(duotrain.Envelope{Type: duotrain.MsgSnapshot})
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Weights == nil {
		return nil, errors.Errorf("no weights in reply")
	}
	return reply.Weights.Snapshot, nil
}

func (ch *RemoteChannel) Events() <-chan duotrain.Envelope {
	return ch.events
}

func (ch *RemoteChannel) Dispose() {
	ch.call(duotrain.Envelope{Type: duotrain.MsgDispose})
	remoteMu.Lock()
	if activeRemote == ch {
		activeRemote = nil
	}
	remoteMu.Unlock()
}

func init() {
	// standalone workers post PROGRESS/COMPLETE/ERROR envelopes here
	Router.HandleFunc("/worker/progress", func(w http.ResponseWriter, r *http.Request) {
		var env duotrain.Envelope
		if err := duotrain.ParseJsonRequest(w, r, &env); err != nil {
			return
		}
		remoteMu.Lock()
		ch := activeRemote
		remoteMu.Unlock()
		if ch == nil {
			http.Error(w, "no active worker channel", 404)
			return
		}
		ch.events <- env
	}).Methods("POST")
}
