package app

import (
	"log"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

// Status is the model lifecycle state.
type Status int

const (
	Uninitialized Status = iota
	Initializing
	Building
	Compiling
	Ready
	Training
	Success
	StatusError
	// entered when the layer specs change while not mid-build; the next
	// lifecycle request re-enters Building
	ArchitectureChanged
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Building:
		return "building"
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	case Training:
		return "training"
	case Success:
		return "success"
	case StatusError:
		return "error"
	case ArchitectureChanged:
		return "architecture_changed"
	default:
		return "unknown"
	}
}

// Session owns the foreground model and its lifecycle: it is the single
// holder of the compiled model, the selected backend, and the submitted
// architecture. There is no ambient global model state; everything goes
// through an explicit session with Init/Dispose entry points.
type Session struct {
	mu sync.Mutex

	status       Status
	specs        []duotrain.LayerSpec
	inputShape   []int
	learningRate float64

	model   *nn.Model
	backend nn.Backend
	profile *nn.Profile

	lastErr error
}

func NewSession() *Session {
	return &Session{status: Uninitialized, learningRate: 0.01}
}

// SetArchitecture replaces the layer spec list. Any compiled model is
// invalidated; the next lifecycle request rebuilds from scratch.
func (s *Session) SetArchitecture(specs []duotrain.LayerSpec, inputShape []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Training {
		return errors.Errorf("cannot change architecture while training")
	}
	s.specs = append([]duotrain.LayerSpec(nil), specs...)
	s.inputShape = append([]int(nil), inputShape...)
	s.model = nil
	s.status = ArchitectureChanged
	return nil
}

func (s *Session) Architecture() ([]duotrain.LayerSpec, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs, s.inputShape
}

// EnsureReady drives the lifecycle to Ready, performing backend
// selection, build and compile as needed. Build and backend failures are
// terminal: the session lands in StatusError and requires Reset.
func (s *Session) EnsureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureReadyLocked()
}

func (s *Session) ensureReadyLocked() error {
	switch s.status {
	case StatusError:
		return errors.Wrap(s.lastErr, "session is in error state, reset required")
	case Training:
		return errors.Errorf("already training")
	case Ready, Success:
		if s.model != nil {
			return nil
		}
	}
	if len(s.specs) == 0 || len(s.inputShape) == 0 {
		return errors.Errorf("no architecture submitted")
	}

	if s.backend == nil {
		s.status = Initializing
		backend, profile, err := nn.SelectBackend(nn.DefaultCandidates())
		if err != nil {
			s.fail(err)
			return err
		}
		s.backend = backend
		s.profile = profile
	}

	s.status = Building
	model, err := nn.Build(s.specs, s.inputShape)
	if err != nil {
		s.fail(err)
		return err
	}

	s.status = Compiling
	model.Compile(s.learningRate, s.backend)

	s.model = model
	s.status = Ready
	log.Printf("[session] model ready: %d layers, input %v, backend %s",
		len(model.Layers()), s.inputShape, s.backend.Name())
	return nil
}

// fail moves the lifecycle to its terminal error state, dropping any
// partially constructed model so it can never be observed.
func (s *Session) fail(err error) {
	s.model = nil
	s.lastErr = err
	s.status = StatusError
}

// Reset clears a terminal error (or any idle state) back to square one.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Training {
		return
	}
	if s.backend != nil {
		s.backend.Release()
		s.backend = nil
	}
	s.model = nil
	s.lastErr = nil
	s.profile = nil
	s.status = Uninitialized
}

// Dispose releases every resource the session holds.
func (s *Session) Dispose() {
	s.Reset()
}

// SetLearningRate adjusts the optimizer. While Ready or Success this is a
// cheap recompile of the existing model, never a rebuild.
func (s *Session) SetLearningRate(rate float64) error {
	if rate <= 0 {
		return errors.Errorf("learning rate must be positive, got %v", rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learningRate = rate
	if s.model != nil && (s.status == Ready || s.status == Success) {
		s.model.Compile(rate, s.backend)
	}
	return nil
}

func (s *Session) LearningRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.learningRate
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Profile() *nn.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Model returns the foreground compiled model, or nil if none exists.
func (s *Session) Model() *nn.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Predict runs one input through the foreground model.
func (s *Session) Predict(x []float32) (float32, int, error) {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return 0, 0, errors.Errorf("no compiled model")
	}
	return model.Predict(x)
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
