package duotrain

import (
	"fmt"
)

// BuildError indicates an invalid or incompatible layer sequence. It is
// terminal: the model lifecycle moves to StatusError and requires an
// explicit reset before retrying.
type BuildError struct {
	Layer int
	Err   error
}

func (e BuildError) Error() string {
	if e.Layer >= 0 {
		return fmt.Sprintf("build failed at layer %d: %v", e.Layer, e.Err)
	}
	return fmt.Sprintf("build failed: %v", e.Err)
}

func (e BuildError) Unwrap() error { return e.Err }

// BackendError indicates that no compute backend could be activated.
// Like BuildError it is terminal for the lifecycle.
type BackendError struct {
	Err error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("no compute backend available: %v", e.Err)
}

func (e BackendError) Unwrap() error { return e.Err }

// TrainingError indicates a numerical failure or an empty dataset. It
// aborts the current job and surfaces to the caller.
type TrainingError struct {
	Err error
}

func (e TrainingError) Error() string {
	return fmt.Sprintf("training failed: %v", e.Err)
}

func (e TrainingError) Unwrap() error { return e.Err }

// MigrationError indicates the target context was unreachable or the
// snapshot load failed. The scheduler recovers locally by reverting to the
// last-known-good context; it is a warning, not a job failure.
type MigrationError struct {
	Target ExecContext
	Err    error
}

func (e MigrationError) Error() string {
	return fmt.Sprintf("migration to %s failed: %v", e.Target, e.Err)
}

func (e MigrationError) Unwrap() error { return e.Err }

// SerializationError indicates a malformed weight payload. During an
// external load it is non-fatal: the model proceeds with the weights it
// already has.
type SerializationError struct {
	Err error
}

func (e SerializationError) Error() string {
	return fmt.Sprintf("bad weight payload: %v", e.Err)
}

func (e SerializationError) Unwrap() error { return e.Err }
