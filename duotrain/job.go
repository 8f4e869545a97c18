package duotrain

import (
	"time"
)

// ExecContext names the run-time environment currently holding a compiled
// model and running training epochs.
type ExecContext string

const (
	Foreground ExecContext = "foreground"
	Background ExecContext = "background"
)

func (c ExecContext) String() string { return string(c) }

// Job is the persisted record of one training job.
type Job struct {
	ID        int
	UUID      string
	DatasetID int
	StartTime time.Time
	State     string

	// If the job succeeds, Done=true and Error="".
	// If it fails, then Done=true and Error is set.
	// If Done=false it implies the job is still running.
	Done  bool
	Error string
}

// TrainingJob is the live state of the active job. CompletedEpochs is
// monotonically non-decreasing for the lifetime of the job, including
// across migrations; LossHistory grows by one entry per completed epoch.
type TrainingJob struct {
	TotalEpochs     int         `json:"total_epochs"`
	CompletedEpochs int         `json:"completed_epochs"`
	BatchSize       int         `json:"batch_size"`
	DatasetID       int         `json:"dataset_id"`
	LossHistory     []float64   `json:"loss_history"`
	AccHistory      []float64   `json:"acc_history"`
	ActiveContext   ExecContext `json:"active_context"`
	Active          bool        `json:"active"`
}

// Remaining returns how many epochs are still owed. Zero or less means
// the job is finished and must not be migrated or resumed.
func (j *TrainingJob) Remaining() int {
	return j.TotalEpochs - j.CompletedEpochs
}

// Progress is the telemetry record pushed to the UI after every epoch.
type Progress struct {
	Epoch       int         `json:"epoch"`
	TotalEpochs int         `json:"total_epochs"`
	Loss        float64     `json:"loss"`
	Accuracy    float64     `json:"accuracy"`
	Context     ExecContext `json:"context"`
}
