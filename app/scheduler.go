package app

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

// wait at least this long after the last visibility event before acting;
// the signal is bursty and overlapping triggers must collapse
const visibilityDebounce = 200 * time.Millisecond

// how long to wait for a stopping background loop to acknowledge at an
// epoch boundary before giving up on the migration
const stopAckTimeout = 60 * time.Second

// Visualizer receives diagnostic statistics when a job completes. The
// rendering itself is an external collaborator.
type Visualizer interface {
	ShowConvFilters(filters duotrain.WeightTensor)
}

type logVisualizer struct{}

func (logVisualizer) ShowConvFilters(filters duotrain.WeightTensor) {
	log.Printf("[scheduler] learned filter sample: shape %v", filters.Shape)
}

// foreground epoch loop handle. The loop checks the stop flag at each
// epoch boundary and closes done when it exits.
type fgRunner struct {
	stop int32
	done chan struct{}
}

// Scheduler owns the active training job, decides which execution
// context runs it, and performs live migration between contexts in
// response to visibility changes. Exactly one context runs the fit loop
// at any instant; a migration stops the old loop, snapshots its weights
// and resumes in the new context, so the two never train concurrently.
type Scheduler struct {
	mu sync.Mutex

	session *Session

	job   *duotrain.TrainingJob
	dbJob *DBJob

	// cached samples for foreground epochs
	inputs [][]float32
	labels []float32

	channel     Channel
	pumpStarted bool

	fg *fgRunner

	visible   bool
	visTimer  *time.Timer
	migrating bool

	// set while a migration or stop waits for the background loop's
	// COMPLETE acknowledgment
	pendingComplete chan *duotrain.CompletePayload

	visualizer    Visualizer
	epochStartFns []func(duotrain.Progress)
	progressFns   []func(duotrain.Progress)
	doneFns       []func(duotrain.TrainingJob)
}

func NewScheduler(session *Session) *Scheduler {
	return &Scheduler{
		session:    session,
		visible:    true,
		visualizer: logVisualizer{},
	}
}

func (s *Scheduler) SetVisualizer(v Visualizer) {
	s.mu.Lock()
	s.visualizer = v
	s.mu.Unlock()
}

// OnEpochStart registers a consumer for epoch-start events: one fires
// when a context begins or resumes its loop and one before each
// subsequent epoch in that context.
func (s *Scheduler) OnEpochStart(fn func(duotrain.Progress)) {
	s.mu.Lock()
	s.epochStartFns = append(s.epochStartFns, fn)
	s.mu.Unlock()
}

// OnProgress registers a telemetry consumer (the UI push).
func (s *Scheduler) OnProgress(fn func(duotrain.Progress)) {
	s.mu.Lock()
	s.progressFns = append(s.progressFns, fn)
	s.mu.Unlock()
}

func (s *Scheduler) OnDone(fn func(duotrain.TrainingJob)) {
	s.mu.Lock()
	s.doneFns = append(s.doneFns, fn)
	s.mu.Unlock()
}

// Job returns a copy of the active job, or nil if none.
func (s *Scheduler) Job() *duotrain.TrainingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil
	}
	job := *s.job
	job.LossHistory = append([]float64(nil), s.job.LossHistory...)
	job.AccHistory = append([]float64(nil), s.job.AccHistory...)
	return &job
}

// StartTraining creates a job and starts its epoch loop in the initial
// context: Foreground if the host is visible, else Background (falling
// back to Foreground if the background context cannot be reached).
func (s *Scheduler) StartTraining(datasetID, totalEpochs, batchSize int) error {
	if totalEpochs <= 0 {
		return errors.Errorf("total epochs must be positive, got %d", totalEpochs)
	}
	if err := s.session.EnsureReady(); err != nil {
		return err
	}
	inputs, labels, err := LoadSamples(datasetID)
	if err != nil {
		return duotrain.TrainingError{Err: err}
	}
	if len(inputs) == 0 {
		return duotrain.TrainingError{Err: errors.Errorf("dataset %d is empty", datasetID)}
	}

	s.mu.Lock()
	if s.job != nil && s.job.Active {
		s.mu.Unlock()
		return errors.Errorf("a job is already active")
	}
	s.inputs = inputs
	s.labels = labels
	s.dbJob = NewJob(datasetID)
	s.job = &duotrain.TrainingJob{
		TotalEpochs: totalEpochs,
		BatchSize:   batchSize,
		DatasetID:   datasetID,
		Active:      true,
	}

	ctx := duotrain.Foreground
	if !s.visible {
		ctx = duotrain.Background
	}
	// the context must be recorded before the loop starts, or its first
	// epoch events would be dropped as stale
	s.job.ActiveContext = ctx
	s.dbJob.UpdateState(s.job)
	s.mu.Unlock()

	s.session.setStatus(Training)

	if ctx == duotrain.Background {
		if err := s.startBackground(0, nil); err != nil {
			log.Printf("[scheduler] background start failed, falling back to foreground: %v", err)
			ctx = duotrain.Foreground
			s.mu.Lock()
			s.job.ActiveContext = ctx
			s.dbJob.UpdateState(s.job)
			s.mu.Unlock()
		}
	}
	if ctx == duotrain.Foreground {
		s.startForeground(0)
	}
	log.Printf("[scheduler] job started: %d epochs in %s", totalEpochs, ctx)
	return nil
}

// fireEpochStarted announces that the given context is about to run an
// epoch. Stale contexts are dropped the same way completions are.
func (s *Scheduler) fireEpochStarted(ctx duotrain.ExecContext, epoch int) {
	s.mu.Lock()
	if s.job == nil || !s.job.Active || ctx != s.job.ActiveContext {
		s.mu.Unlock()
		return
	}
	progress := duotrain.Progress{
		Epoch:       epoch,
		TotalEpochs: s.job.TotalEpochs,
		Context:     ctx,
	}
	fns := s.epochStartFns
	s.mu.Unlock()

	for _, fn := range fns {
		fn(progress)
	}
}

// startForeground launches the foreground epoch loop from the given
// epoch. Caller must ensure no other loop is running.
func (s *Scheduler) startForeground(from int) {
	model := s.session.Model()
	r := &fgRunner{done: make(chan struct{})}
	s.mu.Lock()
	s.fg = r
	total := s.job.TotalEpochs
	batch := s.job.BatchSize
	inputs, labels := s.inputs, s.labels
	s.mu.Unlock()

	s.fireEpochStarted(duotrain.Foreground, from)
	go func() {
		defer close(r.done)
		for epoch := from; epoch < total; epoch++ {
			if atomic.LoadInt32(&r.stop) != 0 {
				return
			}
			loss, acc, err := model.TrainEpoch(inputs, labels, batch)
			if err != nil {
				s.onTrainingError(duotrain.Foreground, duotrain.TrainingError{Err: err})
				return
			}
			s.onEpochCompleted(duotrain.Foreground, epoch, loss, acc)
		}
		s.onForegroundFinished()
	}()
}

// startBackground builds an equivalent model in the background context
// and starts its loop from the given epoch, seeding it with the supplied
// snapshot (nil means the current foreground weights).
func (s *Scheduler) startBackground(from int, resume duotrain.WeightSnapshot) error {
	specs, inputShape := s.session.Architecture()
	rate := s.session.LearningRate()
	if resume == nil {
		if model := s.session.Model(); model != nil {
			resume = nn.Extract(model)
		}
	}

	ch := s.ensureChannel()
	if err := ch.Init(duotrain.InitRequest{
		LayerSpecs:   specs,
		InputShape:   inputShape,
		LearningRate: rate,
	}); err != nil {
		return duotrain.MigrationError{Target: duotrain.Background, Err: err}
	}

	s.mu.Lock()
	req := duotrain.StartRequest{
		DatasetID:    s.job.DatasetID,
		TotalEpochs:  s.job.TotalEpochs,
		StartEpoch:   from,
		BatchSize:    s.job.BatchSize,
		LearningRate: rate,
		Resume:       resume,
	}
	s.mu.Unlock()

	if err := ch.Start(req); err != nil {
		return duotrain.MigrationError{Target: duotrain.Background, Err: err}
	}
	s.fireEpochStarted(duotrain.Background, from)
	return nil
}

func (s *Scheduler) ensureChannel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		s.channel = NewChannel()
	}
	if !s.pumpStarted {
		s.pumpStarted = true
		go s.pump(s.channel.Events())
	}
	return s.channel
}

// pump consumes background channel envelopes in order, so PROGRESS for
// an epoch is always observed before the COMPLETE that follows it.
func (s *Scheduler) pump(events <-chan duotrain.Envelope) {
	for env := range events {
		switch env.Type {
		case duotrain.MsgProgress:
			if env.Progress != nil {
				s.onEpochCompleted(duotrain.Background, env.Progress.Epoch, env.Progress.Loss, env.Progress.Accuracy)
			}
		case duotrain.MsgComplete:
			if env.Complete != nil {
				s.onBackgroundComplete(env.Complete)
			}
		case duotrain.MsgError:
			s.onTrainingError(duotrain.Background, errors.New(env.Error))
		}
	}
}

// onEpochCompleted advances the shared job state. Events from a context
// that no longer owns the job are stale and dropped, which keeps
// CompletedEpochs monotonic across migrations.
func (s *Scheduler) onEpochCompleted(ctx duotrain.ExecContext, epoch int, loss, acc float64) {
	s.mu.Lock()
	if s.job == nil || !s.job.Active || ctx != s.job.ActiveContext {
		s.mu.Unlock()
		return
	}
	if epoch+1 > s.job.CompletedEpochs {
		s.job.CompletedEpochs = epoch + 1
	}
	s.job.LossHistory = append(s.job.LossHistory, loss)
	s.job.AccHistory = append(s.job.AccHistory, acc)
	progress := duotrain.Progress{
		Epoch:       epoch,
		TotalEpochs: s.job.TotalEpochs,
		Loss:        loss,
		Accuracy:    acc,
		Context:     ctx,
	}
	s.dbJob.UpdateState(s.job)
	continuing := s.job.Remaining() > 0
	fns := s.progressFns
	s.mu.Unlock()

	for _, fn := range fns {
		fn(progress)
	}
	if continuing {
		s.fireEpochStarted(ctx, epoch+1)
	}
}

func (s *Scheduler) onForegroundFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fg = nil
	if s.job != nil && s.job.Active && s.job.Remaining() <= 0 {
		s.finalizeLocked("")
	}
}

// onBackgroundComplete handles the COMPLETE envelope, which arrives both
// when the background loop finishes the job and when it acknowledges a
// cooperative stop.
func (s *Scheduler) onBackgroundComplete(payload *duotrain.CompletePayload) {
	s.mu.Lock()
	if s.pendingComplete != nil {
		wait := s.pendingComplete
		s.pendingComplete = nil
		s.mu.Unlock()
		wait <- payload
		return
	}
	job := s.job
	if job == nil || !job.Active || job.ActiveContext != duotrain.Background {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// natural completion: pull the learned weights into the foreground
	// model so prediction and export see them
	if model := s.session.Model(); model != nil {
		if err := nn.Apply(model, payload.Snapshot); err != nil {
			log.Printf("[scheduler] could not install final weights: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil && s.job.Active && s.job.Remaining() <= 0 {
		s.finalizeLocked("")
	}
}

func (s *Scheduler) onTrainingError(ctx duotrain.ExecContext, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || !s.job.Active || ctx != s.job.ActiveContext {
		return
	}
	if ctx == duotrain.Foreground {
		s.fg = nil
	}
	log.Printf("[scheduler] job aborted: %v", err)
	s.finalizeLocked(err.Error())
}

// finalizeLocked ends the job. With an empty error and all epochs done,
// the model lifecycle moves to Success and diagnostic statistics go to
// the visualization collaborator; otherwise the session returns to Ready.
func (s *Scheduler) finalizeLocked(errMsg string) {
	job := s.job
	job.Active = false
	s.dbJob.UpdateState(job)
	s.dbJob.SetDone(errMsg)

	success := errMsg == "" && job.Remaining() <= 0
	if success {
		s.session.setStatus(Success)
		if model := s.session.Model(); model != nil {
			if sample := firstConvFilters(model); sample != nil {
				s.visualizer.ShowConvFilters(*sample)
			}
		}
	} else {
		s.session.setStatus(Ready)
	}
	log.Printf("[scheduler] job done: %d/%d epochs, success=%v", job.CompletedEpochs, job.TotalEpochs, success)

	jobCopy := *job
	fns := s.doneFns
	go func() {
		for _, fn := range fns {
			fn(jobCopy)
		}
	}()
}

func firstConvFilters(model *nn.Model) *duotrain.WeightTensor {
	for _, layer := range model.Layers() {
		if conv, ok := layer.(*nn.Conv2D); ok {
			params := conv.Params()
			data := make([]float32, len(params[0].Data))
			copy(data, params[0].Data)
			return &duotrain.WeightTensor{Shape: params[0].Shape, Data: data}
		}
	}
	return nil
}

// SetVisible feeds the host visibility signal. The stream is bursty, so
// nothing happens until it has been quiet for the debounce interval.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
	if s.job == nil || !s.job.Active {
		return
	}
	if s.visTimer != nil {
		s.visTimer.Stop()
	}
	s.visTimer = time.AfterFunc(visibilityDebounce, s.maybeMigrate)
}

// maybeMigrate decides whether the settled visibility state calls for a
// migration, and starts at most one.
func (s *Scheduler) maybeMigrate() {
	s.mu.Lock()
	if s.job == nil || !s.job.Active || s.migrating {
		s.mu.Unlock()
		return
	}
	target := duotrain.Foreground
	if !s.visible {
		target = duotrain.Background
	}
	if target == s.job.ActiveContext || s.job.Remaining() <= 0 {
		s.mu.Unlock()
		return
	}
	s.migrating = true
	s.mu.Unlock()

	go func() {
		if target == duotrain.Background {
			s.migrateToBackground()
		} else {
			s.migrateToForeground()
		}
		s.mu.Lock()
		s.migrating = false
		s.mu.Unlock()
	}()
}

// migrateToBackground: stop the foreground loop, snapshot its weights,
// rebuild in the background context and resume for the remaining epochs.
func (s *Scheduler) migrateToBackground() {
	s.mu.Lock()
	fg := s.fg
	s.mu.Unlock()
	if fg != nil {
		atomic.StoreInt32(&fg.stop, 1)
		<-fg.done
		s.mu.Lock()
		s.fg = nil
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.job == nil || !s.job.Active || s.job.Remaining() <= 0 {
		s.mu.Unlock()
		return
	}
	from := s.job.CompletedEpochs
	// record the handover before the background loop starts emitting
	s.job.ActiveContext = duotrain.Background
	s.dbJob.UpdateState(s.job)
	s.mu.Unlock()

	snap := duotrain.WeightSnapshot(nil)
	if model := s.session.Model(); model != nil {
		snap = nn.Extract(model)
	}

	if err := s.startBackground(from, snap); err != nil {
		// the job must never be left with neither context running it
		log.Printf("[scheduler] %v; continuing in foreground", err)
		s.mu.Lock()
		s.job.ActiveContext = duotrain.Foreground
		s.dbJob.UpdateState(s.job)
		s.mu.Unlock()
		s.startForeground(from)
		return
	}

	s.mu.Lock()
	stopped := s.job == nil || !s.job.Active
	ch := s.channel
	s.mu.Unlock()
	if stopped {
		// the job was finalized while the handover was in flight; do not
		// leave the background loop training a dead job
		if ch != nil {
			ch.Stop()
		}
		return
	}
	log.Printf("[scheduler] migrated to background at epoch %d", from)
}

// migrateToForeground: cooperatively stop the background loop, wait for
// its COMPLETE acknowledgment, install its weights in the foreground
// model and resume for the remaining epochs.
func (s *Scheduler) migrateToForeground() {
	s.mu.Lock()
	ch := s.channel
	if ch == nil || s.job == nil || !s.job.Active {
		s.mu.Unlock()
		return
	}
	wait := make(chan *duotrain.CompletePayload, 1)
	s.pendingComplete = wait
	s.mu.Unlock()

	ch.Stop()

	var payload *duotrain.CompletePayload
	select {
	case payload = <-wait:
	case <-time.After(stopAckTimeout):
		// background never acknowledged; leave the job running there
		s.mu.Lock()
		s.pendingComplete = nil
		s.mu.Unlock()
		log.Printf("[scheduler] %v", duotrain.MigrationError{
			Target: duotrain.Foreground,
			Err:    errors.Errorf("stop not acknowledged within %v", stopAckTimeout),
		})
		return
	}

	s.mu.Lock()
	if s.job == nil || !s.job.Active {
		s.mu.Unlock()
		return
	}
	from := s.job.CompletedEpochs
	remaining := s.job.Remaining()
	s.mu.Unlock()

	model := s.session.Model()
	if model != nil && len(payload.Snapshot) > 0 {
		if err := nn.Apply(model, payload.Snapshot); err != nil {
			// weights could not cross over; restart the background loop
			// with its own final weights
			log.Printf("[scheduler] %v; continuing in background", duotrain.MigrationError{
				Target: duotrain.Foreground,
				Err:    err,
			})
			if err := s.startBackground(from, payload.Snapshot); err != nil {
				// neither context can run the job now
				log.Printf("[scheduler] background restart failed: %v", err)
				s.mu.Lock()
				if s.job != nil && s.job.Active {
					s.finalizeLocked(err.Error())
				}
				s.mu.Unlock()
			}
			return
		}
	}

	if remaining <= 0 {
		s.mu.Lock()
		if s.job != nil && s.job.Active {
			s.finalizeLocked("")
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.job.ActiveContext = duotrain.Foreground
	s.dbJob.UpdateState(s.job)
	s.mu.Unlock()
	s.startForeground(from)
	log.Printf("[scheduler] migrated to foreground at epoch %d", from)
}

// StopTraining cooperatively stops the active job in whichever context
// runs it. The job ends without reaching Success.
func (s *Scheduler) StopTraining() {
	s.mu.Lock()
	// let an in-flight migration finish its handover first, so the stop
	// always sees one well-defined running context
	for s.migrating {
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		s.mu.Lock()
	}
	if s.job == nil || !s.job.Active {
		s.mu.Unlock()
		return
	}
	ctx := s.job.ActiveContext
	fg := s.fg
	ch := s.channel
	var wait chan *duotrain.CompletePayload
	if ctx == duotrain.Background && ch != nil {
		wait = make(chan *duotrain.CompletePayload, 1)
		s.pendingComplete = wait
	}
	s.mu.Unlock()

	if ctx == duotrain.Foreground {
		if fg != nil {
			atomic.StoreInt32(&fg.stop, 1)
			<-fg.done
			s.mu.Lock()
			s.fg = nil
			s.mu.Unlock()
		}
	} else if wait != nil {
		ch.Stop()
		select {
		case payload := <-wait:
			if model := s.session.Model(); model != nil && len(payload.Snapshot) > 0 {
				if err := nn.Apply(model, payload.Snapshot); err != nil {
					log.Printf("[scheduler] could not install stopped weights: %v", err)
				}
			}
		case <-time.After(stopAckTimeout):
			s.mu.Lock()
			s.pendingComplete = nil
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil && s.job.Active {
		s.finalizeLocked("")
	}
}

// Dispose stops any active job and releases the background context.
func (s *Scheduler) Dispose() {
	s.StopTraining()
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()
	if ch != nil {
		ch.Dispose()
	}
}
