package nn

import (
	"log"
	"math"
	"time"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/pkg/errors"
)

const (
	activateRetries = 3
	activateBackoff = 100 * time.Millisecond
	benchIterations = 30
	// within this relative margin the earlier candidate in priority
	// order wins, so repeated selections stay deterministic
	tieEpsilon = 0.05
)

// DefaultCandidates returns the candidate backends ordered from
// fastest-assumed to slowest. The sequential CPU backend is always last.
func DefaultCandidates() []Backend {
	return []Backend{
		&ParallelBackend{},
		&SequentialBackend{},
	}
}

// activateBackend retries activation with fixed backoff, then verifies
// the backend with a trivial probe operation. A backend that activates
// but fails the probe is not trusted.
func activateBackend(b Backend) error {
	var err error
	for attempt := 0; attempt < activateRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(activateBackoff)
		}
		if err = b.Activate(); err == nil {
			break
		}
	}
	if err != nil {
		return errors.Wrapf(err, "activation failed after %d attempts", activateRetries)
	}
	if err := probeBackend(b); err != nil {
		b.Release()
		return errors.Wrap(err, "probe failed")
	}
	return nil
}

// probeBackend runs one tiny dense forward pass and checks the result is
// actually a finite number.
func probeBackend(b Backend) error {
	layer, err := NewDense([]int{4}, 2, "sigmoid")
	if err != nil {
		return err
	}
	layer.setBackend(b)
	in := getScratch(4)
	defer putScratch(in)
	for i := range in {
		in[i] = float32(i+1) * 0.25
	}
	out := layer.Forward(in, false)
	for _, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.Errorf("probe produced non-finite output %v", v)
		}
	}
	return nil
}

// benchWorkload builds the fixed synthetic model used to measure a
// candidate: a small convolution + pooling + dense sequence mirroring the
// operators real training runs.
func benchWorkload(b Backend) (*Model, error) {
	specs := []duotrain.LayerSpec{
		{Kind: duotrain.KindConv, Filters: 4, KernelSize: 3, Activation: "relu"},
		{Kind: duotrain.KindPool, PoolSize: 2, PoolKind: "max"},
		{Kind: duotrain.KindFlatten},
		{Kind: duotrain.KindDense, Units: 8, Activation: "relu"},
	}
	model, err := Build(specs, []int{1, 12, 12})
	if err != nil {
		return nil, err
	}
	model.Compile(0.01, b)
	return model, nil
}

// measureBackend runs the synthetic workload for a fixed number of
// iterations and reports throughput in operations per second.
func measureBackend(b Backend) (float64, error) {
	model, err := benchWorkload(b)
	if err != nil {
		return 0, err
	}
	in := getScratch(NumElems(model.InputShape()))
	defer putScratch(in)
	for i := range in {
		in[i] = float32(i%7) * 0.1
	}
	start := time.Now()
	for iter := 0; iter < benchIterations; iter++ {
		if _, err := model.TrainSample(in, 1); err != nil {
			return 0, err
		}
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return float64(benchIterations) / elapsed.Seconds(), nil
}

// SelectBackend benchmarks each candidate and picks the highest measured
// throughput among those that activate, preferring the earlier candidate
// within the tie margin. Candidates that lose are released. If even the
// final CPU fallback is rejected, the whole system cannot initialize and
// a BackendError is returned.
func SelectBackend(candidates []Backend) (Backend, *Profile, error) {
	profile := &Profile{Hardware: DetectHardware()}
	var selected Backend
	var best float64

	for _, cand := range candidates {
		if err := activateBackend(cand); err != nil {
			log.Printf("[backend] %s unavailable: %v", cand.Name(), err)
			profile.Measurements = append(profile.Measurements, Measurement{
				Backend: cand.Name(),
				Error:   err.Error(),
			})
			continue
		}
		ops, err := measureBackend(cand)
		if err != nil {
			log.Printf("[backend] %s benchmark failed: %v", cand.Name(), err)
			cand.Release()
			profile.Measurements = append(profile.Measurements, Measurement{
				Backend: cand.Name(),
				Error:   err.Error(),
			})
			continue
		}
		log.Printf("[backend] %s: %.1f ops/sec", cand.Name(), ops)
		profile.Measurements = append(profile.Measurements, Measurement{
			Backend:   cand.Name(),
			OpsPerSec: ops,
		})
		if selected == nil || ops > best*(1+tieEpsilon) {
			if selected != nil {
				selected.Release()
			}
			selected = cand
			best = ops
		} else {
			cand.Release()
		}
	}

	if selected == nil {
		return nil, profile, duotrain.BackendError{
			Err: errors.Errorf("all %d candidates rejected, including the CPU fallback", len(candidates)),
		}
	}
	profile.Selected = selected.Name()
	return selected, profile, nil
}
