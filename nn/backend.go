package nn

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Backend is the compute substrate executing tensor operations. Activation
// may fail (and is retried by the selector); a successful activation is
// still verified with a probe before being trusted.
type Backend interface {
	Name() string
	Activate() error
	// For executes n independent work items, possibly concurrently.
	For(n int, fn func(i int))
	Release()
}

func runSequential(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// SequentialBackend runs every operation inline on the calling goroutine.
// It is the fallback of last resort and must never fail to activate.
type SequentialBackend struct{}

func (b *SequentialBackend) Name() string              { return "cpu-sequential" }
func (b *SequentialBackend) Activate() error           { return nil }
func (b *SequentialBackend) For(n int, fn func(i int)) { runSequential(n, fn) }
func (b *SequentialBackend) Release()                  {}

// ParallelBackend fans independent work items out across worker
// goroutines. It refuses to activate on a single-core host, where it is
// strictly overhead.
type ParallelBackend struct {
	workers int
}

func (b *ParallelBackend) Name() string { return "cpu-parallel" }

func (b *ParallelBackend) Activate() error {
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if cores <= 1 {
		return errors.Errorf("only %d core available", cores)
	}
	b.workers = cores
	return nil
}

func (b *ParallelBackend) For(n int, fn func(i int)) {
	workers := b.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		runSequential(n, fn)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

func (b *ParallelBackend) Release() { b.workers = 0 }

// HardwareInfo describes the host the backends were measured on.
type HardwareInfo struct {
	CPU      string   `json:"cpu"`
	Cores    int      `json:"cores"`
	Features []string `json:"features"`
}

func DetectHardware() HardwareInfo {
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return HardwareInfo{
		CPU:      cpuid.CPU.BrandName,
		Cores:    cores,
		Features: cpuid.CPU.FeatureSet(),
	}
}

// Measurement is the benchmark result for one candidate backend.
type Measurement struct {
	Backend   string  `json:"backend"`
	OpsPerSec float64 `json:"ops_per_sec"`
	// set if the candidate failed to activate or probe
	Error string `json:"error,omitempty"`
}

// Profile reports a completed backend selection. It is recomputed on
// demand and never persisted.
type Profile struct {
	Hardware     HardwareInfo  `json:"hardware"`
	Measurements []Measurement `json:"measurements"`
	Selected     string        `json:"selected"`
}
