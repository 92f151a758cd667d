package testutil

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/roach88/scriptfuzz/internal/ir"
	"github.com/roach88/scriptfuzz/internal/monitor"
)

// ScriptedExecutor stands in for a monitored target. It classifies each
// job with Classify (normal when nil) and remembers every job it saw.
//
// Safe for concurrent use, so one instance can back several slots.
type ScriptedExecutor struct {
	// Classify picks the outcome of a job.
	Classify func(job monitor.Job) ir.Outcome
	// Delay is slept before classifying, honoring cancellation.
	Delay time.Duration

	mu   sync.Mutex
	jobs []monitor.Job
}

// Execute implements campaign.Executor.
func (e *ScriptedExecutor) Execute(ctx context.Context, job monitor.Job) (*ir.ExecutionResult, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()

	outcome := ir.OutcomeNormal
	if e.Classify != nil {
		outcome = e.Classify(job)
	}
	res := &ir.ExecutionResult{
		TestCaseID: job.ID,
		Outcome:    outcome,
		Duration:   time.Millisecond,
	}
	if outcome.Archived() {
		res.Evidence = filepath.Join(job.Dir, string(outcome))
	}
	return res, nil
}

// Jobs returns the jobs executed so far, sorted by artifact path.
func (e *ScriptedExecutor) Jobs() []monitor.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := slices.Clone(e.jobs)
	slices.SortFunc(out, func(a, b monitor.Job) int {
		switch {
		case a.Artifact < b.Artifact:
			return -1
		case a.Artifact > b.Artifact:
			return 1
		}
		return 0
	})
	return out
}

// Count returns how many jobs were executed.
func (e *ScriptedExecutor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}
