// Package analysis implements the persistent work queue: lease-based
// claim, per-type executors, progress/event streaming, cancellation, and
// the lease-expiry sweep.
package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/domain/analysisjob"
	"github.com/fieldops/controlplane/internal/platform/errs"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/store"
)

// CancelToken is the cooperative cancellation signal an executor polls at
// phase boundaries; it never interrupts an in-flight atomic operation.
type CancelToken struct {
	mu        sync.Mutex
	requested bool
}

// Requested reports whether cancellation has been requested.
func (t *CancelToken) Requested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requested
}

func (t *CancelToken) request() {
	t.mu.Lock()
	t.requested = true
	t.mu.Unlock()
}

// RunContext is what an executor receives: the job, a progress/event
// reporter, and a cancellation token.
type RunContext struct {
	Job    analysisjob.Job
	Cancel *CancelToken

	jobs *store.JobStore
}

// UpdateProgress rewrites the job's progress record.
func (rc *RunContext) UpdateProgress(ctx context.Context, p analysisjob.Progress) error {
	return rc.jobs.UpdateProgress(ctx, rc.Job.ID, p)
}

// AppendEvent appends one event to the job's event log.
func (rc *RunContext) AppendEvent(ctx context.Context, kind string, payload map[string]any) error {
	_, err := rc.jobs.AppendEvent(ctx, rc.Job.ID, kind, payload)
	return err
}

// Executor runs one job type to completion, returning its JSON result or
// an error. Returning errs.ErrCanceled (or wrapping it) is treated as a
// clean cancellation, not a failure.
type Executor func(ctx context.Context, rc *RunContext) (map[string]any, error)

// Runtime owns the executor slot pool, claim loop, and lease sweeper.
type Runtime struct {
	jobs   *store.JobStore
	logger *logging.Logger

	executors map[string]Executor

	slots        int
	pollInterval time.Duration
	leaseTTL     time.Duration

	mu      sync.Mutex
	cancels map[string]*CancelToken
}

// NewRuntime builds a Runtime with slots concurrent executor slots.
func NewRuntime(jobs *store.JobStore, logger *logging.Logger, slots int, pollInterval, leaseTTL time.Duration) *Runtime {
	if slots <= 0 {
		slots = 1
	}
	return &Runtime{
		jobs:         jobs,
		logger:       logger,
		executors:    make(map[string]Executor),
		slots:        slots,
		pollInterval: pollInterval,
		leaseTTL:     leaseTTL,
		cancels:      make(map[string]*CancelToken),
	}
}

// Register binds jobType to an Executor.
func (r *Runtime) Register(jobType string, exec Executor) {
	r.executors[jobType] = exec
}

// Run starts the executor slot pool and the lease sweeper, both until ctx
// is canceled.
func (r *Runtime) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(r.slots + 1)
	for i := 0; i < r.slots; i++ {
		go func() {
			defer wg.Done()
			r.runSlot(ctx)
		}()
	}
	go func() {
		defer wg.Done()
		r.runSweeper(ctx)
	}()
	wg.Wait()
}

func (r *Runtime) runSlot(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.claimAndRun(ctx)
		}
	}
}

func (r *Runtime) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.leaseTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.jobs.SweepExpiredLeases(ctx, r.leaseTTL)
			if err != nil && r.logger != nil {
				r.logger.WithContext(ctx).Warn("analysis: lease sweep failed")
			}
			if n > 0 && r.logger != nil {
				r.logger.WithContext(ctx).WithFields(map[string]any{"count": n}).
					Info("analysis: expired leases swept")
			}
		}
	}
}

func (r *Runtime) claimAndRun(ctx context.Context) {
	job, err := r.jobs.Claim(ctx)
	if err != nil {
		if err == sql.ErrNoRows || err == store.ErrNoRows {
			return
		}
		if r.logger != nil {
			r.logger.WithContext(ctx).Warn("analysis: claim failed")
		}
		return
	}

	exec, ok := r.executors[job.JobType]
	if !ok {
		_ = r.jobs.Fail(ctx, job.ID, analysisjob.Failure{
			Code: analysisjob.FailureExecutor, Message: fmt.Sprintf("no executor registered for job_type %q", job.JobType),
		})
		return
	}

	token := &CancelToken{}
	r.mu.Lock()
	r.cancels[job.ID] = token
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, job.ID)
		r.mu.Unlock()
	}()

	if job.CancelRequested() {
		token.request()
	}

	rc := &RunContext{Job: job, Cancel: token, jobs: r.jobs}

	start := time.Now()
	result, err := exec(ctx, rc)
	outcome := "completed"

	switch {
	case err != nil && errs.IsCanceled(err):
		outcome = "canceled"
		_ = r.jobs.FinishCanceled(ctx, job.ID)
	case err != nil:
		outcome = "failed"
		code := analysisjob.FailureExecutor
		_ = r.jobs.Fail(ctx, job.ID, analysisjob.Failure{Code: code, Message: err.Error()})
	default:
		_ = r.jobs.Complete(ctx, job.ID, result)
	}

	metrics.Global().RecordAnalysisJob(job.JobType, outcome, time.Since(start))
	if r.logger != nil {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id": job.ID, "job_type": job.JobType, "outcome": outcome,
		}).Info("analysis: job finished")
	}
}

// RequestCancel sets the in-memory cancel token for a locally-running job,
// in addition to the persisted cancel_requested_at the caller should also
// write via JobStore.Cancel.
func (r *Runtime) RequestCancel(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, ok := r.cancels[jobID]; ok {
		token.request()
	}
}
