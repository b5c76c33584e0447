// Package analysisjob defines the AnalysisJob entity the Analysis Job
// Runtime claims, executes, and mutates exclusively after creation.
package analysisjob

import "time"

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s is a terminal status — used by the dedupe
// path, which only matches non-terminal jobs.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Progress is an executor-maintained progress record.
type Progress struct {
	Phase     string
	Completed int64
	Total     *int64
	Message   string
}

// FailureCode enumerates the handful of codes executors and the lease
// sweeper assign to a failed job.
type FailureCode string

const (
	FailureLeaseExpired FailureCode = "lease_expired"
	FailureExecutor     FailureCode = "executor_error"
	FailureValidation   FailureCode = "validation_error"
)

// Failure is the error record written when a job transitions to failed.
type Failure struct {
	Code    FailureCode
	Message string
	Details map[string]any
}

// Job is one persistent work-queue row.
type Job struct {
	ID                string
	JobType           string
	Status            Status
	Params            map[string]any
	Progress          Progress
	Failure           *Failure
	Result            map[string]any
	JobKey            string // optional, used for Dedupe
	Dedupe            bool
	CreatorID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CancelRequestedAt *time.Time
	CanceledAt        *time.Time
	ExpiresAt         *time.Time
}

// CancelRequested reports whether the executor should observe cancellation
// at its next cooperative checkpoint.
func (j Job) CancelRequested() bool { return j.CancelRequestedAt != nil }

// Known job types with a documented executor contract (§4.F). Job types
// outside this list still share the lifecycle contract; their internals
// are not constrained.
const (
	JobEmbeddingsBuildV1    = "embeddings_build_v1"
	JobLakeReplicationTick  = "lake_replication_tick_v1"
	JobLakeInspectV1        = "lake_inspect_v1"
	JobLakeBackfillV1       = "lake_backfill_v1"
)
