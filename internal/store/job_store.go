package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/controlplane/internal/domain/analysisjob"
	"github.com/fieldops/controlplane/internal/platform/errs"
)

// JobStore implements the Analysis Job Runtime's persistence: create with
// dedupe, lease-based claim, progress/event updates, cancellation, and the
// lease-expiry sweep.
type JobStore struct {
	db             *DB
	maxJobsPerUser int
}

// NewJobStore builds a JobStore over db.
func NewJobStore(db *DB) *JobStore { return &JobStore{db: db} }

// SetMaxJobsPerUser configures the per-creator pending+running quota
// enforced by Create. A non-positive value disables the check.
func (s *JobStore) SetMaxJobsPerUser(n int) { s.maxJobsPerUser = n }

const createJobsTablesSQL = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id                   UUID PRIMARY KEY,
	job_type             TEXT NOT NULL,
	status               TEXT NOT NULL,
	params               JSONB NOT NULL DEFAULT '{}',
	progress_phase       TEXT NOT NULL DEFAULT '',
	progress_completed   BIGINT NOT NULL DEFAULT 0,
	progress_total       BIGINT,
	progress_message     TEXT NOT NULL DEFAULT '',
	failure_code         TEXT,
	failure_message      TEXT,
	failure_details      JSONB,
	result               JSONB,
	job_key              TEXT,
	dedupe               BOOLEAN NOT NULL DEFAULT false,
	creator_id           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at           TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ,
	cancel_requested_at  TIMESTAMPTZ,
	canceled_at          TIMESTAMPTZ,
	expires_at           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS analysis_jobs_status_created_idx ON analysis_jobs (status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS analysis_jobs_active_key_idx
	ON analysis_jobs (job_key)
	WHERE job_key IS NOT NULL AND status IN ('pending', 'running');

CREATE TABLE IF NOT EXISTS analysis_job_events (
	id        BIGSERIAL PRIMARY KEY,
	job_id    UUID NOT NULL REFERENCES analysis_jobs(id) ON DELETE CASCADE,
	kind      TEXT NOT NULL,
	payload   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS analysis_job_events_job_id_idx ON analysis_job_events (job_id, id);
`

// EnsureSchema creates the analysis job tables if they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createJobsTablesSQL)
	return err
}

type jobRow struct {
	ID                string          `db:"id"`
	JobType           string          `db:"job_type"`
	Status            string          `db:"status"`
	Params            json.RawMessage `db:"params"`
	ProgressPhase     string          `db:"progress_phase"`
	ProgressCompleted int64           `db:"progress_completed"`
	ProgressTotal     sql.NullInt64   `db:"progress_total"`
	ProgressMessage   string          `db:"progress_message"`
	FailureCode       sql.NullString  `db:"failure_code"`
	FailureMessage    sql.NullString  `db:"failure_message"`
	FailureDetails    json.RawMessage `db:"failure_details"`
	Result            json.RawMessage `db:"result"`
	JobKey            sql.NullString  `db:"job_key"`
	Dedupe            bool            `db:"dedupe"`
	CreatorID         string          `db:"creator_id"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	StartedAt         sql.NullTime    `db:"started_at"`
	CompletedAt       sql.NullTime    `db:"completed_at"`
	CancelRequestedAt sql.NullTime    `db:"cancel_requested_at"`
	CanceledAt        sql.NullTime    `db:"canceled_at"`
	ExpiresAt         sql.NullTime    `db:"expires_at"`
}

func (r jobRow) toDomain() analysisjob.Job {
	j := analysisjob.Job{
		ID:      r.ID,
		JobType: r.JobType,
		Status:  analysisjob.Status(r.Status),
		Progress: analysisjob.Progress{
			Phase:     r.ProgressPhase,
			Completed: r.ProgressCompleted,
			Message:   r.ProgressMessage,
		},
		Dedupe:    r.Dedupe,
		CreatorID: r.CreatorID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	_ = json.Unmarshal(r.Params, &j.Params)
	if r.ProgressTotal.Valid {
		j.Progress.Total = &r.ProgressTotal.Int64
	}
	if r.JobKey.Valid {
		j.JobKey = r.JobKey.String
	}
	if r.FailureCode.Valid {
		f := &analysisjob.Failure{Code: analysisjob.FailureCode(r.FailureCode.String)}
		if r.FailureMessage.Valid {
			f.Message = r.FailureMessage.String
		}
		_ = json.Unmarshal(r.FailureDetails, &f.Details)
		j.Failure = f
	}
	if len(r.Result) > 0 {
		_ = json.Unmarshal(r.Result, &j.Result)
	}
	if r.StartedAt.Valid {
		j.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		j.CompletedAt = &r.CompletedAt.Time
	}
	if r.CancelRequestedAt.Valid {
		j.CancelRequestedAt = &r.CancelRequestedAt.Time
	}
	if r.CanceledAt.Valid {
		j.CanceledAt = &r.CanceledAt.Time
	}
	if r.ExpiresAt.Valid {
		j.ExpiresAt = &r.ExpiresAt.Time
	}
	return j
}

// Create inserts a new job, or — when req.Dedupe is set and a non-terminal
// job with the same JobKey already exists — returns that job's id without
// changing its created_at (Testable Property 6).
func (s *JobStore) Create(ctx context.Context, req analysisjob.Job) (analysisjob.Job, error) {
	var out analysisjob.Job
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.queryerFrom(ctx)

		if req.Dedupe && req.JobKey != "" {
			var existing jobRow
			err := s.db.GetContext(ctx, &existing, `
				SELECT * FROM analysis_jobs
				WHERE job_key = $1 AND status IN ('pending', 'running')
				FOR UPDATE`, req.JobKey)
			if err == nil {
				out = existing.toDomain()
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("store: lookup dedupe job: %w", err)
			}
		}

		if s.maxJobsPerUser > 0 && req.CreatorID != "" {
			active, err := s.CountActiveForUser(ctx, req.CreatorID)
			if err != nil {
				return fmt.Errorf("store: count active jobs for user: %w", err)
			}
			if active >= s.maxJobsPerUser {
				return errs.NewResourceExhausted("analysis_max_jobs_per_user", int64(s.maxJobsPerUser))
			}
		}

		id := uuid.New().String()
		params, err := json.Marshal(req.Params)
		if err != nil {
			return fmt.Errorf("store: marshal params: %w", err)
		}
		var jobKey any
		if req.JobKey != "" {
			jobKey = req.JobKey
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO analysis_jobs (id, job_type, status, params, job_key, dedupe, creator_id, expires_at)
			VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7)`,
			id, req.JobType, params, jobKey, req.Dedupe, req.CreatorID, req.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("store: insert job: %w", err)
		}

		var row jobRow
		if err := s.db.GetContext(ctx, &row, `SELECT * FROM analysis_jobs WHERE id = $1`, id); err != nil {
			return fmt.Errorf("store: reload job: %w", err)
		}
		out = row.toDomain()
		return nil
	})
	return out, err
}

// CountActiveForUser counts pending+running jobs created by userID, the
// per-user quota check.
func (s *JobStore) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM analysis_jobs
		WHERE creator_id = $1 AND status IN ('pending', 'running')`, userID)
	return count, err
}

// Claim atomically claims the oldest eligible pending job using
// SELECT ... FOR UPDATE SKIP LOCKED, returning ErrNoRows if none available.
func (s *JobStore) Claim(ctx context.Context) (analysisjob.Job, error) {
	var out analysisjob.Job
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.queryerFrom(ctx)
		var row jobRow
		err := s.db.GetContext(ctx, &row, `
			SELECT * FROM analysis_jobs
			WHERE status = 'pending' AND (expires_at IS NULL OR expires_at > now())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE analysis_jobs SET status = 'running', started_at = now(), updated_at = now()
			WHERE id = $1`, row.ID)
		if err != nil {
			return fmt.Errorf("store: claim job: %w", err)
		}
		row.Status = "running"
		out = row.toDomain()
		return nil
	})
	return out, err
}

// UpdateProgress rewrites a running job's progress record and bumps
// updated_at — the executor heartbeat that keeps its lease alive.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, p analysisjob.Progress) error {
	var total any
	if p.Total != nil {
		total = *p.Total
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET progress_phase = $2, progress_completed = $3, progress_total = $4,
		    progress_message = $5, updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		jobID, p.Phase, p.Completed, total, p.Message,
	)
	if err != nil {
		return fmt.Errorf("store: update progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NewNotFound("analysis_job", jobID)
	}
	return nil
}

// AppendEvent appends an ordered event to the job's event log.
func (s *JobStore) AppendEvent(ctx context.Context, jobID, kind string, payload map[string]any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("store: marshal event payload: %w", err)
	}
	var id int64
	err = s.db.GetContext(ctx, &id, `
		INSERT INTO analysis_job_events (job_id, kind, payload) VALUES ($1, $2, $3)
		RETURNING id`, jobID, kind, data)
	if err != nil {
		return 0, fmt.Errorf("store: append event: %w", err)
	}
	return id, nil
}

// EventsSince returns events for jobID with id > sinceID, ordered by id —
// the cursor the API surface exposes.
func (s *JobStore) EventsSince(ctx context.Context, jobID string, sinceID int64, limit int) ([]Event, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, job_id, kind, payload, created_at FROM analysis_job_events
		WHERE job_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		jobID, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: events since: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload json.RawMessage
		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		_ = json.Unmarshal(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Event is one row of a job's append-only event log.
type Event struct {
	ID        int64
	JobID     string
	Kind      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Cancel sets cancel_requested_at on a non-terminal job.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET cancel_requested_at = now()
		WHERE id = $1 AND status IN ('pending', 'running') AND cancel_requested_at IS NULL`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("store: cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NewNotFound("analysis_job", jobID)
	}
	return nil
}

// FinishCanceled transitions a job to canceled, the terminal state
// cancellation always produces.
func (s *JobStore) FinishCanceled(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'canceled', canceled_at = now(), updated_at = now()
		WHERE id = $1`, jobID)
	return err
}

// Complete transitions a job to completed with its JSON result.
func (s *JobStore) Complete(ctx context.Context, jobID string, result map[string]any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'completed', result = $2, completed_at = now(), updated_at = now()
		WHERE id = $1`, jobID, data)
	return err
}

// Fail transitions a job to failed with the given failure record.
func (s *JobStore) Fail(ctx context.Context, jobID string, f analysisjob.Failure) error {
	details, err := json.Marshal(f.Details)
	if err != nil {
		return fmt.Errorf("store: marshal failure details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'failed', failure_code = $2, failure_message = $3, failure_details = $4,
		    completed_at = now(), updated_at = now()
		WHERE id = $1`, jobID, string(f.Code), f.Message, details)
	return err
}

// SweepExpiredLeases marks running jobs whose lease (updated_at) has
// exceeded leaseTTL as failed(lease_expired), returning how many rows were
// affected.
func (s *JobStore) SweepExpiredLeases(ctx context.Context, leaseTTL time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'failed', failure_code = 'lease_expired',
		    failure_message = 'analysis lease expired before completion',
		    completed_at = now(), updated_at = now()
		WHERE status = 'running' AND now() - updated_at > $1`,
		leaseTTL,
	)
	if err != nil {
		return 0, fmt.Errorf("store: sweep expired leases: %w", err)
	}
	return res.RowsAffected()
}

// Get returns a job by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (analysisjob.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM analysis_jobs WHERE id = $1`, jobID)
	if err != nil {
		return analysisjob.Job{}, err
	}
	return row.toDomain(), nil
}

// QueueDepth returns the count of jobs per status, for the queue-depth
// gauge.
func (s *JobStore) QueueDepth(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
