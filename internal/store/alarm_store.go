package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/platform/errs"
)

// AlarmStore implements alarm CRUD, the append-only event log, and incident
// attach/rollover/close — with the row-level lock on (rule_id, target_key)
// the Incident lookup race design note requires.
type AlarmStore struct {
	db *DB
}

// NewAlarmStore builds an AlarmStore over db.
func NewAlarmStore(db *DB) *AlarmStore { return &AlarmStore{db: db} }

const createAlarmTablesSQL = `
CREATE TABLE IF NOT EXISTS alarms (
	id         UUID PRIMARY KEY,
	rule_id    TEXT NOT NULL UNIQUE,
	envelope   JSONB NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT true,
	status     TEXT NOT NULL DEFAULT 'ok',
	last_fired TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alarm_events (
	id          BIGSERIAL PRIMARY KEY,
	alarm_id    UUID REFERENCES alarms(id) ON DELETE CASCADE,
	rule_id     TEXT NOT NULL,
	target_key  TEXT NOT NULL,
	status      TEXT NOT NULL,
	transition  TEXT NOT NULL,
	origin      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alarm_events_rule_target_idx ON alarm_events (rule_id, target_key, created_at);

CREATE TABLE IF NOT EXISTS incidents (
	id             UUID PRIMARY KEY,
	rule_id        TEXT NOT NULL,
	target_key     TEXT NOT NULL,
	status         TEXT NOT NULL,
	severity       SMALLINT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	first_event_at TIMESTAMPTZ NOT NULL,
	last_event_at  TIMESTAMPTZ NOT NULL,
	snoozed_until  TIMESTAMPTZ,
	closed_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS incidents_open_rule_target_idx
	ON incidents (rule_id, target_key)
	WHERE status IN ('open', 'snoozed');
CREATE INDEX IF NOT EXISTS incidents_status_idx ON incidents (status);
`

// EnsureSchema creates the alarm/event/incident tables if they do not exist.
func (s *AlarmStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createAlarmTablesSQL)
	return err
}

// UpsertAlarm inserts or replaces an alarm's envelope by rule_id, preserving
// its current status.
func (s *AlarmStore) UpsertAlarm(ctx context.Context, ruleID string, envelope []byte, enabled bool) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO alarms (id, rule_id, envelope, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rule_id) DO UPDATE
			SET envelope = EXCLUDED.envelope, enabled = EXCLUDED.enabled, updated_at = now()
		RETURNING id`,
		uuid.New().String(), ruleID, envelope, enabled,
	)
	if err != nil {
		return "", fmt.Errorf("store: upsert alarm: %w", err)
	}
	return id, nil
}

type alarmRow struct {
	ID        string         `db:"id"`
	RuleID    string         `db:"rule_id"`
	Envelope  []byte         `db:"envelope"`
	Enabled   bool           `db:"enabled"`
	Status    string         `db:"status"`
	LastFired sql.NullTime   `db:"last_fired"`
}

// ListEnabled returns every enabled alarm's raw envelope bytes for the
// engine's tick to unmarshal and evaluate.
func (s *AlarmStore) ListEnabled(ctx context.Context) ([]alarmdomain.Alarm, [][]byte, error) {
	var rows []alarmRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM alarms WHERE enabled = true`); err != nil {
		return nil, nil, fmt.Errorf("store: list enabled alarms: %w", err)
	}
	alarms := make([]alarmdomain.Alarm, len(rows))
	envelopes := make([][]byte, len(rows))
	for i, r := range rows {
		a := alarmdomain.Alarm{
			ID:      r.ID,
			RuleID:  r.RuleID,
			Enabled: r.Enabled,
			Status:  alarmdomain.AlarmStatus(r.Status),
		}
		if r.LastFired.Valid {
			a.LastFired = &r.LastFired.Time
		}
		alarms[i] = a
		envelopes[i] = r.Envelope
	}
	return alarms, envelopes, nil
}

// SetStatus updates an alarm's cached status, bumping last_fired when the
// new status is firing.
func (s *AlarmStore) SetStatus(ctx context.Context, alarmID string, status alarmdomain.AlarmStatus) error {
	var err error
	if status == alarmdomain.AlarmFiring {
		_, err = s.db.ExecContext(ctx, `
			UPDATE alarms SET status = $2, last_fired = now(), updated_at = now() WHERE id = $1`,
			alarmID, string(status))
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE alarms SET status = $2, updated_at = now() WHERE id = $1`,
			alarmID, string(status))
	}
	if err != nil {
		return fmt.Errorf("store: set alarm status: %w", err)
	}
	return nil
}

// RecordEvent appends an event row. AlarmID may be empty for synthetic
// events (liveness, data-contract) that have no configured alarm behind
// them.
func (s *AlarmStore) RecordEvent(ctx context.Context, e alarmdomain.AlarmEvent) (int64, error) {
	var alarmID any
	if e.AlarmID != "" {
		alarmID = e.AlarmID
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO alarm_events (alarm_id, rule_id, target_key, status, transition, origin, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		alarmID, e.RuleID, e.TargetKey, string(e.Status), string(e.Transition), string(e.Origin), e.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record alarm event: %w", err)
	}
	return id, nil
}

type incidentRow struct {
	ID           string       `db:"id"`
	RuleID       string       `db:"rule_id"`
	TargetKey    string       `db:"target_key"`
	Status       string       `db:"status"`
	Severity     int          `db:"severity"`
	Title        string       `db:"title"`
	FirstEventAt time.Time    `db:"first_event_at"`
	LastEventAt  time.Time    `db:"last_event_at"`
	SnoozedUntil sql.NullTime `db:"snoozed_until"`
	ClosedAt     sql.NullTime `db:"closed_at"`
}

func (r incidentRow) toDomain() alarmdomain.Incident {
	inc := alarmdomain.Incident{
		ID:           r.ID,
		RuleID:       r.RuleID,
		TargetKey:    r.TargetKey,
		Status:       alarmdomain.IncidentStatus(r.Status),
		Severity:     alarmdomain.Severity(r.Severity),
		Title:        r.Title,
		FirstEventAt: r.FirstEventAt,
		LastEventAt:  r.LastEventAt,
	}
	if r.SnoozedUntil.Valid {
		inc.SnoozedUntil = &r.SnoozedUntil.Time
	}
	if r.ClosedAt.Valid {
		inc.ClosedAt = &r.ClosedAt.Time
	}
	return inc
}

// Attach attaches eventAt/severity/title to the open-or-snoozed incident for
// (ruleID, targetKey), rolling it over into a fresh incident if the gap
// since its last event exceeds GapSeconds, or creating one if none exists.
// The row-level lock (SELECT ... FOR UPDATE) on the active-incident row
// serializes concurrent attach attempts for the same (rule_id, target_key)
// so two racing evaluations can never both decide to roll over.
func (s *AlarmStore) Attach(ctx context.Context, ruleID, targetKey string, severity alarmdomain.Severity, title string, eventAt time.Time) (alarmdomain.Incident, error) {
	var out alarmdomain.Incident
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.queryerFrom(ctx)

		var row incidentRow
		err := s.db.GetContext(ctx, &row, `
			SELECT * FROM incidents
			WHERE rule_id = $1 AND target_key = $2 AND status IN ('open', 'snoozed')
			FOR UPDATE`, ruleID, targetKey)

		switch {
		case err == sql.ErrNoRows:
			out, err = s.createIncident(ctx, q, ruleID, targetKey, severity, title, eventAt)
			return err
		case err != nil:
			return fmt.Errorf("store: lookup active incident: %w", err)
		}

		gap := eventAt.Sub(row.LastEventAt)
		if gap > time.Duration(alarmdomain.GapSeconds)*time.Second {
			if _, err := q.ExecContext(ctx, `
				UPDATE incidents SET status = 'closed', closed_at = $2 WHERE id = $1`,
				row.ID, row.LastEventAt); err != nil {
				return fmt.Errorf("store: rollover close: %w", err)
			}
			out, err = s.createIncident(ctx, q, ruleID, targetKey, severity, title, eventAt)
			return err
		}

		newSeverity := row.Severity
		if int(severity) < newSeverity {
			newSeverity = int(severity)
		}

		staysSnoozed := row.Status == "snoozed" && row.SnoozedUntil.Valid && row.SnoozedUntil.Time.After(eventAt)
		newStatus := "open"
		if staysSnoozed {
			newStatus = "snoozed"
		}

		_, err = q.ExecContext(ctx, `
			UPDATE incidents
			SET status = $2, severity = $3, last_event_at = $4,
			    snoozed_until = CASE WHEN $2 = 'snoozed' THEN snoozed_until ELSE NULL END
			WHERE id = $1`,
			row.ID, newStatus, newSeverity, eventAt,
		)
		if err != nil {
			return fmt.Errorf("store: extend incident: %w", err)
		}
		row.Status = newStatus
		row.Severity = newSeverity
		row.LastEventAt = eventAt
		if !staysSnoozed {
			row.SnoozedUntil = sql.NullTime{}
		}
		out = row.toDomain()
		return nil
	})
	return out, err
}

func (s *AlarmStore) createIncident(ctx context.Context, q queryer, ruleID, targetKey string, severity alarmdomain.Severity, title string, eventAt time.Time) (alarmdomain.Incident, error) {
	id := uuid.New().String()
	_, err := q.ExecContext(ctx, `
		INSERT INTO incidents (id, rule_id, target_key, status, severity, title, first_event_at, last_event_at)
		VALUES ($1, $2, $3, 'open', $4, $5, $6, $6)`,
		id, ruleID, targetKey, int(severity), title, eventAt,
	)
	if err != nil {
		return alarmdomain.Incident{}, fmt.Errorf("store: create incident: %w", err)
	}
	return alarmdomain.Incident{
		ID: id, RuleID: ruleID, TargetKey: targetKey,
		Status: alarmdomain.IncidentOpen, Severity: severity, Title: title,
		FirstEventAt: eventAt, LastEventAt: eventAt,
	}, nil
}

// Resolve closes the active incident for (ruleID, targetKey), if any, in
// response to an alarm clearing.
func (s *AlarmStore) Resolve(ctx context.Context, ruleID, targetKey string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = 'closed', closed_at = $3
		WHERE rule_id = $1 AND target_key = $2 AND status IN ('open', 'snoozed')`,
		ruleID, targetKey, at,
	)
	if err != nil {
		return fmt.Errorf("store: resolve incident: %w", err)
	}
	return nil
}

// Snooze sets an incident's status to snoozed until until.
func (s *AlarmStore) Snooze(ctx context.Context, incidentID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = 'snoozed', snoozed_until = $2
		WHERE id = $1 AND status = 'open'`,
		incidentID, until,
	)
	if err != nil {
		return fmt.Errorf("store: snooze incident: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NewNotFound("incident", incidentID)
	}
	return nil
}

// Close closes an incident outright (manual ack/close from the ops surface).
func (s *AlarmStore) Close(ctx context.Context, incidentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status IN ('open', 'snoozed')`,
		incidentID, at,
	)
	if err != nil {
		return fmt.Errorf("store: close incident: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NewNotFound("incident", incidentID)
	}
	return nil
}

// SweepExpiredSnoozes reopens snoozed incidents whose snoozed_until has
// passed as of now, returning how many were reopened.
func (s *AlarmStore) SweepExpiredSnoozes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = 'open', snoozed_until = NULL
		WHERE status = 'snoozed' AND snoozed_until <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: sweep expired snoozes: %w", err)
	}
	return res.RowsAffected()
}

// ListOpen returns every non-closed incident, most recently active first.
func (s *AlarmStore) ListOpen(ctx context.Context) ([]alarmdomain.Incident, error) {
	var rows []incidentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM incidents WHERE status IN ('open', 'snoozed') ORDER BY last_event_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list open incidents: %w", err)
	}
	out := make([]alarmdomain.Incident, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// CountOpen returns the count of open (non-snoozed, non-closed) incidents,
// for the open-incidents gauge.
func (s *AlarmStore) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM incidents WHERE status = 'open'`)
	return count, err
}
