package alarmdomain

import "time"

// AlarmStatus is an alarm's current classification.
type AlarmStatus string

const (
	AlarmOK           AlarmStatus = "ok"
	AlarmFiring       AlarmStatus = "firing"
	AlarmAcknowledged AlarmStatus = "acknowledged"
)

// Alarm is a configured rule plus its current evaluation status.
type Alarm struct {
	ID       string
	RuleID   string
	Envelope RuleEnvelope
	Enabled  bool
	Status   AlarmStatus
	LastFired *time.Time
}

// EventTransition is the kind of state change an AlarmEvent records.
type EventTransition string

const (
	TransitionFired        EventTransition = "fired"
	TransitionResolved     EventTransition = "resolved"
	TransitionOK           EventTransition = "ok"
	TransitionAcknowledged EventTransition = "acknowledged"
)

// EventOrigin tags where an event came from: normal rule evaluation or a
// synthetic source like the Liveness Monitor.
type EventOrigin string

const (
	OriginRuleEval  EventOrigin = "rule_eval"
	OriginLiveness  EventOrigin = "liveness"
	OriginDataContract EventOrigin = "data_contract"
)

// AlarmEvent is an append-only row recording one transition.
type AlarmEvent struct {
	ID         int64
	AlarmID    string
	RuleID     string
	TargetKey  string
	Status     AlarmStatus
	Transition EventTransition
	Origin     EventOrigin
	Message    string
	CreatedAt  time.Time
}

// IncidentStatus is an incident's lifecycle state: open <-> snoozed -> closed.
type IncidentStatus string

const (
	IncidentOpen    IncidentStatus = "open"
	IncidentSnoozed IncidentStatus = "snoozed"
	IncidentClosed  IncidentStatus = "closed"
)

// Severity ranks incident severity; lower rank is more severe, matching
// the "reduce to minimum-rank severity seen" attachment rule.
type Severity int

const (
	SeverityCritical Severity = 0
	SeverityWarning  Severity = 1
	SeverityInfo     Severity = 2
)

// Incident groups contiguous firings for the same (rule_id, target_key).
type Incident struct {
	ID            string
	RuleID        string
	TargetKey     string
	Status        IncidentStatus
	Severity      Severity
	Title         string
	FirstEventAt  time.Time
	LastEventAt   time.Time
	SnoozedUntil  *time.Time
	ClosedAt      *time.Time
}

// GapSeconds is the rollover threshold: a gap longer than this between an
// incident's last event and a new non-resolving event closes it and opens
// a fresh incident instead of extending the old one.
const GapSeconds = 30 * 60
