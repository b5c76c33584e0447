// Package alarmdomain defines the rule envelope AST, alarms, events, and
// incidents the Alarm Engine evaluates and mutates.
package alarmdomain

import (
	"fmt"
	"math"

	"github.com/fieldops/controlplane/internal/platform/errs"
)

// EnvelopeVersion is the only RuleEnvelope schema version this engine
// accepts. The validator rejects any other version per the Rule AST
// evolution design note.
const EnvelopeVersion = 1

// Bounds on envelope shape, enforced before any evaluator ever sees the
// envelope (Testable Property 4).
const (
	MaxConditionDepth = 6
	MaxConditionNodes = 30
)

// MatchMode controls how a multi-target selector's per-member truths
// combine into one target evaluation.
type MatchMode string

const (
	MatchPerSensor MatchMode = "per_sensor"
	MatchAny       MatchMode = "any"
	MatchAll       MatchMode = "all"
)

func (m MatchMode) valid() bool {
	switch m {
	case MatchPerSensor, MatchAny, MatchAll:
		return true
	}
	return false
}

// SelectorKind tags which Selector variant is populated.
type SelectorKind string

const (
	SelectorSensor      SelectorKind = "sensor"
	SelectorSensorSet   SelectorKind = "sensor_set"
	SelectorNodeSensors SelectorKind = "node_sensors"
	SelectorFilter      SelectorKind = "filter"
)

// Selector resolves to a concrete list of target keys at evaluation time.
type Selector struct {
	Kind SelectorKind `yaml:"kind" json:"kind"`

	// Sensor
	SensorID string `yaml:"sensor_id,omitempty" json:"sensor_id,omitempty"`

	// SensorSet
	SensorIDs []string `yaml:"sensor_ids,omitempty" json:"sensor_ids,omitempty"`

	// NodeSensors
	NodeID string   `yaml:"node_id,omitempty" json:"node_id,omitempty"`
	Types  []string `yaml:"types,omitempty" json:"types,omitempty"`

	// Filter — at least one of these must be non-empty.
	Provider   string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Metric     string `yaml:"metric,omitempty" json:"metric,omitempty"`
	SensorType string `yaml:"sensor_type,omitempty" json:"sensor_type,omitempty"`

	// Match applies to SensorSet, NodeSensors, and Filter.
	Match MatchMode `yaml:"match,omitempty" json:"match,omitempty"`
}

func (s Selector) validate() error {
	switch s.Kind {
	case SelectorSensor:
		if s.SensorID == "" {
			return errs.NewValidation("selector.sensor_id", "must not be empty")
		}
	case SelectorSensorSet:
		if len(s.SensorIDs) == 0 {
			return errs.NewValidation("selector.sensor_ids", "must not be empty")
		}
		if !s.Match.valid() {
			return errs.NewValidation("selector.match", "invalid match mode")
		}
	case SelectorNodeSensors:
		if s.NodeID == "" {
			return errs.NewValidation("selector.node_id", "must not be empty")
		}
		if !s.Match.valid() {
			return errs.NewValidation("selector.match", "invalid match mode")
		}
	case SelectorFilter:
		if s.Provider == "" && s.Metric == "" && s.SensorType == "" {
			return errs.NewValidation("selector.filter", "at least one filter field must be non-empty")
		}
		if !s.Match.valid() {
			return errs.NewValidation("selector.match", "invalid match mode")
		}
	default:
		return errs.NewValidation("selector.kind", fmt.Sprintf("unknown selector kind %q", s.Kind))
	}
	return nil
}

// ConditionKind tags which Condition variant is populated.
type ConditionKind string

const (
	CondThreshold          ConditionKind = "threshold"
	CondRange              ConditionKind = "range"
	CondOffline            ConditionKind = "offline"
	CondRollingWindow      ConditionKind = "rolling_window"
	CondDeviation          ConditionKind = "deviation"
	CondConsecutivePeriods ConditionKind = "consecutive_periods"
	CondAll                ConditionKind = "all"
	CondAny                ConditionKind = "any"
	CondNot                ConditionKind = "not"
)

// ComparisonOp is a scalar comparison operator.
type ComparisonOp string

const (
	OpLT ComparisonOp = "<"
	OpLE ComparisonOp = "<="
	OpGT ComparisonOp = ">"
	OpGE ComparisonOp = ">="
	OpEQ ComparisonOp = "="
	OpNE ComparisonOp = "!="
)

func (op ComparisonOp) valid() bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE:
		return true
	}
	return false
}

// RangeMode selects inside/outside semantics for Range.
type RangeMode string

const (
	RangeInside  RangeMode = "inside"
	RangeOutside RangeMode = "outside"
)

// Aggregate is a RollingWindow reduction function.
type Aggregate string

const (
	AggAvg    Aggregate = "avg"
	AggMin    Aggregate = "min"
	AggMax    Aggregate = "max"
	AggStdDev Aggregate = "stddev"
)

// BaselineKind selects how Deviation computes its reference value.
type BaselineKind string

const (
	BaselineMean   BaselineKind = "mean"
	BaselineMedian BaselineKind = "median"
)

// DeviationMode selects absolute vs. percent deviation.
type DeviationMode string

const (
	DeviationAbsolute DeviationMode = "absolute"
	DeviationPercent  DeviationMode = "percent"
)

// PeriodKind buckets time for ConsecutivePeriods.
type PeriodKind string

const (
	PeriodEval PeriodKind = "eval"
	PeriodHour PeriodKind = "hour"
	PeriodDay  PeriodKind = "day"
)

// Condition is one node of the bounded condition AST. Exactly the field
// group matching Kind is meaningful; Children holds the subtree(s) for
// All/Any/Not/ConsecutivePeriods.
type Condition struct {
	Kind ConditionKind `yaml:"kind" json:"kind"`

	Op    ComparisonOp `yaml:"op,omitempty" json:"op,omitempty"`
	Value float64      `yaml:"value,omitempty" json:"value,omitempty"`

	RangeModeValue RangeMode `yaml:"range_mode,omitempty" json:"range_mode,omitempty"`
	Low            float64   `yaml:"low,omitempty" json:"low,omitempty"`
	High           float64   `yaml:"high,omitempty" json:"high,omitempty"`

	MissingForSeconds int64 `yaml:"missing_for_seconds,omitempty" json:"missing_for_seconds,omitempty"`

	WindowSeconds int64     `yaml:"window_seconds,omitempty" json:"window_seconds,omitempty"`
	AggregateFn   Aggregate `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`

	Baseline      BaselineKind  `yaml:"baseline,omitempty" json:"baseline,omitempty"`
	DeviationMode DeviationMode `yaml:"deviation_mode,omitempty" json:"deviation_mode,omitempty"`

	Period PeriodKind `yaml:"period,omitempty" json:"period,omitempty"`
	Count  int        `yaml:"count,omitempty" json:"count,omitempty"`

	Children []Condition `yaml:"children,omitempty" json:"children,omitempty"`
}

// validate checks depth/count bounds and per-kind field invariants. depth
// starts at 1 for the root; count accumulates across the whole subtree.
func (c Condition) validate(depth int, count *int) error {
	*count++
	if *count > MaxConditionNodes {
		return errs.NewValidation("condition", "exceeds max node count")
	}
	if depth > MaxConditionDepth {
		return errs.NewValidation("condition", "exceeds max depth")
	}

	switch c.Kind {
	case CondThreshold:
		if !c.Op.valid() {
			return errs.NewValidation("condition.op", "invalid comparison operator")
		}
		if err := errs.ValidateFinite("condition.value", c.Value); err != nil {
			return err
		}
	case CondRange:
		if c.RangeModeValue != RangeInside && c.RangeModeValue != RangeOutside {
			return errs.NewValidation("condition.range_mode", "must be inside or outside")
		}
		if err := errs.ValidateFinite("condition.low", c.Low); err != nil {
			return err
		}
		if err := errs.ValidateFinite("condition.high", c.High); err != nil {
			return err
		}
		if !(c.Low < c.High) {
			return errs.NewValidation("condition", "low must be < high")
		}
	case CondOffline:
		if c.MissingForSeconds < 1 {
			return errs.NewValidation("condition.missing_for_seconds", "must be >= 1")
		}
	case CondRollingWindow:
		if c.WindowSeconds < 1 {
			return errs.NewValidation("condition.window_seconds", "must be >= 1")
		}
		switch c.AggregateFn {
		case AggAvg, AggMin, AggMax, AggStdDev:
		default:
			return errs.NewValidation("condition.aggregate", "invalid aggregate")
		}
		if !c.Op.valid() {
			return errs.NewValidation("condition.op", "invalid comparison operator")
		}
		if err := errs.ValidateFinite("condition.value", c.Value); err != nil {
			return err
		}
	case CondDeviation:
		if c.WindowSeconds < 1 {
			return errs.NewValidation("condition.window_seconds", "must be >= 1")
		}
		if c.Baseline != BaselineMean && c.Baseline != BaselineMedian {
			return errs.NewValidation("condition.baseline", "invalid baseline")
		}
		if c.DeviationMode != DeviationAbsolute && c.DeviationMode != DeviationPercent {
			return errs.NewValidation("condition.deviation_mode", "invalid deviation mode")
		}
		if c.Value < 0 || math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return errs.NewValidation("condition.value", "must be finite and >= 0")
		}
	case CondConsecutivePeriods:
		switch c.Period {
		case PeriodEval, PeriodHour, PeriodDay:
		default:
			return errs.NewValidation("condition.period", "invalid period")
		}
		if c.Count < 1 {
			return errs.NewValidation("condition.count", "must be >= 1")
		}
		if len(c.Children) != 1 {
			return errs.NewValidation("condition.children", "consecutive_periods takes exactly one child")
		}
		return c.Children[0].validate(depth+1, count)
	case CondAll, CondAny:
		if len(c.Children) < 1 {
			return errs.NewValidation("condition.children", "must have at least one child")
		}
		for _, child := range c.Children {
			if err := child.validate(depth+1, count); err != nil {
				return err
			}
		}
	case CondNot:
		if len(c.Children) != 1 {
			return errs.NewValidation("condition.children", "not takes exactly one child")
		}
		return c.Children[0].validate(depth+1, count)
	default:
		return errs.NewValidation("condition.kind", fmt.Sprintf("unknown condition kind %q", c.Kind))
	}
	return nil
}

// RuleEnvelope is the versioned container for a rule's selector, condition
// AST, and timing.
type RuleEnvelope struct {
	Version               int       `yaml:"version" json:"version"`
	Selector              Selector  `yaml:"selector" json:"selector"`
	Condition             Condition `yaml:"condition" json:"condition"`
	EvalIntervalSeconds   int64     `yaml:"eval_interval_seconds" json:"eval_interval_seconds"`
	DebounceSeconds       int64     `yaml:"debounce_seconds" json:"debounce_seconds"`
	ClearHysteresisSeconds int64    `yaml:"clear_hysteresis_seconds" json:"clear_hysteresis_seconds"`
}

// Validate enforces every RuleEnvelope invariant: correct version, a
// well-formed selector, and a condition AST within depth/count bounds with
// only finite numeric fields. No evaluator ever sees an envelope that
// fails this check.
func (e RuleEnvelope) Validate() error {
	if e.Version != EnvelopeVersion {
		return errs.NewValidation("version", fmt.Sprintf("unsupported rule envelope version %d", e.Version))
	}
	if err := e.Selector.validate(); err != nil {
		return err
	}
	if e.EvalIntervalSeconds < 1 {
		return errs.NewValidation("eval_interval_seconds", "must be >= 1")
	}
	count := 0
	return e.Condition.validate(1, &count)
}
