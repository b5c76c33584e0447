package alarmengine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/domain/metricpoint"
	"github.com/fieldops/controlplane/internal/ingest"
	"github.com/fieldops/controlplane/internal/store"
)

// floatEqEpsilon matches the spec's equality tolerance for f64 comparisons.
const floatEqEpsilon = 2.220446049250313e-16

// Evaluator evaluates a condition AST against the metric store and
// liveness state for a single member sensor id.
type Evaluator struct {
	metrics             *store.MetricStore
	liveness            *ingest.LivenessState
	history             *BucketHistory
	evalIntervalSeconds int64
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(metrics *store.MetricStore, liveness *ingest.LivenessState, history *BucketHistory) *Evaluator {
	return &Evaluator{metrics: metrics, liveness: liveness, history: history, evalIntervalSeconds: 10}
}

// SetEvalInterval records the eval_interval_seconds of the rule about to
// be evaluated, so ConsecutivePeriods("eval") buckets align to this rule's
// own cadence rather than a fixed default.
func (ev *Evaluator) SetEvalInterval(seconds int64) { ev.evalIntervalSeconds = seconds }

// EvalMember evaluates cond against sensorID at instant now, returning its
// truthy/falsy classification.
func (ev *Evaluator) EvalMember(ctx context.Context, ruleID, sensorID string, cond alarmdomain.Condition, now time.Time) (bool, error) {
	switch cond.Kind {
	case alarmdomain.CondThreshold:
		v, ok, err := ev.latest(ctx, sensorID)
		if err != nil || !ok {
			return false, err
		}
		return compare(v, cond.Op, cond.Value), nil

	case alarmdomain.CondRange:
		v, ok, err := ev.latest(ctx, sensorID)
		if err != nil || !ok {
			return false, err
		}
		inside := v >= cond.Low && v <= cond.High
		if cond.RangeModeValue == alarmdomain.RangeOutside {
			return !inside, nil
		}
		return inside, nil

	case alarmdomain.CondOffline:
		lastSeen, ok := ev.liveness.SensorLastSeen(sensorID)
		if !ok {
			return true, nil // never seen => treat as offline
		}
		return now.Sub(lastSeen) > time.Duration(cond.MissingForSeconds)*time.Second, nil

	case alarmdomain.CondRollingWindow:
		agg, n, err := ev.aggregate(ctx, sensorID, now.Add(-time.Duration(cond.WindowSeconds)*time.Second), now, cond.AggregateFn)
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		return compare(agg, cond.Op, cond.Value), nil

	case alarmdomain.CondDeviation:
		from := now.Add(-time.Duration(cond.WindowSeconds) * time.Second)
		points, err := ev.metrics.RangeScan(ctx, sensorID, from, now)
		if err != nil {
			return false, err
		}
		finite := finiteValues(points)
		if len(finite) == 0 {
			return false, nil
		}
		baseline := mean(finite)
		if cond.Baseline == alarmdomain.BaselineMedian {
			baseline = median(finite)
		}
		latest := finite[len(finite)-1]
		var dev float64
		switch cond.DeviationMode {
		case alarmdomain.DeviationPercent:
			if baseline == 0 {
				return false, nil
			}
			dev = math.Abs(latest-baseline) / math.Abs(baseline) * 100
		default:
			dev = math.Abs(latest - baseline)
		}
		// Deviation carries no comparison operator of its own (only a
		// non-negative threshold): truthy once the deviation exceeds it.
		return dev > cond.Value, nil

	case alarmdomain.CondConsecutivePeriods:
		child := cond.Children[0]
		truthy, err := ev.EvalMember(ctx, ruleID, sensorID, child, now)
		if err != nil {
			return false, err
		}
		key := HistoryKey{RuleID: ruleID, TargetKey: sensorID}
		ev.history.recordWithInterval(key, cond.Period, ev.evalIntervalSeconds, now, truthy)
		return ev.history.ConsecutiveTrue(key, cond.Period, now, cond.Count), nil

	case alarmdomain.CondAll:
		for _, child := range cond.Children {
			t, err := ev.EvalMember(ctx, ruleID, sensorID, child, now)
			if err != nil {
				return false, err
			}
			if !t {
				return false, nil
			}
		}
		return true, nil

	case alarmdomain.CondAny:
		for _, child := range cond.Children {
			t, err := ev.EvalMember(ctx, ruleID, sensorID, child, now)
			if err != nil {
				return false, err
			}
			if t {
				return true, nil
			}
		}
		return false, nil

	case alarmdomain.CondNot:
		t, err := ev.EvalMember(ctx, ruleID, sensorID, cond.Children[0], now)
		if err != nil {
			return false, err
		}
		return !t, nil

	default:
		return false, fmt.Errorf("alarmengine: unknown condition kind %q", cond.Kind)
	}
}

// EvalTarget evaluates a (possibly grouped) Target, combining per-member
// truths by Mode for any/all selectors.
func (ev *Evaluator) EvalTarget(ctx context.Context, ruleID string, target Target, cond alarmdomain.Condition, now time.Time) (bool, error) {
	if len(target.Members) == 1 && target.Mode == "" {
		return ev.EvalMember(ctx, ruleID, target.Members[0], cond, now)
	}
	switch target.Mode {
	case alarmdomain.MatchAll:
		for _, m := range target.Members {
			t, err := ev.EvalMember(ctx, ruleID, m, cond, now)
			if err != nil {
				return false, err
			}
			if !t {
				return false, nil
			}
		}
		return len(target.Members) > 0, nil
	default: // MatchAny, or an empty group defaulting to OR semantics
		for _, m := range target.Members {
			t, err := ev.EvalMember(ctx, ruleID, m, cond, now)
			if err != nil {
				return false, err
			}
			if t {
				return true, nil
			}
		}
		return false, nil
	}
}

func (ev *Evaluator) latest(ctx context.Context, sensorID string) (float64, bool, error) {
	p, err := ev.metrics.LatestPoint(ctx, sensorID)
	if err != nil {
		if err == store.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return p.Value, true, nil
}

func (ev *Evaluator) aggregate(ctx context.Context, sensorID string, from, to time.Time, fn alarmdomain.Aggregate) (float64, int, error) {
	points, err := ev.metrics.RangeScan(ctx, sensorID, from, to)
	if err != nil {
		return 0, 0, err
	}
	values := finiteValues(points)
	if len(values) == 0 {
		return 0, 0, nil
	}
	switch fn {
	case alarmdomain.AggAvg:
		return mean(values), len(values), nil
	case alarmdomain.AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, len(values), nil
	case alarmdomain.AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, len(values), nil
	case alarmdomain.AggStdDev:
		if len(values) < 2 {
			return 0, len(values), nil
		}
		return stddev(values), len(values), nil
	default:
		return 0, 0, fmt.Errorf("alarmengine: unknown aggregate %q", fn)
	}
}

func finiteValues(points []metricpoint.MetricPoint) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			values = append(values, p.Value)
		}
	}
	return values
}

func compare(v float64, op alarmdomain.ComparisonOp, target float64) bool {
	switch op {
	case alarmdomain.OpLT:
		return v < target
	case alarmdomain.OpLE:
		return v <= target
	case alarmdomain.OpGT:
		return v > target
	case alarmdomain.OpGE:
		return v >= target
	case alarmdomain.OpEQ:
		return math.Abs(v-target) <= floatEqEpsilon
	case alarmdomain.OpNE:
		return math.Abs(v-target) > floatEqEpsilon
	default:
		return false
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(values []float64) float64 {
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
