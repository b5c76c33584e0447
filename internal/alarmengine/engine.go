package alarmengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/ingest"
	"github.com/fieldops/controlplane/internal/platform/clock"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/store"
)

// debounceState tracks how long a target has been continuously truthy or
// falsy, the state the debounce/hysteresis transition decision is made
// from.
type debounceState struct {
	currentlyFiring bool
	sinceTruthy     time.Time // zero if not currently truthy
	sinceFalsy      time.Time // zero if not currently falsy
}

// Engine runs the tick loop: resolve each enabled rule's selector,
// evaluate its condition per target, apply debounce/hysteresis, write
// transition events, and attach incidents.
type Engine struct {
	alarms    *store.AlarmStore
	sensors   *store.SensorStore
	evaluator *Evaluator
	clock     clock.Clock
	logger    *logging.Logger

	tickInterval time.Duration

	mu    sync.Mutex
	state map[string]*debounceState // keyed by rule_id + "\x00" + target_key
}

// NewEngine builds an Engine.
func NewEngine(alarms *store.AlarmStore, sensors *store.SensorStore, evaluator *Evaluator, clk clock.Clock, logger *logging.Logger, tickInterval time.Duration) *Engine {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Engine{
		alarms:       alarms,
		sensors:      sensors,
		evaluator:    evaluator,
		clock:        clk,
		logger:       logger,
		tickInterval: tickInterval,
		state:        make(map[string]*debounceState),
	}
}

// Run ticks every tickInterval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			err := e.Tick(ctx)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				if e.logger != nil {
					e.logger.WithContext(ctx).Warn("alarmengine: tick failed")
				}
			}
			metrics.Global().RecordAlarmTick(outcome, time.Since(start))
		}
	}
}

// Tick runs one full evaluation pass over every enabled alarm.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.clock.Now()

	alarms, envelopesRaw, err := e.alarms.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("alarmengine: list enabled: %w", err)
	}

	for i, raw := range envelopesRaw {
		var env alarmdomain.RuleEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if e.logger != nil {
				e.logger.WithContext(ctx).Warn("alarmengine: skipping alarm with malformed envelope")
			}
			continue
		}
		alarm := alarms[i]
		e.evaluator.SetEvalInterval(env.EvalIntervalSeconds)

		targets, err := ResolveSelector(ctx, e.sensors, env.Selector)
		if err != nil {
			if e.logger != nil {
				e.logger.WithContext(ctx).Warn("alarmengine: selector resolution failed")
			}
			continue
		}

		for _, target := range targets {
			truthy, err := e.evaluator.EvalTarget(ctx, alarm.RuleID, target, env.Condition, now)
			if err != nil {
				if e.logger != nil {
					e.logger.WithContext(ctx).Warn("alarmengine: condition evaluation failed")
				}
				continue
			}
			e.applyTransition(ctx, alarm, target.Key, truthy, env, now)
		}
	}
	return nil
}

func (e *Engine) applyTransition(ctx context.Context, alarm alarmdomain.Alarm, targetKey string, truthy bool, env alarmdomain.RuleEnvelope, now time.Time) {
	key := alarm.RuleID + "\x00" + targetKey
	e.mu.Lock()
	st, ok := e.state[key]
	if !ok {
		st = &debounceState{}
		e.state[key] = st
	}

	if truthy {
		if st.sinceTruthy.IsZero() {
			st.sinceTruthy = now
		}
		st.sinceFalsy = time.Time{}
	} else {
		if st.sinceFalsy.IsZero() {
			st.sinceFalsy = now
		}
		st.sinceTruthy = time.Time{}
	}

	var crossedFiring, crossedResolved bool
	if truthy && !st.currentlyFiring && now.Sub(st.sinceTruthy) >= time.Duration(env.DebounceSeconds)*time.Second {
		st.currentlyFiring = true
		crossedFiring = true
	}
	if !truthy && st.currentlyFiring && now.Sub(st.sinceFalsy) >= time.Duration(env.ClearHysteresisSeconds)*time.Second {
		st.currentlyFiring = false
		crossedResolved = true
	}
	e.mu.Unlock()

	if !crossedFiring && !crossedResolved {
		return
	}

	status := alarmdomain.AlarmOK
	transition := alarmdomain.TransitionResolved
	severity := alarmdomain.SeverityWarning
	if crossedFiring {
		status = alarmdomain.AlarmFiring
		transition = alarmdomain.TransitionFired
		severity = alarmdomain.SeverityCritical
	}

	if _, err := e.alarms.RecordEvent(ctx, alarmdomain.AlarmEvent{
		AlarmID:    alarm.ID,
		RuleID:     alarm.RuleID,
		TargetKey:  targetKey,
		Status:     status,
		Transition: transition,
		Origin:     alarmdomain.OriginRuleEval,
		Message:    fmt.Sprintf("rule %s transitioned to %s for %s", alarm.RuleID, status, targetKey),
	}); err != nil && e.logger != nil {
		e.logger.WithContext(ctx).Warn("alarmengine: failed to record event")
	}

	if err := e.alarms.SetStatus(ctx, alarm.ID, status); err != nil && e.logger != nil {
		e.logger.WithContext(ctx).Warn("alarmengine: failed to update alarm status")
	}

	if crossedFiring {
		if _, err := e.alarms.Attach(ctx, alarm.RuleID, targetKey, severity, alarm.RuleID, now); err != nil && e.logger != nil {
			e.logger.WithContext(ctx).Warn("alarmengine: failed to attach incident")
		}
		metrics.Global().RecordAlarmFiring(alarm.RuleID)
	} else {
		if err := e.alarms.Resolve(ctx, alarm.RuleID, targetKey, now); err != nil && e.logger != nil {
			e.logger.WithContext(ctx).Warn("alarmengine: failed to resolve incident")
		}
	}
}

// CoreLiveness re-exports the liveness state type this package depends on,
// kept alongside the engine for wiring convenience in cmd/coresvc.
type CoreLiveness = ingest.LivenessState
