// Package liveness implements the periodic scanner that turns the Ingest
// Sidecar's liveness snapshot into persisted node status transitions and
// synthetic sensor/node alarm events. Sensor status is not written to the
// sensor registry.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/domain/sensor"
	"github.com/fieldops/controlplane/internal/ingest"
	"github.com/fieldops/controlplane/internal/platform/clock"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/store"
)

// DefaultOfflineThreshold is the floor applied alongside 2x a sensor's
// interval (or a node's heartbeat hint) when deciding an offline
// transition.
const DefaultOfflineThreshold = 60 * time.Second

// Monitor ticks on a timer, compares the sidecar's in-memory liveness
// state against persisted node status and the last status it emitted for
// each sensor, and applies transitions.
// Applying the same transition twice is a no-op: the write and the event
// are both gated on the status actually changing.
type Monitor struct {
	sensors          *store.SensorStore
	alarms           *store.AlarmStore
	liveness         *ingest.LivenessState
	clock            clock.Clock
	logger           *logging.Logger
	pollInterval     time.Duration
	offlineThreshold time.Duration

	// sensorOffline holds the last status recorded per sensor (true =
	// offline); only Tick reads or writes it.
	sensorOffline map[string]bool
}

// NewMonitor builds a Monitor.
func NewMonitor(sensors *store.SensorStore, alarms *store.AlarmStore, liveness *ingest.LivenessState, clk clock.Clock, logger *logging.Logger, pollInterval time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Monitor{
		sensors:          sensors,
		alarms:           alarms,
		liveness:         liveness,
		clock:            clk,
		logger:           logger,
		pollInterval:     pollInterval,
		offlineThreshold: DefaultOfflineThreshold,
	}
}

// Run ticks every pollInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && m.logger != nil {
				m.logger.WithContext(ctx).WithError(wrapErr(err)).Error("liveness: tick failed")
			}
		}
	}
}

func wrapErr(err error) error { return err }

// Tick runs one scan-and-transition pass.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.clock.Now()

	sensors, err := m.sensors.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("liveness: list sensors: %w", err)
	}
	nodes, err := m.sensors.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("liveness: list nodes: %w", err)
	}

	nodesByID := make(map[string]sensor.Node, len(nodes))
	for _, n := range nodes {
		nodesByID[n.ID] = n
	}

	touchedNodes := make(map[string]bool)

	for _, sn := range sensors {
		lastSeen, ok := m.liveness.SensorLastSeen(sn.ID)
		if !ok {
			continue
		}
		threshold := m.offlineThreshold
		if 2*time.Duration(sn.IntervalSeconds)*time.Second > threshold {
			threshold = 2 * time.Duration(sn.IntervalSeconds) * time.Second
		}
		// The sensor registry itself carries no cached liveness status in
		// this core (only nodes do); the sidecar's snapshot is the single
		// source of truth, so the transition only needs a synthetic event,
		// not a row write, when the computed status differs from the last
		// one this Monitor recorded for the sensor.
		offline := now.Sub(lastSeen) > threshold
		m.maybeEmitSensorEvent(ctx, sn.ID, offline, now)
		if !offline {
			touchedNodes[sn.NodeID] = true
		}
	}

	for _, n := range nodes {
		lastSeen, ok := m.liveness.NodeLastMetricSeen(n.ID)
		heartbeatHint := n.HeartbeatHint
		if heartbeatHint <= 0 {
			heartbeatHint = 60 * time.Second
		}
		threshold := m.offlineThreshold
		if 2*heartbeatHint > threshold {
			threshold = 2 * heartbeatHint
		}

		var newStatus sensor.LivenessStatus
		switch {
		case !ok:
			continue
		case now.Sub(lastSeen) > threshold:
			newStatus = sensor.StatusOffline
		default:
			newStatus = sensor.StatusOnline
		}

		if n.Liveness == newStatus {
			continue
		}
		if err := m.sensors.MarkSeen(ctx, n.ID, lastSeen, newStatus); err != nil {
			return fmt.Errorf("liveness: mark node %s: %w", n.ID, err)
		}
		m.emitNodeEvent(ctx, n.ID, newStatus, now)
	}

	return nil
}

func (m *Monitor) maybeEmitSensorEvent(ctx context.Context, sensorID string, offline bool, now time.Time) {
	prev, known := m.sensorOffline[sensorID]
	if (known && prev == offline) || (!known && !offline) {
		return
	}
	status := alarmdomain.AlarmOK
	transition := alarmdomain.TransitionOK
	if offline {
		status = alarmdomain.AlarmFiring
		transition = alarmdomain.TransitionFired
	}
	_, err := m.alarms.RecordEvent(ctx, alarmdomain.AlarmEvent{
		RuleID:     "liveness.sensor",
		TargetKey:  sensorID,
		Status:     status,
		Transition: transition,
		Origin:     alarmdomain.OriginLiveness,
		Message:    "sensor liveness transition",
	})
	if err != nil {
		if m.logger != nil {
			m.logger.WithContext(ctx).Warn("liveness: failed to record sensor event")
		}
		return
	}
	if m.sensorOffline == nil {
		m.sensorOffline = make(map[string]bool)
	}
	m.sensorOffline[sensorID] = offline
}

func (m *Monitor) emitNodeEvent(ctx context.Context, nodeID string, status sensor.LivenessStatus, now time.Time) {
	alarmStatus := alarmdomain.AlarmOK
	transition := alarmdomain.TransitionOK
	if status == sensor.StatusOffline {
		alarmStatus = alarmdomain.AlarmFiring
		transition = alarmdomain.TransitionFired
	}
	_, err := m.alarms.RecordEvent(ctx, alarmdomain.AlarmEvent{
		RuleID:     "liveness.node",
		TargetKey:  nodeID,
		Status:     alarmStatus,
		Transition: transition,
		Origin:     alarmdomain.OriginLiveness,
		Message:    fmt.Sprintf("node %s", status),
	})
	if err != nil && m.logger != nil {
		m.logger.WithContext(ctx).Warn("liveness: failed to record node event")
	}
}
