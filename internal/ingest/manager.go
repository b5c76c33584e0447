package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/bus"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/store"
)

const sidecarConsumer = "ingest-sidecar"

// Manager keeps one Sidecar running per active sensor's bus partition,
// reconciling against the sensor registry on an interval so newly adopted
// sensors get picked up without a process restart.
type Manager struct {
	bus      *bus.Bus
	sensors  *store.SensorStore
	writer   *BatchWriter
	liveness *LivenessState
	logger   *logging.Logger

	covTolerance    float64
	pollInterval    time.Duration
	reconcileEvery  time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
	subs    map[string]*bus.Subscription
}

// NewManager builds a Manager.
func NewManager(b *bus.Bus, sensors *store.SensorStore, writer *BatchWriter, liveness *LivenessState, logger *logging.Logger, covTolerance float64, pollInterval, reconcileEvery time.Duration) *Manager {
	if reconcileEvery <= 0 {
		reconcileEvery = 30 * time.Second
	}
	return &Manager{
		bus: b, sensors: sensors, writer: writer, liveness: liveness, logger: logger,
		covTolerance: covTolerance, pollInterval: pollInterval, reconcileEvery: reconcileEvery,
		running: make(map[string]context.CancelFunc),
		subs:    make(map[string]*bus.Subscription),
	}
}

// Ack acknowledges offset on partition's live subscription, the callback
// the shared BatchWriter uses once a flushed batch's source offsets are
// durable. It is a no-op if the sidecar for that partition has since
// stopped, since a stale ack on a closed subscription has nothing to
// advance.
func (m *Manager) Ack(ctx context.Context, partition string, offset int64) error {
	m.mu.Lock()
	sub, ok := m.subs[partition]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Ack(ctx, offset)
}

// Run reconciles the running sidecar set against the sensor registry until
// ctx is canceled, stopping every sidecar on exit.
func (m *Manager) Run(ctx context.Context) {
	m.reconcile(ctx)
	ticker := time.NewTicker(m.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context) {
	sensors, err := m.sensors.ListActive(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.WithContext(ctx).Warn("ingest manager: list active sensors failed")
		}
		return
	}

	active := make(map[string]bool, len(sensors))
	for _, sn := range sensors {
		active[sn.ID] = true
		m.mu.Lock()
		_, ok := m.running[sn.ID]
		m.mu.Unlock()
		if ok {
			continue
		}
		m.start(ctx, sn.ID)
	}

	m.mu.Lock()
	for sensorID, cancel := range m.running {
		if !active[sensorID] {
			cancel()
			delete(m.running, sensorID)
			delete(m.subs, sensorID)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) start(parent context.Context, sensorID string) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.running[sensorID] = cancel
	m.mu.Unlock()

	sub := m.bus.Subscribe(sidecarConsumer, sensorID)
	m.mu.Lock()
	m.subs[sensorID] = sub
	m.mu.Unlock()

	sc := NewSidecar(sensorID, sub, m.sensors, m.writer, m.liveness, m.logger, m.covTolerance, m.pollInterval)
	go func() {
		defer sub.Close()
		sc.Run(ctx)
	}()
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sensorID, cancel := range m.running {
		cancel()
		delete(m.running, sensorID)
		delete(m.subs, sensorID)
	}
}
