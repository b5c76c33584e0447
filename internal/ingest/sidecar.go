package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/bus"
	"github.com/fieldops/controlplane/internal/domain/sensor"
	"github.com/fieldops/controlplane/internal/platform/errs"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/platform/resilience"
	"github.com/fieldops/controlplane/internal/store"
)

// WireSample is the decoded form of one Forwarder-published record (§4.B's
// protocol), as the sidecar receives it off a bus partition.
type WireSample struct {
	SensorID string    `json:"sensor_id"`
	NodeID   string    `json:"node_id"`
	TS       time.Time `json:"timestamp"`
	Value    float64   `json:"value"`
	Quality  int16     `json:"quality"`
	Seq      int64     `json:"seq"`
	StreamID string    `json:"stream_id"`
	Backfill bool      `json:"backfill"`
}

// sensorState is the per-sensor operator pair (rolling averager + COV
// filter) a single topic consumer owns exclusively, per the one-task-
// per-topic concurrency model.
type sensorState struct {
	rolling *Rolling
	cov     *COVFilter
	lastSeq map[string]int64 // stream_id -> highest seq processed
}

// Sidecar consumes one sensor's bus partition, aggregates, filters, and
// enqueues accepted points to the shared BatchWriter.
type Sidecar struct {
	partition    string
	sub          *bus.Subscription
	sensors      *store.SensorStore
	writer       *BatchWriter
	liveness     *LivenessState
	logger       *logging.Logger
	covTolerance float64
	pollInterval time.Duration

	mu     sync.Mutex
	states map[string]*sensorState
}

// NewSidecar builds a Sidecar for partition, reading sensor registration
// from sensors and enqueuing accepted points to writer.
func NewSidecar(partition string, sub *bus.Subscription, sensors *store.SensorStore, writer *BatchWriter, liveness *LivenessState, logger *logging.Logger, covTolerance float64, pollInterval time.Duration) *Sidecar {
	return &Sidecar{
		partition:    partition,
		sub:          sub,
		sensors:      sensors,
		writer:       writer,
		liveness:     liveness,
		logger:       logger,
		covTolerance: covTolerance,
		pollInterval: pollInterval,
		states:       make(map[string]*sensorState),
	}
}

// Run consumes the partition until ctx is canceled, retrying bus
// disconnects with capped exponential backoff.
func (sc *Sidecar) Run(ctx context.Context) error {
	cfg := resilience.DefaultRetryConfig()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := resilience.Retry(ctx, cfg, func() error {
			return sc.drain(ctx)
		})
		if err != nil {
			if errs.IsCanceled(err) || ctx.Err() != nil {
				return ctx.Err()
			}
			if sc.logger != nil {
				sc.logger.WithContext(ctx).WithFields(map[string]any{"partition": sc.partition}).
					Error("ingest: sidecar drain failed after retry budget exhausted")
			}
		}
	}
}

func (sc *Sidecar) drain(ctx context.Context) error {
	for {
		sc.sub.Wait(ctx, sc.pollInterval)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := sc.sub.Fetch(ctx, 256)
		if err != nil {
			return fmt.Errorf("ingest: fetch: %w", err)
		}
		for _, m := range msgs {
			sc.handle(ctx, m)
		}
	}
}

func (sc *Sidecar) handle(ctx context.Context, m bus.Message) {
	var ws WireSample
	if err := json.Unmarshal(m.Payload, &ws); err != nil {
		if sc.logger != nil {
			sc.logger.WithContext(ctx).Warn("ingest: dropping malformed wire sample")
		}
		_ = sc.sub.Ack(ctx, m.Offset)
		return
	}

	now := time.Now().UTC()
	sc.liveness.RecordSample(ws.SensorID, ws.NodeID, ws.TS, now)
	metrics.Global().RecordIngestPoint(ws.SensorID, "received")

	st := sc.stateFor(ws.SensorID)

	// Duplicate/out-of-order guard within a stream_id: a seq not strictly
	// greater than the highest seen is a redelivery and is safe to ack
	// without reprocessing.
	sc.mu.Lock()
	if last, ok := st.lastSeq[ws.StreamID]; ok && ws.Seq <= last {
		sc.mu.Unlock()
		_ = sc.sub.Ack(ctx, m.Offset)
		return
	}
	st.lastSeq[ws.StreamID] = ws.Seq
	sc.mu.Unlock()

	emissions := st.rolling.Ingest(ws.TS, ws.Value, ws.Quality)
	for _, e := range emissions {
		if !st.cov.Accept(e.Value, e.Quality) {
			metrics.Global().RecordCOVDrop(ws.SensorID)
			continue
		}
		sc.writer.Enqueue(e.ToMetricPoint(ws.SensorID), sc.partition, m.Offset)
	}

	if len(emissions) == 0 {
		// No grid line crossed yet (or a late sample for rolling-window
		// purposes); still ack — liveness already observed it above, and
		// nothing further is owed to this offset.
		_ = sc.sub.Ack(ctx, m.Offset)
	}
}

func (sc *Sidecar) stateFor(sensorID string) *sensorState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.states[sensorID]
	if ok {
		return st
	}

	intervalSeconds, windowSeconds := int64(60), int64(0)
	if sn, err := sc.sensors.GetSensor(context.Background(), sensorID); err == nil {
		intervalSeconds = sn.IntervalSeconds
		windowSeconds = sn.RollingAvgSeconds
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}

	st = &sensorState{
		rolling: NewRolling(time.Duration(intervalSeconds)*time.Second, time.Duration(windowSeconds)*time.Second),
		cov:     NewCOVFilter(sc.covTolerance),
		lastSeq: make(map[string]int64),
	}
	sc.states[sensorID] = st
	return st
}

// CoreNode is the distinguished self-reporting node id, re-exported for
// callers wiring up the sidecar's own health samples.
const CoreNode = sensor.CoreNodeID
