// Package forwarder implements the node-side publisher: reads the Spool's
// restartable offset stream, shapes it to token-bucket limits, publishes
// to the core bus, and truncates the Spool once the core acks durability.
package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/spool"
)

// WireSample is the over-the-bus record, matching the Ingest Sidecar's
// expected wire shape exactly.
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

// Publisher abstracts the bus so Forwarder can be tested without a live
// Postgres-backed Bus.
type Publisher interface {
	Publish(ctx context.Context, partition string, payload []byte) (int64, error)
}

// Forwarder maintains at-least-once delivery from a Spool to the core bus
// under a per-sensor topic, shaped to msgs/sec and bytes/sec token
// buckets.
type Forwarder struct {
	store     *spool.Store
	publisher Publisher
	logger    *logging.Logger

	streamID string
	seq      int64

	msgLimiter      *rate.Limiter
	byteLimiter     *rate.Limiter
	backfillHorizon time.Duration

	pollInterval time.Duration
	batchSize    int

	readCursor int64
}

// Config collects a Forwarder's tunables.
type Config struct {
	MsgsPerSec      float64
	BytesPerSec     float64
	BackfillHorizon time.Duration
	PollInterval    time.Duration
	BatchSize       int
}

// New builds a Forwarder reading from store and publishing through pub.
// The stream_id is chosen fresh at construction, per §4.B.
func New(store *spool.Store, pub Publisher, logger *logging.Logger, cfg Config) *Forwarder {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.BackfillHorizon <= 0 {
		cfg.BackfillHorizon = 5 * time.Minute
	}
	msgLimiter := rate.NewLimiter(rate.Limit(cfg.MsgsPerSec), int(cfg.MsgsPerSec)+1)
	byteLimiter := rate.NewLimiter(rate.Limit(cfg.BytesPerSec), int(cfg.BytesPerSec)+1)

	return &Forwarder{
		store:           store,
		publisher:       pub,
		logger:          logger,
		streamID:        uuid.New().String(),
		msgLimiter:      msgLimiter,
		byteLimiter:     byteLimiter,
		backfillHorizon: cfg.BackfillHorizon,
		pollInterval:    cfg.PollInterval,
		batchSize:       cfg.BatchSize,
	}
}

// Run publishes continuously until ctx is canceled. On reconnect (a fresh
// Run after a restart), publishing resumes from the Spool's oldest unacked
// offset, since readCursor starts at zero and Resume seeds it.
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.Resume(); err != nil {
		return fmt.Errorf("forwarder: resume: %w", err)
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.drain(ctx); err != nil && f.logger != nil {
				f.logger.WithContext(ctx).Warn("forwarder: drain failed, samples remain in spool")
			}
		}
	}
}

// Resume seeds the read cursor from the Spool's oldest unacked offset, the
// restart contract: the Forwarder never loses track of what it already
// forwarded because the Spool, not the Forwarder, owns the durable ack
// cursor.
func (f *Forwarder) Resume() error {
	status, err := f.store.Status()
	if err != nil {
		return err
	}
	f.readCursor = status.OldestUnackedOffset
	return nil
}

// drain reads one batch from the Spool, shapes it through the token
// buckets, and publishes each sample non-blocking: if the bus is
// unavailable, samples remain in the Spool and the next tick retries from
// the same cursor.
func (f *Forwarder) drain(ctx context.Context) error {
	batch, err := f.store.ReadFrom(f.readCursor, f.batchSize)
	if err != nil {
		return fmt.Errorf("read from spool: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var lastOffset int64 = -1
	for _, item := range batch {
		if err := f.msgLimiter.Wait(ctx); err != nil {
			break
		}

		f.seq++
		wire := WireSample{
			SensorID: item.Sample.SensorID,
			NodeID:   item.Sample.NodeID,
			TS:       item.Sample.TS,
			Value:    item.Sample.Value,
			Quality:  item.Sample.Quality,
			Seq:      f.seq,
			StreamID: f.streamID,
			Backfill: now.Sub(item.Sample.TS) > f.backfillHorizon,
		}
		payload, err := json.Marshal(wire)
		if err != nil {
			return fmt.Errorf("encode wire sample: %w", err)
		}

		if err := f.byteLimiter.WaitN(ctx, len(payload)); err != nil {
			break
		}

		if _, err := f.publisher.Publish(ctx, item.Sample.SensorID, payload); err != nil {
			// Bus unavailable: stop here, leaving the cursor (and
			// therefore the un-acked Spool data) untouched.
			return fmt.Errorf("publish: %w", err)
		}
		lastOffset = item.Offset
		f.readCursor = item.Offset + 1
	}

	if lastOffset < 0 {
		return nil
	}
	// The Forwarder refuses to advance the acked offset past a hole; since
	// ReadFrom returns offsets in ascending order across segments, skipping
	// only records whose body fails to decode, and this loop stops at the
	// first publish failure, every decodable offset up to lastOffset was
	// published this pass.
	return f.store.Ack(lastOffset)
}
