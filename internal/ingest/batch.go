package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/domain/metricpoint"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/store"
)

// pendingAck is a batch's source offsets, acked together once the batch
// flushes successfully.
type pendingAck struct {
	partition string
	offset    int64
}

type queuedPoint struct {
	point metricpoint.MetricPoint
	ack   pendingAck
}

// DeadLetterSink receives batches that exhausted their retry budget, so
// ingest progress can advance without losing the rejected rows outright.
type DeadLetterSink interface {
	Sideline(ctx context.Context, points []metricpoint.MetricPoint, reason string) error
}

// BatchWriter serializes metric-store writes for all sensors through a
// single worker, flushing on size, interval, or explicit request, and
// reports completed offsets back to its caller for bus acking.
type BatchWriter struct {
	store      *store.MetricStore
	deadLetter DeadLetterSink
	logger     *logging.Logger

	batchSize     int
	flushInterval time.Duration
	maxRetries    int

	mu      sync.Mutex
	queue   []queuedPoint
	flushCh chan struct{}

	onAck func(partition string, offset int64)
}

// NewBatchWriter builds a BatchWriter over store, flushing batches of
// batchSize or every flushInterval, retrying maxRetries times before
// sidelining to deadLetter.
func NewBatchWriter(st *store.MetricStore, deadLetter DeadLetterSink, logger *logging.Logger, batchSize int, flushInterval time.Duration, maxRetries int, onAck func(partition string, offset int64)) *BatchWriter {
	return &BatchWriter{
		store:         st,
		deadLetter:    deadLetter,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxRetries:    maxRetries,
		flushCh:       make(chan struct{}, 1),
		onAck:         onAck,
	}
}

// Enqueue adds a point awaiting flush, tagged with the bus offset that
// should be acked once it durably lands.
func (w *BatchWriter) Enqueue(point metricpoint.MetricPoint, partition string, offset int64) {
	w.mu.Lock()
	w.queue = append(w.queue, queuedPoint{point: point, ack: pendingAck{partition: partition, offset: offset}})
	full := len(w.queue) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.requestFlush()
	}
}

func (w *BatchWriter) requestFlush() {
	select {
	case w.flushCh <- struct{}{}:
	default:
	}
}

// Run drives the periodic/size-triggered flush loop until ctx is canceled.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		case <-w.flushCh:
			w.flush(ctx)
		}
	}
}

func (w *BatchWriter) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	points := make([]metricpoint.MetricPoint, len(batch))
	for i, q := range batch {
		points[i] = q.point
	}

	flushStart := time.Now()
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		err = w.store.UpsertBatch(ctx, points)
		if err == nil {
			break
		}
		if w.logger != nil {
			w.logger.WithContext(ctx).WithFields(map[string]any{"attempt": attempt, "batch_size": len(points)}).
				Warn("ingest: metric batch write failed, retrying")
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = "sidelined"
		if w.deadLetter != nil {
			_ = w.deadLetter.Sideline(ctx, points, err.Error())
		}
		if w.logger != nil {
			w.logger.WithContext(ctx).WithFields(map[string]any{"batch_size": len(points)}).
				Error("ingest: metric batch sidelined to dead letter after exhausting retries")
		}
	}
	metrics.Global().RecordIngestBatch(outcome, time.Since(flushStart))

	// Ack advances on the final outcome regardless of dead-lettering: the
	// row is durably recorded somewhere (store or dead-letter log), so the
	// source stream can discard it.
	if w.onAck != nil {
		for _, q := range batch {
			w.onAck(q.ack.partition, q.ack.offset)
		}
	}
}

// FileDeadLetterSink appends sidelined batches as newline-delimited JSON.
// It is a last-resort log, not a queryable store: the Ops CLI's replay
// tool reads it back sequentially.
type FileDeadLetterSink struct {
	mu     sync.Mutex
	writer jsonAppender
}

type jsonAppender interface {
	Append(line []byte) error
}

// NewFileDeadLetterSink builds a sink writing through appender.
func NewFileDeadLetterSink(appender jsonAppender) *FileDeadLetterSink {
	return &FileDeadLetterSink{writer: appender}
}

// DeadLetterRecord is one sidelined batch as it is persisted to the
// dead-letter log, and the shape the Ops CLI's replay tool reads back.
type DeadLetterRecord struct {
	Reason string                    `json:"reason"`
	Points []metricpoint.MetricPoint `json:"points"`
	SideAt time.Time                 `json:"sidelined_at"`
}

// Sideline appends one dead-letter record.
func (s *FileDeadLetterSink) Sideline(ctx context.Context, points []metricpoint.MetricPoint, reason string) error {
	rec := DeadLetterRecord{Reason: reason, Points: points, SideAt: time.Now().UTC()}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Append(line)
}
