// Package replication implements the Replication Ticker: periodically
// advances the lake's computed_through_ts by exporting newly-sealed metric
// windows from the metric store into the lake.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/lake"
	"github.com/fieldops/controlplane/internal/platform/clock"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/store"
)

// Ticker exports (previous_ts, computed_through_ts] from the metric store
// into the lake on each tick, rewriting any partition whose window
// boundary falls inside it.
type Ticker struct {
	metrics   *store.MetricStore
	writer    *lake.Writer
	manifests *lake.ManifestStore
	repl      *lake.ReplicationStateStore
	clk       clock.Clock
	logger    *logging.Logger

	dataset      string
	tickInterval time.Duration
	lag          time.Duration

	lastThrough time.Time
}

// Config collects the tunables a Ticker needs.
type Config struct {
	Dataset      string
	TickInterval time.Duration
	LagSeconds   int64
}

// New builds a Ticker over the given metric store and lake.
func New(metricStore *store.MetricStore, writer *lake.Writer, manifests *lake.ManifestStore, repl *lake.ReplicationStateStore, clk clock.Clock, logger *logging.Logger, cfg Config) *Ticker {
	if cfg.Dataset == "" {
		cfg.Dataset = lakedomain.MetricsDatasetV1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	return &Ticker{
		metrics:      metricStore,
		writer:       writer,
		manifests:    manifests,
		repl:         repl,
		clk:          clk,
		logger:       logger,
		dataset:      cfg.Dataset,
		tickInterval: cfg.TickInterval,
		lag:          time.Duration(cfg.LagSeconds) * time.Second,
	}
}

// Run ticks every tickInterval until ctx is canceled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Tick(ctx)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				if t.logger != nil {
					t.logger.WithContext(ctx).Warn("replication: tick failed")
				}
			} else if t.logger != nil && n > 0 {
				t.logger.WithContext(ctx).WithFields(map[string]any{"rows": n}).
					Info("replication: tick exported rows")
			}
			metrics.Global().RecordManifestSwap(outcome)
			metrics.Global().SetReplicationLag(t.clk.Now().UTC().Sub(t.lastThrough))
		}
	}
}

// Tick runs one export pass. On any failure, computed_through_ts is left
// unadvanced so the next tick retries the same window.
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	state, err := t.repl.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("replication: read cursor: %w", err)
	}

	now := t.clk.Now().UTC()
	through := now.Add(-t.lag)
	if !through.After(state.PreviousTS) {
		return 0, nil
	}

	rows, err := t.metrics.SealedWindowRows(ctx, state.PreviousTS, through)
	if err != nil {
		return 0, fmt.Errorf("replication: seal window: %w", err)
	}
	if len(rows) == 0 {
		return t.advance(ctx, state.PreviousTS, through)
	}

	touchedDates, err := t.writer.WritePartition(ctx, t.dataset, rows)
	if err != nil {
		return 0, fmt.Errorf("replication: write partition: %w", err)
	}

	if err := t.foldManifest(ctx, touchedDates, through); err != nil {
		return 0, fmt.Errorf("replication: update manifest: %w", err)
	}

	if _, err := t.advance(ctx, state.PreviousTS, through); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (t *Ticker) advance(ctx context.Context, previous, through time.Time) (int, error) {
	if err := t.repl.Write(ctx, lake.ReplicationState{PreviousTS: through, ComputedThroughTS: through}); err != nil {
		return 0, fmt.Errorf("replication: write cursor: %w", err)
	}
	t.lastThrough = through
	_ = previous
	return 0, nil
}

func (t *Ticker) foldManifest(ctx context.Context, touchedDates map[string]bool, through time.Time) error {
	man, err := t.manifests.Read(ctx)
	if err != nil {
		return err
	}
	ds, ok := man.Datasets[t.dataset]
	if !ok {
		ds = lakedomain.Dataset{Partitions: map[string]lakedomain.Partition{}}
	}
	now := t.clk.Now().UTC()
	for date := range touchedDates {
		part, ok := ds.Partitions[date]
		if !ok {
			part = lakedomain.Partition{Location: lakedomain.LocationHot}
		}
		part.UpdatedAt = now
		ds.Partitions[date] = part
	}
	throughCopy := through
	ds.ComputedThroughTS = &throughCopy
	man.Datasets[t.dataset] = ds
	return t.manifests.Write(ctx, man)
}
