package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/controlplane/internal/domain/analysisjob"
	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/domain/metricpoint"
	"github.com/fieldops/controlplane/internal/lake"
	"github.com/fieldops/controlplane/internal/platform/errs"
	"github.com/fieldops/controlplane/internal/replication"
	"github.com/fieldops/controlplane/internal/store"
)

func progress(phase string, completed int64, total *int64) analysisjob.Progress {
	return analysisjob.Progress{Phase: phase, Completed: completed, Total: total}
}

func progressDone(completed int64) analysisjob.Progress {
	return analysisjob.Progress{Phase: "done", Completed: completed}
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errs.NewValidation(key, "required")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", errs.NewValidation(key, "must be a non-empty string")
	}
	return s, nil
}

func paramStringSlice(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, errs.NewValidation(key, "required")
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errs.NewValidation(key, "must be an array of strings")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errs.NewValidation(key, "must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func paramInt(params map[string]any, key string, def int64) int64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return def
	}
}

// LakeReplicationTickExecutor delegates to the Replication Ticker, running
// exactly one tick synchronously inside the job's lease instead of waiting
// for the ticker's own schedule.
func LakeReplicationTickExecutor(ticker *replication.Ticker) Executor {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		if rc.Cancel.Requested() {
			return nil, errs.ErrCanceled
		}
		n, err := ticker.Tick(ctx)
		if err != nil {
			return nil, fmt.Errorf("lake_replication_tick_v1: %w", err)
		}
		if err := rc.UpdateProgress(ctx, progressDone(int64(n))); err != nil {
			return nil, err
		}
		return map[string]any{"rows_exported": n}, nil
	}
}

// LakeInspectExecutor produces a read-only report of partitions, shards,
// and their hot/cold location for a dataset.
func LakeInspectExecutor(hotRoot, coldRoot string, manifests *lake.ManifestStore) Executor {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		dataset, err := paramString(rc.Job.Params, "dataset")
		if err != nil {
			dataset = lakedomain.MetricsDatasetV1
		}

		man, err := manifests.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("lake_inspect_v1: read manifest: %w", err)
		}

		report := map[string]any{"dataset": dataset, "partitions": []map[string]any{}}
		ds, ok := man.Datasets[dataset]
		if !ok {
			return report, nil
		}

		partitions := make([]map[string]any, 0, len(ds.Partitions))
		for date, part := range ds.Partitions {
			if rc.Cancel.Requested() {
				return nil, errs.ErrCanceled
			}
			root := hotRoot
			if part.Location == lakedomain.LocationCold {
				root = coldRoot
			}
			shards, err := lake.ListShards(root, dataset, date)
			if err != nil {
				return nil, fmt.Errorf("lake_inspect_v1: list shards for %s: %w", date, err)
			}
			partitions = append(partitions, map[string]any{
				"date":       date,
				"location":   string(part.Location),
				"updated_at": part.UpdatedAt,
				"shards":     len(shards),
			})
		}
		report["partitions"] = partitions
		if ds.ComputedThroughTS != nil {
			report["computed_through_ts"] = *ds.ComputedThroughTS
		}

		if err := rc.UpdateProgress(ctx, progressDone(int64(len(partitions)))); err != nil {
			return nil, err
		}
		return report, nil
	}
}

// LakeBackfillExecutor writes lake partitions for the last `days` days from
// the metric store, one day at a time so progress advances and
// cancellation is observed between days. `sensor_ids` scopes the backfill;
// the metric store has no sensor enumeration of its own.
func LakeBackfillExecutor(metricStore *store.MetricStore, writer *lake.Writer, now func() time.Time) Executor {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		days := paramInt(rc.Job.Params, "days", 1)
		if days < 1 {
			return nil, errs.NewValidation("days", "must be >= 1")
		}
		sensorIDs, err := paramStringSlice(rc.Job.Params, "sensor_ids")
		if err != nil {
			return nil, err
		}

		total := int64(0)
		end := now().UTC()
		for d := int64(0); d < days; d++ {
			if rc.Cancel.Requested() {
				return nil, errs.ErrCanceled
			}

			dayEnd := end.AddDate(0, 0, int(-d))
			dayStart := dayEnd.AddDate(0, 0, -1)

			var written int
			for _, sensorID := range sensorIDs {
				n, err := backfillSensorDay(ctx, metricStore, writer, sensorID, dayStart, dayEnd)
				if err != nil {
					return nil, fmt.Errorf("lake_backfill_v1: sensor %s day %s: %w", sensorID, dayStart.Format("2006-01-02"), err)
				}
				written += n
			}
			total += int64(written)

			if err := rc.UpdateProgress(ctx, progress("backfilling", total, &days)); err != nil {
				return nil, err
			}
			if err := rc.AppendEvent(ctx, "day_completed", map[string]any{
				"date": dayStart.Format("2006-01-02"), "rows": written,
			}); err != nil {
				return nil, err
			}
		}

		return map[string]any{"rows_written": total, "days": days}, nil
	}
}

func backfillSensorDay(ctx context.Context, metricStore *store.MetricStore, writer *lake.Writer, sensorID string, from, to time.Time) (int, error) {
	points, err := metricStore.RangeScan(ctx, sensorID, from, to)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}
	if _, err := writer.WritePartition(ctx, lakedomain.MetricsDatasetV1, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// VectorUpserter abstracts the vector index client so EmbeddingsBuildExecutor
// stays agnostic of its transport.
type VectorUpserter interface {
	UpsertEmbedding(ctx context.Context, sensorID string, vector []float32, payload map[string]any) error
}

// EmbeddingsBuildExecutor computes a fixed-size embedding per sensor from
// recent metric history and upserts it into the vector index, skipping
// sensors without enough data.
func EmbeddingsBuildExecutor(metricStore *store.MetricStore, index VectorUpserter, windowSeconds int64) Executor {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		sensorIDs, err := paramStringSlice(rc.Job.Params, "sensor_ids")
		if err != nil {
			return nil, err
		}
		intervalSeconds := paramInt(rc.Job.Params, "interval_seconds", 60)

		skipped, built := 0, 0
		total := int64(len(sensorIDs))
		for i, sensorID := range sensorIDs {
			if rc.Cancel.Requested() {
				return nil, errs.ErrCanceled
			}
			to := time.Now().UTC()
			from := to.Add(-time.Duration(windowSeconds) * time.Second)
			points, err := metricStore.RangeScan(ctx, sensorID, from, to)
			if err != nil {
				return nil, fmt.Errorf("embeddings_build_v1: range scan %s: %w", sensorID, err)
			}
			if len(points) < 2 {
				skipped++
				continue
			}

			vector := bucketEmbed(points, intervalSeconds)
			payload := map[string]any{
				"sensor_id":           sensorID,
				"interval_seconds":    intervalSeconds,
				"window_seconds":      windowSeconds,
				"embedding_version":   1,
				"updated_at":          time.Now().UTC(),
				"computed_through_ts": to,
				"is_derived":          false,
			}
			if err := index.UpsertEmbedding(ctx, sensorID, vector, payload); err != nil {
				return nil, fmt.Errorf("embeddings_build_v1: upsert %s: %w", sensorID, err)
			}
			built++

			completed := int64(i + 1)
			if err := rc.UpdateProgress(ctx, progress("embedding", completed, &total)); err != nil {
				return nil, err
			}
		}
		return map[string]any{"built": built, "skipped": skipped}, nil
	}
}

// bucketEmbed folds a time series into a fixed-size vector by averaging
// values within interval_seconds-wide buckets over the scan window.
func bucketEmbed(points []metricpoint.MetricPoint, intervalSeconds int64) []float32 {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	start := points[0].TS.Unix()
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	maxBucket := int64(0)
	for _, p := range points {
		bucket := (p.TS.Unix() - start) / intervalSeconds
		sums[bucket] += p.Value
		counts[bucket]++
		if bucket > maxBucket {
			maxBucket = bucket
		}
	}
	vector := make([]float32, maxBucket+1)
	for bucket, sum := range sums {
		vector[bucket] = float32(sum / float64(counts[bucket]))
	}
	return vector
}
