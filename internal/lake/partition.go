package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/fieldops/controlplane/internal/domain/metricpoint"
)

// metricRow is the on-disk row shape for the metrics/v1 dataset: one sample
// per row, sorted within a part file by (sensor_id, ts).
type metricRow struct {
	SensorID string  `parquet:"sensor_id,dict"`
	TS       int64   `parquet:"ts,timestamp"`
	Value    float64 `parquet:"value"`
	Quality  int16   `parquet:"quality"`
}

// Writer writes sorted, sharded part files for a dataset under root.
type Writer struct {
	root       string
	shardCount int
}

// NewWriter builds a Writer rooted at root, hashing sensor_id into
// shardCount shards.
func NewWriter(root string, shardCount int) *Writer {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Writer{root: root, shardCount: shardCount}
}

// WritePartition groups rows by (date, shard), sorts each shard's rows by
// (sensor_id, ts), and writes one part file per non-empty shard. It returns
// the set of dataset/date pairs touched, for the caller to fold into the
// manifest.
func (w *Writer) WritePartition(ctx context.Context, dataset string, rows []metricpoint.MetricPoint) (map[string]bool, error) {
	type shardKey struct {
		date  string
		shard int
	}
	grouped := make(map[shardKey][]metricpoint.MetricPoint)
	for _, r := range rows {
		date := r.TS.UTC().Format("2006-01-02")
		shard := ShardFor(r.SensorID, w.shardCount)
		key := shardKey{date: date, shard: shard}
		grouped[key] = append(grouped[key], r)
	}

	touched := make(map[string]bool)
	for key, group := range grouped {
		sort.Slice(group, func(i, j int) bool {
			if group[i].SensorID != group[j].SensorID {
				return group[i].SensorID < group[j].SensorID
			}
			return group[i].TS.Before(group[j].TS)
		})
		if err := w.writePart(dataset, key.date, key.shard, group); err != nil {
			return nil, fmt.Errorf("lake: write partition %s/date=%s/shard=%02d: %w", dataset, key.date, key.shard, err)
		}
		touched[key.date] = true
	}
	return touched, nil
}

func (w *Writer) writePart(dataset, date string, shard int, rows []metricpoint.MetricPoint) error {
	dir := PartitionPath(w.root, dataset, date, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	parquetRows := make([]metricRow, len(rows))
	for i, r := range rows {
		parquetRows[i] = metricRow{
			SensorID: r.SensorID,
			TS:       r.TS.UTC().UnixMilli(),
			Value:    r.Value,
			Quality:  r.Quality,
		}
	}

	name := fmt.Sprintf("part-%s.parquet", uuid.New().String())
	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp part: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	pw := parquet.NewGenericWriter[metricRow](f)
	if _, werr := pw.Write(parquetRows); werr != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", werr)
	}
	if cerr := pw.Close(); cerr != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", cerr)
	}
	if serr := f.Sync(); serr != nil {
		f.Close()
		return fmt.Errorf("fsync part: %w", serr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("close part file: %w", cerr)
	}
	return os.Rename(tmpPath, path)
}

// ReadPartition reads every part file under root/dataset/date=.../shard=NN,
// for the given shard, in file-discovery order (sorted by name). Used by
// lake_inspect_v1 and by backfill verification.
func ReadPartition(root, dataset, date string, shard int) ([]metricpoint.MetricPoint, error) {
	dir := PartitionPath(root, dataset, date, shard)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lake: list partition dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".parquet" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []metricpoint.MetricPoint
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("lake: open part %s: %w", name, err)
		}
		rows, err := readPartFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("lake: read part %s: %w", name, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func readPartFile(f *os.File) ([]metricpoint.MetricPoint, error) {
	pr := parquet.NewGenericReader[metricRow](f, parquet.SchemaOf(metricRow{}))
	defer pr.Close()

	buf := make([]metricRow, 256)
	var out []metricpoint.MetricPoint
	for {
		n, err := pr.Read(buf)
		for i := 0; i < n; i++ {
			r := buf[i]
			out = append(out, metricpoint.MetricPoint{
				SensorID: r.SensorID,
				TS:       time.UnixMilli(r.TS).UTC(),
				Value:    r.Value,
				Quality:  r.Quality,
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, err
		}
	}
	return out, nil
}
