package lake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/domain/metricpoint"
)

func TestWriterWriteAndReadPartitionRoundTrip(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, 4)

	ts := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	rows := []metricpoint.MetricPoint{
		{SensorID: "sensor-a", TS: ts, Value: 1.5, Quality: 0},
		{SensorID: "sensor-a", TS: ts.Add(time.Minute), Value: 2.5, Quality: 0},
		{SensorID: "sensor-b", TS: ts, Value: 9.0, Quality: 1},
	}

	touched, err := writer.WritePartition(context.Background(), lakedomain.MetricsDatasetV1, rows)
	require.NoError(t, err)
	require.True(t, touched["2026-07-29"])

	var all []metricpoint.MetricPoint
	for shard := 0; shard < 4; shard++ {
		got, err := ReadPartition(root, lakedomain.MetricsDatasetV1, "2026-07-29", shard)
		require.NoError(t, err)
		all = append(all, got...)
	}
	require.Len(t, all, 3)

	bySensor := map[string]int{}
	for _, r := range all {
		bySensor[r.SensorID]++
	}
	require.Equal(t, 2, bySensor["sensor-a"])
	require.Equal(t, 1, bySensor["sensor-b"])
}

func TestWriterSplitsRowsAcrossDatePartitions(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, 1)

	day1 := time.Date(2026, 7, 28, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 29, 1, 0, 0, 0, time.UTC)
	rows := []metricpoint.MetricPoint{
		{SensorID: "sensor-a", TS: day1, Value: 1.0},
		{SensorID: "sensor-a", TS: day2, Value: 2.0},
	}

	touched, err := writer.WritePartition(context.Background(), lakedomain.MetricsDatasetV1, rows)
	require.NoError(t, err)
	require.Len(t, touched, 2)
	require.True(t, touched["2026-07-28"])
	require.True(t, touched["2026-07-29"])
}

func TestReadPartitionMissingReturnsEmpty(t *testing.T) {
	rows, err := ReadPartition(t.TempDir(), lakedomain.MetricsDatasetV1, "2026-07-29", 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}
