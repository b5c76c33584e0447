package lake

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/platform/logging"
)

func testLogger() *logging.Logger {
	return logging.New("lake-test", "error", "json")
}

func TestManifestStoreReadMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store := NewManifestStore(dir, testLogger())

	man, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, lakedomain.CurrentSchemaVersion, man.SchemaVersion)
	require.Empty(t, man.Datasets)
}

func TestManifestStoreWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	store := NewManifestStore(dir, testLogger())

	man := lakedomain.NewManifest()
	man.Datasets[lakedomain.MetricsDatasetV1] = lakedomain.Dataset{
		Partitions: map[string]lakedomain.Partition{
			"2026-07-29": {Location: lakedomain.LocationHot},
		},
	}

	require.NoError(t, store.Write(context.Background(), man))

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, lakedomain.LocationHot, got.Datasets[lakedomain.MetricsDatasetV1].Partitions["2026-07-29"].Location)
}

func TestManifestStoreWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewManifestStore(dir, testLogger())

	require.NoError(t, store.Write(context.Background(), lakedomain.NewManifest()))

	entries, err := filepath.Glob(filepath.Join(dir, "_state", "manifest-*.json.tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestShardForIsDeterministicAndInRange(t *testing.T) {
	const shards = 16
	first := ShardFor("sensor-123", shards)
	second := ShardFor("sensor-123", shards)
	require.Equal(t, first, second)
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, shards)
}

func TestShardForZeroCountFallsBackToOne(t *testing.T) {
	require.Equal(t, 0, ShardFor("sensor-1", 0))
}

func TestPartitionPathLayout(t *testing.T) {
	got := PartitionPath("/data/lake/hot", "metrics/v1", "2026-07-29", 3)
	require.Equal(t, "/data/lake/hot/metrics/v1/date=2026-07-29/shard=03", got)
}
