package lake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
)

func TestLocatorRootsForUnlistedPartitionPrefersHot(t *testing.T) {
	dir := t.TempDir()
	manifests := NewManifestStore(dir, testLogger())
	locator := NewLocator(filepath.Join(dir, "hot"), filepath.Join(dir, "cold"), manifests)

	roots, err := locator.RootsFor(context.Background(), lakedomain.MetricsDatasetV1, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "hot"), filepath.Join(dir, "cold")}, roots)
}

func TestLocatorRootsForColdPartitionPrefersCold(t *testing.T) {
	dir := t.TempDir()
	manifests := NewManifestStore(dir, testLogger())
	man := lakedomain.NewManifest()
	man.Datasets[lakedomain.MetricsDatasetV1] = lakedomain.Dataset{
		Partitions: map[string]lakedomain.Partition{
			"2026-07-29": {Location: lakedomain.LocationCold},
		},
	}
	require.NoError(t, manifests.Write(context.Background(), man))

	locator := NewLocator(filepath.Join(dir, "hot"), filepath.Join(dir, "cold"), manifests)
	roots, err := locator.RootsFor(context.Background(), lakedomain.MetricsDatasetV1, "2026-07-29")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "cold"), filepath.Join(dir, "hot")}, roots)
}

func TestListShardsMissingDirReturnsEmpty(t *testing.T) {
	shards, err := ListShards(t.TempDir(), lakedomain.MetricsDatasetV1, "2026-07-29")
	require.NoError(t, err)
	require.Empty(t, shards)
}

func TestListShardsReturnsPresentShards(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(PartitionPath(root, lakedomain.MetricsDatasetV1, "2026-07-29", 0), 0o755))
	require.NoError(t, os.MkdirAll(PartitionPath(root, lakedomain.MetricsDatasetV1, "2026-07-29", 5), 0o755))

	shards, err := ListShards(root, lakedomain.MetricsDatasetV1, "2026-07-29")
	require.NoError(t, err)
	require.ElementsMatch(t, []int{0, 5}, shards)
}
