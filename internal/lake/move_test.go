package lake

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
)

func TestMovePartitionHotToCold(t *testing.T) {
	root := t.TempDir()
	hotRoot := filepath.Join(root, "hot")
	coldRoot := filepath.Join(root, "cold")

	shardDir := PartitionPath(hotRoot, lakedomain.MetricsDatasetV1, "2026-07-29", 2)
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, "part-0.parquet"), []byte("data"), 0o644))

	manifests := NewManifestStore(hotRoot, testLogger())
	ctx := context.Background()

	require.NoError(t, MovePartition(ctx, manifests, hotRoot, coldRoot, lakedomain.MetricsDatasetV1, "2026-07-29", true))

	_, err := os.Stat(shardDir)
	require.True(t, os.IsNotExist(err))

	movedFile := filepath.Join(PartitionPath(coldRoot, lakedomain.MetricsDatasetV1, "2026-07-29", 2), "part-0.parquet")
	data, err := os.ReadFile(movedFile)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))

	man, err := manifests.Read(ctx)
	require.NoError(t, err)
	part := man.Datasets[lakedomain.MetricsDatasetV1].Partitions["2026-07-29"]
	require.Equal(t, lakedomain.LocationCold, part.Location)
	require.False(t, part.UpdatedAt.IsZero())
}

func TestMovePartitionNoShardsIsNoop(t *testing.T) {
	root := t.TempDir()
	hotRoot := filepath.Join(root, "hot")
	coldRoot := filepath.Join(root, "cold")
	manifests := NewManifestStore(hotRoot, testLogger())

	err := MovePartition(context.Background(), manifests, hotRoot, coldRoot, lakedomain.MetricsDatasetV1, "2026-07-29", true)
	require.NoError(t, err)
}
