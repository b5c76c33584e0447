package lake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
)

// MovePartition relocates every shard directory of dataset's date
// partition between hotRoot and coldRoot, then records the new location
// in the manifest. It is the operation backing the Ops CLI's
// lake-move-partition tool — an operator-triggered action, not something
// the Replication Ticker does on its own.
func MovePartition(ctx context.Context, manifests *ManifestStore, hotRoot, coldRoot, dataset, date string, toCold bool) error {
	fromRoot, toRoot := hotRoot, coldRoot
	newLocation := lakedomain.LocationCold
	if !toCold {
		fromRoot, toRoot = coldRoot, hotRoot
		newLocation = lakedomain.LocationHot
	}

	shards, err := ListShards(fromRoot, dataset, date)
	if err != nil {
		return fmt.Errorf("lake: list shards: %w", err)
	}
	for _, shard := range shards {
		src := PartitionPath(fromRoot, dataset, date, shard)
		dst := PartitionPath(toRoot, dataset, date, shard)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("lake: mkdir %s: %w", filepath.Dir(dst), err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("lake: move shard %d: %w", shard, err)
		}
	}

	man, err := manifests.Read(ctx)
	if err != nil {
		return fmt.Errorf("lake: read manifest: %w", err)
	}
	ds, ok := man.Datasets[dataset]
	if !ok {
		ds = lakedomain.Dataset{Partitions: map[string]lakedomain.Partition{}}
	}
	part := ds.Partitions[date]
	part.Location = newLocation
	part.UpdatedAt = time.Now().UTC()
	ds.Partitions[date] = part
	man.Datasets[dataset] = ds

	return manifests.Write(ctx, man)
}
