package lake

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
)

// Locator resolves which root (hot or cold) to read a partition from,
// honoring the manifest's authoritative Location field and falling back to
// directory listing when the manifest has no entry for a partition, so
// readers never fail outright on a manifest gap.
type Locator struct {
	hotRoot, coldRoot string
	manifests         *ManifestStore
}

// NewLocator builds a Locator over the given hot/cold roots.
func NewLocator(hotRoot, coldRoot string, manifests *ManifestStore) *Locator {
	return &Locator{hotRoot: hotRoot, coldRoot: coldRoot, manifests: manifests}
}

// RootsFor returns the roots to probe for dataset/date, in read-preference
// order. A partition moved to cold is read from cold with a fallback to
// hot (to tolerate a reader racing the move); an unmoved or unlisted
// partition is read from hot with a fallback to cold.
func (l *Locator) RootsFor(ctx context.Context, dataset, date string) ([]string, error) {
	man, err := l.manifests.Read(ctx)
	if err != nil {
		return nil, err
	}
	ds, ok := man.Datasets[dataset]
	if !ok {
		return []string{l.hotRoot, l.coldRoot}, nil
	}
	part, ok := ds.Partitions[date]
	if !ok {
		return []string{l.hotRoot, l.coldRoot}, nil
	}
	if part.Location == lakedomain.LocationCold {
		return []string{l.coldRoot, l.hotRoot}, nil
	}
	return []string{l.hotRoot, l.coldRoot}, nil
}

// ListShards returns the shard directories present for dataset/date under
// root, used by lake_inspect_v1 and by readers discovering partitions when
// the manifest is absent.
func ListShards(root, dataset, date string) ([]int, error) {
	dir := PartitionPath(root, dataset, date, 0)
	parent := strings.TrimSuffix(dir, "shard=00")
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var shards []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var n int
		if _, serr := fmt.Sscanf(e.Name(), "shard=%d", &n); serr == nil {
			shards = append(shards, n)
		}
	}
	return shards, nil
}
