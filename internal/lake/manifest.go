// Package lake implements the partitioned Parquet layout over hot/cold
// root paths: manifest atomic read/write, partition path derivation, and
// shard hashing.
package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"

	"github.com/fieldops/controlplane/internal/domain/lakedomain"
	"github.com/fieldops/controlplane/internal/platform/logging"
)

// ManifestStore owns atomic read/write access to manifest.json, guarded by
// an advisory file lock so writers serialize and readers never observe a
// torn file (Testable Property 7).
type ManifestStore struct {
	hotRoot string
	logger  *logging.Logger

	mu sync.Mutex
}

// NewManifestStore builds a ManifestStore rooted at hotRoot.
func NewManifestStore(hotRoot string, logger *logging.Logger) *ManifestStore {
	return &ManifestStore{hotRoot: hotRoot, logger: logger}
}

func (m *ManifestStore) path() string {
	return filepath.Join(m.hotRoot, "_state", "manifest.json")
}

func (m *ManifestStore) lockPath() string {
	return m.path() + ".lock"
}

// Read loads the manifest, returning a fresh empty one if it does not yet
// exist. Readers take a shared advisory lock so they never race a
// concurrent rename.
func (m *ManifestStore) Read(ctx context.Context) (lakedomain.Manifest, error) {
	lock := flock.New(m.lockPath())
	if err := lock.RLock(); err != nil {
		return lakedomain.Manifest{}, fmt.Errorf("lake: acquire manifest read lock: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(m.path())
	if os.IsNotExist(err) {
		return lakedomain.NewManifest(), nil
	}
	if err != nil {
		return lakedomain.Manifest{}, fmt.Errorf("lake: read manifest: %w", err)
	}
	var man lakedomain.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return lakedomain.Manifest{}, fmt.Errorf("lake: decode manifest: %w", err)
	}
	return man, nil
}

// Write atomically replaces manifest.json: serialize to a temp file in the
// same directory, fsync, then rename over the target. A reader observing
// the directory at any instant sees either the pre- or post-state, never a
// partial write (Testable Property 7).
func (m *ManifestStore) Write(ctx context.Context, man lakedomain.Manifest) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock := flock.New(m.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lake: acquire manifest write lock: %w", err)
	}
	defer lock.Unlock()

	dir := filepath.Dir(m.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lake: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("lake: encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "manifest-*.json.tmp")
	if err != nil {
		return fmt.Errorf("lake: create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("lake: write temp manifest: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("lake: fsync temp manifest: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("lake: close temp manifest: %w", err)
	}
	if err = os.Rename(tmpPath, m.path()); err != nil {
		return fmt.Errorf("lake: rename manifest: %w", err)
	}

	if m.logger != nil {
		m.logger.LogManifestSwap(ctx, m.path(), int64(man.SchemaVersion), nil)
	}
	return nil
}

// ShardFor computes the partition shard index for sensorID, the
// xxh3_64-equivalent hash mod shardCount. cespare/xxhash's 64-bit hash is
// used in place of the dedicated xxh3_64 implementation (an ecosystem
// stand-in noted in the grounding ledger); both are stable, well-
// distributed 64-bit hashes and the exact algorithm is not an externally
// observable contract.
func ShardFor(sensorID string, shardCount int) int {
	if shardCount <= 0 {
		shardCount = 1
	}
	return int(xxhash.Sum64String(sensorID) % uint64(shardCount))
}

// PartitionPath returns the on-disk path for one (dataset, date, shard)
// cell under root.
func PartitionPath(root, dataset, date string, shard int) string {
	return filepath.Join(root, dataset, fmt.Sprintf("date=%s", date), fmt.Sprintf("shard=%02d", shard))
}
