package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReplicationState is the ticker's durable cursor, separate from the
// manifest's per-dataset computed_through_ts so a manifest rebuild never
// loses track of how far replication has already exported.
type ReplicationState struct {
	PreviousTS        time.Time `json:"previous_ts"`
	ComputedThroughTS time.Time `json:"computed_through_ts"`
}

// ReplicationStateStore owns atomic read/write of replication.json.
type ReplicationStateStore struct {
	hotRoot string
}

// NewReplicationStateStore builds a ReplicationStateStore rooted at hotRoot.
func NewReplicationStateStore(hotRoot string) *ReplicationStateStore {
	return &ReplicationStateStore{hotRoot: hotRoot}
}

func (s *ReplicationStateStore) path() string {
	return filepath.Join(s.hotRoot, "_state", "replication.json")
}

// Read loads the cursor, returning a zero-value state if none exists yet.
func (s *ReplicationStateStore) Read(ctx context.Context) (ReplicationState, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return ReplicationState{}, nil
	}
	if err != nil {
		return ReplicationState{}, fmt.Errorf("lake: read replication state: %w", err)
	}
	var st ReplicationState
	if err := json.Unmarshal(data, &st); err != nil {
		return ReplicationState{}, fmt.Errorf("lake: decode replication state: %w", err)
	}
	return st, nil
}

// Write atomically replaces replication.json via temp-file-then-rename,
// the same pattern the manifest uses.
func (s *ReplicationStateStore) Write(ctx context.Context, st ReplicationState) (err error) {
	dir := filepath.Dir(s.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lake: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("lake: encode replication state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "replication-*.json.tmp")
	if err != nil {
		return fmt.Errorf("lake: create temp replication state: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("lake: write temp replication state: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("lake: fsync temp replication state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("lake: close temp replication state: %w", err)
	}
	return os.Rename(tmpPath, s.path())
}
