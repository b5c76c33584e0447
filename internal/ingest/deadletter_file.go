package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fieldops/controlplane/internal/store"
)

// FileAppender appends newline-delimited JSON lines to a single file,
// fsyncing after every write since the dead-letter log is the last resort
// record of data the primary store rejected.
type FileAppender struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileAppender opens (creating if needed) the dead-letter log at path
// for append.
func NewFileAppender(path string) (*FileAppender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ingest: open dead-letter log: %w", err)
	}
	return &FileAppender{f: f}, nil
}

// Append writes line followed by a newline and fsyncs.
func (a *FileAppender) Append(line []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(append(line, '\n')); err != nil {
		return err
	}
	return a.f.Sync()
}

// Close closes the underlying file.
func (a *FileAppender) Close() error { return a.f.Close() }

// ReplayDeadLetterFile re-submits every record in the dead-letter log at
// path to store, in file order. When dryRun is true it only counts
// records and points without writing. It returns the number of records
// processed.
func ReplayDeadLetterFile(ctx context.Context, path string, metricStore *store.MetricStore, dryRun bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("ingest: open dead-letter log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	records := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DeadLetterRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return records, fmt.Errorf("ingest: malformed dead-letter record at record %d: %w", records, err)
		}
		if !dryRun && len(rec.Points) > 0 {
			if err := metricStore.UpsertBatch(ctx, rec.Points); err != nil {
				return records, fmt.Errorf("ingest: replay record %d: %w", records, err)
			}
		}
		records++
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("ingest: scan dead-letter log: %w", err)
	}
	return records, nil
}
