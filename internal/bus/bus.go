// Package bus implements the message bus contract from the external
// interfaces: per-sensor topic partitions with per-partition FIFO and
// at-least-once delivery. It is built on PostgreSQL LISTEN/NOTIFY for
// low-latency wake-ups, backed by a durable outbox table so a message
// survives a subscriber that was not listening when it was published —
// NOTIFY alone only signals, it never persists.
package bus

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/fieldops/controlplane/internal/platform/logging"
)

const wakeChannel = "controlplane_bus_wake"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bus_messages (
	offset_id   BIGSERIAL PRIMARY KEY,
	partition   TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	published_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bus_messages_partition_offset_idx
	ON bus_messages (partition, offset_id);

CREATE TABLE IF NOT EXISTS bus_cursors (
	consumer    TEXT NOT NULL,
	partition   TEXT NOT NULL,
	last_offset BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (consumer, partition)
);
`

// Message is one delivered bus record.
type Message struct {
	Offset      int64
	Partition   string
	Payload     []byte
	PublishedAt time.Time
}

// Bus is a durable, partitioned pub/sub channel over Postgres.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *logging.Logger

	mu      sync.Mutex
	wakers  map[string][]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to dsn, ensures the outbox schema exists, and starts the
// LISTEN loop.
func Open(dsn string, logger *logging.Logger) (*Bus, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("bus: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus: ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus: create schema: %w", err)
	}
	return OpenWithDB(db, dsn, logger)
}

// OpenWithDB builds a Bus around an already-open *sql.DB, useful when the
// caller shares a connection pool across the bus and the metric/job stores.
func OpenWithDB(db *sql.DB, dsn string, logger *logging.Logger) (*Bus, error) {
	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil && logger != nil {
			logger.WithFields(nil).WithError(err).Warn("bus: listener event")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(wakeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("bus: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		db:       db,
		listener: listener,
		logger:   logger,
		wakers:   make(map[string][]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.wg.Add(1)
	go b.listen()
	return b, nil
}

// Close stops the listener loop and closes the underlying connection.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

// Publish durably appends payload to partition's log and wakes any local
// subscribers waiting on it. Returns the assigned offset.
func (b *Bus) Publish(ctx context.Context, partition string, payload []byte) (int64, error) {
	var offset int64
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO bus_messages (partition, payload) VALUES ($1, $2) RETURNING offset_id`,
		partition, payload,
	).Scan(&offset)
	if err != nil {
		return 0, fmt.Errorf("bus: publish: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", wakeChannel, partition); err != nil {
		if b.logger != nil {
			b.logger.WithFields(nil).WithError(err).Warn("bus: notify wake failed, subscribers will still poll")
		}
	}
	return offset, nil
}

func (b *Bus) listen() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case n := <-b.listener.Notify:
			if n == nil {
				continue
			}
			b.wake(n.Extra)
		case <-time.After(90 * time.Second):
			go b.listener.Ping()
		}
	}
}

func (b *Bus) wake(partition string) {
	b.mu.Lock()
	chs := append([]chan struct{}(nil), b.wakers[partition]...)
	b.mu.Unlock()
	for _, ch := range chs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) registerWaker(partition string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.wakers[partition] = append(b.wakers[partition], ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) unregisterWaker(partition string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.wakers[partition]
	for i, c := range list {
		if c == ch {
			b.wakers[partition] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
