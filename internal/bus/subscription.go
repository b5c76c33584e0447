package bus

import (
	"context"
	"fmt"
	"time"
)

// Subscription reads one partition's durable log in FIFO order on behalf
// of a named consumer, tracking an acknowledged offset per (consumer,
// partition) so redelivery resumes exactly where it left off — at-least-
// once, never skipping an unacked message.
type Subscription struct {
	bus       *Bus
	consumer  string
	partition string
	waker     chan struct{}
}

// Subscribe opens a Subscription for consumer on partition. Multiple
// processes using the same consumer name race for the same cursor; use
// distinct consumer names for independent readers of the same partition.
func (b *Bus) Subscribe(consumer, partition string) *Subscription {
	return &Subscription{
		bus:       b,
		consumer:  consumer,
		partition: partition,
		waker:     b.registerWaker(partition),
	}
}

// Close releases the subscription's wake registration.
func (s *Subscription) Close() {
	s.bus.unregisterWaker(s.partition, s.waker)
}

// Fetch returns up to limit unacked messages in offset order. It does not
// block; call Wait to pause until a publish wakes this partition (or the
// poll interval elapses).
func (s *Subscription) Fetch(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.bus.db.QueryContext(ctx, `
		SELECT m.offset_id, m.partition, m.payload, m.published_at
		FROM bus_messages m
		LEFT JOIN bus_cursors c ON c.consumer = $1 AND c.partition = m.partition
		WHERE m.partition = $2 AND m.offset_id > COALESCE(c.last_offset, 0)
		ORDER BY m.offset_id
		LIMIT $3`,
		s.consumer, s.partition, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("bus: fetch: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Offset, &m.Partition, &m.Payload, &m.PublishedAt); err != nil {
			return nil, fmt.Errorf("bus: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ack advances the consumer's cursor to offset, meaning every message up
// to and including offset has been durably processed. Ack is monotonic:
// acking an offset below the current cursor is a no-op.
func (s *Subscription) Ack(ctx context.Context, offset int64) error {
	_, err := s.bus.db.ExecContext(ctx, `
		INSERT INTO bus_cursors (consumer, partition, last_offset)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, partition)
		DO UPDATE SET last_offset = GREATEST(bus_cursors.last_offset, EXCLUDED.last_offset)`,
		s.consumer, s.partition, offset,
	)
	if err != nil {
		return fmt.Errorf("bus: ack: %w", err)
	}
	return nil
}

// Wait blocks until either a publish wakes this partition, pollInterval
// elapses (so a missed NOTIFY never stalls delivery indefinitely), or ctx
// is done.
func (s *Subscription) Wait(ctx context.Context, pollInterval time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.waker:
	case <-time.After(pollInterval):
	}
}
