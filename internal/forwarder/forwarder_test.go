package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/spool"
)

type fakePublisher struct {
	mu       sync.Mutex
	received []WireSample
	failNext bool
}

func (p *fakePublisher) Publish(ctx context.Context, partition string, payload []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return 0, errors.New("bus unavailable")
	}
	var wire WireSample
	if err := json.Unmarshal(payload, &wire); err != nil {
		return 0, err
	}
	p.received = append(p.received, wire)
	return int64(len(p.received)), nil
}

func newTestStore(t *testing.T) *spool.Store {
	t.Helper()
	store, err := spool.Open(spool.Config{
		Dir:              t.TempDir(),
		SegmentRollAge:   time.Hour,
		SegmentRollBytes: 1 << 20,
		SyncInterval:     time.Hour,
		MaxBytes:         1 << 30,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func unlimitedConfig() Config {
	return Config{MsgsPerSec: 1e6, BytesPerSec: 1e9, PollInterval: time.Millisecond, BatchSize: 50}
}

func TestForwarderDrainPublishesAndAcks(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append([]spool.Sample{
		{SensorID: "s1", Value: 1.0, TS: time.Now().UTC()},
		{SensorID: "s1", Value: 2.0, TS: time.Now().UTC()},
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	fwd := New(store, pub, nil, unlimitedConfig())
	require.NoError(t, fwd.Resume())
	require.NoError(t, fwd.drain(context.Background()))

	require.Len(t, pub.received, 2)
	require.Equal(t, int64(1), pub.received[0].Seq)
	require.Equal(t, int64(2), pub.received[1].Seq)

	status, err := store.Status()
	require.NoError(t, err)
	require.Equal(t, int64(2), status.OldestUnackedOffset)
}

func TestForwarderDrainStopsOnPublishFailureLeavingCursor(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append([]spool.Sample{
		{SensorID: "s1", Value: 1.0, TS: time.Now().UTC()},
		{SensorID: "s1", Value: 2.0, TS: time.Now().UTC()},
	})
	require.NoError(t, err)

	pub := &fakePublisher{failNext: true}
	fwd := New(store, pub, nil, unlimitedConfig())
	require.NoError(t, fwd.Resume())
	require.Error(t, fwd.drain(context.Background()))

	require.Empty(t, pub.received)
	status, err := store.Status()
	require.NoError(t, err)
	require.Equal(t, int64(0), status.OldestUnackedOffset)
}

func TestForwarderResumeSeedsFromOldestUnacked(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append([]spool.Sample{
		{SensorID: "s1", Value: 1.0}, {SensorID: "s1", Value: 2.0}, {SensorID: "s1", Value: 3.0},
	})
	require.NoError(t, err)
	require.NoError(t, store.Ack(0))

	pub := &fakePublisher{}
	fwd := New(store, pub, nil, unlimitedConfig())
	require.NoError(t, fwd.Resume())
	require.NoError(t, fwd.drain(context.Background()))

	require.Len(t, pub.received, 2)
}

func TestForwarderBackfillFlagSetBeyondHorizon(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().UTC().Add(-time.Hour)
	_, err := store.Append([]spool.Sample{{SensorID: "s1", Value: 1.0, TS: old}})
	require.NoError(t, err)

	pub := &fakePublisher{}
	cfg := unlimitedConfig()
	cfg.BackfillHorizon = time.Minute
	fwd := New(store, pub, nil, cfg)
	require.NoError(t, fwd.Resume())
	require.NoError(t, fwd.drain(context.Background()))

	require.Len(t, pub.received, 1)
	require.True(t, pub.received[0].Backfill)
}
