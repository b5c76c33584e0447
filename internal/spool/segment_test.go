package spool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		Dir:              dir,
		SegmentRollAge:   time.Hour,
		SegmentRollBytes: 1 << 20,
		SyncInterval:     time.Hour,
		MaxBytes:         1 << 30,
		KeepFreeBytes:    0,
		MaxAge:           0,
	}
}

func TestStoreAppendAndReadFrom(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	samples := []Sample{
		{SensorID: "s1", NodeID: "n1", TS: time.Now().UTC(), Value: 1.0, Quality: 0},
		{SensorID: "s1", NodeID: "n1", TS: time.Now().UTC(), Value: 2.0, Quality: 0},
	}
	n, err := store.Append(samples)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	out, err := store.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(0), out[0].Offset)
	require.Equal(t, int64(1), out[1].Offset)
	require.Equal(t, 1.0, out[0].Sample.Value)
}

func TestStoreReadFromMidOffset(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	samples := make([]Sample, 5)
	for i := range samples {
		samples[i] = Sample{SensorID: "s1", Value: float64(i)}
	}
	_, err = store.Append(samples)
	require.NoError(t, err)

	out, err := store.ReadFrom(3, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(3), out[0].Offset)
	require.Equal(t, int64(4), out[1].Offset)
}

func TestStoreAckAdvancesOldestUnacked(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	status, err := store.Status()
	require.NoError(t, err)
	require.Equal(t, int64(0), status.OldestUnackedOffset)

	require.NoError(t, store.Ack(4))
	status, err = store.Status()
	require.NoError(t, err)
	require.Equal(t, int64(5), status.OldestUnackedOffset)
}

func TestStoreAckNeverRegresses(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ack(10))
	require.NoError(t, store.Ack(3))

	status, err := store.Status()
	require.NoError(t, err)
	require.Equal(t, int64(11), status.OldestUnackedOffset)
}

func TestStoreRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(testConfig(dir))
	require.NoError(t, err)

	samples := []Sample{{SensorID: "s1", Value: 1.0}, {SensorID: "s1", Value: 2.0}}
	_, err = store.Append(samples)
	require.NoError(t, err)
	require.NoError(t, store.Ack(0))
	require.NoError(t, store.Close())

	reopened, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	status, err := reopened.Status()
	require.NoError(t, err)
	require.Equal(t, int64(1), status.NewestOffset)
	require.Equal(t, int64(1), status.OldestUnackedOffset)

	more := []Sample{{SensorID: "s1", Value: 3.0}}
	n, err := reopened.Append(more)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	out, err := reopened.ReadFrom(2, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(2), out[0].Offset)
}

func TestStoreRollsSegmentOnByteBudget(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.SegmentRollBytes = 64
	store, err := Open(cfg)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		_, err := store.Append([]Sample{{SensorID: "s1", Value: float64(i)}})
		require.NoError(t, err)
	}

	segs, err := store.listSegments()
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)
}

func TestIndexAckedIsMinusOneInitially(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.bbolt"))
	require.NoError(t, err)
	defer idx.Close()

	acked, err := idx.Acked()
	require.NoError(t, err)
	require.Equal(t, int64(-1), acked)
}
