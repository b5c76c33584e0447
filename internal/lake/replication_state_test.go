package lake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplicationStateStoreReadMissingReturnsZeroValue(t *testing.T) {
	store := NewReplicationStateStore(t.TempDir())
	st, err := store.Read(context.Background())
	require.NoError(t, err)
	require.True(t, st.PreviousTS.IsZero())
}

func TestReplicationStateStoreWriteThenRead(t *testing.T) {
	store := NewReplicationStateStore(t.TempDir())
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	want := ReplicationState{PreviousTS: now, ComputedThroughTS: now.Add(time.Minute)}

	require.NoError(t, store.Write(context.Background(), want))
	got, err := store.Read(context.Background())
	require.NoError(t, err)
	require.True(t, want.PreviousTS.Equal(got.PreviousTS))
	require.True(t, want.ComputedThroughTS.Equal(got.ComputedThroughTS))
}
