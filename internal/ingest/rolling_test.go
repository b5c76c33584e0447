package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRollingPassthroughWhenWindowZero(t *testing.T) {
	r := NewRolling(time.Second, 0)
	ts := time.Date(2026, 7, 30, 0, 0, 1, 0, time.UTC)
	out := r.Ingest(ts, 3.0, 0)
	require.Len(t, out, 1)
	require.Equal(t, ts, out[0].TS)
	require.Equal(t, 3.0, out[0].Value)
}

func TestRollingEmitsAveragedSampleOnGridCross(t *testing.T) {
	r := NewRolling(10*time.Second, 10*time.Second)
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.Empty(t, r.Ingest(base.Add(1*time.Second), 1.0, 0))
	require.Empty(t, r.Ingest(base.Add(5*time.Second), 3.0, 0))

	out := r.Ingest(base.Add(10*time.Second), 5.0, 0)
	require.Len(t, out, 1)
	require.Equal(t, base.Add(10*time.Second), out[0].TS)
	require.InDelta(t, 3.0, out[0].Value, 1e-9)
}

func TestRollingSkippedGridLinesDoNotEmitEmptyWindows(t *testing.T) {
	r := NewRolling(10*time.Second, 10*time.Second)
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.Empty(t, r.Ingest(base.Add(1*time.Second), 1.0, 0))
	// Jump far enough ahead to cross several grid lines with no samples in
	// between; only grid lines with at least one sample in their window
	// should emit.
	out := r.Ingest(base.Add(31*time.Second), 9.0, 0)
	require.NotEmpty(t, out)
	require.Len(t, out, 1)
	require.Equal(t, base.Add(10*time.Second), out[0].TS)
	for _, e := range out {
		require.False(t, e.TS.After(base.Add(31 * time.Second)))
	}
}

func TestEmissionToMetricPoint(t *testing.T) {
	ts := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	e := Emission{TS: ts, Value: 2.5, Quality: 1}
	mp := e.ToMetricPoint("sensor-1")
	require.Equal(t, "sensor-1", mp.SensorID)
	require.Equal(t, ts, mp.TS)
	require.Equal(t, 2.5, mp.Value)
	require.Equal(t, int16(1), mp.Quality)
}
