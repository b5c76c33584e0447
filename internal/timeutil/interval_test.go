package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveBlockInterval_NoTransition(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)

	startUTC, endUTC, err := ResolveBlockInterval("America/New_York", start, end)
	require.NoError(t, err)
	require.True(t, startUTC.Before(endUTC))
	require.Equal(t, end.Sub(start), endUTC.Sub(startUTC))
}

func TestResolveBlockInterval_SpringForward(t *testing.T) {
	// 2024-03-10: America/New_York springs forward at 02:00 -> 03:00.
	start := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC)

	startUTC, endUTC, err := ResolveBlockInterval("America/New_York", start, end)
	require.NoError(t, err)
	require.True(t, startUTC.Before(endUTC))
	// The wall-clock 3-hour span loses the skipped hour: only 2 real hours elapse.
	require.Equal(t, 2*time.Hour, endUTC.Sub(startUTC))
}

func TestResolveBlockInterval_RejectsNonPositiveSpan(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	_, _, err := ResolveBlockInterval("UTC", start, start)
	require.Error(t, err)
}

func TestResolveBlockInterval_RejectsUnknownZone(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	_, _, err := ResolveBlockInterval("Not/AZone", start, end)
	require.Error(t, err)
}
