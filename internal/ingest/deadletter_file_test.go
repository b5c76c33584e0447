package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/metricpoint"
)

func TestFileAppenderAppendsNewlineDelimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.ndjson")
	appender, err := NewFileAppender(path)
	require.NoError(t, err)
	defer appender.Close()

	require.NoError(t, appender.Append([]byte(`{"reason":"r1"}`)))
	require.NoError(t, appender.Append([]byte(`{"reason":"r2"}`)))

	count, err := ReplayDeadLetterFile(context.Background(), path, nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestFileDeadLetterSinkSidelineAndReplayDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letter.ndjson")
	appender, err := NewFileAppender(path)
	require.NoError(t, err)
	defer appender.Close()

	sink := NewFileDeadLetterSink(appender)
	points := []metricpoint.MetricPoint{
		{SensorID: "sensor-1", Value: 1.0},
		{SensorID: "sensor-2", Value: 2.0},
	}
	require.NoError(t, sink.Sideline(context.Background(), points, "store unavailable"))
	require.NoError(t, sink.Sideline(context.Background(), points, "store unavailable"))

	count, err := ReplayDeadLetterFile(context.Background(), path, nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestReplayDeadLetterFileMissingFile(t *testing.T) {
	_, err := ReplayDeadLetterFile(context.Background(), filepath.Join(t.TempDir(), "missing.ndjson"), nil, true)
	require.Error(t, err)
}
