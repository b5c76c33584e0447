package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/controlplane/internal/domain/metricpoint"
)

func TestParamStringRequiredMissing(t *testing.T) {
	_, err := paramString(map[string]any{}, "dataset")
	require.Error(t, err)
}

func TestParamStringRejectsEmpty(t *testing.T) {
	_, err := paramString(map[string]any{"dataset": ""}, "dataset")
	require.Error(t, err)
}

func TestParamStringReturnsValue(t *testing.T) {
	v, err := paramString(map[string]any{"dataset": "metrics/v1"}, "dataset")
	require.NoError(t, err)
	require.Equal(t, "metrics/v1", v)
}

func TestParamStringSliceFromJSONDecodedAnySlice(t *testing.T) {
	v, err := paramStringSlice(map[string]any{"sensor_ids": []any{"s1", "s2"}}, "sensor_ids")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, v)
}

func TestParamStringSliceRejectsNonStringElements(t *testing.T) {
	_, err := paramStringSlice(map[string]any{"sensor_ids": []any{"s1", 2}}, "sensor_ids")
	require.Error(t, err)
}

func TestParamIntDefaultsWhenMissing(t *testing.T) {
	require.Equal(t, int64(7), paramInt(map[string]any{}, "days", 7))
}

func TestParamIntAcceptsJSONFloat64(t *testing.T) {
	require.Equal(t, int64(3), paramInt(map[string]any{"days": float64(3)}, "days", 1))
}

func TestBucketEmbedAveragesWithinBuckets(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	points := []metricpoint.MetricPoint{
		{TS: start, Value: 1.0},
		{TS: start.Add(10 * time.Second), Value: 3.0},
		{TS: start.Add(60 * time.Second), Value: 10.0},
	}
	vector := bucketEmbed(points, 60)
	require.Len(t, vector, 2)
	require.InDelta(t, 2.0, vector[0], 1e-6)
	require.InDelta(t, 10.0, vector[1], 1e-6)
}

func TestBucketEmbedDefaultsIntervalWhenNonPositive(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	points := []metricpoint.MetricPoint{{TS: start, Value: 5.0}}
	vector := bucketEmbed(points, 0)
	require.Len(t, vector, 1)
	require.InDelta(t, 5.0, vector[0], 1e-6)
}
