package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelTokenStartsUnrequested(t *testing.T) {
	token := &CancelToken{}
	require.False(t, token.Requested())
}

func TestCancelTokenRequestIsObserved(t *testing.T) {
	token := &CancelToken{}
	token.request()
	require.True(t, token.Requested())
}

func TestNewRuntimeClampsZeroSlotsToOne(t *testing.T) {
	rt := NewRuntime(nil, nil, 0, 0, 0)
	require.Equal(t, 1, rt.slots)
}

func TestRuntimeRegisterStoresExecutor(t *testing.T) {
	rt := NewRuntime(nil, nil, 1, 0, 0)
	called := false
	rt.Register("job_type_v1", func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		called = true
		return nil, nil
	})
	exec, ok := rt.executors["job_type_v1"]
	require.True(t, ok)
	_, _ = exec(context.Background(), nil)
	require.True(t, called)
}
