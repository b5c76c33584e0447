package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterLifecycleStubsFillsEveryUnregisteredType(t *testing.T) {
	rt := NewRuntime(nil, nil, 1, 0, 0)
	rt.RegisterLifecycleStubs()
	for _, jobType := range lifecycleOnlyJobTypes {
		_, ok := rt.executors[jobType]
		require.True(t, ok, "expected stub for %s", jobType)
	}
}

func TestRegisterLifecycleStubsDoesNotOverwriteExisting(t *testing.T) {
	rt := NewRuntime(nil, nil, 1, 0, 0)
	rt.Register(lifecycleOnlyJobTypes[0], nil)
	rt.RegisterLifecycleStubs()
	require.Nil(t, rt.executors[lifecycleOnlyJobTypes[0]])
}
