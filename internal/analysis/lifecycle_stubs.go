package analysis

import (
	"context"
)

// lifecycleOnlyJobTypes share the claim/progress/result contract with the
// documented executors but have no constrained algorithmic internals.
var lifecycleOnlyJobTypes = []string{
	"related_sensors_precompute_v1",
	"related_sensors_query_v1",
	"forecast_materialize_v1",
	"correlation_matrix_v1",
	"matrix_profile_v1",
	"event_match_v1",
	"cooccurrence_v1",
	"alarm_rule_backtest_v1",
}

// lifecycleStubExecutor acknowledges the job's params, reports a single
// completed progress step, and returns a result holding the job_type and
// the params unchanged under "params". It
// exists so every job_type registered against the runtime has somewhere to
// go; callers wanting real algorithmic behavior swap in their own Executor
// via Register before RegisterLifecycleStubs.
func lifecycleStubExecutor(jobType string) Executor {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		if err := rc.UpdateProgress(ctx, progressDone(1)); err != nil {
			return nil, err
		}
		return map[string]any{"job_type": jobType, "params": rc.Job.Params}, nil
	}
}

// RegisterLifecycleStubs registers a no-op-but-well-formed Executor for
// every job type whose internals this repo does not constrain, without
// overwriting any job_type already registered.
func (r *Runtime) RegisterLifecycleStubs() {
	for _, jobType := range lifecycleOnlyJobTypes {
		if _, ok := r.executors[jobType]; ok {
			continue
		}
		r.Register(jobType, lifecycleStubExecutor(jobType))
	}
}
