// Package tracker records one run per pipeline-stage invocation: tags,
// params, metrics, artifacts. Each run is tagged with
// component=celery_task/task_name/correlation_id/raw_data_id, carries a
// status tag of succeeded or failed, and closes with a final
// duration_seconds metric.
package tracker

import (
	"context"
	"time"
)

// correlationKey carries the submitter's correlation id through handler
// contexts. The id crosses the broker as a job-row column, not in-process
// storage; WithCorrelationID re-establishes it on the worker side.
type correlationKey struct{}

// WithCorrelationID returns a context carrying id for StageRun to pick up.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Tracker starts runs. A nil Tracker is never passed to a stage; use NoOp
// when the caller has no configured tracking sink.
type Tracker interface {
	StartRun(ctx context.Context, runName string, tags map[string]string) (Run, error)
}

// Run is one in-flight experiment-tracker run.
type Run interface {
	LogParams(params map[string]any)
	LogMetrics(metrics map[string]any)
	LogArtifact(path string)
	// End records a terminal status ("succeeded" or "failed") and the run
	// duration, then persists the run record.
	End(status string)
}

// StageRun wraps a Tracker.StartRun call with the tag/param conventions
// every pipeline stage uses: a fixed component=celery_task label (nothing
// downstream interprets it beyond a label), task_name, raw_data_id, and an
// optional correlation_id (falling back to the one carried by ctx).
func StageRun(ctx context.Context, t Tracker, taskName string, rawDataID string, correlationID string) (Run, error) {
	if correlationID == "" {
		correlationID = CorrelationID(ctx)
	}
	tags := map[string]string{
		"component": "celery_task",
		"task_name": taskName,
	}
	if rawDataID != "" {
		tags["raw_data_id"] = rawDataID
	}
	if correlationID != "" {
		tags["correlation_id"] = correlationID
	}
	run, err := t.StartRun(ctx, "task::"+taskName, tags)
	if err != nil {
		return nil, err
	}
	run.LogParams(map[string]any{"raw_data_id": rawDataID})
	return run, nil
}

// End finishes run with status derived from err (nil -> succeeded), logging
// duration_seconds since started. Swallows a nil run so callers can use it
// unconditionally even when tracking is disabled.
func End(run Run, started time.Time, err error) {
	if run == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	run.LogMetrics(map[string]any{"duration_seconds": time.Since(started).Seconds()})
	run.End(status)
}
