// Package pipeline models the raw-payload lifecycle as a closed state
// machine: each stage is a variant with the same shape. Stage handlers
// assert a payload's precondition status via CheckPrecondition before
// dispatching into a stage service; Transition exposes the full table for
// a queueing surface that wants to reject an illegal move up front.
package pipeline

import (
	"fmt"

	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Status is a RawPayload lifecycle state.
type Status string

// The full set of RawPayload statuses from the data model.
const (
	StatusIngested             Status = "INGESTED"
	StatusNormalized           Status = "NORMALIZED"
	StatusFailed               Status = "FAILED"
	StatusAnalyzed             Status = "ANALYZED"
	StatusAnalysisFailed       Status = "ANALYSIS_FAILED"
	StatusCorrelationGenerated Status = "CORRELATION_GENERATED"
	StatusCorrelationSkipped   Status = "CORRELATION_SKIPPED"
	StatusCorrelated           Status = "CORRELATED"
	StatusCorrelationReviewed  Status = "CORRELATION_REVIEWED"
)

// Stage names the registered scheduler jobs, one per pipeline transition.
type Stage string

// The closed set of stage variants. Every stage has shape (raw_id) -> Status.
const (
	StageNormalize          Stage = "normalize"
	StageAnalyze            Stage = "analyze"
	StageGenerateCandidates Stage = "generate_candidates"
	StageFuseCandidates     Stage = "fuse_candidates"
)

// terminal lists the statuses from which no worker-driven transition fires.
// *_FAILED states are retryable by an operator (re-submitting the job), never
// automatically by the worker.
var terminal = map[Status]bool{
	StatusFailed:              true,
	StatusAnalysisFailed:      true,
	StatusCorrelated:          true,
	StatusCorrelationSkipped:  true,
	StatusCorrelationReviewed: true,
}

// IsTerminal reports whether s is a terminal state of the pipeline.
func IsTerminal(s Status) bool {
	return terminal[s]
}

// graph is the total transition table: from -> allowed next states.
var graph = map[Status][]Status{
	StatusIngested:             {StatusNormalized, StatusFailed},
	StatusNormalized:           {StatusAnalyzed, StatusAnalysisFailed},
	StatusAnalyzed:             {StatusCorrelationGenerated, StatusCorrelationSkipped, StatusAnalyzed},
	StatusCorrelationGenerated: {StatusCorrelated, StatusCorrelationReviewed, StatusCorrelationGenerated},
}

// Transition validates that moving from -> to is legal per the state graph
// and returns to unchanged if so. It never mutates storage; callers persist
// the result themselves inside their own stage transaction. Handlers assert
// preconditions with CheckPrecondition instead; Transition is for callers
// that already know both endpoints, such as a queueing API validating a
// requested move.
func Transition(from, to Status) (Status, error) {
	allowed, ok := graph[from]
	if !ok {
		return "", fmt.Errorf("pipeline: %q has no outgoing transitions", from)
	}
	for _, candidate := range allowed {
		if candidate == to {
			return to, nil
		}
	}
	return "", fmt.Errorf("pipeline: illegal transition %s -> %s", from, to)
}

// StageFor returns the stage whose successful execution moves a raw payload
// out of the given starting status, and false if status is terminal or
// unrecognised.
func StageFor(status Status) (Stage, bool) {
	switch status {
	case StatusIngested:
		return StageNormalize, true
	case StatusNormalized:
		return StageAnalyze, true
	case StatusAnalyzed:
		return StageGenerateCandidates, true
	case StatusCorrelationGenerated:
		return StageFuseCandidates, true
	default:
		return "", false
	}
}

// rerunnable maps each stage that may re-run idempotently to the status it
// produces: ANALYZED -> ANALYZED and CORRELATION_GENERATED ->
// CORRELATION_GENERATED are legal self-transitions.
var rerunnable = map[Stage]Status{
	StageAnalyze:            StatusAnalyzed,
	StageGenerateCandidates: StatusCorrelationGenerated,
}

// CheckPrecondition asserts that a raw payload in the given status may be
// dispatched into stage: either stage is the one that moves the payload out
// of status, or this is an idempotent re-run of the stage that produced it.
// Anything else is an invalid transition (ArgumentError class) so the
// scheduler fails the job terminally instead of retrying it.
func CheckPrecondition(status Status, stage Stage) error {
	if s, ok := StageFor(status); ok && s == stage {
		return nil
	}
	if rerunFrom, ok := rerunnable[stage]; ok && status == rerunFrom {
		return nil
	}
	if IsTerminal(status) {
		return xerrors.New(xerrors.ErrArgument, "pipeline",
			fmt.Sprintf("stage %s cannot run: status %s is terminal", stage, status))
	}
	return xerrors.New(xerrors.ErrArgument, "pipeline",
		fmt.Sprintf("stage %s cannot run from status %s", stage, status))
}
