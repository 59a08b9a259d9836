package tracker

import "context"

// NoOp is a Tracker that records nothing, used when no tracking sink is
// configured so stages can call StageRun unconditionally.
var NoOp Tracker = noOpTracker{}

type noOpTracker struct{}

func (noOpTracker) StartRun(ctx context.Context, runName string, tags map[string]string) (Run, error) {
	return noOpRun{}, nil
}

type noOpRun struct{}

func (noOpRun) LogParams(map[string]any)  {}
func (noOpRun) LogMetrics(map[string]any) {}
func (noOpRun) LogArtifact(string)        {}
func (noOpRun) End(string)                {}
