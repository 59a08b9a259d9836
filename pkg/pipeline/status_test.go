package pipeline

import "testing"

func TestTransitionValidEdges(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusIngested, StatusNormalized},
		{StatusIngested, StatusFailed},
		{StatusNormalized, StatusAnalyzed},
		{StatusNormalized, StatusAnalysisFailed},
		{StatusAnalyzed, StatusCorrelationGenerated},
		{StatusAnalyzed, StatusCorrelationSkipped},
		{StatusCorrelationGenerated, StatusCorrelated},
		{StatusCorrelationGenerated, StatusCorrelationReviewed},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.to)
		if err != nil {
			t.Fatalf("Transition(%s, %s): unexpected error %v", c.from, c.to, err)
		}
		if got != c.to {
			t.Fatalf("Transition(%s, %s) = %s, want %s", c.from, c.to, got, c.to)
		}
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusIngested, StatusCorrelated},
		{StatusAnalyzed, StatusFailed},
		{StatusCorrelated, StatusNormalized},
	}
	for _, c := range cases {
		if _, err := Transition(c.from, c.to); err == nil {
			t.Fatalf("Transition(%s, %s): expected error, got nil", c.from, c.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusFailed, StatusAnalysisFailed, StatusCorrelated, StatusCorrelationSkipped, StatusCorrelationReviewed} {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusIngested, StatusNormalized, StatusAnalyzed, StatusCorrelationGenerated} {
		if IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestCheckPrecondition(t *testing.T) {
	cases := []struct {
		status Status
		stage  Stage
		ok     bool
	}{
		{StatusIngested, StageNormalize, true},
		{StatusNormalized, StageAnalyze, true},
		{StatusAnalyzed, StageGenerateCandidates, true},
		{StatusCorrelationGenerated, StageFuseCandidates, true},
		// Idempotent re-runs.
		{StatusAnalyzed, StageAnalyze, true},
		{StatusCorrelationGenerated, StageGenerateCandidates, true},
		// Replays and out-of-order dispatches.
		{StatusIngested, StageAnalyze, false},
		{StatusNormalized, StageNormalize, false},
		{StatusAnalyzed, StageFuseCandidates, false},
		{StatusCorrelated, StageFuseCandidates, false},
		{StatusFailed, StageNormalize, false},
	}
	for _, c := range cases {
		err := CheckPrecondition(c.status, c.stage)
		if c.ok && err != nil {
			t.Errorf("CheckPrecondition(%s, %s): unexpected error %v", c.status, c.stage, err)
		}
		if !c.ok && err == nil {
			t.Errorf("CheckPrecondition(%s, %s): expected error, got nil", c.status, c.stage)
		}
	}
}

func TestStageFor(t *testing.T) {
	cases := []struct {
		status Status
		stage  Stage
		ok     bool
	}{
		{StatusIngested, StageNormalize, true},
		{StatusNormalized, StageAnalyze, true},
		{StatusAnalyzed, StageGenerateCandidates, true},
		{StatusCorrelationGenerated, StageFuseCandidates, true},
		{StatusCorrelated, "", false},
		{StatusFailed, "", false},
	}
	for _, c := range cases {
		stage, ok := StageFor(c.status)
		if ok != c.ok || stage != c.stage {
			t.Errorf("StageFor(%s) = (%s, %v), want (%s, %v)", c.status, stage, ok, c.stage, c.ok)
		}
	}
}
