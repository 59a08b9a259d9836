package tracker_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
)

func TestFileTrackerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	ft := tracker.NewFileTracker(dir, nil, nil)
	ctx := context.Background()

	started := time.Now()
	run, err := tracker.StageRun(ctx, ft, "analyze", "raw-1", "corr-1")
	require.NoError(t, err)
	run.LogMetrics(map[string]any{"turns_analyzed": 3})
	tracker.End(run, started, nil)

	data, err := os.ReadFile(filepath.Join(dir, "runs.jsonl"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "task::analyze", decoded["RunName"])
}

func TestNoOpTrackerIsSafe(t *testing.T) {
	ctx := context.Background()
	run, err := tracker.StageRun(ctx, tracker.NoOp, "normalize", "raw-1", "")
	require.NoError(t, err)
	run.LogMetrics(map[string]any{"turns": 1})
	run.End("succeeded")
}
