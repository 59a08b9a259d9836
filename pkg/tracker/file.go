package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

// Store is the persistence surface a Tracker backend uses to make runs
// queryable independent of the external sink (file or HTTP).
type Store interface {
	InsertTrackerRun(ctx context.Context, r *store.TrackerRun) error
	UpdateTrackerRun(ctx context.Context, r *store.TrackerRun) error
}

// FileTracker appends one JSON-lines record per run under Dir, used when
// MLFLOW_TRACKING_URI is file://…
type FileTracker struct {
	Dir   string
	Store Store
	Log   *slog.Logger

	mu sync.Mutex
}

// NewFileTracker returns a FileTracker writing under dir.
func NewFileTracker(dir string, st Store, log *slog.Logger) *FileTracker {
	if log == nil {
		log = slog.Default()
	}
	return &FileTracker{Dir: dir, Store: st, Log: log}
}

// StartRun opens a new run record, persisted to Store and appended to the
// JSON-lines file.
func (f *FileTracker) StartRun(ctx context.Context, runName string, tags map[string]string) (Run, error) {
	r := &store.TrackerRun{
		RunID:     uuid.New(),
		RunName:   runName,
		Tags:      toMetadata(tags),
		Params:    store.Metadata{},
		Metrics:   store.Metadata{},
		Artifacts: store.Metadata{},
		Status:    store.TrackerRunning,
		StartedAt: time.Now().UTC(),
	}
	if f.Store != nil {
		if err := f.Store.InsertTrackerRun(ctx, r); err != nil {
			f.Log.Warn("tracker: failed to persist run start", "error", err)
		}
	}
	return &fileRun{ctx: ctx, f: f, r: r}, nil
}

type fileRun struct {
	ctx context.Context
	f   *FileTracker
	r   *store.TrackerRun
	mu  sync.Mutex
}

func (run *fileRun) LogParams(params map[string]any) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for k, v := range params {
		run.r.Params[k] = v
	}
}

func (run *fileRun) LogMetrics(metrics map[string]any) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for k, v := range metrics {
		run.r.Metrics[k] = v
	}
}

func (run *fileRun) LogArtifact(path string) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.r.Artifacts[path] = true
}

func (run *fileRun) End(status string) {
	run.mu.Lock()
	run.r.Status = store.TrackerRunStatus(status)
	now := time.Now().UTC()
	run.r.EndedAt = &now
	snapshot := *run.r
	run.mu.Unlock()

	if run.f.Store != nil {
		if err := run.f.Store.UpdateTrackerRun(run.ctx, &snapshot); err != nil {
			run.f.Log.Warn("tracker: failed to persist run end", "error", err)
		}
	}

	if err := run.f.appendLine(snapshot); err != nil {
		run.f.Log.Warn("tracker: failed to write run file", "error", err)
	}
}

func (f *FileTracker) appendLine(r store.TrackerRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("tracker: mkdir: %w", err)
	}
	path := filepath.Join(f.Dir, "runs.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tracker: open runs file: %w", err)
	}
	defer func() { _ = file.Close() }()

	enc := json.NewEncoder(file)
	return enc.Encode(r)
}

func toMetadata(tags map[string]string) store.Metadata {
	out := store.Metadata{}
	for k, v := range tags {
		out[k] = v
	}
	return out
}
