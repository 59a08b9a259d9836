package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/version"
)

// HTTPTracker posts run records to an HTTP endpoint, used when
// MLFLOW_TRACKING_URI is http(s)://…
type HTTPTracker struct {
	Endpoint string
	Client   *http.Client
	Store    Store
	Log      *slog.Logger
}

// NewHTTPTracker returns an HTTPTracker posting to endpoint.
func NewHTTPTracker(endpoint string, st Store, log *slog.Logger) *HTTPTracker {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPTracker{Endpoint: endpoint, Client: &http.Client{Timeout: 10 * time.Second}, Store: st, Log: log}
}

// StartRun opens a new run record.
func (h *HTTPTracker) StartRun(ctx context.Context, runName string, tags map[string]string) (Run, error) {
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
	if h.Store != nil {
		if err := h.Store.InsertTrackerRun(ctx, r); err != nil {
			h.Log.Warn("tracker: failed to persist run start", "error", err)
		}
	}
	return &httpRun{ctx: ctx, h: h, r: r}, nil
}

type httpRun struct {
	ctx context.Context
	h   *HTTPTracker
	r   *store.TrackerRun
	mu  sync.Mutex
}

func (run *httpRun) LogParams(params map[string]any) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for k, v := range params {
		run.r.Params[k] = v
	}
}

func (run *httpRun) LogMetrics(metrics map[string]any) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for k, v := range metrics {
		run.r.Metrics[k] = v
	}
}

func (run *httpRun) LogArtifact(path string) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.r.Artifacts[path] = true
}

func (run *httpRun) End(status string) {
	run.mu.Lock()
	run.r.Status = store.TrackerRunStatus(status)
	now := time.Now().UTC()
	run.r.EndedAt = &now
	snapshot := *run.r
	run.mu.Unlock()

	if run.h.Store != nil {
		if err := run.h.Store.UpdateTrackerRun(run.ctx, &snapshot); err != nil {
			run.h.Log.Warn("tracker: failed to persist run end", "error", err)
		}
	}

	if err := run.h.post(run.ctx, snapshot); err != nil {
		run.h.Log.Warn("tracker: failed to post run", "error", err)
	}
}

func (h *HTTPTracker) post(ctx context.Context, r store.TrackerRun) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}
