// Command nexusworker is NexusKnowledge's composition root: it loads
// configuration, opens the store, wires every pipeline stage service into
// the scheduler's job registry, and runs the worker pool until signaled to
// stop. It ships no HTTP API; /metrics and /healthz are the only
// listeners, for operator observability.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexusknowledge/nexusknowledge/pkg/analysis"
	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/config"
	"github.com/nexusknowledge/nexusknowledge/pkg/correlate"
	"github.com/nexusknowledge/nexusknowledge/pkg/export"
	"github.com/nexusknowledge/nexusknowledge/pkg/feedback"
	"github.com/nexusknowledge/nexusknowledge/pkg/graph"
	"github.com/nexusknowledge/nexusknowledge/pkg/normalize"
	"github.com/nexusknowledge/nexusknowledge/pkg/notify"
	"github.com/nexusknowledge/nexusknowledge/pkg/obsidianfs"
	"github.com/nexusknowledge/nexusknowledge/pkg/pipeline"
	"github.com/nexusknowledge/nexusknowledge/pkg/scheduler"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
	"github.com/nexusknowledge/nexusknowledge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	metricsAddr := flag.String("metrics-addr", getEnv("METRICS_ADDR", ":9090"), "listen address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	slog.Info("starting nexusworker", "version", version.Full(), "app_env", cfg.AppEnv, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatalf("failed to connect to store: %v", err)
	}
	defer st.Close()
	slog.Info("connected to store")

	clk := clock.System{}
	registry := prometheus.NewRegistry()
	metrics := scheduler.NewMetrics(registry)

	trk := buildTracker(cfg, st)
	graphMirror := buildGraphMirror(cfg)
	notifier := buildNotifier(cfg)

	sched := scheduler.New(st, cfg.Scheduler, clk, hostname(), metrics)

	normalizeSvc := normalize.New(st, clk, trk)
	analyzeSvc := analysis.New(st, analysis.DefaultLexicon(), clk, trk)
	correlateSvc := correlate.New(st, clk, graphMirror, trk)
	exportSvc := export.New(st, clk, trk)
	feedbackSvc := feedback.New(st, sched, clk)

	handlers := &pipeline.Handlers{
		Normalize: normalizeSvc,
		Analyze:   analyzeSvc,
		Correlate: correlateSvc,
		Export:    exportSvc,
		Feedback:  feedbackSvc,
		Store:     st,
		Submit:    sched,
		Notify:    notifier,
		ExportDir: cfg.ExportDir,
	}
	handlers.Register(sched)

	var watcher *obsidianfs.Watcher
	if cfg.ExportDir != "" {
		if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
			slog.Warn("failed to create export directory", "dir", cfg.ExportDir, "error", err)
		} else if w, err := obsidianfs.New(cfg.ExportDir); err != nil {
			slog.Warn("failed to watch export directory", "dir", cfg.ExportDir, "error", err)
		} else {
			watcher = w
			go watcher.Run(ctx)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := sched.Health(r.Context())
		if !h.IsHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(healthStatusLine(h)))
	})
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	if err := sched.Run(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	slog.Info("nexusworker running", "worker_concurrency", cfg.Scheduler.WorkerConcurrency)

	<-ctx.Done()
	slog.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "nexusworker"
	}
	return h
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildTracker(cfg config.Config, st *store.Store) tracker.Tracker {
	switch {
	case strings.HasPrefix(cfg.TrackerURI, "file://"):
		return tracker.NewFileTracker(strings.TrimPrefix(cfg.TrackerURI, "file://"), st, slog.Default())
	case cfg.TrackerURI != "":
		return tracker.NewHTTPTracker(cfg.TrackerURI, st, slog.Default())
	default:
		return tracker.NoOp
	}
}

// buildGraphMirror returns the correlate.GraphMirror interface directly
// (rather than *graph.Mirror) so a disabled mirror is a true nil interface,
// not a non-nil interface wrapping a nil *graph.Mirror, which would make
// correlate.Service's `s.Graph != nil` check pass and then panic on a nil
// receiver.
func buildGraphMirror(cfg config.Config) correlate.GraphMirror {
	if cfg.NeoURI == "" {
		return nil
	}
	driver, err := graph.NewDriver(cfg.NeoURI, cfg.NeoUsername, cfg.NeoPassword)
	if err != nil {
		slog.Warn("failed to connect to neo4j, relationship graph mirroring disabled", "error", err)
		return nil
	}
	return graph.New(driver)
}

func buildNotifier(cfg config.Config) *notify.Publisher {
	if cfg.NATSURL == "" {
		return nil
	}
	pub, err := notify.Connect(cfg.NATSURL)
	if err != nil {
		slog.Warn("failed to connect to nats, stage-completion events disabled", "error", err)
		return nil
	}
	return pub
}

func healthStatusLine(h scheduler.Health) string {
	if h.IsHealthy {
		return "ok"
	}
	return "degraded"
}
