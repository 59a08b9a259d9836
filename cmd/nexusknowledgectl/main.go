// Command nexusknowledgectl is a thin local operator CLI: ingest a
// Markdown note, check a raw payload's status, run search, or trigger an
// export directly against the store. It is a convenience binary for
// operators, not a replacement for the HTTP façade.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/config"
	"github.com/nexusknowledge/nexusknowledge/pkg/export"
	"github.com/nexusknowledge/nexusknowledge/pkg/feedback"
	"github.com/nexusknowledge/nexusknowledge/pkg/ingest"
	"github.com/nexusknowledge/nexusknowledge/pkg/search"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatalf("failed to connect to store: %v", err)
	}
	defer st.Close()

	clk := clock.System{}

	switch args[0] {
	case "ingest":
		runIngest(ctx, st, clk, args[1:])
	case "status":
		runStatus(ctx, st, args[1:])
	case "search":
		runSearch(ctx, st, args[1:])
	case "export":
		runExport(ctx, st, clk, cfg, args[1:])
	case "feedback":
		runFeedback(ctx, st, clk, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: nexusknowledgectl <command> [args]

commands:
  ingest <markdown-file>        ingest an Obsidian-style note, print raw_payload_id
  status <raw-payload-id>       print a raw payload's current status
  search <query> [limit]        run hybrid search, print ranked results
  export <raw-payload-id> [dir] render a raw payload's turns to Markdown
  feedback <type> <message>     submit operator feedback, print feedback id`)
}

func runIngest(ctx context.Context, st *store.Store, clk clock.Clock, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: nexusknowledgectl ingest <markdown-file>")
	}
	svc := ingest.New(st, nil, clk)
	id, err := svc.IngestMarkdown(ctx, args[0])
	if err != nil {
		log.Fatalf("ingest failed: %v", err)
	}
	fmt.Println(id)
}

func runStatus(ctx context.Context, st *store.Store, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: nexusknowledgectl status <raw-payload-id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		log.Fatalf("invalid raw payload id: %v", err)
	}
	raw, err := st.GetRawPayload(ctx, id)
	if err != nil {
		log.Fatalf("status lookup failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"id":           raw.ID,
		"source_type":  raw.SourceType,
		"status":       raw.Status,
		"ingested_at":  raw.IngestedAt,
		"processed_at": raw.ProcessedAt,
	})
}

func runSearch(ctx context.Context, st *store.Store, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: nexusknowledgectl search <query> [limit]")
	}
	limit := 10
	if len(args) >= 2 {
		if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil {
			log.Fatalf("invalid limit: %v", err)
		}
	}
	svc := search.New(st)
	results, err := svc.Search(ctx, args[0], limit)
	if err != nil {
		log.Fatalf("search failed: %v", err)
	}
	for _, r := range results {
		fmt.Printf("%.3f  turn %d  %s  %s\n", r.Score, r.TurnIndex, r.SentimentLabel, r.Snippet)
	}
}

func runExport(ctx context.Context, st *store.Store, clk clock.Clock, cfg config.Config, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: nexusknowledgectl export <raw-payload-id> [dir]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		log.Fatalf("invalid raw payload id: %v", err)
	}
	dir := cfg.ExportDir
	if len(args) >= 2 {
		dir = args[1]
	}
	svc := export.New(st, clk, nil)
	paths, err := svc.Export(ctx, id, dir)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

func runFeedback(ctx context.Context, st *store.Store, clk clock.Clock, args []string) {
	if len(args) != 2 {
		log.Fatal("usage: nexusknowledgectl feedback <type> <message>")
	}
	svc := feedback.New(st, nil, clk)
	id, err := svc.Submit(ctx, args[0], args[1], "")
	if err != nil {
		log.Fatalf("feedback submission failed: %v", err)
	}
	fmt.Println(id)
}
