// Package export renders a raw payload's turns as Obsidian-flavoured
// Markdown: YAML front-matter (lexicographically sorted keys) followed by a
// title heading and one "## Speaker - turn N" section per turn. Output is a
// pure function of Store state plus an injected clock, so fixing the clock
// and raw payload id makes two runs byte-identical.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Store is the persistence surface Export needs.
type Store interface {
	GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error)
	ListTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.ConversationTurn, error)
}

// Service implements the Obsidian exporter.
type Service struct {
	Store   Store
	Clock   clock.Clock
	Tracker tracker.Tracker
}

// New builds a Service. trk may be nil to disable run tracking.
func New(st Store, clk clock.Clock, trk tracker.Tracker) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if trk == nil {
		trk = tracker.NoOp
	}
	return &Service{Store: st, Clock: clk, Tracker: trk}
}

var slugCollapse = regexp.MustCompile(`[^a-z0-9]+`)

// Export writes a single Markdown note for rawPayloadID under directory and
// returns the path(s) created (currently always one file). Missing raw
// payload or zero turns are both ExportError; neither mutates Store state.
func (s *Service) Export(ctx context.Context, rawPayloadID uuid.UUID, directory string) ([]string, error) {
	raw, err := s.Store.GetRawPayload(ctx, rawPayloadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrExport, "export", "raw payload not found", err)
	}

	started := time.Now()
	run, _ := tracker.StageRun(ctx, s.Tracker, "export", raw.ID.String(), "")

	turns, err := s.Store.ListTurnsForRaw(ctx, rawPayloadID)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "export", "failed to load turns", err)
		tracker.End(run, started, wrapped)
		return nil, wrapped
	}
	if len(turns) == 0 {
		failErr := xerrors.New(xerrors.ErrExport, "export", "no turns available to export")
		tracker.End(run, started, failErr)
		return nil, failErr
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrExport, "export", "failed to create export directory", err)
		tracker.End(run, started, wrapped)
		return nil, wrapped
	}

	title := titleOf(raw)
	slug := slugify(title)
	if slug == "" {
		slug = strings.ReplaceAll(raw.ID.String(), "-", "")
	}
	filePath := filepath.Join(directory, slug+".md")

	content := buildFrontmatter(raw, title, s.Clock.Now()) + buildBody(title, turns)
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrExport, "export", "failed to write export file", err)
		tracker.End(run, started, wrapped)
		return nil, wrapped
	}

	if run != nil {
		run.LogMetrics(map[string]any{"files_exported": 1})
		run.LogArtifact(filePath)
	}
	tracker.End(run, started, nil)

	return []string{filePath}, nil
}

func titleOf(raw *store.RawPayload) string {
	if t, ok := raw.Metadata["title"]; ok {
		if s, ok := t.(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("Conversation %s", raw.ID)
}

func slugify(title string) string {
	lowered := strings.ToLower(title)
	collapsed := slugCollapse.ReplaceAllString(lowered, "-")
	return strings.Trim(collapsed, "-")
}

// buildFrontmatter renders the YAML-ish front-matter block, keys
// lexicographically sorted. Fixed fields (version, raw_data_id, ...) are
// overridden by a same-named metadata key; last write wins.
func buildFrontmatter(raw *store.RawPayload, title string, exportedAt time.Time) string {
	payload := map[string]any{
		"version":      "1.0",
		"raw_data_id":  raw.ID.String(),
		"source_type":  raw.SourceType,
		"content_hash": raw.ContentHash,
		"title":        title,
		"exported_at":  exportedAt.UTC().Format(time.RFC3339),
	}
	if raw.SourceID != nil {
		payload["source_id"] = *raw.SourceID
	}
	for k, v := range raw.Metadata {
		if k == "tags" {
			if tags, ok := v.([]any); ok {
				sorted := make([]string, 0, len(tags))
				for _, t := range tags {
					if t == nil {
						continue
					}
					sorted = append(sorted, fmt.Sprint(t))
				}
				sort.Strings(sorted)
				asAny := make([]any, len(sorted))
				for i, t := range sorted {
					asAny[i] = t
				}
				payload[k] = asAny
				continue
			}
		}
		payload[k] = v
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		v := payload[k]
		if v == nil {
			continue
		}
		for _, line := range formatYAMLEntry(k, v) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("---\n")
	return b.String()
}

func formatYAMLEntry(key string, value any) []string {
	switch v := value.(type) {
	case []any:
		lines := []string{key + ":"}
		for _, item := range v {
			lines = append(lines, "  - "+escapeYAMLValue(item))
		}
		return lines
	case []string:
		lines := []string{key + ":"}
		for _, item := range v {
			lines = append(lines, "  - "+escapeYAMLValue(item))
		}
		return lines
	case map[string]any:
		lines := []string{key + ":"}
		childKeys := make([]string, 0, len(v))
		for ck := range v {
			childKeys = append(childKeys, ck)
		}
		sort.Strings(childKeys)
		for _, ck := range childKeys {
			cv := v[ck]
			if cv == nil {
				continue
			}
			for _, childLine := range formatYAMLEntry(ck, cv) {
				lines = append(lines, "  "+childLine)
			}
		}
		return lines
	default:
		return []string{key + ": " + escapeYAMLValue(value)}
	}
}

func escapeYAMLValue(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int32, int64, float32, float64:
		return fmt.Sprint(v)
	}
	text := fmt.Sprint(value)
	if text == "" {
		return "''"
	}
	if strings.ContainsAny(text, ":#[]{}\n\r") || strings.TrimSpace(text) != text {
		escaped := strings.ReplaceAll(text, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return text
}

// buildBody renders the title heading plus one section per turn, in the
// order turns were supplied (callers pass Store's natural
// conversation_id/turn_index order).
func buildBody(title string, turns []*store.ConversationTurn) string {
	var lines []string
	lines = append(lines, "# "+title)
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("## %s - turn %d", titleCase(t.Speaker), t.TurnIndex))
		lines = append(lines, t.Timestamp.UTC().Format(time.RFC3339))
		text := strings.TrimSpace(t.Text)
		if text != "" {
			lines = append(lines, "")
			lines = append(lines, text)
		}
		lines = append(lines, "")
	}

	trimmed := make([]string, len(lines))
	for i, l := range lines {
		trimmed[i] = strings.TrimRight(l, " \t")
	}
	body := strings.TrimRight(strings.Join(trimmed, "\n"), "\n \t")
	return body + "\n"
}

// titleCase renders an upper-cased speaker ("USER") as "User" for the turn
// headings.
func titleCase(s string) string {
	lower := strings.ToLower(s)
	if lower == "" {
		return lower
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}
