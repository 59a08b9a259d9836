// Package normalize flattens a RawPayload's heterogeneous JSON content into
// an ordered sequence of ConversationTurn rows.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Store is the persistence surface Normalize needs.
type Store interface {
	GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error)
	SetRawPayloadStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.RawPayloadStatus, processedAt *time.Time) error
	InsertTurns(ctx context.Context, tx store.DBTX, turns []*store.ConversationTurn) error
	Txn(ctx context.Context, fn func(tx store.DBTX) error) error
}

// Service implements the normaliser.
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

// conversation is one flattened conversation awaiting turn extraction.
type conversation struct {
	metadata map[string]any
	messages []map[string]any
}

// Normalize parses rawPayloadID's content, flattens it into conversations,
// derives turns, and persists them in one batch. It returns the number of
// turns written.
func (s *Service) Normalize(ctx context.Context, rawPayloadID uuid.UUID) (int, error) {
	raw, err := s.Store.GetRawPayload(ctx, rawPayloadID)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.ErrArgument, "normalize", "raw payload not found", err)
	}

	started := time.Now()
	run, _ := tracker.StageRun(ctx, s.Tracker, "normalize", raw.ID.String(), "")

	var payload any
	if err := json.Unmarshal([]byte(raw.Content), &payload); err != nil {
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("FAILED"), nil)
		})
		failErr := xerrors.Wrap(xerrors.ErrNormalisation, "normalize", "failed to decode raw content", err)
		tracker.End(run, started, failErr)
		return 0, failErr
	}

	conversations, err := flattenConversations(payload, nil)
	if err != nil {
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("FAILED"), nil)
		})
		failErr := xerrors.Wrap(xerrors.ErrNormalisation, "normalize", "conversation messages must be objects", err)
		tracker.End(run, started, failErr)
		return 0, failErr
	}
	if len(conversations) == 0 {
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("FAILED"), nil)
		})
		failErr := xerrors.New(xerrors.ErrNormalisation, "normalize", "no conversations found in payload")
		tracker.End(run, started, failErr)
		return 0, failErr
	}

	var turns []*store.ConversationTurn
	for _, conv := range conversations {
		convID := resolveConversationID(conv.metadata)
		sourcePlatform := stringMeta(conv.metadata, "source_platform", "sourcePlatform")

		for index, msg := range conv.messages {
			role, _ := msg["role"].(string)
			speaker := strings.ToUpper(role)
			if speaker == "" {
				speaker = "UNKNOWN"
			}

			contentVal, _ := msg["content"].(string)
			text := strings.TrimSpace(contentVal)

			ts := parseTimestamp(msg["timestamp"], s.Clock)

			msgMetadata := store.Metadata{
				"source_platform": sourcePlatform,
				"role":            msg["role"],
				"metadata":        msg["metadata"],
			}

			turns = append(turns, &store.ConversationTurn{
				ID:             uuid.New(),
				RawPayloadID:   &raw.ID,
				ConversationID: convID,
				TurnIndex:      index,
				Speaker:        speaker,
				Text:           text,
				Timestamp:      ts,
				Metadata:       msgMetadata,
			})
		}
	}

	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		if err := s.Store.InsertTurns(ctx, tx, turns); err != nil {
			return err
		}
		processedAt := s.Clock.Now()
		return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("NORMALIZED"), &processedAt)
	}); err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "normalize", "failed to persist turns", err)
		tracker.End(run, started, wrapped)
		return 0, wrapped
	}

	if run != nil {
		run.LogMetrics(map[string]any{"turns_normalized": len(turns)})
	}
	tracker.End(run, started, nil)

	return len(turns), nil
}

// flattenConversations walks node looking for objects carrying a "messages"
// list (one conversation each) or a "conversations" list (recurse,
// propagating the object's own keys as inherited metadata).
func flattenConversations(node any, inherited map[string]any) ([]conversation, error) {
	var out []conversation

	switch v := node.(type) {
	case map[string]any:
		merged := mergeMetadata(inherited, nil)

		if messagesRaw, present := v["messages"]; present {
			if messagesList, ok := messagesRaw.([]any); ok {
				meta := objectMetadata(v, "messages", "conversations")
				meta = mergeMetadata(inherited, meta)

				msgs := make([]map[string]any, 0, len(messagesList))
				for _, m := range messagesList {
					obj, ok := m.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("conversation messages must be objects")
					}
					msgs = append(msgs, obj)
				}
				out = append(out, conversation{metadata: meta, messages: msgs})
			}
		}

		if nestedRaw, ok := v["conversations"]; ok {
			nestedList, ok := nestedRaw.([]any)
			if ok {
				parentMeta := objectMetadata(v, "conversations")
				parentMeta = mergeMetadata(inherited, parentMeta)
				for _, child := range nestedList {
					childConvs, err := flattenConversations(child, parentMeta)
					if err != nil {
						return nil, err
					}
					out = append(out, childConvs...)
				}
			}
		} else {
			for _, val := range v {
				switch val.(type) {
				case map[string]any, []any:
					childConvs, err := flattenConversations(val, merged)
					if err != nil {
						return nil, err
					}
					out = append(out, childConvs...)
				}
			}
		}

	case []any:
		for _, item := range v {
			childConvs, err := flattenConversations(item, inherited)
			if err != nil {
				return nil, err
			}
			out = append(out, childConvs...)
		}
	}

	return out, nil
}

// objectMetadata copies obj's keys except those listed in exclude.
func objectMetadata(obj map[string]any, exclude ...string) map[string]any {
	skip := map[string]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	out := map[string]any{}
	for k, v := range obj {
		if !skip[k] {
			out[k] = v
		}
	}
	return out
}

func mergeMetadata(inherited, own map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range inherited {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

func stringMeta(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := meta[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// resolveConversationID derives a UUIDv5 from metadata's source_id/sourceId
// when present and non-empty, else a fresh UUIDv4.
func resolveConversationID(meta map[string]any) uuid.UUID {
	sourceID := stringMeta(meta, "source_id", "sourceId")
	if sourceID != "" {
		return clock.DeterministicConversationID(sourceID)
	}
	return clock.NewRandomID()
}

// parseTimestamp accepts RFC3339/ISO-8601 (trailing "Z" or explicit offset),
// promotes naive times to UTC, and falls back to now on empty or unparsable
// values.
func parseTimestamp(value any, clk clock.Clock) time.Time {
	s, ok := value.(string)
	if !ok || s == "" {
		return clk.Now()
	}

	normalized := strings.Replace(s, "Z", "+00:00", 1)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		t, err := time.Parse(layout, normalized)
		if err == nil {
			return t.UTC()
		}
	}
	return clk.Now()
}
