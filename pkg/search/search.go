// Package search implements hybrid keyword+semantic retrieval over
// conversation turns, entirely token-overlap based (no vector index, no
// LLM re-ranking).
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// candidateFanout is the multiplier applied to limit when fetching the
// ILIKE candidate set, giving the ranker enough breadth to find the true
// top results even though the fetch itself isn't ranked.
const candidateFanout = 5

// maxSnippetLen bounds the rendered snippet length, ellipsis included.
const maxSnippetLen = 200

var tokenPattern = regexp.MustCompile(`[\w']+`)

// Store is the persistence surface Search needs.
type Store interface {
	SearchTurnsByTokens(ctx context.Context, tokens []string, limit int) ([]*store.ConversationTurn, error)
	ListEntitiesByTurnIDs(ctx context.Context, turnIDs []uuid.UUID) (map[uuid.UUID]*store.Entity, error)
}

// Result is one ranked hit, annotated for display.
type Result struct {
	TurnID         uuid.UUID
	ConversationID uuid.UUID
	TurnIndex      int
	Timestamp      string
	Snippet        string
	SentimentLabel string
	Score          float64
}

// Service implements hybrid search.
type Service struct {
	Store Store
}

// New builds a Service.
func New(st Store) *Service {
	return &Service{Store: st}
}

// Search tokenises query, fetches a keyword-matched candidate set capped at
// 5×limit, ranks by 0.7×keyword-overlap + 0.3×Jaccard-similarity, drops
// zero-score hits, and returns the top limit results.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, xerrors.New(xerrors.ErrArgument, "search", "query has no searchable tokens")
	}
	querySet := toSet(queryTokens)

	tokenList := make([]string, 0, len(querySet))
	for tok := range querySet {
		tokenList = append(tokenList, tok)
	}

	candidates, err := s.Store.SearchTurnsByTokens(ctx, tokenList, limit*candidateFanout)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTransient, "search", "failed to fetch candidates", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	turnIDs := make([]uuid.UUID, len(candidates))
	for i, t := range candidates {
		turnIDs[i] = t.ID
	}
	entities, err := s.Store.ListEntitiesByTurnIDs(ctx, turnIDs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTransient, "search", "failed to load entities", err)
	}

	results := make([]Result, 0, len(candidates))
	for _, turn := range candidates {
		textTokens := toSet(tokenize(turn.Text))

		// Keyword score counts over the raw token list, duplicates and
		// all: a repeated query token weighs its matches accordingly.
		// Only the candidate fetch and the Jaccard term deduplicate.
		matched := 0
		for _, tok := range queryTokens {
			if textTokens[tok] {
				matched++
			}
		}
		keyword := float64(matched) / float64(len(queryTokens))
		semantic := jaccard(querySet, textTokens)
		score := 0.7*keyword + 0.3*semantic
		if score <= 0 {
			continue
		}

		var sentimentLabel string
		if e, ok := entities[turn.ID]; ok && e != nil {
			sentimentLabel = e.Value
		}

		results = append(results, Result{
			TurnID:         turn.ID,
			ConversationID: turn.ConversationID,
			TurnIndex:      turn.TurnIndex,
			Timestamp:      turn.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Snippet:        snippet(turn.Text),
			SentimentLabel: sentimentLabel,
			Score:          score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(text, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.ToLower(m)
	}
	return out
}

func toSet(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func snippet(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= maxSnippetLen {
		return trimmed
	}
	return string(runes[:maxSnippetLen-1]) + "…"
}
