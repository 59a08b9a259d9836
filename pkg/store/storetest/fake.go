// Package storetest provides an in-memory fake of pkg/store's repository
// surface, letting pkg/ingest, pkg/normalize, pkg/analysis, pkg/correlate,
// pkg/search, and pkg/scheduler exercise their logic in table-driven tests
// without a live PostgreSQL. The integration suite in pkg/store, run
// against the testcontainer harness in internal/testutil, covers the SQL
// itself.
//
// Fake implements the same method signatures as *store.Store, including the
// store.DBTX-taking ones, so it satisfies every narrow per-package Store
// interface structurally. Its Txn never actually needs a transaction
// handle, since the underlying methods mutate in-memory maps under a mutex,
// so it just invokes fn with a nil store.DBTX.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Fake is an in-memory stand-in for *store.Store.
type Fake struct {
	mu sync.Mutex

	rawPayloads   map[uuid.UUID]*store.RawPayload
	turns         map[uuid.UUID]*store.ConversationTurn
	entities      map[uuid.UUID]*store.Entity
	relationships map[uuid.UUID]*store.Relationship
	candidates    map[uuid.UUID]*store.CorrelationCandidate
	feedback      map[uuid.UUID]*store.Feedback
	jobs          map[uuid.UUID]*store.Job
	trackerRuns   map[uuid.UUID]*store.TrackerRun
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		rawPayloads:   map[uuid.UUID]*store.RawPayload{},
		turns:         map[uuid.UUID]*store.ConversationTurn{},
		entities:      map[uuid.UUID]*store.Entity{},
		relationships: map[uuid.UUID]*store.Relationship{},
		candidates:    map[uuid.UUID]*store.CorrelationCandidate{},
		feedback:      map[uuid.UUID]*store.Feedback{},
		jobs:          map[uuid.UUID]*store.Job{},
		trackerRuns:   map[uuid.UUID]*store.TrackerRun{},
	}
}

// Txn has nothing to roll back in memory, so it just runs fn with a nil
// DBTX; none of Fake's methods dereference it.
func (f *Fake) Txn(ctx context.Context, fn func(tx store.DBTX) error) error {
	return fn(nil)
}

// --- raw payloads ---

func (f *Fake) FindRawPayloadByHash(ctx context.Context, hash string) (*store.RawPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rawPayloads {
		if p.ContentHash == hash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rawPayloads[id]
	if !ok {
		return nil, xerrors.New(xerrors.ErrNotFound, "store", "raw payload not found")
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) InsertRawPayload(ctx context.Context, tx store.DBTX, p *store.RawPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rawPayloads[p.ID] = &cp
	return nil
}

func (f *Fake) UpdateRawPayloadMetadata(ctx context.Context, tx store.DBTX, id uuid.UUID, newMetadata store.Metadata, sourceID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rawPayloads[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "raw payload not found")
	}
	if p.Metadata == nil {
		p.Metadata = store.Metadata{}
	}
	for k, v := range newMetadata {
		p.Metadata[k] = v
	}
	if p.SourceID == nil && sourceID != nil {
		p.SourceID = sourceID
	}
	return nil
}

func (f *Fake) SetRawPayloadStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.RawPayloadStatus, processedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rawPayloads[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "raw payload not found")
	}
	p.Status = status
	p.ProcessedAt = processedAt
	return nil
}

func (f *Fake) ListRawPayloadsByStatus(ctx context.Context, status store.RawPayloadStatus, limit int) ([]*store.RawPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.RawPayload
	for _, p := range f.rawPayloads {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.After(out[j].IngestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- conversation turns ---

func (f *Fake) InsertTurns(ctx context.Context, tx store.DBTX, turns []*store.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range turns {
		cp := *t
		f.turns[t.ID] = &cp
	}
	return nil
}

func (f *Fake) StreamTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID, fn func(*store.ConversationTurn) error) error {
	turns, _ := f.ListTurnsForRaw(ctx, rawPayloadID)
	for _, t := range turns {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) ListTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ConversationTurn
	for _, t := range f.turns {
		if t.RawPayloadID != nil && *t.RawPayloadID == rawPayloadID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID.String() < out[j].ConversationID.String()
		}
		return out[i].TurnIndex < out[j].TurnIndex
	})
	return out, nil
}

func (f *Fake) SearchTurnsByTokens(ctx context.Context, tokens []string, limit int) ([]*store.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ConversationTurn
	for _, t := range f.turns {
		for _, tok := range tokens {
			if containsFold(t.Text, tok) {
				cp := *t
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	h, n = toLower(h), toLower(n)
	if len(n) == 0 {
		return true
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// --- entities ---

func (f *Fake) InsertEntities(ctx context.Context, tx store.DBTX, entities []*store.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entities {
		cp := *e
		f.entities[e.ID] = &cp
	}
	return nil
}

func (f *Fake) ListSentimentEntitiesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]store.EntityWithTurn, error) {
	turns, _ := f.ListTurnsForRaw(ctx, rawPayloadID)
	turnByID := map[uuid.UUID]*store.ConversationTurn{}
	for _, t := range turns {
		turnByID[t.ID] = t
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.EntityWithTurn
	for _, e := range f.entities {
		if e.Type != "SENTIMENT" {
			continue
		}
		t, ok := turnByID[e.ConversationTurnID]
		if !ok {
			continue
		}
		out = append(out, store.EntityWithTurn{Entity: *e, Turn: *t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Turn.ConversationID != out[j].Turn.ConversationID {
			return out[i].Turn.ConversationID.String() < out[j].Turn.ConversationID.String()
		}
		return out[i].Turn.TurnIndex < out[j].Turn.TurnIndex
	})
	return out, nil
}

func (f *Fake) ListEntitiesByTurnIDs(ctx context.Context, turnIDs []uuid.UUID) (map[uuid.UUID]*store.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range turnIDs {
		want[id] = true
	}
	out := map[uuid.UUID]*store.Entity{}
	for _, e := range f.entities {
		if e.Type == "SENTIMENT" && want[e.ConversationTurnID] {
			cp := *e
			out[e.ConversationTurnID] = &cp
		}
	}
	return out, nil
}

// --- relationships ---

func (f *Fake) InsertRelationships(ctx context.Context, tx store.DBTX, rels []*store.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rels {
		cp := *r
		f.relationships[r.ID] = &cp
	}
	return nil
}

func (f *Fake) CountRelationshipsForRaw(ctx context.Context, rawPayloadID uuid.UUID) (int, error) {
	rels, err := f.ListRelationshipsForRaw(ctx, rawPayloadID)
	return len(rels), err
}

func (f *Fake) ListRelationshipsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.Relationship, error) {
	entityToTurn := map[uuid.UUID]uuid.UUID{}
	f.mu.Lock()
	for _, e := range f.entities {
		entityToTurn[e.ID] = e.ConversationTurnID
	}
	f.mu.Unlock()

	turns, _ := f.ListTurnsForRaw(ctx, rawPayloadID)
	belongs := map[uuid.UUID]bool{}
	for _, t := range turns {
		belongs[t.ID] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Relationship
	for _, r := range f.relationships {
		if belongs[entityToTurn[r.SourceEntityID]] {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- correlation candidates ---

func (f *Fake) ExistingCandidatePairs(ctx context.Context, rawPayloadID uuid.UUID) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, c := range f.candidates {
		if c.RawPayloadID == rawPayloadID {
			out[store.PairKey(c.SourceEntityID, c.TargetEntityID)] = true
		}
	}
	return out, nil
}

func (f *Fake) InsertCandidates(ctx context.Context, tx store.DBTX, candidates []*store.CorrelationCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range candidates {
		cp := *c
		f.candidates[c.ID] = &cp
	}
	return nil
}

func (f *Fake) ListPendingCandidatesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.CorrelationCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.CorrelationCandidate
	for _, c := range f.candidates {
		if c.RawPayloadID == rawPayloadID && c.Status == store.CandidatePending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) UpdateCandidateStatuses(ctx context.Context, tx store.DBTX, ids []uuid.UUID, status store.CandidateStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for _, c := range f.candidates {
		if want[c.ID] {
			c.Status = status
		}
	}
	return nil
}

// --- feedback ---

func (f *Fake) InsertFeedback(ctx context.Context, fb *store.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *fb
	f.feedback[fb.ID] = &cp
	return nil
}

func (f *Fake) GetFeedback(ctx context.Context, id uuid.UUID) (*store.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedback[id]
	if !ok {
		return nil, xerrors.New(xerrors.ErrNotFound, "store", "feedback not found")
	}
	cp := *fb
	return &cp, nil
}

func (f *Fake) SetFeedbackStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.FeedbackStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedback[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "feedback not found")
	}
	fb.Status = status
	return nil
}

// --- jobs ---

func (f *Fake) EnqueueJob(ctx context.Context, j *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *Fake) ClaimNextJob(ctx context.Context, names []string, lockedBy string, now time.Time) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	var candidates []*store.Job
	for _, j := range f.jobs {
		if j.Status == store.JobPending && wanted[j.JobName] && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrNoJobAvailable
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AvailableAt.Before(candidates[j].AvailableAt) })

	j := candidates[0]
	j.Status = store.JobInProgress
	lb := lockedBy
	j.LockedBy = &lb
	n := now
	j.LockedAt = &n
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (f *Fake) CompleteJob(ctx context.Context, id uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "job not found")
	}
	j.Status = store.JobDone
	j.LockedBy, j.LockedAt = nil, nil
	j.UpdatedAt = now
	return nil
}

func (f *Fake) RescheduleJob(ctx context.Context, id uuid.UUID, availableAt time.Time, lastErr string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "job not found")
	}
	j.Status = store.JobPending
	j.AvailableAt = availableAt
	le := lastErr
	j.LastError = &le
	j.LockedBy, j.LockedAt = nil, nil
	j.UpdatedAt = now
	return nil
}

func (f *Fake) FailJob(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "job not found")
	}
	j.Status = store.JobFailed
	le := lastErr
	j.LastError = &le
	j.LockedBy, j.LockedAt = nil, nil
	j.UpdatedAt = now
	return nil
}

func (f *Fake) ListOrphanedJobs(ctx context.Context, threshold time.Time) ([]*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Job
	for _, j := range f.jobs {
		if j.Status == store.JobInProgress && j.LockedAt != nil && j.LockedAt.Before(threshold) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) CountJobsByStatus(ctx context.Context, status store.JobStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, j := range f.jobs {
		if j.Status == status {
			count++
		}
	}
	return count, nil
}

// --- tracker runs ---

func (f *Fake) InsertTrackerRun(ctx context.Context, r *store.TrackerRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.trackerRuns[r.RunID] = &cp
	return nil
}

func (f *Fake) UpdateTrackerRun(ctx context.Context, r *store.TrackerRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trackerRuns[r.RunID]; !ok {
		return xerrors.New(xerrors.ErrNotFound, "store", "tracker run not found")
	}
	cp := *r
	f.trackerRuns[r.RunID] = &cp
	return nil
}

func (f *Fake) GetTrackerRun(ctx context.Context, id uuid.UUID) (*store.TrackerRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.trackerRuns[id]
	if !ok {
		return nil, xerrors.New(xerrors.ErrNotFound, "store", "tracker run not found")
	}
	cp := *r
	return &cp, nil
}
