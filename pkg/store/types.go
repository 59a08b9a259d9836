package store

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is the key->value map attached to most entities; JSONB-backed.
type Metadata map[string]any

// RawPayloadStatus mirrors pkg/pipeline.Status as a store-layer string, kept
// distinct so the store package has no import-time dependency on pipeline.
type RawPayloadStatus string

// RawPayload is the top-level ingested record every stage mutates.
type RawPayload struct {
	ID          uuid.UUID
	SourceType  string
	SourceID    *string
	Content     string
	ContentHash string
	Metadata    Metadata
	Status      RawPayloadStatus
	IngestedAt  time.Time
	ProcessedAt *time.Time
}

// ConversationTurn is one message within a conversation.
type ConversationTurn struct {
	ID             uuid.UUID
	RawPayloadID   *uuid.UUID
	ConversationID uuid.UUID
	TurnIndex      int
	Speaker        string
	Text           string
	Timestamp      time.Time
	Metadata       Metadata
}

// Entity is a derived fact about a turn, currently always a SENTIMENT
// classification.
type Entity struct {
	ID                 uuid.UUID
	ConversationTurnID uuid.UUID
	Type               string
	Value              string
	Sentiment          string
	Relevance          float64
	Metadata           Metadata
}

// Relationship links two entities confirmed to correlate.
type Relationship struct {
	ID             uuid.UUID
	SourceEntityID uuid.UUID
	TargetEntityID uuid.UUID
	Type           string
	Strength       float64
	Metadata       Metadata
}

// CandidateStatus is the lifecycle of a CorrelationCandidate.
type CandidateStatus string

// CorrelationCandidate statuses.
const (
	CandidatePending   CandidateStatus = "PENDING"
	CandidateConfirmed CandidateStatus = "CONFIRMED"
	CandidateRejected  CandidateStatus = "REJECTED"
)

// CorrelationCandidate is a proposed relationship awaiting fusion.
type CorrelationCandidate struct {
	ID             uuid.UUID
	RawPayloadID   uuid.UUID
	SourceEntityID uuid.UUID
	TargetEntityID uuid.UUID
	Score          float64
	Status         CandidateStatus
	Rationale      *string
	CreatedAt      time.Time
	Metadata       Metadata
}

// FeedbackStatus is the lifecycle of a Feedback record.
type FeedbackStatus string

// Feedback statuses.
const (
	FeedbackNew        FeedbackStatus = "NEW"
	FeedbackReviewed   FeedbackStatus = "REVIEWED"
	FeedbackInProgress FeedbackStatus = "IN_PROGRESS"
	FeedbackClosed     FeedbackStatus = "CLOSED"
)

// Feedback is an async user-submitted note.
type Feedback struct {
	ID           uuid.UUID
	FeedbackType string
	Message      string
	UserID       *string
	SubmittedAt  time.Time
	Status       FeedbackStatus
}

// JobStatus is the lifecycle of a scheduler Job row.
type JobStatus string

// Job statuses.
const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobDone       JobStatus = "DONE"
	JobFailed     JobStatus = "FAILED"
)

// Job is one durable queue entry consumed by the scheduler's worker pool.
type Job struct {
	ID            uuid.UUID
	JobName       string
	Payload       Metadata
	CorrelationID *string
	Status        JobStatus
	Attempts      int
	AvailableAt   time.Time
	LockedBy      *string
	LockedAt      *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrackerRunStatus is the lifecycle of a TrackerRun row.
type TrackerRunStatus string

// TrackerRun statuses.
const (
	TrackerRunning   TrackerRunStatus = "running"
	TrackerSucceeded TrackerRunStatus = "succeeded"
	TrackerFailed    TrackerRunStatus = "failed"
)

// TrackerRun persists one experiment-tracker invocation for later inspection.
type TrackerRun struct {
	RunID     uuid.UUID
	RunName   string
	Tags      Metadata
	Params    Metadata
	Metrics   Metadata
	Artifacts Metadata
	Status    TrackerRunStatus
	StartedAt time.Time
	EndedAt   *time.Time
}
