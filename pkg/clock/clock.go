// Package clock provides an injectable time source and the two identifier
// schemes used across the pipeline: random UUIDv4s for new entities and
// deterministic UUIDv5s for content that must hash to the same id given the
// same source.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now so tests can freeze it.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now().UTC() }

// Frozen is a Clock that always returns the same instant. Useful for
// deterministic tests of timestamped records.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Frozen) Now() time.Time { return f.At }

// conversationNamespace is the URL UUID namespace, used to derive
// deterministic conversation ids from a source_id via UUIDv5 so re-ingests
// of the same logical conversation land on the same id.
var conversationNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// NewRandomID returns a fresh UUIDv4, used by the normaliser for the
// conversation id of a payload that carries no source_id.
func NewRandomID() uuid.UUID {
	return uuid.New()
}

// DeterministicConversationID derives a stable UUIDv5 from a caller-supplied
// source_id so that repeated ingests of the same external conversation
// resolve to the same identifier even before content hashing runs.
func DeterministicConversationID(sourceID string) uuid.UUID {
	return uuid.NewSHA1(conversationNamespace, []byte(sourceID))
}
