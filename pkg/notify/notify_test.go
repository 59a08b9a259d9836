package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/notify"
)

func TestNilPublisherDoesNotPanic(t *testing.T) {
	var p *notify.Publisher
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), notify.Event{RawPayloadID: uuid.New(), Stage: "NORMALIZE", Status: "NORMALIZED"})
		p.Close()
	})
}

func TestEventMarshalsExpectedFields(t *testing.T) {
	ev := notify.Event{
		RawPayloadID:  uuid.New(),
		Stage:         "ANALYZE",
		Status:        "ANALYZED",
		CorrelationID: "corr-123",
		OccurredAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var round map[string]any
	require.NoError(t, json.Unmarshal(data, &round))
	assert.Equal(t, ev.RawPayloadID.String(), round["raw_payload_id"])
	assert.Equal(t, "ANALYZE", round["stage"])
	assert.Equal(t, "ANALYZED", round["status"])
	assert.Equal(t, "corr-123", round["correlation_id"])
}
