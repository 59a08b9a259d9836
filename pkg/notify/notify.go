// Package notify publishes pipeline stage-completion events to NATS so
// external subscribers (a UI, an alerting rule) can observe progress
// without polling Store. It is strictly an observational side-channel:
// nothing in the pipeline depends on a subscriber having seen an event.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subject is the fixed NATS subject every stage-completion event publishes
// to.
const Subject = "nexusknowledge.pipeline.events"

// Event is the JSON payload published when a stage handler finishes, with
// the status it left the raw payload in (a success or a failure status).
type Event struct {
	RawPayloadID  uuid.UUID `json:"raw_payload_id"`
	Stage         string    `json:"stage"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher publishes pipeline events. A nil *Publisher is valid and every
// method becomes a no-op, the same optional-sink convention
// pkg/tracker.NoOp and pkg/correlate.GraphMirror already establish.
type Publisher struct {
	conn *nats.Conn
}

// New wraps an already-connected NATS connection. Callers own the
// connection's lifecycle.
func New(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Connect dials url (e.g. "nats://localhost:4222") and wraps the resulting
// connection.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Publish serializes and sends ev to Subject. Failures are logged and
// swallowed: a dropped notification never fails the pipeline stage that
// triggered it.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("notify: failed to marshal pipeline event", "error", err)
		return
	}
	if err := p.conn.Publish(Subject, data); err != nil {
		slog.Warn("notify: failed to publish pipeline event", "subject", Subject, "error", err)
	}
}

// Close drains and closes the underlying connection. Safe to call on a nil
// Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		slog.Warn("notify: failed to drain nats connection", "error", err)
	}
}
