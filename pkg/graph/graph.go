// Package graph mirrors confirmed correlation relationships into Neo4j,
// giving the relationship graph an actual graph representation an
// operator can traverse with Cypher, separate from the relational rows
// pkg/store keeps as the system of record.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

// Mirror writes confirmed relationships as graph edges. It implements
// pkg/correlate.GraphMirror.
type Mirror struct {
	driver neo4j.DriverWithContext
}

// New wraps an already-connected driver. Callers own the driver's lifecycle
// (Close it on shutdown); Mirror never closes it.
func New(driver neo4j.DriverWithContext) *Mirror {
	return &Mirror{driver: driver}
}

// NewDriver opens a Neo4j connection, the one piece of driver setup callers
// need before constructing a Mirror.
func NewDriver(uri, username, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: connecting to neo4j: %w", err)
	}
	return driver, nil
}

// MirrorRelationship upserts both entity nodes and the edge between them.
// Entities are addressed by their store id; relationship edges carry
// type and strength as properties and are deduplicated on
// (source id, target id, type) via MERGE, so reprocessing a fusion run
// never creates duplicate edges.
func (m *Mirror) MirrorRelationship(ctx context.Context, rel *store.Relationship) error {
	sess := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := sess.Close(ctx); err != nil {
			slog.Warn("graph: failed to close session", "error", err)
		}
	}()

	const cypher = `
		MERGE (src:Entity {id: $source_id})
		MERGE (dst:Entity {id: $target_id})
		MERGE (src)-[r:RELATES_TO {type: $type}]->(dst)
		SET r.strength = $strength, r.relationship_id = $relationship_id`

	params := map[string]any{
		"source_id":       rel.SourceEntityID.String(),
		"target_id":       rel.TargetEntityID.String(),
		"type":            rel.Type,
		"strength":        rel.Strength,
		"relationship_id": rel.ID.String(),
	}

	_, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("graph: mirroring relationship %s: %w", rel.ID, err)
	}
	return nil
}
