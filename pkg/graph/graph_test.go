package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusknowledge/nexusknowledge/pkg/correlate"
	"github.com/nexusknowledge/nexusknowledge/pkg/graph"
)

// We can't exercise a live Neo4j session in unit tests without a running
// instance; these cover construction and the compile-time interface check
// correlate.GraphMirror relies on.
var _ correlate.GraphMirror = (*graph.Mirror)(nil)

func TestNewMirrorWithNilDriverDoesNotPanic(t *testing.T) {
	m := graph.New(nil)
	assert.NotNil(t, m)
}
