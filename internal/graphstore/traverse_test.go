package graphstore

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedChain builds a -> b -> c with "causes" edges plus an unrelated
// "located_in" edge a -> d.
func seedChain(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.UpsertNode(ctx, testNode(id, id))
		require.NoError(t, err)
	}
	edges := []*apptype.Edge{
		{ID: "e-ab", Source: "a", Target: "b", Relation: "causes", Confidence: 0.8},
		{ID: "e-bc", Source: "b", Target: "c", Relation: "causes", Confidence: 0.8},
		{ID: "e-ad", Source: "a", Target: "d", Relation: "located_in", Confidence: 0.6},
	}
	for _, e := range edges {
		_, _, err := s.UpsertEdge(ctx, e)
		require.NoError(t, err)
	}
}

func nodeIDs(nodes []*apptype.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestNeighborsDepthOne(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	seedChain(t, s)

	nodes, edges, err := s.Neighbors(context.Background(), "a", "out", "", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "d"}, nodeIDs(nodes))
	assert.Len(t, edges, 2)
}

func TestNeighborsRelationFilter(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	seedChain(t, s)

	nodes, edges, err := s.Neighbors(context.Background(), "a", "out", "causes", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, nodeIDs(nodes))
	require.Len(t, edges, 1)
	assert.Equal(t, "e-ab", edges[0].ID)
}

func TestNeighborsDepthTwo(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	seedChain(t, s)

	nodes, _, err := s.Neighbors(context.Background(), "a", "out", "causes", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, nodeIDs(nodes))
}

func TestNeighborsInbound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	seedChain(t, s)

	nodes, _, err := s.Neighbors(context.Background(), "c", "in", "", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, nodeIDs(nodes))
}

func TestIncomingEdgesOrdering(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"x", "y", "goal"} {
		_, err := s.UpsertNode(ctx, testNode(id, id))
		require.NoError(t, err)
	}
	_, _, err := s.UpsertEdge(ctx, &apptype.Edge{ID: "e-weak", Source: "x", Target: "goal", Relation: "causes", Confidence: 0.3})
	require.NoError(t, err)
	_, _, err = s.UpsertEdge(ctx, &apptype.Edge{ID: "e-strong", Source: "y", Target: "goal", Relation: "causes", Confidence: 0.9})
	require.NoError(t, err)

	edges, err := s.IncomingEdges(ctx, "goal", []string{"causes"})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "e-strong", edges[0].ID)
	assert.Equal(t, "e-weak", edges[1].ID)
}
