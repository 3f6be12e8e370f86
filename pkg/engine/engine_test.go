package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
)

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	graphCfg := graphstore.NewConfig()
	graphCfg.URL = "file:" + t.Name() + "?mode=memory&cache=shared"
	cfg := config.NewConfig()
	cfg.EmbeddingDims = 3

	e, err := New(cfg, Options{GraphConfig: graphCfg})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e
}

func TestBootstrapCreatesTypeNodes(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	n, err := e.GetNode(ctx, "type:entity")
	require.NoError(t, err)
	assert.True(t, n.IsTypeDefinition)
	assert.Equal(t, apptype.TierCanonical, n.Status)
	assert.Equal(t, "entity", n.Type)
	assert.Equal(t, []string{"thing"}, n.Ancestors)

	// Type nodes pass the same shape audit as any other stored node.
	assert.NoError(t, e.ValidateNode(n))

	// Bootstrapping again must not duplicate or error.
	require.NoError(t, e.bootstrap(ctx))
}

func TestGraphWritesAreShapeGated(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	// Even a write that bypasses the pipeline hits the shape gate.
	_, err := e.graph.UpsertNode(ctx, &apptype.Node{
		ID: "raw", Name: "raw", Type: "nonexistent", Ancestors: []string{},
	})
	assert.ErrorIs(t, err, apptype.ErrShapeViolation)
	_, err = e.GetNode(ctx, "raw")
	assert.ErrorIs(t, err, apptype.ErrNotFound)
}

func TestIngestSameProposalTwice(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	proposal := &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
		},
	}
	first, err := e.Ingest(ctx, proposal)
	require.NoError(t, err)
	require.Len(t, first.CreatedNodeIDs, 1)

	second, err := e.Ingest(ctx, proposal)
	require.NoError(t, err)
	assert.Empty(t, second.CreatedNodeIDs)
	require.Len(t, second.MatchedNodeIDs, 1)

	// Exactly one entity node named Paris exists.
	nodes, _, err := e.ReadGraph(ctx, 100)
	require.NoError(t, err)
	var parisCount int
	for _, n := range nodes {
		if n.Name == "Paris" {
			parisCount++
		}
	}
	assert.Equal(t, 1, parisCount)
}

func TestRepairSyncAfterIngestReportsNoDrift(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	result, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedNodeIDs, 1)

	res, err := e.RepairSync(ctx, result.CreatedNodeIDs[0])
	require.NoError(t, err)
	assert.False(t, res.Drifted)
	assert.False(t, res.Repaired)
}

func TestPromotionLifecycle(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	result, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "gravity pulls", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.9, Salient: true},
		},
	})
	require.NoError(t, err)
	id := result.CreatedNodeIDs[0]

	// Starts short-term via salience; canonical needs more evidence.
	err = e.Promote(ctx, id, apptype.TierCanonical, "reviewer", "too early")
	assert.ErrorIs(t, err, apptype.ErrInvalidTransition)

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Reinforce(ctx, id))
	}
	require.NoError(t, e.Promote(ctx, id, apptype.TierCanonical, "reviewer", "well evidenced"))

	n, err := e.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, apptype.TierCanonical, n.Status)

	require.NoError(t, e.Demote(ctx, id, apptype.TierShortTerm, "reviewer", "contradicted"))
	n, err = e.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, apptype.TierShortTerm, n.Status)
}

func TestPlanOverIngestedChain(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	_, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "at home", Type: "state", Embedding: []float32{1, 0, 0}, Confidence: 0.8,
				Properties: map[string]any{"current": true}},
			{Name: "at station", Type: "state", Embedding: []float32{0, 1, 0}, Confidence: 0.8},
			{Name: "at work", Type: "state", Embedding: []float32{0, 0, 1}, Confidence: 0.8,
				Properties: map[string]any{"kind": "destination"}},
		},
		Edges: []apptype.CandidateEdge{
			{Source: "at home", Target: "at station", Relation: "leads_to", Confidence: 0.9},
			{Source: "at station", Target: "at work", Relation: "leads_to", Confidence: 0.9},
		},
	})
	require.NoError(t, err)

	plan, err := e.Plan(ctx, &apptype.GoalCondition{
		Type: "state", Properties: map[string]any{"kind": "destination"},
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "leads_to", plan.Steps[0].Relation)
}

func TestRegisterTypeAndRefreshAncestors(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.RegisterType(ctx, "animal", "entity"))
	require.NoError(t, e.RegisterType(ctx, "dog", "animal"))

	result, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Rex", Type: "dog", Embedding: []float32{1, 0, 0}, Confidence: 0.7},
		},
	})
	require.NoError(t, err)
	rex, err := e.GetNode(ctx, result.CreatedNodeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "entity", "thing"}, rex.Ancestors)

	// Re-parent animal directly under thing and refresh.
	require.NoError(t, e.RegisterType(ctx, "animal", "thing"))
	rex, err = e.GetNode(ctx, rex.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "thing"}, rex.Ancestors)

	// The descendant type's mirror node is refreshed too.
	dogType, err := e.GetNode(ctx, "type:dog")
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "thing"}, dogType.Ancestors)
	assert.NoError(t, e.ValidateNode(dogType))
}

func TestDeleteNodeRemovesFromBothStores(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	result, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "transient", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.5},
		},
	})
	require.NoError(t, err)
	id := result.CreatedNodeIDs[0]

	require.NoError(t, e.DeleteNode(ctx, id))
	_, err = e.GetNode(ctx, id)
	assert.ErrorIs(t, err, apptype.ErrNotFound)
	_, err = e.RepairSync(ctx, id)
	assert.ErrorIs(t, err, apptype.ErrNotFound)
}

func TestSweepAndDecay(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	_, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "barely believed", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.11},
		},
	})
	require.NoError(t, err)

	evicted, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	evicted, err = e.Decay(ctx)
	require.NoError(t, err)
	assert.Len(t, evicted, 1)
}

func TestNeighborsThroughEngine(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	result, err := e.Ingest(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.7},
			{Name: "France", Type: "entity", Embedding: []float32{0, 1, 0}, Confidence: 0.7},
		},
		Edges: []apptype.CandidateEdge{
			{Source: "Paris", Target: "France", Relation: "is_a", Confidence: 0.8},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedNodeIDs, 2)

	nodes, edges, err := e.Neighbors(ctx, result.CreatedNodeIDs[0], "", "both", 1)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Len(t, edges, 1)
}
