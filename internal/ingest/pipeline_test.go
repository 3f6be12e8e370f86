package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/memtier"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/synchronizer"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/vectorindex"
)

func setupPipeline(t *testing.T) (*Pipeline, *graphstore.Store) {
	t.Helper()
	storeCfg := graphstore.NewConfig()
	storeCfg.URL = "file:" + t.Name() + "?mode=memory&cache=shared"
	graph, err := graphstore.Open(storeCfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, graph.Close()) })

	vector, err := vectorindex.NewChromemIndex("")
	require.NoError(t, err)

	reg := typereg.New()
	sync := synchronizer.New(graph, vector, reg, nil)
	cfg := config.NewConfig()
	cfg.EmbeddingDims = 3
	tiers := memtier.New(graph, sync, nil, cfg, nil)
	return New(sync, graph, reg, tiers, nil, cfg, nil), graph
}

func TestProcessCreatesNodes(t *testing.T) {
	p, graph := setupPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedNodeIDs, 1)
	assert.Empty(t, result.MatchedNodeIDs)

	node, err := graph.GetNode(ctx, result.CreatedNodeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Paris", node.Name)
	assert.Equal(t, []string{"thing"}, node.Ancestors)
	assert.Equal(t, apptype.TierEphemeral, node.Status)
	require.NotNil(t, node.ExpiresAt)
}

func TestProcessDedupsRepeatedCandidate(t *testing.T) {
	p, graph := setupPipeline(t)
	ctx := context.Background()

	proposal := &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
		},
	}
	first, err := p.Process(ctx, proposal)
	require.NoError(t, err)
	require.Len(t, first.CreatedNodeIDs, 1)

	second, err := p.Process(ctx, proposal)
	require.NoError(t, err)
	assert.Empty(t, second.CreatedNodeIDs)
	require.Len(t, second.MatchedNodeIDs, 1)
	assert.Equal(t, first.CreatedNodeIDs[0], second.MatchedNodeIDs[0])

	// The match reinforced the stored record instead of duplicating it.
	node, err := graph.GetNode(ctx, first.CreatedNodeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, node.EvidenceCount)
	all, err := graph.FindNodes(ctx, "entity", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessDistinctEmbeddingCreatesNewNode(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	_, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6}},
	})
	require.NoError(t, err)

	// Orthogonal embedding, well past the match threshold.
	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "Tokyo", Type: "entity", Embedding: []float32{0, 1, 0}, Confidence: 0.6}},
	})
	require.NoError(t, err)
	assert.Len(t, result.CreatedNodeIDs, 1)
	assert.Empty(t, result.MatchedNodeIDs)
}

func TestProcessSalientCandidateSkipsEphemeral(t *testing.T) {
	p, graph := setupPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "keep-me", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.3, Salient: true},
		},
	})
	require.NoError(t, err)
	node, err := graph.GetNode(ctx, result.CreatedNodeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, apptype.TierShortTerm, node.Status)
}

func TestProcessResolvesEdgesWithinBatch(t *testing.T) {
	p, graph := setupPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "rain", Type: "process", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
			{Name: "wet streets", Type: "state", Embedding: []float32{0, 1, 0}, Confidence: 0.6},
		},
		Edges: []apptype.CandidateEdge{
			{Source: "rain", Target: "wet streets", Relation: "causes", Confidence: 0.7},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.EdgeIDs, 1)
	assert.Empty(t, result.Unresolved)

	edge, err := graph.GetEdge(ctx, result.EdgeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "causes", edge.Relation)
}

func TestProcessEdgeCarriesTTL(t *testing.T) {
	p, graph := setupPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{
			{Name: "rain", Type: "process", Embedding: []float32{1, 0, 0}, Confidence: 0.6},
			{Name: "wet streets", Type: "state", Embedding: []float32{0, 1, 0}, Confidence: 0.6},
		},
		Edges: []apptype.CandidateEdge{
			{Source: "rain", Target: "wet streets", Relation: "causes", Confidence: 0.7},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.EdgeIDs, 1)

	edge, err := graph.GetEdge(ctx, result.EdgeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, apptype.TierEphemeral, edge.Status)
	require.NotNil(t, edge.ExpiresAt)
	assert.True(t, edge.ExpiresAt.After(time.Now()))

	// An elapsed TTL makes the edge sweepable.
	expired, err := graph.ExpiredEdgeIDs(ctx, edge.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, expired, edge.ID)
}

func TestProcessResolvesEdgeAgainstStoredNode(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	_, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6}},
	})
	require.NoError(t, err)

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "France", Type: "entity", Embedding: []float32{0, 1, 0}, Confidence: 0.6}},
		Edges: []apptype.CandidateEdge{{Source: "Paris", Target: "France", Relation: "is_a", Confidence: 0.5}},
	})
	require.NoError(t, err)
	assert.Len(t, result.EdgeIDs, 1)
}

func TestProcessReportsUnresolvedEdges(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "rain", Type: "process", Embedding: []float32{1, 0, 0}, Confidence: 0.6}},
		Edges: []apptype.CandidateEdge{
			{Source: "rain", Target: "nowhere", Relation: "causes", Confidence: 0.7},
			{Source: "rain", Target: "rain", Relation: "made_up_relation", Confidence: 0.7},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.EdgeIDs)
	require.Len(t, result.Unresolved, 2)
	assert.Contains(t, result.Unresolved[0].Reason, "nowhere")
	assert.Contains(t, result.Unresolved[1].Reason, "made_up_relation")
}

func TestProcessRejectsWrongDimensions(t *testing.T) {
	p, _ := setupPipeline(t)

	_, err := p.Process(context.Background(), &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "bad", Type: "entity", Embedding: []float32{1, 0}, Confidence: 0.5}},
	})
	assert.ErrorIs(t, err, apptype.ErrShapeViolation)
}

func TestProcessReturnsRelevantContext(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	_, err := p.Process(ctx, &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "Paris", Type: "entity", Embedding: []float32{1, 0, 0}, Confidence: 0.6}},
	})
	require.NoError(t, err)

	result, err := p.Process(ctx, &apptype.Proposal{
		ContextEmbedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RelevantContext)
	assert.Equal(t, apptype.CollectionEntity, result.RelevantContext[0].Collection)
	assert.InDelta(t, 0, result.RelevantContext[0].Distance, 0.01)
}

func TestProcessUnknownTypeFails(t *testing.T) {
	p, _ := setupPipeline(t)

	_, err := p.Process(context.Background(), &apptype.Proposal{
		Nodes: []apptype.CandidateNode{{Name: "x", Type: "nonexistent", Embedding: []float32{1, 0, 0}, Confidence: 0.5}},
	})
	assert.ErrorIs(t, err, apptype.ErrUnknownType)
}
