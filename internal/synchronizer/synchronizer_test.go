package synchronizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/vectorindex"
)

func setupSync(t *testing.T) (*Synchronizer, *graphstore.Store, *vectorindex.ChromemIndex) {
	t.Helper()
	cfg := graphstore.NewConfig()
	cfg.URL = "file:" + t.Name() + "?mode=memory&cache=shared"
	graph, err := graphstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, graph.Close()) })

	vector, err := vectorindex.NewChromemIndex("")
	require.NoError(t, err)

	return New(graph, vector, typereg.New(), nil), graph, vector
}

func syncNode(id, name string, embedding []float32) *apptype.Node {
	return &apptype.Node{
		ID: id, Name: name, Type: "entity", Ancestors: []string{"thing"},
		Status: apptype.TierEphemeral, Confidence: 0.5, Embedding: embedding,
	}
}

func TestPutNodeWritesBothStores(t *testing.T) {
	sync, graph, vector := setupSync(t)
	ctx := context.Background()

	merged, err := sync.PutNode(ctx, syncNode("n-1", "Paris", []float32{1, 0, 0}))
	require.NoError(t, err)
	assert.False(t, merged)

	_, err = graph.GetNode(ctx, "n-1")
	require.NoError(t, err)
	rec, err := vector.Get(ctx, apptype.CollectionEntity, "n-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, rec.Embedding)
}

func TestPutNodeSkipsVectorWithoutEmbedding(t *testing.T) {
	sync, _, vector := setupSync(t)

	_, err := sync.PutNode(context.Background(), syncNode("n-1", "typeish", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, vector.Count(apptype.CollectionEntity))
}

func TestCheckAndRepairDrift(t *testing.T) {
	sync, _, vector := setupSync(t)
	ctx := context.Background()

	_, err := sync.PutNode(ctx, syncNode("n-1", "Paris", []float32{1, 0, 0}))
	require.NoError(t, err)

	drifted, err := sync.Check(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, drifted)

	// Corrupt the vector record behind the synchronizer's back.
	require.NoError(t, vector.Upsert(ctx, apptype.CollectionEntity, vectorindex.Record{
		OwningID: "n-1", Name: "Paris", Embedding: []float32{0, 1, 0},
	}))
	drifted, err = sync.Check(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, drifted)

	res, err := sync.Repair(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)
	assert.True(t, res.Repaired)

	rec, err := vector.Get(ctx, apptype.CollectionEntity, "n-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, rec.Embedding)
}

func TestRepairMissingVectorRecord(t *testing.T) {
	sync, _, vector := setupSync(t)
	ctx := context.Background()

	_, err := sync.PutNode(ctx, syncNode("n-1", "Paris", []float32{1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, vector.Delete(ctx, apptype.CollectionEntity, "n-1"))

	res, err := sync.Repair(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	_, err = vector.Get(ctx, apptype.CollectionEntity, "n-1")
	assert.NoError(t, err)
}

func TestCheckFlagsStrayVectorForEmbeddinglessRow(t *testing.T) {
	sync, _, vector := setupSync(t)
	ctx := context.Background()

	_, err := sync.PutNode(ctx, syncNode("n-1", "typeish", nil))
	require.NoError(t, err)
	// A record the graph row no longer vouches for.
	require.NoError(t, vector.Upsert(ctx, apptype.CollectionEntity, vectorindex.Record{
		OwningID: "n-1", Name: "typeish", Embedding: []float32{1, 0, 0},
	}))

	drifted, err := sync.Check(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, drifted)

	res, err := sync.Repair(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)
	assert.True(t, res.Repaired)
	_, err = vector.Get(ctx, apptype.CollectionEntity, "n-1")
	assert.ErrorIs(t, err, apptype.ErrNotFound)

	drifted, err = sync.Check(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, drifted)
}

func TestRepairRemovesOrphanedVector(t *testing.T) {
	sync, graph, vector := setupSync(t)
	ctx := context.Background()

	_, err := sync.PutNode(ctx, syncNode("n-1", "Paris", []float32{1, 0, 0}))
	require.NoError(t, err)
	// Remove the graph row directly, leaving the vector record behind.
	require.NoError(t, graph.DeleteNode(ctx, "n-1"))

	res, err := sync.Repair(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)
	assert.True(t, res.Repaired)
	_, err = vector.Get(ctx, apptype.CollectionEntity, "n-1")
	assert.ErrorIs(t, err, apptype.ErrNotFound)
}

func TestRepairUnknownID(t *testing.T) {
	sync, _, _ := setupSync(t)
	_, err := sync.Repair(context.Background(), "ghost")
	assert.ErrorIs(t, err, apptype.ErrNotFound)
}

func TestDeleteNodeCleansEdgeVectors(t *testing.T) {
	sync, _, vector := setupSync(t)
	ctx := context.Background()

	_, err := sync.PutNode(ctx, syncNode("a", "a", []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = sync.PutNode(ctx, syncNode("b", "b", []float32{0, 1, 0}))
	require.NoError(t, err)
	_, _, err = sync.PutEdge(ctx, &apptype.Edge{
		ID: "e-1", Source: "a", Target: "b", Relation: "causes",
		Confidence: 0.7, Embedding: []float32{0, 0, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, vector.Count(apptype.CollectionEdge))

	require.NoError(t, sync.DeleteNode(ctx, "a"))
	assert.Equal(t, 0, vector.Count(apptype.CollectionEdge))
	_, err = vector.Get(ctx, apptype.CollectionEntity, "a")
	assert.ErrorIs(t, err, apptype.ErrNotFound)
}
