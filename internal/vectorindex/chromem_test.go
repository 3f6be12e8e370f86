package vectorindex

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	ix, err := NewChromemIndex("")
	require.NoError(t, err)
	return ix
}

func TestUpsertAndSearch(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-paris", Name: "Paris", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-tokyo", Name: "Tokyo", Embedding: []float32{0, 1, 0},
	}))

	hits, err := ix.Search(ctx, apptype.CollectionEntity, []float32{0.99, 0.01, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "n-paris", hits[0].OwningID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
	assert.InDelta(t, 0, hits[0].Distance, 0.01)
}

func TestUpsertReplacesByOwningID(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-1", Name: "old", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-1", Name: "new", Embedding: []float32{0, 1, 0},
	}))

	assert.Equal(t, 1, ix.Count(apptype.CollectionEntity))
	rec, err := ix.Get(ctx, apptype.CollectionEntity, "n-1")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Name)
}

func TestSearchClampsToCollectionSize(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	hits, err := ix.Search(ctx, apptype.CollectionEntity, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-1", Name: "only", Embedding: []float32{1, 0, 0},
	}))
	hits, err = ix.Search(ctx, apptype.CollectionEntity, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCollectionsAreIsolated(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-1", Name: "entity", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEdge, Record{
		OwningID: "e-1", Name: "edge", Embedding: []float32{1, 0, 0},
	}))

	hits, err := ix.Search(ctx, apptype.CollectionEdge, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "e-1", hits[0].OwningID)
}

func TestDeleteAndGet(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, apptype.CollectionEntity, Record{
		OwningID: "n-1", Name: "x", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, ix.Delete(ctx, apptype.CollectionEntity, "n-1"))

	_, err := ix.Get(ctx, apptype.CollectionEntity, "n-1")
	assert.ErrorIs(t, err, apptype.ErrNotFound)
	assert.Equal(t, 0, ix.Count(apptype.CollectionEntity))

	// Deleting an absent record is a no-op.
	assert.NoError(t, ix.Delete(ctx, apptype.CollectionEntity, "n-1"))
}
