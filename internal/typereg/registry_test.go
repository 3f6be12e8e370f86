package typereg

import (
	"testing"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBootstrapIdempotent(t *testing.T) {
	r := New()
	before := len(r.List())
	r.SeedBootstrap()
	assert.Equal(t, before, len(r.List()))
	assert.True(t, r.Known(RootType))
	assert.True(t, r.Known(RootRelation))
	assert.True(t, r.Known(RootThing))
	assert.True(t, r.Known(RootConcept))
}

func TestResolveAncestorsChain(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("animal", "entity"))
	require.NoError(t, r.Register("dog", "animal"))

	chain, err := r.ResolveAncestors("dog")
	require.NoError(t, err)
	assert.Equal(t, []string{"animal", "entity", RootThing}, chain)

	chain, err = r.ResolveAncestors(RootThing)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestResolveAncestorsUnknownType(t *testing.T) {
	r := New()
	_, err := r.ResolveAncestors("never-registered")
	assert.ErrorIs(t, err, apptype.ErrUnknownType)
}

func TestRegisterRejectsUnknownParentAndCycles(t *testing.T) {
	r := New()
	err := r.Register("orphan", "missing-parent")
	assert.ErrorIs(t, err, apptype.ErrUnknownType)

	require.NoError(t, r.Register("a", "entity"))
	require.NoError(t, r.Register("b", "a"))
	assert.Error(t, r.Register("a", "b"))
}

func TestIsA(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("animal", "entity"))
	chain, err := r.ResolveAncestors("animal")
	require.NoError(t, err)

	n := &apptype.Node{Type: "animal", Ancestors: chain}
	assert.True(t, r.IsA(n, "animal"))
	assert.True(t, r.IsA(n, "entity"))
	assert.True(t, r.IsA(n, RootThing))
	assert.False(t, r.IsA(n, RootConcept))
}

func TestIsCausalRelation(t *testing.T) {
	r := New()
	assert.True(t, r.IsCausalRelation("causes"))
	assert.True(t, r.IsCausalRelation("leads_to"))
	assert.True(t, r.IsCausalRelation("enables"))
	assert.False(t, r.IsCausalRelation("is_a"))
	assert.False(t, r.IsCausalRelation("likes"))
}

func TestCollectionFor(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("weather_state", "state"))
	require.NoError(t, r.Register("idea", RootConcept))

	assert.Equal(t, apptype.CollectionEntity, r.CollectionFor("entity"))
	assert.Equal(t, apptype.CollectionState, r.CollectionFor("weather_state"))
	assert.Equal(t, apptype.CollectionConcept, r.CollectionFor("idea"))
	assert.Equal(t, apptype.CollectionProcess, r.CollectionFor("process"))
	assert.Equal(t, apptype.CollectionEdge, r.CollectionFor("causes"))
	// Unregistered types default to entity.
	assert.Equal(t, apptype.CollectionEntity, r.CollectionFor("mystery"))
}
