// Package vectorindex adapts an embedded vector database to the
// engine's similarity-search needs. Records are keyed by the owning
// graph id; the index never stores graph structure, only embeddings
// and lookup metadata.
package vectorindex

import (
	"context"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
)

// Record is one vector entry. OwningID is the graph-store id of the
// node or edge the vector belongs to.
type Record struct {
	OwningID  string
	Name      string
	Embedding []float32
}

// Hit is a single similarity-search result. Distance is 1 - cosine
// similarity, so 0 means identical direction and lower is closer.
type Hit struct {
	OwningID string
	Name     string
	Distance float64
}

// Index is the vector-store port. Implementations must make Upsert
// idempotent per owning id and must tolerate Delete of absent records.
type Index interface {
	Upsert(ctx context.Context, collection apptype.Collection, rec Record) error
	Search(ctx context.Context, collection apptype.Collection, embedding []float32, k int) ([]Hit, error)
	Get(ctx context.Context, collection apptype.Collection, owningID string) (*Record, error)
	Delete(ctx context.Context, collection apptype.Collection, owningID string) error
	Count(collection apptype.Collection) int
	Close() error
}
