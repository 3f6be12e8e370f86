package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
)

// ChromemIndex stores embeddings in chromem-go, a pure Go embedded
// vector database. One chromem collection per logical collection.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[apptype.Collection]*chromem.Collection
}

// NewChromemIndex creates an in-memory index. Pass a non-empty path to
// persist collections to disk across restarts.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index at %q: %w", path, err)
		}
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[apptype.Collection]*chromem.Collection),
	}, nil
}

func (ix *ChromemIndex) collection(name apptype.Collection) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[name]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[name]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding
	// func and the default cosine distance.
	col, err := ix.db.GetOrCreateCollection(string(name), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	ix.collections[name] = col
	return col, nil
}

// Upsert writes the record, replacing any prior record with the same
// owning id.
func (ix *ChromemIndex) Upsert(ctx context.Context, collection apptype.Collection, rec Record) error {
	done := metrics.TimeOp("vector_upsert")
	success := false
	defer func() { done(success) }()

	if rec.OwningID == "" {
		return errors.New("vector record requires an owning id")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("vector record %q requires an embedding", rec.OwningID)
	}
	col, err := ix.collection(collection)
	if err != nil {
		return err
	}

	// AddDocument keeps the first write for an existing id, so clear
	// any prior record to get replace semantics.
	_ = col.Delete(ctx, nil, nil, rec.OwningID)
	doc := chromem.Document{
		ID:        rec.OwningID,
		Content:   rec.Name,
		Embedding: rec.Embedding,
		Metadata:  map[string]string{"name": rec.Name},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index %q in %q: %w", rec.OwningID, collection, err)
	}
	metrics.Default().ObserveIndexSize(string(collection), col.Count())
	success = true
	return nil
}

// Search returns up to k nearest records by cosine distance, closest
// first. Searching an empty collection returns no hits.
func (ix *ChromemIndex) Search(ctx context.Context, collection apptype.Collection, embedding []float32, k int) ([]Hit, error) {
	done := metrics.TimeOp("vector_search")
	success := false
	defer func() { done(success) }()

	col, err := ix.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults greater than the collection size.
	if n := col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		success = true
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %q: %w", collection, err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			OwningID: r.ID,
			Name:     r.Metadata["name"],
			Distance: 1 - float64(r.Similarity),
		})
	}
	success = true
	return hits, nil
}

// Get retrieves the record for an owning id, or apptype.ErrNotFound.
func (ix *ChromemIndex) Get(ctx context.Context, collection apptype.Collection, owningID string) (*Record, error) {
	col, err := ix.collection(collection)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, owningID)
	if err != nil {
		return nil, fmt.Errorf("vector record %q: %w", owningID, apptype.ErrNotFound)
	}
	return &Record{
		OwningID:  doc.ID,
		Name:      doc.Metadata["name"],
		Embedding: doc.Embedding,
	}, nil
}

// Delete removes the record for an owning id. Deleting an absent
// record is a no-op.
func (ix *ChromemIndex) Delete(ctx context.Context, collection apptype.Collection, owningID string) error {
	col, err := ix.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, owningID); err != nil {
		return fmt.Errorf("failed to delete vector record %q from %q: %w", owningID, collection, err)
	}
	metrics.Default().ObserveIndexSize(string(collection), col.Count())
	return nil
}

// Count reports the number of records in a collection.
func (ix *ChromemIndex) Count(collection apptype.Collection) int {
	ix.mu.RLock()
	col, ok := ix.collections[collection]
	ix.mu.RUnlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Close is a no-op for the in-memory database; persistent collections
// flush on every write.
func (ix *ChromemIndex) Close() error { return nil }

var _ Index = (*ChromemIndex)(nil)
