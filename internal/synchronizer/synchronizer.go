// Package synchronizer keeps the graph store and the vector index
// consistent. The graph store is the source of truth: every write goes
// there first, and Repair re-derives vector records from the embedding
// persisted on the graph row.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/vectorindex"
)

// Synchronizer coordinates dual-store writes. Vector-index calls go
// through a circuit breaker so a degraded index does not stall graph
// writes; drift accumulated while the breaker is open is recoverable
// through Repair.
type Synchronizer struct {
	graph   *graphstore.Store
	vector  vectorindex.Index
	reg     *typereg.Registry
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New builds a Synchronizer over the two stores.
func New(graph *graphstore.Store, vector vectorindex.Index, reg *typereg.Registry, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{graph: graph, vector: vector, reg: reg, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vector-index",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("vector index breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return s
}

func (s *Synchronizer) vectorUpsert(ctx context.Context, collection apptype.Collection, rec vectorindex.Record) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.vector.Upsert(ctx, collection, rec)
	})
	return err
}

func (s *Synchronizer) vectorDelete(ctx context.Context, collection apptype.Collection, id string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.vector.Delete(ctx, collection, id)
	})
	return err
}

// Search runs a similarity query through the breaker.
func (s *Synchronizer) Search(ctx context.Context, collection apptype.Collection, embedding []float32, k int) ([]vectorindex.Hit, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return s.vector.Search(ctx, collection, embedding, k)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", collection, err)
	}
	hits, _ := v.([]vectorindex.Hit)
	return hits, nil
}

// PutNode writes the node to the graph store and mirrors its embedding
// into the vector index. A vector failure leaves the graph write in
// place and surfaces as an error; the record is repairable afterwards.
func (s *Synchronizer) PutNode(ctx context.Context, n *apptype.Node) (merged bool, err error) {
	merged, err = s.graph.UpsertNode(ctx, n)
	if err != nil {
		return false, err
	}
	if len(n.Embedding) == 0 {
		return merged, nil
	}
	collection := s.reg.CollectionFor(n.Type)
	if err := s.vectorUpsert(ctx, collection, vectorindex.Record{
		OwningID: n.ID, Name: n.Name, Embedding: n.Embedding,
	}); err != nil {
		s.logger.Warn("vector write failed; record drifted",
			zap.String("id", n.ID), zap.String("collection", string(collection)), zap.Error(err))
		return merged, fmt.Errorf("node %q stored but not indexed: %w", n.ID, err)
	}
	return merged, nil
}

// PutEdge writes the edge to the graph store and, when it carries an
// embedding, mirrors it into the edge collection.
func (s *Synchronizer) PutEdge(ctx context.Context, e *apptype.Edge) (id string, merged bool, err error) {
	id, merged, err = s.graph.UpsertEdge(ctx, e)
	if err != nil {
		return "", false, err
	}
	if len(e.Embedding) == 0 {
		return id, merged, nil
	}
	if err := s.vectorUpsert(ctx, apptype.CollectionEdge, vectorindex.Record{
		OwningID: id, Name: e.Relation, Embedding: e.Embedding,
	}); err != nil {
		s.logger.Warn("vector write failed; record drifted",
			zap.String("id", id), zap.Error(err))
		return id, merged, fmt.Errorf("edge %q stored but not indexed: %w", id, err)
	}
	return id, merged, nil
}

// DeleteNode removes a node from both stores, including the vector
// records of edges removed by the cascade.
func (s *Synchronizer) DeleteNode(ctx context.Context, id string) error {
	n, err := s.graph.GetNode(ctx, id)
	if err != nil {
		return err
	}
	edges, err := s.graph.EdgesForNodes(ctx, []string{id})
	if err != nil {
		return err
	}
	if err := s.graph.DeleteNode(ctx, id); err != nil {
		return err
	}
	if dErr := s.vectorDelete(ctx, s.reg.CollectionFor(n.Type), id); dErr != nil {
		s.logger.Warn("vector delete failed", zap.String("id", id), zap.Error(dErr))
	}
	for _, e := range edges {
		if dErr := s.vectorDelete(ctx, apptype.CollectionEdge, e.ID); dErr != nil {
			s.logger.Warn("vector delete failed", zap.String("id", e.ID), zap.Error(dErr))
		}
	}
	return nil
}

// DeleteEdge removes an edge from both stores.
func (s *Synchronizer) DeleteEdge(ctx context.Context, id string) error {
	if err := s.graph.DeleteEdge(ctx, id); err != nil {
		return err
	}
	if dErr := s.vectorDelete(ctx, apptype.CollectionEdge, id); dErr != nil {
		s.logger.Warn("vector delete failed", zap.String("id", id), zap.Error(dErr))
	}
	return nil
}

// locate resolves an id to its collection and canonical embedding,
// checking nodes first and then edges.
func (s *Synchronizer) locate(ctx context.Context, id string) (apptype.Collection, string, []float32, error) {
	if n, err := s.graph.GetNode(ctx, id); err == nil {
		return s.reg.CollectionFor(n.Type), n.Name, n.Embedding, nil
	} else if !errors.Is(err, apptype.ErrNotFound) {
		return "", "", nil, err
	}
	e, err := s.graph.GetEdge(ctx, id)
	if err != nil {
		return "", "", nil, err
	}
	return apptype.CollectionEdge, e.Relation, e.Embedding, nil
}

// Check reports whether the vector record for a graph entry has
// drifted from the embedding on the graph row. A row without an
// embedding must have no vector record at all.
func (s *Synchronizer) Check(ctx context.Context, id string) (drifted bool, err error) {
	collection, _, want, err := s.locate(ctx, id)
	if err != nil {
		return false, err
	}
	rec, err := s.vector.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, apptype.ErrNotFound) {
			return len(want) != 0, nil
		}
		return false, err
	}
	if len(want) == 0 {
		return true, nil
	}
	return !vectorsEqual(want, rec.Embedding), nil
}

// Repair re-derives the vector record for a graph entry from the
// graph row's embedding. Repairing an id whose graph entry is gone
// removes any orphaned vector records instead.
func (s *Synchronizer) Repair(ctx context.Context, id string) (*apptype.RepairSyncResult, error) {
	collection, name, want, err := s.locate(ctx, id)
	if err != nil {
		if errors.Is(err, apptype.ErrNotFound) {
			return s.repairOrphan(ctx, id)
		}
		return nil, err
	}

	drifted, err := s.Check(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &apptype.RepairSyncResult{ID: id, Drifted: drifted}
	if !drifted {
		return res, nil
	}

	if len(want) == 0 {
		// The graph row carries no embedding; the lingering vector
		// record is the drift.
		if err := s.vectorDelete(ctx, collection, id); err != nil {
			return nil, fmt.Errorf("failed to repair %q: %w", id, err)
		}
		s.logger.Info("removed stale vector record",
			zap.String("id", id), zap.String("collection", string(collection)))
		res.Repaired = true
		return res, nil
	}

	if err := s.vectorUpsert(ctx, collection, vectorindex.Record{
		OwningID: id, Name: name, Embedding: want,
	}); err != nil {
		return nil, fmt.Errorf("failed to repair %q: %w", id, err)
	}
	s.logger.Info("repaired drifted vector record",
		zap.String("id", id), zap.String("collection", string(collection)))
	res.Repaired = true
	return res, nil
}

func (s *Synchronizer) repairOrphan(ctx context.Context, id string) (*apptype.RepairSyncResult, error) {
	res := &apptype.RepairSyncResult{ID: id}
	for _, collection := range apptype.Collections() {
		if _, err := s.vector.Get(ctx, collection, id); err != nil {
			continue
		}
		if err := s.vectorDelete(ctx, collection, id); err != nil {
			return nil, fmt.Errorf("failed to remove orphaned vector %q: %w", id, err)
		}
		s.logger.Info("removed orphaned vector record",
			zap.String("id", id), zap.String("collection", string(collection)))
		res.Drifted = true
		res.Repaired = true
	}
	if !res.Drifted {
		return nil, fmt.Errorf("entry %q: %w", id, apptype.ErrNotFound)
	}
	return res, nil
}

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
