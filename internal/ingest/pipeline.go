// Package ingest turns raw proposals into deduplicated graph writes.
// Each candidate is matched against the vector index before it is
// allowed to create a new record, and candidate edges are resolved to
// stored node ids. A malformed or unresolvable edge is reported, never
// fatal to the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/memtier"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/synchronizer"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/validate"
)

// Pipeline processes proposals against the dual store.
type Pipeline struct {
	sync   *synchronizer.Synchronizer
	graph  *graphstore.Store
	reg    *typereg.Registry
	tiers  *memtier.Manager
	policy memtier.SaliencePolicy
	cfg    *config.Config
	logger *zap.Logger
}

// New builds a Pipeline. A nil policy falls back to the default
// salience policy.
func New(sync *synchronizer.Synchronizer, graph *graphstore.Store, reg *typereg.Registry,
	tiers *memtier.Manager, policy memtier.SaliencePolicy, cfg *config.Config, logger *zap.Logger) *Pipeline {
	if policy == nil {
		policy = memtier.NewDefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{sync: sync, graph: graph, reg: reg, tiers: tiers, policy: policy, cfg: cfg, logger: logger}
}

// Process runs one proposal through context retrieval, node dedup, and
// edge resolution. Matched records are reinforced rather than
// recreated; re-submitting the same proposal yields matches, not
// duplicates.
func (p *Pipeline) Process(ctx context.Context, proposal *apptype.Proposal) (*apptype.IngestResult, error) {
	done := metrics.TimeOp("ingest_process")
	success := false
	defer func() { done(success) }()

	if err := p.checkDims(proposal); err != nil {
		return nil, err
	}

	result := &apptype.IngestResult{
		CreatedNodeIDs: []string{},
		MatchedNodeIDs: []string{},
		EdgeIDs:        []string{},
		Unresolved:     []apptype.UnresolvedEdge{},
	}

	hits, err := p.relevantContext(ctx, proposal.ContextEmbedding)
	if err != nil {
		return nil, err
	}
	result.RelevantContext = hits

	// Names resolved in this batch, for edge endpoint resolution.
	batch := map[string]string{}

	for i := range proposal.Nodes {
		candidate := &proposal.Nodes[i]
		id, created, err := p.processNode(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest node %q: %w", candidate.Name, err)
		}
		batch[candidate.Name] = id
		if created {
			result.CreatedNodeIDs = append(result.CreatedNodeIDs, id)
		} else {
			result.MatchedNodeIDs = append(result.MatchedNodeIDs, id)
		}
	}

	for i := range proposal.Edges {
		candidate := &proposal.Edges[i]
		edgeID, unresolved, err := p.processEdge(ctx, candidate, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest edge %q-[%s]->%q: %w",
				candidate.Source, candidate.Relation, candidate.Target, err)
		}
		if unresolved != nil {
			result.Unresolved = append(result.Unresolved, *unresolved)
			continue
		}
		result.EdgeIDs = append(result.EdgeIDs, edgeID)
	}

	p.logger.Debug("processed proposal",
		zap.Int("created", len(result.CreatedNodeIDs)),
		zap.Int("matched", len(result.MatchedNodeIDs)),
		zap.Int("edges", len(result.EdgeIDs)),
		zap.Int("unresolved", len(result.Unresolved)))
	success = true
	return result, nil
}

func (p *Pipeline) checkDims(proposal *apptype.Proposal) error {
	check := func(what string, v []float32) error {
		if len(v) != 0 && len(v) != p.cfg.EmbeddingDims {
			return fmt.Errorf("%s embedding has %d dimensions, want %d: %w",
				what, len(v), p.cfg.EmbeddingDims, apptype.ErrShapeViolation)
		}
		return nil
	}
	if err := check("context", proposal.ContextEmbedding); err != nil {
		return err
	}
	for i := range proposal.Nodes {
		if err := check(fmt.Sprintf("node %q", proposal.Nodes[i].Name), proposal.Nodes[i].Embedding); err != nil {
			return err
		}
	}
	for i := range proposal.Edges {
		if err := check("edge", proposal.Edges[i].Embedding); err != nil {
			return err
		}
	}
	return nil
}

// relevantContext surfaces the nearest existing records to the
// proposal as a whole, across every collection, closest first.
func (p *Pipeline) relevantContext(ctx context.Context, embedding []float32) ([]apptype.ContextHit, error) {
	if len(embedding) == 0 {
		return []apptype.ContextHit{}, nil
	}
	var hits []apptype.ContextHit
	for _, collection := range apptype.Collections() {
		found, err := p.sync.Search(ctx, collection, embedding, p.cfg.ContextK)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			hits = append(hits, apptype.ContextHit{ID: h.OwningID, Collection: collection, Distance: h.Distance})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > p.cfg.ContextK {
		hits = hits[:p.cfg.ContextK]
	}
	if hits == nil {
		hits = []apptype.ContextHit{}
	}
	return hits, nil
}

// processNode dedups one candidate. A nearest neighbor within the
// collection's match threshold absorbs the candidate as reinforcement;
// otherwise a new node is created at the tier the salience policy
// picks.
func (p *Pipeline) processNode(ctx context.Context, candidate *apptype.CandidateNode) (id string, created bool, err error) {
	collection := p.reg.CollectionFor(candidate.Type)

	nearest := -1.0
	var nearestID string
	if len(candidate.Embedding) != 0 {
		found, err := p.sync.Search(ctx, collection, candidate.Embedding, 1)
		if err != nil {
			return "", false, err
		}
		if len(found) > 0 {
			nearest = found[0].Distance
			nearestID = found[0].OwningID
		}
	}

	if nearestID != "" && nearest < p.cfg.ThresholdFor(string(collection)) {
		if err := p.tiers.Reinforce(ctx, nearestID); err != nil {
			return "", false, err
		}
		p.logger.Debug("candidate matched existing record",
			zap.String("name", candidate.Name), zap.String("id", nearestID), zap.Float64("distance", nearest))
		return nearestID, false, nil
	}

	ancestors, err := p.reg.ResolveAncestors(candidate.Type)
	if err != nil {
		return "", false, err
	}
	node := &apptype.Node{
		ID:         uuid.New().String(),
		Name:       candidate.Name,
		Type:       candidate.Type,
		Ancestors:  ancestors,
		Properties: candidate.Properties,
		Status:     p.policy.InitialTier(candidate, nearest),
		Confidence: candidate.Confidence,
		Embedding:  candidate.Embedding,
	}
	node.ExpiresAt = p.expiryFor(node.Status)
	if verr := validate.Node(node, p.reg); verr != nil {
		return "", false, verr
	}
	if _, err := p.sync.PutNode(ctx, node); err != nil {
		return "", false, err
	}
	return node.ID, true, nil
}

// expiryFor returns the TTL deadline new entries get in a tier.
func (p *Pipeline) expiryFor(tier apptype.Tier) *time.Time {
	var ttl time.Duration
	switch tier {
	case apptype.TierEphemeral:
		ttl = p.cfg.EphemeralTTL
	case apptype.TierShortTerm:
		ttl = p.cfg.ShortTermTTL
	default:
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

// processEdge resolves endpoints and writes the edge. Endpoints are
// tried as ids from this batch, then stored ids, then stored names.
func (p *Pipeline) processEdge(ctx context.Context, candidate *apptype.CandidateEdge, batch map[string]string) (string, *apptype.UnresolvedEdge, error) {
	sourceID, err := p.resolveEndpoint(ctx, candidate.Source, batch)
	if err != nil {
		if errors.Is(err, apptype.ErrNotFound) {
			return "", &apptype.UnresolvedEdge{Edge: *candidate, Reason: fmt.Sprintf("unknown source %q", candidate.Source)}, nil
		}
		return "", nil, err
	}
	targetID, err := p.resolveEndpoint(ctx, candidate.Target, batch)
	if err != nil {
		if errors.Is(err, apptype.ErrNotFound) {
			return "", &apptype.UnresolvedEdge{Edge: *candidate, Reason: fmt.Sprintf("unknown target %q", candidate.Target)}, nil
		}
		return "", nil, err
	}
	if !p.reg.Known(candidate.Relation) {
		return "", &apptype.UnresolvedEdge{Edge: *candidate, Reason: fmt.Sprintf("unknown relation %q", candidate.Relation)}, nil
	}

	edge := &apptype.Edge{
		ID:         uuid.New().String(),
		Source:     sourceID,
		Target:     targetID,
		Relation:   candidate.Relation,
		Confidence: candidate.Confidence,
		Provenance: candidate.Provenance,
		Status:     apptype.TierEphemeral,
		Embedding:  candidate.Embedding,
	}
	edge.ExpiresAt = p.expiryFor(edge.Status)
	if verr := validate.Edge(edge, p.reg); verr != nil {
		return "", &apptype.UnresolvedEdge{Edge: *candidate, Reason: verr.Error()}, nil
	}
	id, _, err := p.sync.PutEdge(ctx, edge)
	if err != nil {
		return "", nil, err
	}
	return id, nil, nil
}

func (p *Pipeline) resolveEndpoint(ctx context.Context, ref string, batch map[string]string) (string, error) {
	if id, ok := batch[ref]; ok {
		return id, nil
	}
	if _, err := p.graph.GetNode(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, apptype.ErrNotFound) {
		return "", err
	}
	n, err := p.graph.GetNodeByName(ctx, ref)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}
