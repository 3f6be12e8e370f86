// Package engine wires the stores, registry, synchronizer, pipeline,
// tier manager, and planner into one embeddable facade. Applications
// that do not want the MCP surface can depend on this package alone.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/ingest"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/memtier"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/planner"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/synchronizer"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/validate"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/vectorindex"
)

// Options overrides the engine's collaborators; zero values get sane
// defaults.
type Options struct {
	GraphConfig *graphstore.Config
	Logger      *zap.Logger
	Policy      memtier.SaliencePolicy
}

// Engine is the hybrid knowledge-graph engine.
type Engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	graph    *graphstore.Store
	vector   vectorindex.Index
	reg      *typereg.Registry
	sync     *synchronizer.Synchronizer
	tiers    *memtier.Manager
	pipeline *ingest.Pipeline
	planner  *planner.Planner
}

// New opens both stores and assembles the engine, seeding the
// bootstrap type hierarchy into the graph.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	graphCfg := opts.GraphConfig
	if graphCfg == nil {
		graphCfg = graphstore.NewConfig()
	}

	graph, err := graphstore.Open(graphCfg)
	if err != nil {
		return nil, err
	}
	vector, err := vectorindex.NewChromemIndex(cfg.VectorPath)
	if err != nil {
		graph.Close()
		return nil, err
	}

	reg := typereg.New()
	graph.SetWriteGate(graphstore.WriteGate{
		Node: func(n *apptype.Node) error { return validate.Node(n, reg) },
		Edge: func(e *apptype.Edge) error { return validate.Edge(e, reg) },
	})
	sync := synchronizer.New(graph, vector, reg, logger)
	tiers := memtier.New(graph, sync, opts.Policy, cfg, logger)
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		graph:    graph,
		vector:   vector,
		reg:      reg,
		sync:     sync,
		tiers:    tiers,
		pipeline: ingest.New(sync, graph, reg, tiers, opts.Policy, cfg, logger),
		planner:  planner.New(graph, reg, cfg.PlannerMaxDepth, logger),
	}
	if err := e.bootstrap(context.Background()); err != nil {
		graph.Close()
		return nil, fmt.Errorf("failed to bootstrap type hierarchy: %w", err)
	}
	return e, nil
}

// bootstrap mirrors the registry's types into the graph as type
// definition nodes. Deterministic ids keep re-bootstraps idempotent.
func (e *Engine) bootstrap(ctx context.Context) error {
	for _, name := range e.reg.List() {
		if err := e.putTypeNode(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// putTypeNode mirrors one registered type into the graph. The node's
// Type is the defined type itself, so its stored ancestor chain is
// exactly ResolveAncestors(Type) and the node passes the same shape
// validation as any other write.
func (e *Engine) putTypeNode(ctx context.Context, name string) error {
	ancestors, err := e.reg.ResolveAncestors(name)
	if err != nil {
		return err
	}
	_, err = e.graph.UpsertNode(ctx, &apptype.Node{
		ID:               "type:" + name,
		Name:             name,
		Type:             name,
		Ancestors:        ancestors,
		IsTypeDefinition: true,
		Status:           apptype.TierCanonical,
		Confidence:       1,
	})
	return err
}

// Close releases both stores.
func (e *Engine) Close() error {
	verr := e.vector.Close()
	if gerr := e.graph.Close(); gerr != nil {
		return gerr
	}
	return verr
}

func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OpTimeout)
}

// Config exposes the engine configuration for health reporting.
func (e *Engine) Config() *config.Config { return e.cfg }

// PoolStats proxies the graph store's connection pool gauges.
func (e *Engine) PoolStats() (inUse, idle int) { return e.graph.PoolStats() }

// Ingest runs one proposal through the deduplicating pipeline.
func (e *Engine) Ingest(ctx context.Context, proposal *apptype.Proposal) (*apptype.IngestResult, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.pipeline.Process(ctx, proposal)
}

// GetNode fetches a node by id.
func (e *Engine) GetNode(ctx context.Context, id string) (*apptype.Node, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.graph.GetNode(ctx, id)
}

// Neighbors expands the neighborhood of a node.
func (e *Engine) Neighbors(ctx context.Context, id, relation, direction string, depth int) ([]*apptype.Node, []*apptype.Edge, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.graph.Neighbors(ctx, id, direction, relation, depth)
}

// Promote raises a memory entry's tier.
func (e *Engine) Promote(ctx context.Context, entryID string, target apptype.Tier, actor, reason string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.tiers.Promote(ctx, entryID, target, actor, reason)
}

// Demote lowers a memory entry's tier.
func (e *Engine) Demote(ctx context.Context, entryID string, target apptype.Tier, actor, reason string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.tiers.Demote(ctx, entryID, target, actor, reason)
}

// Reinforce records fresh evidence for an entry.
func (e *Engine) Reinforce(ctx context.Context, entryID string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.tiers.Reinforce(ctx, entryID)
}

// Plan backward-chains from the goal condition to a satisfied state.
func (e *Engine) Plan(ctx context.Context, goal *apptype.GoalCondition, startScope []string, maxDepth int) (*apptype.Plan, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.planner.Plan(ctx, goal, startScope, maxDepth)
}

// RepairSync audits one entry's dual-store consistency and corrects
// any drift found.
func (e *Engine) RepairSync(ctx context.Context, id string) (*apptype.RepairSyncResult, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.sync.Repair(ctx, id)
}

// DeleteNode removes a node and its edges from both stores.
func (e *Engine) DeleteNode(ctx context.Context, id string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.sync.DeleteNode(ctx, id)
}

// ReadGraph returns the most recently touched nodes and the edges
// among them.
func (e *Engine) ReadGraph(ctx context.Context, limit int) ([]*apptype.Node, []*apptype.Edge, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	nodes, err := e.graph.RecentNodes(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	edges, err := e.graph.EdgesForNodes(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// RegisterType adds a type under an existing parent, mirrors it into
// the graph, and refreshes ancestor chains affected by re-parenting.
func (e *Engine) RegisterType(ctx context.Context, name, parent string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.reg.Register(name, parent); err != nil {
		return err
	}
	if err := e.putTypeNode(ctx, name); err != nil {
		return err
	}
	return e.refreshAncestors(ctx, name)
}

// RefreshAncestors recomputes the stored ancestor chain for every node
// under the given type. Needed after a type is re-parented.
func (e *Engine) RefreshAncestors(ctx context.Context, typeName string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.refreshAncestors(ctx, typeName)
}

func (e *Engine) refreshAncestors(ctx context.Context, typeName string) error {
	nodes, err := e.graph.FindNodesWithAncestor(ctx, typeName)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		want, err := e.reg.ResolveAncestors(n.Type)
		if err != nil {
			// Stored nodes of a since-unregistered type keep their chain.
			continue
		}
		if stringSlicesEqual(n.Ancestors, want) {
			continue
		}
		if err := e.graph.SetNodeAncestors(ctx, n.ID, want); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNode runs the shape validator without writing anything.
func (e *Engine) ValidateNode(n *apptype.Node) error {
	return validate.Node(n, e.reg)
}

// Sweep evicts expired entries from both stores.
func (e *Engine) Sweep(ctx context.Context) ([]string, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.tiers.Sweep(ctx, time.Now())
}

// Decay applies confidence decay and evicts entries under the floor.
func (e *Engine) Decay(ctx context.Context) ([]string, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.tiers.Decay(ctx)
}

// RunMaintenance sweeps expired entries on the given interval until
// the context is canceled. Decay runs every tenth sweep.
func (e *Engine) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var passes int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.Warn("sweep failed", zap.Error(err))
			}
			passes++
			if passes%10 == 0 {
				if _, err := e.Decay(ctx); err != nil {
					e.logger.Warn("decay failed", zap.Error(err))
				}
			}
		}
	}
}

func stringSlicesEqual(a, b []string) bool {
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
