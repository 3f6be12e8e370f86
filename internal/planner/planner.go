// Package planner answers "how do I get there from here" questions by
// backward-chaining over causal edges. It reads the graph store and
// never mutates it.
package planner

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
)

// Planner searches backward from a goal condition to an already
// satisfied state, producing an ordered causal plan.
type Planner struct {
	graph    *graphstore.Store
	reg      *typereg.Registry
	maxDepth int
	logger   *zap.Logger
}

// New builds a Planner with the given default depth bound.
func New(graph *graphstore.Store, reg *typereg.Registry, maxDepth int, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{graph: graph, reg: reg, maxDepth: maxDepth, logger: logger}
}

// Plan finds a causal chain ending at a node matching the goal
// condition. startScope lists node ids or names considered already
// satisfied; when empty, nodes whose "current" property is true act as
// the start state. maxDepth <= 0 uses the planner default.
//
// Returns apptype.ErrAmbiguousGoal when no node matches the goal and
// apptype.ErrNoPlanFound when no chain reaches a satisfied state
// within the depth bound.
func (p *Planner) Plan(ctx context.Context, goal *apptype.GoalCondition, startScope []string, maxDepth int) (*apptype.Plan, error) {
	done := metrics.TimeOp("planner_plan")
	success := false
	defer func() { done(success) }()

	if maxDepth <= 0 {
		maxDepth = p.maxDepth
	}
	matcher, err := newGoalMatcher(goal, p.reg)
	if err != nil {
		return nil, err
	}

	goals, err := p.goalNodes(ctx, matcher)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("goal matches no node: %w", apptype.ErrAmbiguousGoal)
	}

	scope := map[string]bool{}
	for _, s := range startScope {
		scope[s] = true
	}
	relations := p.causalRelations()

	for _, goalNode := range goals {
		if p.satisfied(goalNode, scope) {
			// Already there; the empty plan is sound.
			success = true
			return &apptype.Plan{GoalNodeID: goalNode.ID, Steps: []apptype.PlanStep{}}, nil
		}
		visited := map[string]bool{goalNode.ID: true}
		steps, err := p.chain(ctx, goalNode, scope, relations, visited, maxDepth)
		if err != nil {
			return nil, err
		}
		if steps != nil {
			p.logger.Debug("plan found",
				zap.String("goal", goalNode.ID), zap.Int("steps", len(steps)))
			success = true
			return &apptype.Plan{GoalNodeID: goalNode.ID, Steps: steps}, nil
		}
	}
	return nil, fmt.Errorf("no causal chain reaches the goal within depth %d: %w", maxDepth, apptype.ErrNoPlanFound)
}

// goalNodes returns candidate goal nodes, best-supported first.
func (p *Planner) goalNodes(ctx context.Context, matcher *goalMatcher) ([]*apptype.Node, error) {
	var candidates []*apptype.Node
	var err error
	if matcher.cond.Type != "" {
		// Includes descendants of the goal type, not just exact matches.
		candidates, err = p.graph.FindNodesWithAncestor(ctx, matcher.cond.Type)
	} else {
		candidates, err = p.graph.FindNodes(ctx, "", 0)
	}
	if err != nil {
		return nil, err
	}
	var goals []*apptype.Node
	for _, n := range candidates {
		ok, err := matcher.matches(n)
		if err != nil {
			return nil, err
		}
		if ok {
			goals = append(goals, n)
		}
	}
	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].Confidence != goals[j].Confidence {
			return goals[i].Confidence > goals[j].Confidence
		}
		return goals[i].ID < goals[j].ID
	})
	return goals, nil
}

// chain walks causal edges backward from node until it reaches a
// satisfied predecessor, returning the steps in execution order, or
// nil when nothing satisfiable is reachable within depth.
func (p *Planner) chain(ctx context.Context, node *apptype.Node, scope map[string]bool,
	relations []string, visited map[string]bool, depth int) ([]apptype.PlanStep, error) {
	if depth <= 0 {
		return nil, nil
	}
	edges, err := p.graph.IncomingEdges(ctx, node.ID, relations)
	if err != nil {
		return nil, err
	}
	sortByPreference(edges)

	for _, edge := range edges {
		if visited[edge.Source] {
			continue
		}
		pred, err := p.graph.GetNode(ctx, edge.Source)
		if err != nil {
			// The edge may race a concurrent delete.
			continue
		}
		step := apptype.PlanStep{
			EdgeID:     edge.ID,
			FromNodeID: edge.Source,
			ToNodeID:   edge.Target,
			Relation:   edge.Relation,
			Confidence: edge.Confidence,
		}
		if p.satisfied(pred, scope) {
			return []apptype.PlanStep{step}, nil
		}
		visited[edge.Source] = true
		prefix, err := p.chain(ctx, pred, scope, relations, visited, depth-1)
		if err != nil {
			return nil, err
		}
		if prefix != nil {
			return append(prefix, step), nil
		}
	}
	return nil, nil
}

// satisfied reports whether a node counts as part of the start state.
func (p *Planner) satisfied(n *apptype.Node, scope map[string]bool) bool {
	if len(scope) > 0 {
		return scope[n.ID] || scope[n.Name]
	}
	current, ok := n.Properties["current"].(bool)
	return ok && current
}

// causalRelations lists every registered relation descending from
// "causes", including "causes" itself.
func (p *Planner) causalRelations() []string {
	var out []string
	for _, name := range p.reg.List() {
		if p.reg.IsCausalRelation(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// sortByPreference orders edges by confidence descending, then by the
// optional "cost" property ascending.
func sortByPreference(edges []*apptype.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return edgeCost(edges[i]) < edgeCost(edges[j])
	})
}

func edgeCost(e *apptype.Edge) float64 {
	if c, ok := e.Properties["cost"].(float64); ok {
		return c
	}
	return 0
}
