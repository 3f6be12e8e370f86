package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
)

// neighborEdges returns the edges touching the given node ids in the
// requested direction ("out", "in", or "both"), optionally filtered by
// relation type.
func (s *Store) neighborEdges(ctx context.Context, ids []string, direction, relation string) ([]*apptype.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	var where string
	args := make([]any, 0, len(ids)*2+1)
	switch strings.ToLower(direction) {
	case "out":
		where = fmt.Sprintf("source IN (%s)", placeholders)
		for _, id := range ids {
			args = append(args, id)
		}
	case "in":
		where = fmt.Sprintf("target IN (%s)", placeholders)
		for _, id := range ids {
			args = append(args, id)
		}
	default: // both
		where = fmt.Sprintf("source IN (%s) OR target IN (%s)", placeholders, placeholders)
		for _, id := range ids {
			args = append(args, id)
		}
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query := "SELECT " + edgeColumns + " FROM edges WHERE (" + where + ")"
	if relation != "" {
		query += " AND relation = ?"
		args = append(args, relation)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbor edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Neighbors expands from the seed node through reified edges using BFS,
// honoring direction, an optional relation-type filter, and a depth
// bound (default 1). The seed node is included in the returned nodes.
func (s *Store) Neighbors(ctx context.Context, seedID, direction, relation string, depth int) ([]*apptype.Node, []*apptype.Edge, error) {
	done := metrics.TimeOp("graph_neighbors")
	success := false
	defer func() { done(success) }()

	if depth <= 0 {
		depth = 1
	}
	if _, err := s.GetNode(ctx, seedID); err != nil {
		return nil, nil, err
	}

	visited := map[string]struct{}{seedID: {}}
	seenEdges := map[string]struct{}{}
	frontier := []string{seedID}
	var allEdges []*apptype.Edge

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		edges, err := s.neighborEdges(ctx, frontier, direction, relation)
		if err != nil {
			return nil, nil, err
		}
		var next []string
		for _, e := range edges {
			if _, ok := seenEdges[e.ID]; !ok {
				seenEdges[e.ID] = struct{}{}
				allEdges = append(allEdges, e)
			}
			for _, id := range []string{e.Source, e.Target} {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					next = append(next, id)
				}
			}
		}
		frontier = next
	}

	nodes := make([]*apptype.Node, 0, len(visited))
	for id := range visited {
		n, err := s.GetNode(ctx, id)
		if err != nil {
			// An edge endpoint may have been deleted concurrently; the
			// traversal result stays best-effort.
			continue
		}
		nodes = append(nodes, n)
	}
	success = true
	return nodes, allEdges, nil
}
