package apptype

// IngestProposalArgs represents the arguments for the ingest_proposal tool
type IngestProposalArgs struct {
	Proposal Proposal `json:"proposal" jsonschema:"The batch of candidate nodes and edges to ingest."`
}

// GetNodeArgs represents the arguments for the get_node tool
type GetNodeArgs struct {
	ID string `json:"id" jsonschema:"The id of the node to fetch."`
}

// GetNeighborsArgs represents the arguments for the get_neighbors tool
// Direction may be "out", "in", or "both" (default "both").
type GetNeighborsArgs struct {
	ID        string `json:"id" jsonschema:"Seed node id to expand from."`
	Relation  string `json:"relation,omitempty" jsonschema:"Optional relation type filter."`
	Direction string `json:"direction,omitempty" jsonschema:"Which direction of edges to follow: out|in|both (default both)."`
	Depth     int    `json:"depth,omitempty" jsonschema:"Maximum hop depth (default 1)."`
}

// NeighborhoodResult represents the result for graph-shaped tools
type NeighborhoodResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// PromoteArgs represents the arguments for the promote and demote tools
type PromoteArgs struct {
	EntryID    string `json:"entryId" jsonschema:"Node or edge id of the memory entry."`
	TargetTier string `json:"targetTier" jsonschema:"Target tier: ephemeral|short_term|canonical."`
	Actor      string `json:"actor,omitempty" jsonschema:"Who requested the transition (for the audit log)."`
	Reason     string `json:"reason" jsonschema:"Why the transition was requested."`
}

// PlanArgs represents the arguments for the plan tool
type PlanArgs struct {
	Goal       GoalCondition `json:"goal" jsonschema:"The goal condition to reach."`
	StartScope []string      `json:"startScope,omitempty" jsonschema:"Node ids or names considered already satisfied. Empty means nodes marked current."`
	MaxDepth   int           `json:"maxDepth,omitempty" jsonschema:"Override for the planner depth bound."`
}

// RepairSyncArgs represents the arguments for the repair_sync tool
type RepairSyncArgs struct {
	ID string `json:"id" jsonschema:"Node or edge id to re-synchronize between stores."`
}

// RepairSyncResult reports whether drift was found and corrected.
type RepairSyncResult struct {
	ID       string `json:"id"`
	Drifted  bool   `json:"drifted"`
	Repaired bool   `json:"repaired"`
}

// ReadGraphArgs represents the arguments for the read_graph tool
type ReadGraphArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of recent nodes to return (default 10)."`
}

// RegisterTypeArgs represents the arguments for the register_type tool
type RegisterTypeArgs struct {
	Name   string `json:"name" jsonschema:"New type name."`
	Parent string `json:"parent" jsonschema:"Existing parent type name."`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	EmbeddingDims int    `json:"embeddingDims"`
}
