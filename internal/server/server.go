package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
	"github.com/ZanzyTHEbar/hybrid-kg-go/pkg/engine"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	engine *engine.Engine
}

// NewMCPServer creates a new MCP server over the engine
func NewMCPServer(eng *engine.Engine) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "hybrid-kg-go",
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		engine: eng,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	ingestInputSchema, err := jsonschema.For[apptype.IngestProposalArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for IngestProposalArgs: %v", err))
	}
	ingestOutputSchema, err := jsonschema.For[apptype.IngestResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for IngestResult: %v", err))
	}
	getNodeInputSchema, err := jsonschema.For[apptype.GetNodeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GetNodeArgs: %v", err))
	}
	getNodeOutputSchema, err := jsonschema.For[apptype.Node]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for Node: %v", err))
	}
	neighborsInputSchema, err := jsonschema.For[apptype.GetNeighborsArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GetNeighborsArgs: %v", err))
	}
	neighborsOutputSchema, err := jsonschema.For[apptype.NeighborhoodResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for NeighborhoodResult (neighbors): %v", err))
	}
	promoteInputSchema, err := jsonschema.For[apptype.PromoteArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for PromoteArgs (promote): %v", err))
	}
	demoteInputSchema, err := jsonschema.For[apptype.PromoteArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for PromoteArgs (demote): %v", err))
	}
	planInputSchema, err := jsonschema.For[apptype.PlanArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for PlanArgs: %v", err))
	}
	planOutputSchema, err := jsonschema.For[apptype.Plan]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for Plan: %v", err))
	}
	repairInputSchema, err := jsonschema.For[apptype.RepairSyncArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RepairSyncArgs: %v", err))
	}
	repairOutputSchema, err := jsonschema.For[apptype.RepairSyncResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RepairSyncResult: %v", err))
	}
	readGraphInputSchema, err := jsonschema.For[apptype.ReadGraphArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ReadGraphArgs: %v", err))
	}
	readGraphOutputSchema, err := jsonschema.For[apptype.NeighborhoodResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for NeighborhoodResult (read_graph): %v", err))
	}
	registerTypeInputSchema, err := jsonschema.For[apptype.RegisterTypeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RegisterTypeArgs: %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "ingest_proposal",
		Title:        "Ingest Proposal",
		Description:  "Ingest a batch of candidate nodes and edges with similarity-based deduplication.",
		InputSchema:  ingestInputSchema,
		OutputSchema: ingestOutputSchema,
	}, s.handleIngestProposal)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_node",
		Title:        "Get Node",
		Description:  "Fetch a single node by id.",
		InputSchema:  getNodeInputSchema,
		OutputSchema: getNodeOutputSchema,
	}, s.handleGetNode)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_neighbors",
		Title:        "Get Neighbors",
		Description:  "Expand a node's neighborhood with optional relation filter and depth.",
		InputSchema:  neighborsInputSchema,
		OutputSchema: neighborsOutputSchema,
	}, s.handleGetNeighbors)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "promote",
		Title:       "Promote Entry",
		Description: "Raise a memory entry to a higher tier.",
		InputSchema: promoteInputSchema,
	}, s.handlePromote)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "demote",
		Title:       "Demote Entry",
		Description: "Lower a memory entry to a lower tier.",
		InputSchema: demoteInputSchema,
	}, s.handleDemote)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "plan",
		Title:        "Plan",
		Description:  "Backward-chain over causal edges from a goal condition to the current state.",
		InputSchema:  planInputSchema,
		OutputSchema: planOutputSchema,
	}, s.handlePlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "repair_sync",
		Title:        "Repair Sync",
		Description:  "Audit one entry's graph/vector consistency and repair drift.",
		InputSchema:  repairInputSchema,
		OutputSchema: repairOutputSchema,
	}, s.handleRepairSync)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "read_graph",
		Title:        "Read Graph",
		Description:  "Get recently updated nodes and the edges between them.",
		InputSchema:  readGraphInputSchema,
		OutputSchema: readGraphOutputSchema,
	}, s.handleReadGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "register_type",
		Title:       "Register Type",
		Description: "Register a new node or relation type under an existing parent.",
		InputSchema: registerTypeInputSchema,
	}, s.handleRegisterType)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

// handleIngestProposal handles the ingest_proposal tool call
func (s *MCPServer) handleIngestProposal(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.IngestProposalArgs],
) (*mcp.CallToolResultFor[apptype.IngestResult], error) {
	done := metrics.TimeTool("ingest_proposal")
	var success bool
	defer func() { done(success) }()

	result, err := s.engine.Ingest(ctx, &params.Arguments.Proposal)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest proposal: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.IngestResult]{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Ingested proposal: %d created, %d matched, %d edges, %d unresolved",
				len(result.CreatedNodeIDs), len(result.MatchedNodeIDs), len(result.EdgeIDs), len(result.Unresolved)),
		}},
		StructuredContent: *result,
	}, nil
}

// handleGetNode handles the get_node tool call
func (s *MCPServer) handleGetNode(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetNodeArgs],
) (*mcp.CallToolResultFor[apptype.Node], error) {
	done := metrics.TimeTool("get_node")
	var success bool
	defer func() { done(success) }()

	node, err := s.engine.GetNode(ctx, params.Arguments.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.Node]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Node %q fetched", node.ID)}},
		StructuredContent: *node,
	}, nil
}

// handleGetNeighbors handles the get_neighbors tool call
func (s *MCPServer) handleGetNeighbors(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetNeighborsArgs],
) (*mcp.CallToolResultFor[apptype.NeighborhoodResult], error) {
	done := metrics.TimeTool("get_neighbors")
	var success bool
	defer func() { done(success) }()

	direction := params.Arguments.Direction
	if direction == "" {
		direction = "both"
	}
	nodes, edges, err := s.engine.Neighbors(ctx, params.Arguments.ID, params.Arguments.Relation, direction, params.Arguments.Depth)
	if err != nil {
		return nil, fmt.Errorf("failed to get neighbors: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.NeighborhoodResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Neighbors fetched"}},
		StructuredContent: toNeighborhood(nodes, edges),
	}, nil
}

// handlePromote handles the promote tool call
func (s *MCPServer) handlePromote(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.PromoteArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("promote")
	var success bool
	defer func() { done(success) }()

	tier, err := tierArg(params.Arguments.TargetTier)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Promote(ctx, params.Arguments.EntryID, tier, params.Arguments.Actor, params.Arguments.Reason); err != nil {
		return nil, fmt.Errorf("failed to promote: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Promoted %q to %s", params.Arguments.EntryID, tier),
		}},
	}, nil
}

// handleDemote handles the demote tool call
func (s *MCPServer) handleDemote(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.PromoteArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("demote")
	var success bool
	defer func() { done(success) }()

	tier, err := tierArg(params.Arguments.TargetTier)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Demote(ctx, params.Arguments.EntryID, tier, params.Arguments.Actor, params.Arguments.Reason); err != nil {
		return nil, fmt.Errorf("failed to demote: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Demoted %q to %s", params.Arguments.EntryID, tier),
		}},
	}, nil
}

// handlePlan handles the plan tool call
func (s *MCPServer) handlePlan(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.PlanArgs],
) (*mcp.CallToolResultFor[apptype.Plan], error) {
	done := metrics.TimeTool("plan")
	var success bool
	defer func() { done(success) }()

	plan, err := s.engine.Plan(ctx, &params.Arguments.Goal, params.Arguments.StartScope, params.Arguments.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to plan: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.Plan]{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Plan found with %d steps", len(plan.Steps)),
		}},
		StructuredContent: *plan,
	}, nil
}

// handleRepairSync handles the repair_sync tool call
func (s *MCPServer) handleRepairSync(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RepairSyncArgs],
) (*mcp.CallToolResultFor[apptype.RepairSyncResult], error) {
	done := metrics.TimeTool("repair_sync")
	var success bool
	defer func() { done(success) }()

	res, err := s.engine.RepairSync(ctx, params.Arguments.ID)
	if err != nil {
		if errors.Is(err, apptype.ErrInconsistent) {
			return nil, fmt.Errorf("entry %q is inconsistent: %w", params.Arguments.ID, err)
		}
		return nil, fmt.Errorf("failed to repair sync: %w", err)
	}
	success = true
	text := "In sync"
	if res.Repaired {
		text = "Drift repaired"
	}
	return &mcp.CallToolResultFor[apptype.RepairSyncResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: *res,
	}, nil
}

// handleReadGraph handles the read_graph tool call
func (s *MCPServer) handleReadGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ReadGraphArgs],
) (*mcp.CallToolResultFor[apptype.NeighborhoodResult], error) {
	done := metrics.TimeTool("read_graph")
	var success bool
	defer func() { done(success) }()

	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}
	nodes, edges, err := s.engine.ReadGraph(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read graph failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.NeighborhoodResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Graph read successfully"}},
		StructuredContent: toNeighborhood(nodes, edges),
	}, nil
}

// handleRegisterType handles the register_type tool call
func (s *MCPServer) handleRegisterType(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RegisterTypeArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("register_type")
	var success bool
	defer func() { done(success) }()

	if err := s.engine.RegisterType(ctx, params.Arguments.Name, params.Arguments.Parent); err != nil {
		return nil, fmt.Errorf("failed to register type: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Registered type %q under %q", params.Arguments.Name, params.Arguments.Parent),
		}},
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()

	res := &apptype.HealthResult{
		Name:          "hybrid-kg-go",
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		EmbeddingDims: s.engine.Config().EmbeddingDims,
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: *res,
	}, nil
}

func tierArg(s string) (apptype.Tier, error) {
	if !apptype.ValidTier(s) {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return apptype.Tier(s), nil
}

func toNeighborhood(nodes []*apptype.Node, edges []*apptype.Edge) apptype.NeighborhoodResult {
	out := apptype.NeighborhoodResult{
		Nodes: make([]apptype.Node, 0, len(nodes)),
		Edges: make([]apptype.Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, *n)
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, *e)
	}
	return out
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	return srv.ListenAndServe()
}
