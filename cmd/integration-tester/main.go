package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	start := time.Now()
	report := Report{SSEURL: *sseURL, StartedAt: start}
	steps := make([]StepResult, 0, 16)

	// Connect
	tConn := time.Now()
	connRes := StepResult{Name: "connect"}
	session, err := client.Connect(ctx, transport)
	if err != nil {
		connRes.Success = false
		connRes.Error = err.Error()
		connRes.ElapsedMs = elapsedMsSince(tConn)
		steps = append(steps, connRes)
		report.Steps = steps
		report.DurationMs = elapsedMsSince(start)
		report.Passed = false
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true
	connRes.ElapsedMs = elapsedMsSince(tConn)
	steps = append(steps, connRes)

	// Individual steps
	steps = append(steps, runListTools(ctx, session))
	steps = append(steps, runHealthCheck(ctx, session))
	steps = append(steps, runIngestChain(ctx, session))
	steps = append(steps, runIngestDuplicate(ctx, session))
	steps = append(steps, runReadGraph(ctx, session))
	steps = append(steps, runPlan(ctx, session))
	steps = append(steps, runRegisterType(ctx, session))

	// finalize report
	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if !report.Passed {
		os.Exit(1)
	}
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	if _, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runHealthCheck(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "health_check"}
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "health_check", Arguments: json.RawMessage(`{}`)}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// chainProposal seeds current -> midway -> destination over leads_to edges.
func chainProposal() apptype.IngestProposalArgs {
	return apptype.IngestProposalArgs{
		Proposal: apptype.Proposal{
			Nodes: []apptype.CandidateNode{
				{Name: "current position", Type: "state", Embedding: []float32{1, 0, 0, 0}, Confidence: 0.8,
					Properties: map[string]any{"current": true}},
				{Name: "midway", Type: "state", Embedding: []float32{0, 1, 0, 0}, Confidence: 0.8},
				{Name: "destination", Type: "state", Embedding: []float32{0, 0, 1, 0}, Confidence: 0.8,
					Properties: map[string]any{"kind": "target"}},
			},
			Edges: []apptype.CandidateEdge{
				{Source: "current position", Target: "midway", Relation: "leads_to", Confidence: 0.9},
				{Source: "midway", Target: "destination", Relation: "leads_to", Confidence: 0.9},
			},
		},
	}
}

func runIngestChain(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "ingest_proposal"}
	raw, _ := json.Marshal(chainProposal())
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "ingest_proposal", Arguments: json.RawMessage(raw)}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// runIngestDuplicate re-sends the same chain; dedup must match, not create.
func runIngestDuplicate(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "ingest_duplicate"}
	raw, _ := json.Marshal(chainProposal())
	out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "ingest_proposal", Arguments: json.RawMessage(raw)})
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		res.ElapsedMs = elapsedMsSince(t0)
		return res
	}
	var result apptype.IngestResult
	if sc, ok := out.StructuredContent.(map[string]any); ok {
		b, _ := json.Marshal(sc)
		_ = json.Unmarshal(b, &result)
	}
	if len(result.CreatedNodeIDs) != 0 {
		res.Success = false
		res.Error = fmt.Sprintf("duplicate ingest created %d nodes", len(result.CreatedNodeIDs))
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runReadGraph(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "read_graph"}
	args := apptype.ReadGraphArgs{Limit: 10}
	raw, _ := json.Marshal(args)
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "read_graph", Arguments: json.RawMessage(raw)}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runPlan(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "plan"}
	args := apptype.PlanArgs{
		Goal: apptype.GoalCondition{Type: "state", Properties: map[string]any{"kind": "target"}},
	}
	raw, _ := json.Marshal(args)
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "plan", Arguments: json.RawMessage(raw)}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runRegisterType(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "register_type"}
	args := apptype.RegisterTypeArgs{Name: "waypoint", Parent: "state"}
	raw, _ := json.Marshal(args)
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "register_type", Arguments: json.RawMessage(raw)}); err != nil {
		res.Success = false
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
