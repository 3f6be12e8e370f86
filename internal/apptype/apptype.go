package apptype

import "time"

// Collection identifies a semantic partition of the vector index.
type Collection string

const (
	CollectionEntity  Collection = "entity"
	CollectionConcept Collection = "concept"
	CollectionState   Collection = "state"
	CollectionProcess Collection = "process"
	CollectionEdge    Collection = "edge"
)

// Collections lists every valid partition, in a stable order.
func Collections() []Collection {
	return []Collection{CollectionEntity, CollectionConcept, CollectionState, CollectionProcess, CollectionEdge}
}

// Tier is the persistence/trust level of a memory entry.
type Tier string

const (
	TierEphemeral Tier = "ephemeral"
	TierShortTerm Tier = "short_term"
	TierCanonical Tier = "canonical"
)

// ValidTier reports whether s names a known tier.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierEphemeral, TierShortTerm, TierCanonical:
		return true
	}
	return false
}

// Node is the single universal record kind in the graph.
// Type definitions are nodes too, flagged by IsTypeDefinition.
type Node struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	Ancestors        []string       `json:"ancestors"`
	IsTypeDefinition bool           `json:"isTypeDefinition"`
	Properties       map[string]any `json:"properties,omitempty"`
	Status           Tier           `json:"status"`
	Confidence       float64        `json:"confidence"`
	EvidenceCount    int            `json:"evidenceCount"`
	ExpiresAt        *time.Time     `json:"expiresAt,omitempty"`
	Embedding        []float32      `json:"embedding,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Edge is a reified directed relationship between two node ids.
// (Source, Target, Relation) is unique under merge semantics.
type Edge struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	Target        string         `json:"target"`
	Relation      string         `json:"relation"`
	Confidence    float64        `json:"confidence"`
	Provenance    string         `json:"provenance,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Status        Tier           `json:"status"`
	EvidenceCount int            `json:"evidenceCount"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CandidateNode is a proposed node inside a Proposal.
type CandidateNode struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	// Salient marks the candidate as explicitly worth remembering,
	// skipping the ephemeral tier.
	Salient bool `json:"salient,omitempty"`
}

// CandidateEdge is a proposed edge inside a Proposal. Source and Target
// may be node ids or names; names are resolved during ingestion.
type CandidateEdge struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Relation   string    `json:"relation"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Provenance string    `json:"provenance,omitempty"`
}

// Proposal is a batch of candidate nodes and edges from a producer.
// It may contain duplicates of existing knowledge and unresolved references.
type Proposal struct {
	Nodes []CandidateNode `json:"nodes,omitempty"`
	Edges []CandidateEdge `json:"edges,omitempty"`
	// ContextEmbedding is the aggregate embedding of the proposal, used to
	// retrieve relevant existing records regardless of dedup outcome.
	ContextEmbedding []float32 `json:"contextEmbedding,omitempty"`
}

// ContextHit is an existing record surfaced as relevant context.
type ContextHit struct {
	ID         string     `json:"id"`
	Collection Collection `json:"collection"`
	Distance   float64    `json:"distance"`
}

// UnresolvedEdge reports a candidate edge whose endpoints could not be
// resolved. It never aborts the batch.
type UnresolvedEdge struct {
	Edge   CandidateEdge `json:"edge"`
	Reason string        `json:"reason"`
}

// IngestResult aggregates the outcome of processing one proposal.
type IngestResult struct {
	CreatedNodeIDs  []string         `json:"createdNodeIds"`
	MatchedNodeIDs  []string         `json:"matchedNodeIds"`
	EdgeIDs         []string         `json:"edgeIds"`
	RelevantContext []ContextHit     `json:"relevantContext"`
	Unresolved      []UnresolvedEdge `json:"unresolved"`
}

// GoalCondition is a pattern over node properties for the planner.
// Type and Properties match structurally; Expr, when set, is a CEL
// expression evaluated with name/type/ancestors/properties/confidence bound.
type GoalCondition struct {
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Expr       string         `json:"expr,omitempty"`
}

// PlanStep is one causal transition in a plan, licensed by EdgeID.
type PlanStep struct {
	EdgeID     string  `json:"edgeId"`
	FromNodeID string  `json:"fromNodeId"`
	ToNodeID   string  `json:"toNodeId"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// Plan is an ordered action sequence from a satisfied start state to the
// goal. Immutable once returned; owned by the caller.
type Plan struct {
	GoalNodeID string     `json:"goalNodeId"`
	Steps      []PlanStep `json:"steps"`
}
