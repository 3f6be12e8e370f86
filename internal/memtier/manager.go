// Package memtier manages the memory lifecycle: which tier an entry
// lives in, when it is promoted or demoted, and when expired or
// decayed entries are evicted.
package memtier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
)

// Deleter removes an entry from every store it lives in. The
// synchronizer satisfies this.
type Deleter interface {
	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, id string) error
}

// Manager applies tier transitions and eviction policy over the graph
// store. Every transition is audit-logged with the actor and reason.
type Manager struct {
	store   *graphstore.Store
	deleter Deleter
	policy  SaliencePolicy
	cfg     *config.Config
	logger  *zap.Logger
}

// New builds a Manager. A nil policy falls back to the default
// salience policy.
func New(store *graphstore.Store, deleter Deleter, policy SaliencePolicy, cfg *config.Config, logger *zap.Logger) *Manager {
	if policy == nil {
		policy = NewDefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, deleter: deleter, policy: policy, cfg: cfg, logger: logger}
}

// Adjacent tier transitions only; skipping a tier is invalid in both
// directions.
var transitions = map[apptype.Tier]map[apptype.Tier]bool{
	apptype.TierEphemeral: {apptype.TierShortTerm: true},
	apptype.TierShortTerm: {apptype.TierCanonical: true, apptype.TierEphemeral: true},
	apptype.TierCanonical: {apptype.TierShortTerm: true},
}

type entry struct {
	id         string
	tier       apptype.Tier
	confidence float64
	evidence   int
	isEdge     bool
}

func (m *Manager) load(ctx context.Context, id string) (*entry, error) {
	if n, err := m.store.GetNode(ctx, id); err == nil {
		return &entry{id: id, tier: n.Status, confidence: n.Confidence, evidence: n.EvidenceCount}, nil
	} else if !errors.Is(err, apptype.ErrNotFound) {
		return nil, err
	}
	e, err := m.store.GetEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entry{id: id, tier: e.Status, confidence: e.Confidence, evidence: e.EvidenceCount, isEdge: true}, nil
}

func (m *Manager) setTier(ctx context.Context, ent *entry, target apptype.Tier) error {
	expires := m.expiryFor(target)
	if ent.isEdge {
		return m.store.SetEdgeTier(ctx, ent.id, target, expires)
	}
	return m.store.SetNodeTier(ctx, ent.id, target, expires)
}

// expiryFor returns the TTL deadline for a tier. Canonical entries do
// not expire.
func (m *Manager) expiryFor(tier apptype.Tier) *time.Time {
	var ttl time.Duration
	switch tier {
	case apptype.TierEphemeral:
		ttl = m.cfg.EphemeralTTL
	case apptype.TierShortTerm:
		ttl = m.cfg.ShortTermTTL
	default:
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

// Promote moves an entry up one tier. Promotion into the canonical
// tier additionally requires the configured confidence and evidence
// thresholds regardless of who asks.
func (m *Manager) Promote(ctx context.Context, id string, target apptype.Tier, actor, reason string) error {
	ent, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if !transitions[ent.tier][target] || rank(target) <= rank(ent.tier) {
		return fmt.Errorf("promote %q from %s to %s: %w", id, ent.tier, target, apptype.ErrInvalidTransition)
	}
	if target == apptype.TierCanonical {
		if ent.confidence < m.cfg.PromoteConfidence || ent.evidence < m.cfg.PromoteMinEvidence {
			return fmt.Errorf("promote %q to canonical: confidence %.2f/%d evidence below %.2f/%d: %w",
				id, ent.confidence, ent.evidence, m.cfg.PromoteConfidence, m.cfg.PromoteMinEvidence,
				apptype.ErrInvalidTransition)
		}
	}
	if err := m.setTier(ctx, ent, target); err != nil {
		return err
	}
	m.audit("promote", ent, target, actor, reason)
	return nil
}

// Demote moves an entry down one tier.
func (m *Manager) Demote(ctx context.Context, id string, target apptype.Tier, actor, reason string) error {
	ent, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if !transitions[ent.tier][target] || rank(target) >= rank(ent.tier) {
		return fmt.Errorf("demote %q from %s to %s: %w", id, ent.tier, target, apptype.ErrInvalidTransition)
	}
	if err := m.setTier(ctx, ent, target); err != nil {
		return err
	}
	m.audit("demote", ent, target, actor, reason)
	return nil
}

func (m *Manager) audit(op string, ent *entry, target apptype.Tier, actor, reason string) {
	m.logger.Info("tier transition",
		zap.String("op", op),
		zap.String("id", ent.id),
		zap.String("from", string(ent.tier)),
		zap.String("to", string(target)),
		zap.String("actor", actor),
		zap.String("reason", reason))
}

// Reinforce records fresh supporting evidence for an entry: evidence
// count and confidence rise and the tier TTL restarts. Recurring
// ephemeral entries that now meet the salience policy's criteria are
// promoted to short-term with an audited transition.
func (m *Manager) Reinforce(ctx context.Context, id string) error {
	ent, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	confidence := ent.confidence + (1-ent.confidence)*0.1
	evidence := ent.evidence + 1
	if ent.isEdge {
		if err := m.store.SetEdgeConfidence(ctx, id, confidence, evidence); err != nil {
			return err
		}
	} else {
		if err := m.store.SetNodeConfidence(ctx, id, confidence, evidence); err != nil {
			return err
		}
	}
	tier := ent.tier
	if next := m.policy.ReinforceTier(ent.tier, confidence, evidence); next != ent.tier && transitions[ent.tier][next] {
		tier = next
		m.audit("promote", ent, next, "salience-policy", "recurrence criteria met")
	}
	return m.setTier(ctx, ent, tier)
}

// Sweep evicts entries whose TTL elapsed. Expired edges go first so a
// node eviction's cascade does not race them. Returns the evicted ids.
func (m *Manager) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	var evicted []string

	edgeIDs, err := m.store.ExpiredEdgeIDs(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, id := range edgeIDs {
		if err := m.deleter.DeleteEdge(ctx, id); err != nil && !errors.Is(err, apptype.ErrNotFound) {
			return evicted, err
		}
		evicted = append(evicted, id)
	}

	nodeIDs, err := m.store.ExpiredNodeIDs(ctx, now)
	if err != nil {
		return evicted, err
	}
	for _, id := range nodeIDs {
		if err := m.deleter.DeleteNode(ctx, id); err != nil && !errors.Is(err, apptype.ErrNotFound) {
			return evicted, err
		}
		evicted = append(evicted, id)
	}

	if len(evicted) > 0 {
		m.logger.Info("swept expired entries", zap.Int("count", len(evicted)))
	}
	return evicted, nil
}

// Decay multiplies non-canonical confidence by the configured factor
// and evicts entries that fall below the floor. Returns the evicted
// node ids.
func (m *Manager) Decay(ctx context.Context) ([]string, error) {
	ids, err := m.store.DecayNodeConfidence(ctx, m.cfg.DecayFactor, m.cfg.DecayFloor)
	if err != nil {
		return nil, err
	}
	var evicted []string
	for _, id := range ids {
		if err := m.deleter.DeleteNode(ctx, id); err != nil && !errors.Is(err, apptype.ErrNotFound) {
			return evicted, err
		}
		evicted = append(evicted, id)
	}
	if len(evicted) > 0 {
		m.logger.Info("evicted decayed entries", zap.Int("count", len(evicted)))
	}
	return evicted, nil
}

func rank(t apptype.Tier) int {
	switch t {
	case apptype.TierEphemeral:
		return 0
	case apptype.TierShortTerm:
		return 1
	case apptype.TierCanonical:
		return 2
	}
	return -1
}
