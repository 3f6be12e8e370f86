package memtier

import (
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
)

// SaliencePolicy decides the starting tier for a freshly ingested
// entry and whether accumulated evidence moves an entry up a tier.
// nearestDistance is the cosine distance to the closest existing
// record in the candidate's collection, or a negative value when the
// collection held nothing to compare against.
type SaliencePolicy interface {
	InitialTier(c *apptype.CandidateNode, nearestDistance float64) apptype.Tier
	// ReinforceTier returns the tier an entry should occupy after
	// fresh evidence lands. Returning the current tier means stay put.
	ReinforceTier(current apptype.Tier, confidence float64, evidence int) apptype.Tier
}

// DefaultPolicy starts most entries ephemeral. Entries flagged
// salient by the caller, arriving with high confidence, or markedly
// novel relative to the existing index skip straight to short-term.
// Ephemeral entries that keep recurring earn short-term on their own.
type DefaultPolicy struct {
	// HighConfidence is the confidence at or above which an entry is
	// considered salient on its own.
	HighConfidence float64
	// NoveltyDistance is the nearest-neighbor distance at or above
	// which an entry counts as novel.
	NoveltyDistance float64
	// RecurrenceEvidence is the evidence count at which a recurring
	// ephemeral entry is promoted to short-term.
	RecurrenceEvidence int
}

// NewDefaultPolicy returns the standard thresholds.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{HighConfidence: 0.8, NoveltyDistance: 0.6, RecurrenceEvidence: 3}
}

func (p *DefaultPolicy) InitialTier(c *apptype.CandidateNode, nearestDistance float64) apptype.Tier {
	if c.Salient {
		return apptype.TierShortTerm
	}
	if c.Confidence >= p.HighConfidence {
		return apptype.TierShortTerm
	}
	if nearestDistance >= p.NoveltyDistance {
		return apptype.TierShortTerm
	}
	return apptype.TierEphemeral
}

func (p *DefaultPolicy) ReinforceTier(current apptype.Tier, confidence float64, evidence int) apptype.Tier {
	if current != apptype.TierEphemeral {
		return current
	}
	if evidence >= p.RecurrenceEvidence || confidence >= p.HighConfidence {
		return apptype.TierShortTerm
	}
	return current
}

var _ SaliencePolicy = (*DefaultPolicy)(nil)
