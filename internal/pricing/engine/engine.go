// Package engine computes a group's ideal monthly quota from the pricing
// rules snapshot. Every function here is pure; persistence and member
// aggregation live in pricing/recompute.
package engine

import (
	"github.com/smallbiznis/previsora/internal/pricing/domain"
)

// RoundToNearest500 snaps an amount to 500-unit currency granularity:
// down to the lower multiple, up when the remainder reaches 250. This is a
// business rule applied to every computed quota, not display formatting.
func RoundToNearest500(x int64) int64 {
	if x <= 0 {
		return 0
	}
	rem := x % 500
	base := x - rem
	if rem >= 250 {
		return base + 500
	}
	return base
}

// MemberCountFactor resolves the household-size factor: explicit overrides
// first, a fixed small-household discount curve up to the neutral count,
// then linear growth of Step per member beyond it.
func MemberCountFactor(count int, rules domain.GroupRules) float64 {
	if factor, ok := rules.Overrides[count]; ok {
		return factor
	}
	if count <= rules.NeutralAt {
		switch {
		case count <= 1:
			return 0.5
		case count == 2:
			return 0.75
		default:
			return 1.0
		}
	}
	return 1 + rules.Step*float64(count-rules.NeutralAt)
}

// AgeCoefficient returns the coefficient of the first tier whose minimum age
// is satisfied. Tiers must already be sorted descending by MinAge; below the
// lowest tier the coefficient is 1.0.
func AgeCoefficient(maxAge int, tiers []domain.AgeTier) float64 {
	for _, tier := range tiers {
		if maxAge >= tier.MinAge {
			return tier.Coef
		}
	}
	return 1.0
}

// Input aggregates the active members of one group.
type Input struct {
	MemberCount    int
	MaxAge         int
	CremationCount int
}

// ComputeIdealQuota derives the recommended monthly fee for a group.
// The caller must short-circuit to 0 for empty groups; a zero-member group
// has no meaningful factor.
func ComputeIdealQuota(in Input, rules domain.Rules) int64 {
	factor := MemberCountFactor(in.MemberCount, rules.Group)
	ageCoef := AgeCoefficient(in.MaxAge, rules.AgeTiers)

	cremations := in.CremationCount
	if cremations < 0 {
		cremations = 0
	}
	cremationAddOn := float64(rules.BaseFee) * rules.CremationCoef * float64(cremations)

	raw := float64(rules.BaseFee)*factor*ageCoef + cremationAddOn
	return RoundToNearest500(int64(raw))
}
