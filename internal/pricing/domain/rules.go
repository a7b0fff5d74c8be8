package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AgeTier maps a minimum age to a pricing coefficient. Tiers are kept sorted
// descending by MinAge so the first satisfied tier wins.
type AgeTier struct {
	MinAge int     `json:"min_age"`
	Coef   float64 `json:"coef"`
}

// GroupRules drives the member-count factor.
type GroupRules struct {
	// Overrides fixes the factor for explicit member counts.
	Overrides map[int]float64 `json:"overrides"`
	// NeutralAt is the count at which the factor is 1.0; beyond it the
	// factor grows linearly by Step per extra member.
	NeutralAt int     `json:"neutral_at"`
	Step      float64 `json:"step"`
}

// Rules is the dynamic pricing configuration snapshot.
type Rules struct {
	BaseFee       int64      `json:"base_fee"`
	Group         GroupRules `json:"group"`
	AgeTiers      []AgeTier  `json:"age_tiers"`
	CremationCoef float64    `json:"cremation_coef"`
}

// DefaultRules returns the built-in pricing configuration.
func DefaultRules() Rules {
	return Rules{
		BaseFee: 16000,
		Group: GroupRules{
			Overrides: map[int]float64{1: 0.5, 2: 0.75, 3: 1.0},
			NeutralAt: 4,
			Step:      0.25,
		},
		AgeTiers: []AgeTier{
			{MinAge: 86, Coef: 2.0},
			{MinAge: 76, Coef: 1.75},
			{MinAge: 66, Coef: 1.375},
			{MinAge: 56, Coef: 1.25},
			{MinAge: 46, Coef: 1.125},
		},
		CremationCoef: 0.125,
	}
}

// Normalize fills gaps left by partial or legacy payloads: missing small
// count overrides fall back to defaults and age tiers are sorted so the
// highest threshold is checked first.
func (r Rules) Normalize() Rules {
	defaults := DefaultRules()

	out := r
	out.Group.Overrides = make(map[int]float64, len(r.Group.Overrides))
	for count, factor := range r.Group.Overrides {
		if count < 1 || !isFinite(factor) || factor < 0 {
			continue
		}
		out.Group.Overrides[count] = factor
	}
	for count, factor := range defaults.Group.Overrides {
		if _, ok := out.Group.Overrides[count]; !ok {
			out.Group.Overrides[count] = factor
		}
	}

	out.AgeTiers = append([]AgeTier(nil), r.AgeTiers...)
	sort.Slice(out.AgeTiers, func(i, j int) bool {
		return out.AgeTiers[i].MinAge > out.AgeTiers[j].MinAge
	})

	return out
}

// Validate collects every violated constraint. A nil return means the rules
// are safe to persist and cache.
func (r Rules) Validate() error {
	var violations []string
	if r.BaseFee <= 0 {
		violations = append(violations, "base_fee must be > 0")
	}
	if r.CremationCoef < 0 || !isFinite(r.CremationCoef) {
		violations = append(violations, "cremation_coef must be >= 0")
	}
	if r.Group.NeutralAt < 1 {
		violations = append(violations, "group.neutral_at must be >= 1")
	}
	if r.Group.Step < 0 || !isFinite(r.Group.Step) {
		violations = append(violations, "group.step must be >= 0")
	}
	if len(r.AgeTiers) == 0 {
		violations = append(violations, "age_tiers must not be empty")
	}
	for i, tier := range r.AgeTiers {
		if tier.MinAge < 0 {
			violations = append(violations, fmt.Sprintf("age_tiers[%d].min_age must be >= 0", i))
		}
		if !isFinite(tier.Coef) || tier.Coef <= 0 {
			violations = append(violations, fmt.Sprintf("age_tiers[%d].coef must be a positive finite number", i))
		}
	}
	if len(violations) > 0 {
		return &InvalidRulesError{Violations: violations}
	}
	return nil
}

// InvalidRulesError lists every constraint a rules update violated.
type InvalidRulesError struct {
	Violations []string
}

func (e *InvalidRulesError) Error() string {
	return "invalid pricing rules: " + strings.Join(e.Violations, "; ")
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// BillingSetting is a persisted configuration row keyed by name.
type BillingSetting struct {
	Key       string         `gorm:"primaryKey;type:text"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingSetting) TableName() string { return "billing_settings" }

// SettingKeyPricingRules is the settings row holding the rules payload.
const SettingKeyPricingRules = "pricing_rules"
