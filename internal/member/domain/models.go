package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleTitular   Role = "titular"
	RoleDependent Role = "dependent"
)

// Member is one person in a billing group. All members of a family share a
// GroupID; exactly one should carry RoleTitular. Members are never hard
// deleted from billing history, only deactivated.
type Member struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	GroupID int64        `json:"group_id" gorm:"not null;index"`
	Role    Role         `json:"role" gorm:"type:text;not null;default:'dependent'"`
	Name    string       `json:"name" gorm:"type:text;not null"`

	// BirthDate is stored as entered. Legacy rows carry placeholders like
	// "-"; Age stays unset when the value does not parse.
	BirthDate string `json:"birth_date" gorm:"type:text"`
	Age       *int   `json:"age,omitempty" gorm:""`

	Active bool `json:"active" gorm:"not null;default:true"`
	// InactiveAt is stored as entered; a value that fails to parse as a
	// date does not count as a deactivation.
	InactiveAt string `json:"inactive_at,omitempty" gorm:"type:text"`

	Cremation bool `json:"cremation" gorm:"not null;default:false"`

	EnrolledAt time.Time `json:"enrolled_at" gorm:"not null"`

	LastChargedAmount int64  `json:"last_charged_amount" gorm:"not null;default:0"`
	IdealQuota        int64  `json:"ideal_quota" gorm:"not null;default:0"`
	OverrideQuota     *int64 `json:"override_quota,omitempty" gorm:""`
	UseOverride       bool   `json:"use_override" gorm:"not null;default:false"`
	PolicyMaxAge      int    `json:"policy_max_age" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

// EffectiveQuota is the amount actually charged per period: the manual
// override when active, the computed ideal quota otherwise.
func (m *Member) EffectiveQuota() int64 {
	if m.UseOverride && m.OverrideQuota != nil {
		return *m.OverrideQuota
	}
	return m.IdealQuota
}

// IsActive applies the billing definition of active: not flagged inactive
// and carrying no parseable deactivation date. Unparseable legacy values in
// InactiveAt do not deactivate.
func (m *Member) IsActive() bool {
	if !m.Active {
		return false
	}
	if _, ok := ParseFlexibleDate(m.InactiveAt); ok {
		return false
	}
	return true
}

// ResolveAge computes the member's age from the stored birth date as of now.
// Returns false when the birth date is absent or unparseable.
func (m *Member) ResolveAge(now time.Time) (int, bool) {
	born, ok := ParseFlexibleDate(m.BirthDate)
	if !ok {
		return 0, false
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}
