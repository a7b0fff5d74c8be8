package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindPayment    Kind = "payment"
	KindAdjustment Kind = "adjustment"
	KindReversal   Kind = "reversal"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusPosted   Status = "posted"
	StatusSettled  Status = "settled"
	StatusReversed Status = "reversed"
)

type Method string

const (
	MethodCash      Method = "cash"
	MethodTransfer  Method = "transfer"
	MethodCard      Method = "card"
	MethodAutoDebit Method = "auto_debit"
)

// Channel tells which asset account a posting debits.
type Channel string

const (
	ChannelOffice    Channel = "office"
	ChannelCollector Channel = "collector"
	ChannelBank      Channel = "bank"
	ChannelCard      Channel = "card"
)

// Payment is an immutable financial event. Only Status, PostedAt and
// SettledAt change after creation; a reversal is a separate payment of kind
// reversal pointing at the original, never a mutation of it.
type Payment struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	ExternalRef    string       `json:"external_ref,omitempty" gorm:"type:text"`

	Kind    Kind    `json:"kind" gorm:"type:text;not null;default:'payment'"`
	Method  Method  `json:"method" gorm:"type:text;not null"`
	Channel Channel `json:"channel" gorm:"type:text;not null"`
	Status  Status  `json:"status" gorm:"type:text;not null;index"`

	Currency string `json:"currency" gorm:"type:text;not null"`
	Amount   int64  `json:"amount" gorm:"not null"`

	MemberID  snowflake.ID `json:"member_id" gorm:"not null;index"`
	GroupID   int64        `json:"group_id" gorm:"not null;index"`
	GroupName string       `json:"group_name,omitempty" gorm:"type:text"`

	CollectorID    *snowflake.ID `json:"collector_id,omitempty" gorm:"index"`
	OperatorUserID *snowflake.ID `json:"operator_user_id,omitempty" gorm:""`
	CashSessionID  *snowflake.ID `json:"cash_session_id,omitempty" gorm:""`

	ReversalOf *snowflake.ID     `json:"reversal_of,omitempty" gorm:"index"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	PostedAt  *time.Time `json:"posted_at,omitempty" gorm:""`
	SettledAt *time.Time `json:"settled_at,omitempty" gorm:""`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Allocation records the application of part of a payment to one calendar
// period. Rows are append-only; period balances are always recomputed from
// them, never stored.
type Allocation struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"not null;index"`
	MemberID  snowflake.ID `json:"member_id" gorm:"not null;index"`

	Period string `json:"period" gorm:"type:text;not null;index"`
	Amount int64  `json:"amount" gorm:"not null"`
	// ResultingStatus is the period status immediately after this
	// allocation was applied, kept for receipts and audit.
	ResultingStatus string `json:"resulting_status" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Allocation) TableName() string { return "payment_allocations" }

// PeriodAmount is one line of a caller-supplied manual breakdown.
type PeriodAmount struct {
	Period string `json:"period"`
	Amount int64  `json:"amount"`
}
