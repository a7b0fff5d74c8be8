package outbox

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Event is a transactionally-written integration event. Rows are inserted in
// the same transaction as the state change they describe and drained by the
// worker, so an event exists if and only if its source change committed.
type Event struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	Topic     string            `json:"topic" gorm:"type:text;not null;index"`
	Payload   datatypes.JSONMap `json:"payload" gorm:"type:jsonb;not null"`
	DedupeKey *string           `json:"dedupe_key,omitempty" gorm:"type:text;uniqueIndex"`
	Status    Status            `json:"status" gorm:"type:text;not null;default:'pending';index"`
	Attempts  int               `json:"attempts" gorm:"not null;default:0"`
	LastError string            `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	SentAt    *time.Time        `json:"sent_at,omitempty" gorm:""`
}

// TableName sets the database table name.
func (Event) TableName() string { return "outbox_events" }

const (
	TopicPaymentPosted   = "payment.posted"
	TopicPaymentReversed = "payment.reversed"
	TopicGroupRepriced   = "group.repriced"
)
