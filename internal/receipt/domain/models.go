package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Receipt is the 1:1 proof document for a posted payment. File fields stay
// null with GenerationError set when PDF rendering fails; a failed render
// never blocks the payment itself.
type Receipt struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"not null;uniqueIndex"`

	// Number is the human-readable year-scoped sequential identifier,
	// e.g. "RC-2025-000042".
	Number string `json:"number" gorm:"type:text;not null;uniqueIndex"`

	FileLocation string `json:"file_location,omitempty" gorm:"type:text"`
	FileURL      string `json:"file_url,omitempty" gorm:"type:text"`

	QRPayload string `json:"qr_payload" gorm:"type:text;not null"`
	Signature string `json:"signature" gorm:"type:text;not null"`

	Voided          bool   `json:"voided" gorm:"not null;default:false"`
	GenerationError string `json:"generation_error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Receipt) TableName() string { return "receipts" }

// Sequence backs the year-scoped receipt numbering.
type Sequence struct {
	Year      int       `gorm:"primaryKey"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Sequence) TableName() string { return "receipt_sequences" }

// Data is the render model handed to the PDF provider.
type Data struct {
	Number      string
	MemberName  string
	GroupID     int64
	Amount      int64
	Currency    string
	Method      string
	PaidAt      time.Time
	Periods     []PeriodLine
	QRPayload   string
	Signature   string
	Association string
}

// PeriodLine is one allocation shown on the receipt.
type PeriodLine struct {
	Period string
	Amount int64
}

// Generator renders and stores the receipt artifact. Implementations may
// fail; callers must treat failure as a data marker, never a posting error.
type Generator interface {
	Generate(ctx context.Context, data Data) (fileLocation, fileURL string, err error)
}
