package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
)

// Side represents debit or credit postings.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

type AccountCode string

const (
	// Assets
	AccountCodeCashOffice   AccountCode = "cash_office"
	AccountCodeBank         AccountCode = "bank"
	AccountCodeCardClearing AccountCode = "card_clearing"

	// Revenue
	AccountCodeMembershipRevenue AccountCode = "membership_revenue"
)

// Entry is one double-entry bookkeeping line. Every payment posts exactly
// one debit and one credit of equal amount; rows are immutable once written.
type Entry struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"not null;index;uniqueIndex:ux_ledger_payment_side,priority:1"`
	Side      Side         `json:"side" gorm:"type:text;not null;uniqueIndex:ux_ledger_payment_side,priority:2"`
	Account   AccountCode  `json:"account" gorm:"type:text;not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	PostedAt  time.Time    `json:"posted_at" gorm:"not null"`

	// Dimensional tags for reporting.
	CollectorID *snowflake.ID          `json:"collector_id,omitempty" gorm:"index"`
	GroupID     int64                  `json:"group_id" gorm:"not null;index"`
	Channel     paymentdomain.Channel  `json:"channel" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

var (
	ErrUnbalancedPair  = errors.New("ledger pair must have equal debit and credit amounts")
	ErrInvalidSide     = errors.New("ledger pair must be one debit and one credit")
	ErrInvalidAmount   = errors.New("ledger amounts must be positive")
	ErrInvalidCurrency = errors.New("ledger pair must share one currency")
)

// ValidateBalancedPair enforces the double-entry invariant on a pair.
func ValidateBalancedPair(debit, credit Entry) error {
	if debit.Side != SideDebit || credit.Side != SideCredit {
		return ErrInvalidSide
	}
	if debit.Amount <= 0 || credit.Amount <= 0 {
		return ErrInvalidAmount
	}
	if debit.Amount != credit.Amount {
		return ErrUnbalancedPair
	}
	if debit.Currency != credit.Currency {
		return ErrInvalidCurrency
	}
	return nil
}

// DebitAccountFor maps a payment channel to the asset account it increases.
func DebitAccountFor(channel paymentdomain.Channel) AccountCode {
	switch channel {
	case paymentdomain.ChannelBank:
		return AccountCodeBank
	case paymentdomain.ChannelCard:
		return AccountCodeCardClearing
	default:
		return AccountCodeCashOffice
	}
}
