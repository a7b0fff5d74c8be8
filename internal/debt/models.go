package debt

import "github.com/smallbiznis/previsora/internal/period"

type Status string

const (
	StatusDue     Status = "due"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusCredit  Status = "credit"
	StatusFuture  Status = "future"
	// StatusOpen marks the current period before the grace due day:
	// informational, not yet delinquent.
	StatusOpen Status = "open"
)

// PeriodRow is the derived state of one calendar month. Rows are computed on
// demand from the allocation log and never persisted.
type PeriodRow struct {
	Period  period.Period `json:"period"`
	Charge  int64         `json:"charge"`
	Paid    int64         `json:"paid"`
	Balance int64         `json:"balance"`
	Status  Status        `json:"status"`
}

type Summary struct {
	MonthsDue       int   `json:"months_due"`
	TotalBalanceDue int64 `json:"total_balance_due"`
	HasCredit       bool  `json:"has_credit"`
	CreditAmount    int64 `json:"credit_amount"`
	IsUpToDate      bool  `json:"is_up_to_date"`
}

// Statement is the reconstructed debt state of one member.
type Statement struct {
	Rows    []PeriodRow `json:"rows"`
	Summary Summary     `json:"summary"`
	// BaseEnd is the last non-future period in the window; rows past it
	// exist only for forward visibility.
	BaseEnd period.Period `json:"base_end"`
}

// Opts narrows or extends the reconstructed window.
type Opts struct {
	From *period.Period
	To   *period.Period
	// IncludeFuture appends N successor periods after the base window.
	// The zero value means the default of 1; negative suppresses future
	// rows entirely.
	IncludeFuture int
	// AdministrativeView disables the grace-day downgrade of the current
	// period, for flows that must see real delinquency (posting, cron).
	AdministrativeView bool
}
