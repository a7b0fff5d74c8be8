package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClientUpToDate is a business outcome, not a failure: nothing is
	// owed up to the current period and no manual breakdown was supplied.
	ErrClientUpToDate = errors.New("client is up to date")

	// ErrNothingToAllocate means auto-FIFO found no positive balances.
	ErrNothingToAllocate = errors.New("nothing to allocate")

	// ErrRaceConditionOverpay means a concurrent posting shrank a period
	// balance between snapshot and commit. Callers must refetch state and
	// retry the whole operation.
	ErrRaceConditionOverpay = errors.New("concurrent allocation detected, retry with fresh state")

	ErrInvalidAmount   = errors.New("payment amount must be positive")
	ErrMemberNotFound  = errors.New("member not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNoQuota         = errors.New("member has no resolvable quota")

	// ErrNotReversible means the target payment is not in a posted or
	// settled state.
	ErrNotReversible = errors.New("payment is not reversible")

	ErrDuplicateBreakdownPeriod = errors.New("duplicate period in breakdown")
)

// OverpayPeriodError names the period whose balance a breakdown line exceeds.
type OverpayPeriodError struct {
	Period    string
	Balance   int64
	Requested int64
}

func (e *OverpayPeriodError) Error() string {
	return fmt.Sprintf("allocation of %d exceeds balance %d for period %s", e.Requested, e.Balance, e.Period)
}

// PeriodInFutureError rejects manual allocations beyond the current period.
type PeriodInFutureError struct {
	Period string
}

func (e *PeriodInFutureError) Error() string {
	return fmt.Sprintf("period %s is in the future", e.Period)
}

// BreakdownExceedsAmountError rejects breakdowns summing past the payment.
type BreakdownExceedsAmountError struct {
	BreakdownTotal int64
	Amount         int64
}

func (e *BreakdownExceedsAmountError) Error() string {
	return fmt.Sprintf("breakdown total %d exceeds payment amount %d", e.BreakdownTotal, e.Amount)
}
