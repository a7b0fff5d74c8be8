// Package allocate turns a payment amount into period allocations against a
// debt-state snapshot. Builders are pure: they never touch storage, so the
// posting transaction can re-run validation against a fresh snapshot before
// committing.
package allocate

import (
	"fmt"

	"github.com/smallbiznis/previsora/internal/debt"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
)

// Policy controls what happens to funds left over after FIFO exhausts the
// outstanding periods.
type Policy struct {
	// CarryForward applies the surplus to the next future period as a
	// partial pre-payment. When false the surplus stays unapplied on the
	// payment.
	CarryForward bool
}

// Line is one planned allocation.
type Line struct {
	Period          period.Period
	Amount          int64
	ResultingStatus debt.Status
}

// Plan is the outcome of an allocation build.
type Plan struct {
	Lines []Line
	// Remaining is the unapplied part of the payment amount.
	Remaining int64
}

// Total returns the sum of planned allocation amounts.
func (p *Plan) Total() int64 {
	var total int64
	for _, line := range p.Lines {
		total += line.Amount
	}
	return total
}

// BuildFIFO walks the snapshot's periods in chronological order, applying
// min(remaining, balance) to each period with a positive balance.
func BuildFIFO(snapshot *debt.Statement, amount int64, policy Policy) (*Plan, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	return build(snapshot, nil, amount, policy)
}

// BuildPrepay allocates FIFO like BuildFIFO but tolerates an up-to-date
// member: with nothing outstanding the whole amount carries forward to the
// next period. Auto-debit settlements use it, since the bank already took
// the money.
func BuildPrepay(snapshot *debt.Statement, amount int64, policy Policy) (*Plan, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	policy.CarryForward = true
	return build(snapshot, map[period.Period]int64{}, amount, policy)
}

// BuildManual validates a caller-supplied breakdown against the snapshot and
// applies any remainder automatically via FIFO.
func BuildManual(snapshot *debt.Statement, breakdown []paymentdomain.PeriodAmount, amount int64, policy Policy) (*Plan, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if len(breakdown) == 0 {
		return BuildFIFO(snapshot, amount, policy)
	}

	manual := make(map[period.Period]int64, len(breakdown))
	var manualTotal int64
	for _, item := range breakdown {
		p, err := period.Parse(item.Period)
		if err != nil {
			return nil, err
		}
		if _, dup := manual[p]; dup {
			return nil, fmt.Errorf("%w: %s", paymentdomain.ErrDuplicateBreakdownPeriod, p)
		}
		if item.Amount <= 0 {
			return nil, paymentdomain.ErrInvalidAmount
		}
		if period.Compare(p, snapshot.BaseEnd) > 0 {
			return nil, &paymentdomain.PeriodInFutureError{Period: string(p)}
		}
		row, ok := findRow(snapshot, p)
		if !ok {
			return nil, &paymentdomain.OverpayPeriodError{Period: string(p), Balance: 0, Requested: item.Amount}
		}
		if item.Amount > row.Balance {
			return nil, &paymentdomain.OverpayPeriodError{Period: string(p), Balance: row.Balance, Requested: item.Amount}
		}
		manual[p] = item.Amount
		manualTotal += item.Amount
	}
	if manualTotal > amount {
		return nil, &paymentdomain.BreakdownExceedsAmountError{BreakdownTotal: manualTotal, Amount: amount}
	}

	return build(snapshot, manual, amount, policy)
}

// build merges the manual lines with a FIFO pass over whatever balance and
// amount remain. Rows are walked in snapshot order, which is chronological.
func build(snapshot *debt.Statement, manual map[period.Period]int64, amount int64, policy Policy) (*Plan, error) {
	// The manual lines own their share of the amount up front; FIFO only
	// distributes what is left.
	remaining := amount
	for _, v := range manual {
		remaining -= v
	}
	plan := &Plan{}

	for _, row := range snapshot.Rows {
		if period.Compare(row.Period, snapshot.BaseEnd) > 0 {
			break
		}

		applied := manual[row.Period]
		balance := row.Balance - applied

		if balance > 0 && remaining > 0 {
			extra := min64(remaining, balance)
			applied += extra
			remaining -= extra
		}
		if applied <= 0 {
			continue
		}

		status := debt.StatusPartial
		if row.Paid+applied >= row.Charge {
			status = debt.StatusPaid
		}
		plan.Lines = append(plan.Lines, Line{Period: row.Period, Amount: applied, ResultingStatus: status})
	}

	// Pure FIFO against a clean slate has nothing to do. An explicit manual
	// request is still allowed to fall through to carry-forward (paying
	// ahead while nominally up to date).
	if len(plan.Lines) == 0 && manual == nil {
		return nil, paymentdomain.ErrNothingToAllocate
	}

	if remaining > 0 && policy.CarryForward {
		remaining = carryForward(snapshot, plan, remaining)
	}
	if len(plan.Lines) == 0 {
		return nil, paymentdomain.ErrNothingToAllocate
	}

	plan.Remaining = remaining
	return plan, nil
}

// carryForward pre-pays the first period after the base window, capped at
// that period's unpaid share of the quota so the no-overpay invariant holds
// there too. Anything beyond the cap stays unapplied.
func carryForward(snapshot *debt.Statement, plan *Plan, remaining int64) int64 {
	if len(snapshot.Rows) == 0 {
		return remaining
	}
	next := snapshot.BaseEnd.Next()
	charge := snapshot.Rows[0].Charge
	var alreadyPaid int64
	for _, row := range snapshot.Rows {
		if row.Period == next {
			alreadyPaid = row.Paid
			break
		}
	}

	room := charge - alreadyPaid
	if room <= 0 {
		return remaining
	}

	applied := min64(remaining, room)
	status := debt.StatusCredit
	if alreadyPaid+applied >= charge {
		status = debt.StatusPaid
	}
	plan.Lines = append(plan.Lines, Line{Period: next, Amount: applied, ResultingStatus: status})
	return remaining - applied
}

func findRow(snapshot *debt.Statement, p period.Period) (debt.PeriodRow, bool) {
	for _, row := range snapshot.Rows {
		if row.Period == p {
			return row, true
		}
	}
	return debt.PeriodRow{}, false
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
