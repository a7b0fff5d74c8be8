// Package debt reconstructs a member's period-by-period owed/paid state from
// the immutable allocation log. There is no persisted balance column
// anywhere: every statement is re-derived, so balances cannot drift from the
// payment history.
package debt

import (
	"context"

	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	goLive      period.Period
	graceDueDay int
}

func NewEngine(p Params) (*Engine, error) {
	goLive, err := period.Parse(p.Config.GoLivePeriod)
	if err != nil {
		return nil, err
	}
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("debt.engine"),
		clock:       p.Clock,
		goLive:      goLive,
		graceDueDay: p.Config.GraceDueDay,
	}, nil
}

// Statement reconstructs the member's period rows from go-live (or
// enrollment, whichever is later) through the target period, plus future
// periods for forward visibility.
func (e *Engine) Statement(ctx context.Context, member *memberdomain.Member, opts Opts) (*Statement, error) {
	return e.statement(ctx, e.db, member, opts)
}

// StatementTx is Statement executed on the caller's transaction. The payment
// posting flow uses it for the pre-commit re-validation read, which must be
// at least as fresh as the eventual write.
func (e *Engine) StatementTx(ctx context.Context, tx *gorm.DB, member *memberdomain.Member, opts Opts) (*Statement, error) {
	return e.statement(ctx, tx, member, opts)
}

func (e *Engine) statement(ctx context.Context, db *gorm.DB, member *memberdomain.Member, opts Opts) (*Statement, error) {
	now := e.clock.Now()
	current := period.FromTime(now)

	billableFrom := period.Max(period.FromTime(member.EnrolledAt), e.goLive)
	from := billableFrom
	if opts.From != nil {
		from = period.Max(*opts.From, billableFrom)
	}
	to := current
	if opts.To != nil {
		to = period.Min(*opts.To, current)
	}

	includeFuture := opts.IncludeFuture
	if includeFuture == 0 {
		includeFuture = 1
	}
	if includeFuture < 0 {
		includeFuture = 0
	}

	paidByPeriod, err := e.loadAllocations(ctx, db, member)
	if err != nil {
		return nil, err
	}

	quota := member.EffectiveQuota()

	base := period.Range(from, to)
	rows := make([]PeriodRow, 0, len(base)+includeFuture)
	for _, p := range base {
		rows = append(rows, classify(p, quota, paidByPeriod[string(p)]))
	}

	baseEnd := to
	next := to.Next()
	for i := 0; i < includeFuture; i++ {
		paid := paidByPeriod[string(next)]
		row := PeriodRow{Period: next, Paid: paid, Status: StatusFuture}
		if paid > 0 {
			row.Status = StatusCredit
		}
		rows = append(rows, row)
		next = next.Next()
	}

	if !opts.AdministrativeView && now.Day() < e.graceDueDay {
		for i := range rows {
			if rows[i].Period != current {
				continue
			}
			if rows[i].Status == StatusDue || rows[i].Status == StatusPartial {
				// Label only; the balance number is untouched.
				rows[i].Status = StatusOpen
			}
		}
	}

	return &Statement{
		Rows:    rows,
		Summary: summarize(rows, baseEnd),
		BaseEnd: baseEnd,
	}, nil
}

// loadAllocations sums allocation amounts per period over the member's
// posted or settled payments. Draft and reversed payments contribute
// nothing.
func (e *Engine) loadAllocations(ctx context.Context, db *gorm.DB, member *memberdomain.Member) (map[string]int64, error) {
	type row struct {
		Period string
		Total  int64
	}
	var sums []row
	err := db.WithContext(ctx).Raw(
		`SELECT a.period AS period, SUM(a.amount) AS total
		 FROM payment_allocations a
		 JOIN payments p ON p.id = a.payment_id
		 WHERE a.member_id = ? AND p.status IN (?, ?)
		 GROUP BY a.period`,
		member.ID,
		paymentdomain.StatusPosted,
		paymentdomain.StatusSettled,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(sums))
	for _, s := range sums {
		out[s.Period] = s.Total
	}
	return out, nil
}

func classify(p period.Period, charge, paid int64) PeriodRow {
	row := PeriodRow{Period: p, Charge: charge, Paid: paid}
	switch {
	case charge == 0 && paid == 0:
		row.Status = StatusPaid
	case paid <= 0 && charge > 0:
		row.Status = StatusDue
		row.Balance = charge
	case paid < charge:
		row.Status = StatusPartial
		row.Balance = charge - paid
	default:
		row.Status = StatusPaid
	}
	return row
}

func summarize(rows []PeriodRow, baseEnd period.Period) Summary {
	var s Summary
	var charged, paid int64
	for _, row := range rows {
		if row.Status == StatusDue || row.Status == StatusPartial {
			s.MonthsDue++
			if row.Balance > 0 {
				s.TotalBalanceDue += row.Balance
			}
		}
		if period.Compare(row.Period, baseEnd) <= 0 {
			charged += row.Charge
			paid += row.Paid
		}
	}
	if surplus := paid - charged; surplus > 0 {
		s.HasCredit = true
		s.CreditAmount = surplus
	}
	s.IsUpToDate = s.MonthsDue == 0
	return s
}

var Module = fx.Module("debt",
	fx.Provide(NewEngine),
)
