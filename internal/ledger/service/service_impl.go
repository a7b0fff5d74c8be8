package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/previsora/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

// PostPaymentTx writes the balanced debit/credit pair for a posted payment
// on the caller's transaction, so the pair commits or rolls back with the
// payment itself. The insert is idempotent per (payment, side).
func (s *Service) PostPaymentTx(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, postedAt time.Time) error {
	debit := ledgerdomain.Entry{
		ID:          s.genID.Generate(),
		PaymentID:   payment.ID,
		Side:        ledgerdomain.SideDebit,
		Account:     ledgerdomain.DebitAccountFor(payment.Channel),
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		PostedAt:    postedAt,
		CollectorID: payment.CollectorID,
		GroupID:     payment.GroupID,
		Channel:     payment.Channel,
	}
	credit := ledgerdomain.Entry{
		ID:          s.genID.Generate(),
		PaymentID:   payment.ID,
		Side:        ledgerdomain.SideCredit,
		Account:     ledgerdomain.AccountCodeMembershipRevenue,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		PostedAt:    postedAt,
		CollectorID: payment.CollectorID,
		GroupID:     payment.GroupID,
		Channel:     payment.Channel,
	}

	if err := ledgerdomain.ValidateBalancedPair(debit, credit); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, entry := range []ledgerdomain.Entry{debit, credit} {
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, payment_id, side, account, amount, currency, posted_at,
				collector_id, group_id, channel, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (payment_id, side) DO NOTHING`,
			entry.ID,
			entry.PaymentID,
			string(entry.Side),
			string(entry.Account),
			entry.Amount,
			entry.Currency,
			entry.PostedAt,
			entry.CollectorID,
			entry.GroupID,
			string(entry.Channel),
			now,
		)
		if result.Error != nil {
			return result.Error
		}
	}

	s.log.Debug("posted ledger pair",
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount", payment.Amount),
		zap.String("debit_account", string(debit.Account)),
	)
	return nil
}

// PostReversalTx writes the mirror pair for a reversal: revenue is debited
// and the asset account credited, both tagged with the reversal payment.
func (s *Service) PostReversalTx(ctx context.Context, tx *gorm.DB, reversal *paymentdomain.Payment, postedAt time.Time) error {
	amount := reversal.Amount
	if amount < 0 {
		amount = -amount
	}

	now := time.Now().UTC()
	entries := []ledgerdomain.Entry{
		{
			ID:          s.genID.Generate(),
			PaymentID:   reversal.ID,
			Side:        ledgerdomain.SideDebit,
			Account:     ledgerdomain.AccountCodeMembershipRevenue,
			Amount:      amount,
			Currency:    reversal.Currency,
			PostedAt:    postedAt,
			CollectorID: reversal.CollectorID,
			GroupID:     reversal.GroupID,
			Channel:     reversal.Channel,
		},
		{
			ID:          s.genID.Generate(),
			PaymentID:   reversal.ID,
			Side:        ledgerdomain.SideCredit,
			Account:     ledgerdomain.DebitAccountFor(reversal.Channel),
			Amount:      amount,
			Currency:    reversal.Currency,
			PostedAt:    postedAt,
			CollectorID: reversal.CollectorID,
			GroupID:     reversal.GroupID,
			Channel:     reversal.Channel,
		},
	}
	if err := ledgerdomain.ValidateBalancedPair(entries[0], entries[1]); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, payment_id, side, account, amount, currency, posted_at,
				collector_id, group_id, channel, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (payment_id, side) DO NOTHING`,
			entry.ID,
			entry.PaymentID,
			string(entry.Side),
			string(entry.Account),
			entry.Amount,
			entry.Currency,
			entry.PostedAt,
			entry.CollectorID,
			entry.GroupID,
			string(entry.Channel),
			now,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

// EntriesForPayment loads the pair written for one payment.
func (s *Service) EntriesForPayment(ctx context.Context, paymentID snowflake.ID) ([]ledgerdomain.Entry, error) {
	var entries []ledgerdomain.Entry
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("side").
		Find(&entries).Error
	return entries, err
}
