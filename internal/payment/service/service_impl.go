package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/debt"
	ledgerservice "github.com/smallbiznis/previsora/internal/ledger/service"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	"github.com/smallbiznis/previsora/internal/observability/metrics"
	"github.com/smallbiznis/previsora/internal/outbox"
	"github.com/smallbiznis/previsora/internal/payment/allocate"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
	receiptdomain "github.com/smallbiznis/previsora/internal/receipt/domain"
	receiptservice "github.com/smallbiznis/previsora/internal/receipt/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	pkgdb "github.com/smallbiznis/previsora/pkg/db"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	MemberRepo memberdomain.Repository
	DebtEngine *debt.Engine
	LedgerSvc  *ledgerservice.Service
	ReceiptSvc *receiptservice.Service
	Outbox     *outbox.Outbox
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	currency   string
	policy     allocate.Policy
	memberRepo memberdomain.Repository
	debtEngine *debt.Engine
	ledgerSvc  *ledgerservice.Service
	receiptSvc *receiptservice.Service
	outbox     *outbox.Outbox
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		currency:   p.Config.Currency,
		policy:     allocate.Policy{CarryForward: p.Config.CarryForward},
		memberRepo: p.MemberRepo,
		debtEngine: p.DebtEngine,
		ledgerSvc:  p.LedgerSvc,
		receiptSvc: p.ReceiptSvc,
		outbox:     p.Outbox,
	}
}

// PostRequest describes one payment to post.
type PostRequest struct {
	IdempotencyKey string
	MemberID       snowflake.ID
	// Amount of 0 means charge the member's effective quota.
	Amount  int64
	Method  paymentdomain.Method
	Channel paymentdomain.Channel
	// Breakdown pins amounts to specific periods; the remainder is
	// allocated FIFO. An empty breakdown means pure FIFO.
	Breakdown []paymentdomain.PeriodAmount

	ExternalRef    string
	CollectorID    *snowflake.ID
	OperatorUserID *snowflake.ID
	CashSessionID  *snowflake.ID
	Metadata       map[string]any

	// Settled marks the payment settled immediately. Auto-debit files
	// arrive already settled by the processor.
	Settled bool
	// AllowPrepay carries the whole amount forward when the member is
	// already up to date instead of rejecting the posting. Used for
	// settlements where the money has already moved.
	AllowPrepay bool
	// DraftOnly records the payment as a draft audit row with no
	// allocations, ledger entries, receipt or event.
	DraftOnly bool
}

// PostResult is the committed outcome of a posting.
type PostResult struct {
	Payment *paymentdomain.Payment
	Receipt *receiptdomain.Receipt
	// Replayed is true when the idempotency key matched an existing
	// payment and nothing new was written.
	Replayed bool
}

var errReplay = fmt.Errorf("idempotent replay")

// Post validates the request, builds an allocation plan against the
// member's current statement, then persists the payment, its allocations,
// the ledger pair, the receipt and the outbox event in one transaction.
// A concurrent posting that shrinks any planned balance aborts the whole
// transaction with ErrRaceConditionOverpay.
func (s *Service) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	if existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replay(ctx, existing)
	}

	member, err := s.memberRepo.FindByID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, paymentdomain.ErrMemberNotFound
	}

	if req.DraftOnly {
		return s.postDraftOnly(ctx, req, member)
	}

	amount := req.Amount
	if amount <= 0 {
		amount = member.EffectiveQuota()
	}
	if amount <= 0 {
		return nil, paymentdomain.ErrNoQuota
	}

	// Posting always sees real delinquency; the grace-day downgrade is a
	// display rule only.
	snapshot, err := s.debtEngine.Statement(ctx, member, debt.Opts{IncludeFuture: 1, AdministrativeView: true})
	if err != nil {
		return nil, err
	}
	// Up-to-date members can only pay ahead through an explicit breakdown
	// or a settlement flow that opted into prepayment.
	if snapshot.Summary.IsUpToDate && len(req.Breakdown) == 0 && !req.AllowPrepay {
		metrics.Billing().IncPaymentRejected("up_to_date")
		return nil, paymentdomain.ErrClientUpToDate
	}

	plan, err := s.buildPlan(snapshot, req, amount)
	if err != nil {
		metrics.Billing().IncPaymentRejected(rejectionReason(err))
		return nil, err
	}

	started := time.Now()
	result := &PostResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		fresh, err := s.debtEngine.StatementTx(ctx, tx, member, debt.Opts{IncludeFuture: 1, AdministrativeView: true})
		if err != nil {
			return err
		}
		if err := validatePlanAgainst(fresh, plan, member.EffectiveQuota()); err != nil {
			return err
		}

		payment := &paymentdomain.Payment{
			ID:             s.genID.Generate(),
			IdempotencyKey: req.IdempotencyKey,
			ExternalRef:    req.ExternalRef,
			Kind:           paymentdomain.KindPayment,
			Method:         req.Method,
			Channel:        req.Channel,
			Status:         paymentdomain.StatusDraft,
			Currency:       s.currency,
			Amount:         amount,
			MemberID:       member.ID,
			GroupID:        member.GroupID,
			CollectorID:    req.CollectorID,
			OperatorUserID: req.OperatorUserID,
			CashSessionID:  req.CashSessionID,
			Metadata:       datatypes.JSONMap(req.Metadata),
			CreatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return errReplay
			}
			return err
		}

		for _, line := range plan.Lines {
			alloc := &paymentdomain.Allocation{
				ID:              s.genID.Generate(),
				PaymentID:       payment.ID,
				MemberID:        member.ID,
				Period:          string(line.Period),
				Amount:          line.Amount,
				ResultingStatus: string(line.ResultingStatus),
				CreatedAt:       now,
			}
			if err := tx.WithContext(ctx).Create(alloc).Error; err != nil {
				return err
			}
		}

		status := paymentdomain.StatusPosted
		updates := map[string]any{
			"status":    status,
			"posted_at": now,
		}
		if req.Settled {
			status = paymentdomain.StatusSettled
			updates["status"] = status
			updates["settled_at"] = now
		}
		if err := tx.WithContext(ctx).Model(payment).Updates(updates).Error; err != nil {
			return err
		}
		payment.Status = status
		payment.PostedAt = &now
		if req.Settled {
			payment.SettledAt = &now
		}

		if err := s.ledgerSvc.PostPaymentTx(ctx, tx, payment, now); err != nil {
			return err
		}

		receipt, err := s.receiptSvc.CreateTx(ctx, tx, payment, member, receiptLines(plan), now)
		if err != nil {
			return err
		}

		if err := s.outbox.PublishTx(ctx, tx, outbox.TopicPaymentPosted, paymentEventPayload(payment, plan), "payment:"+payment.ID.String()); err != nil {
			return err
		}

		result.Payment = payment
		result.Receipt = receipt
		return nil
	})
	if txErr == errReplay {
		existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, txErr
		}
		return s.replay(ctx, existing)
	}
	if txErr != nil {
		metrics.Billing().IncPaymentRejected(rejectionReason(txErr))
		return nil, txErr
	}

	metrics.Billing().IncPaymentPosted(string(result.Payment.Method), string(result.Payment.Channel))
	metrics.Billing().AddAllocations(len(plan.Lines))
	metrics.Billing().ObservePostingDuration(time.Since(started))

	s.log.Info("payment posted",
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("member_id", result.Payment.MemberID.String()),
		zap.Int64("amount", result.Payment.Amount),
		zap.Int("allocations", len(plan.Lines)),
	)
	return result, nil
}

// Reverse posts a reversal for a previously posted payment. The original
// flips to reversed, which removes its allocations from every future
// statement; the reversal row carries the negative amount for audit and
// drives the mirrored ledger pair.
func (s *Service) Reverse(ctx context.Context, paymentID snowflake.ID, idempotencyKey, reason string) (*PostResult, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	if existing, err := s.findByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replay(ctx, existing)
	}

	original, err := s.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, paymentdomain.ErrPaymentNotFound)
	}
	if original.Status != paymentdomain.StatusPosted && original.Status != paymentdomain.StatusSettled {
		return nil, fmt.Errorf("payment %s has status %s: %w", paymentID, original.Status, paymentdomain.ErrNotReversible)
	}

	result := &PostResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		reversal := &paymentdomain.Payment{
			ID:             s.genID.Generate(),
			IdempotencyKey: idempotencyKey,
			Kind:           paymentdomain.KindReversal,
			Method:         original.Method,
			Channel:        original.Channel,
			Status:         paymentdomain.StatusPosted,
			Currency:       original.Currency,
			Amount:         -original.Amount,
			MemberID:       original.MemberID,
			GroupID:        original.GroupID,
			CollectorID:    original.CollectorID,
			ReversalOf:     &original.ID,
			Metadata:       datatypes.JSONMap{"reason": reason},
			CreatedAt:      now,
			PostedAt:       &now,
		}
		if err := tx.WithContext(ctx).Create(reversal).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return errReplay
			}
			return err
		}

		if err := tx.WithContext(ctx).Model(&paymentdomain.Payment{}).
			Where("id = ? AND status IN ?", original.ID, []paymentdomain.Status{paymentdomain.StatusPosted, paymentdomain.StatusSettled}).
			Update("status", paymentdomain.StatusReversed).Error; err != nil {
			return err
		}

		if err := s.ledgerSvc.PostReversalTx(ctx, tx, reversal, now); err != nil {
			return err
		}

		receipt, err := s.receiptSvc.FindByPayment(ctx, original.ID)
		if err != nil {
			return err
		}
		if receipt != nil {
			if err := tx.WithContext(ctx).Model(receipt).Update("voided", true).Error; err != nil {
				return err
			}
		}

		if err := s.outbox.PublishTx(ctx, tx, outbox.TopicPaymentReversed, map[string]any{
			"payment_id":  original.ID.String(),
			"reversal_id": reversal.ID.String(),
			"member_id":   original.MemberID.String(),
			"amount":      original.Amount,
			"reason":      reason,
		}, "reversal:"+reversal.ID.String()); err != nil {
			return err
		}

		result.Payment = reversal
		return nil
	})
	if txErr == errReplay {
		existing, err := s.findByIdempotencyKey(ctx, idempotencyKey)
		if err != nil || existing == nil {
			return nil, txErr
		}
		return s.replay(ctx, existing)
	}
	if txErr != nil {
		return nil, txErr
	}

	s.log.Info("payment reversed",
		zap.String("payment_id", paymentID.String()),
		zap.String("reversal_id", result.Payment.ID.String()),
	)
	return result, nil
}

// FindByID loads one payment row.
func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Service) postDraftOnly(ctx context.Context, req PostRequest, member *memberdomain.Member) (*PostResult, error) {
	now := s.clock.Now()
	payment := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		IdempotencyKey: req.IdempotencyKey,
		ExternalRef:    req.ExternalRef,
		Kind:           paymentdomain.KindPayment,
		Method:         req.Method,
		Channel:        req.Channel,
		Status:         paymentdomain.StatusDraft,
		Currency:       s.currency,
		Amount:         req.Amount,
		MemberID:       member.ID,
		GroupID:        member.GroupID,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			existing, loadErr := s.findByIdempotencyKey(ctx, req.IdempotencyKey)
			if loadErr == nil && existing != nil {
				return s.replay(ctx, existing)
			}
		}
		return nil, err
	}
	return &PostResult{Payment: payment}, nil
}

func (s *Service) buildPlan(snapshot *debt.Statement, req PostRequest, amount int64) (*allocate.Plan, error) {
	if len(req.Breakdown) > 0 {
		return allocate.BuildManual(snapshot, req.Breakdown, amount, s.policy)
	}
	if req.AllowPrepay {
		return allocate.BuildPrepay(snapshot, amount, s.policy)
	}
	return allocate.BuildFIFO(snapshot, amount, s.policy)
}

// validatePlanAgainst re-checks every planned line against a snapshot read
// inside the write transaction. Any shrunk balance means a concurrent
// posting won the race.
func validatePlanAgainst(fresh *debt.Statement, plan *allocate.Plan, quota int64) error {
	rows := make(map[period.Period]debt.PeriodRow, len(fresh.Rows))
	for _, row := range fresh.Rows {
		rows[row.Period] = row
	}
	for _, line := range plan.Lines {
		row, ok := rows[line.Period]
		if !ok {
			return paymentdomain.ErrRaceConditionOverpay
		}
		if period.Compare(line.Period, fresh.BaseEnd) > 0 {
			// Carry-forward lines target the next period; the cap there is
			// the unpaid part of its quota, not a posted charge.
			if line.Amount > quota-row.Paid {
				return paymentdomain.ErrRaceConditionOverpay
			}
			continue
		}
		if line.Amount > row.Balance {
			return paymentdomain.ErrRaceConditionOverpay
		}
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrClientUpToDate):
		return "up_to_date"
	case errors.Is(err, paymentdomain.ErrRaceConditionOverpay):
		return "race"
	case errors.Is(err, paymentdomain.ErrNothingToAllocate):
		return "nothing_to_allocate"
	case errors.Is(err, paymentdomain.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}

func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&payment).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Service) replay(ctx context.Context, payment *paymentdomain.Payment) (*PostResult, error) {
	receipt, err := s.receiptSvc.FindByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PostResult{Payment: payment, Receipt: receipt, Replayed: true}, nil
}

func receiptLines(plan *allocate.Plan) []receiptdomain.PeriodLine {
	lines := make([]receiptdomain.PeriodLine, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		lines = append(lines, receiptdomain.PeriodLine{Period: string(line.Period), Amount: line.Amount})
	}
	return lines
}

func paymentEventPayload(payment *paymentdomain.Payment, plan *allocate.Plan) map[string]any {
	periods := make([]any, 0, len(plan.Lines))
	for _, line := range plan.Lines {
		periods = append(periods, map[string]any{
			"period": string(line.Period),
			"amount": line.Amount,
		})
	}
	return map[string]any{
		"payment_id": payment.ID.String(),
		"member_id":  payment.MemberID.String(),
		"group_id":   payment.GroupID,
		"amount":     payment.Amount,
		"currency":   payment.Currency,
		"method":     string(payment.Method),
		"channel":    string(payment.Channel),
		"status":     string(payment.Status),
		"periods":    periods,
	}
}
