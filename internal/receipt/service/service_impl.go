package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/previsora/internal/config"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	"github.com/smallbiznis/previsora/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/previsora/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Config    config.Config
	Generator receiptdomain.Generator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	secret      []byte
	association string
	generator   receiptdomain.Generator
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("receipt.service"),
		genID:       p.GenID,
		secret:      []byte(p.Config.ReceiptSecret),
		association: p.Config.AppName,
		generator:   p.Generator,
	}
}

// CreateTx issues the receipt for a payment on the caller's transaction.
// The record always lands; PDF rendering is best-effort and a failure is
// recorded on the row instead of propagating.
func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, member *memberdomain.Member, lines []receiptdomain.PeriodLine, at time.Time) (*receiptdomain.Receipt, error) {
	number, err := s.nextNumberTx(ctx, tx, at.Year())
	if err != nil {
		return nil, err
	}

	qr, err := buildQRPayload(number, payment, at)
	if err != nil {
		return nil, err
	}

	receipt := &receiptdomain.Receipt{
		ID:        s.genID.Generate(),
		PaymentID: payment.ID,
		Number:    number,
		QRPayload: qr,
		Signature: s.sign(qr),
		CreatedAt: at,
	}

	data := receiptdomain.Data{
		Number:      number,
		MemberName:  member.Name,
		GroupID:     member.GroupID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Method:      string(payment.Method),
		PaidAt:      at,
		Periods:     lines,
		QRPayload:   qr,
		Signature:   receipt.Signature,
		Association: s.association,
	}
	location, url, genErr := s.generator.Generate(ctx, data)
	if genErr != nil {
		receipt.GenerationError = genErr.Error()
		metrics.Billing().IncReceiptFailure()
		s.log.Warn("receipt generation failed, record kept without file",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(genErr),
		)
	} else {
		receipt.FileLocation = location
		receipt.FileURL = url
	}

	if err := tx.WithContext(ctx).Create(receipt).Error; err != nil {
		return nil, err
	}
	return receipt, nil
}

// FindByPayment returns the receipt for a payment, or nil.
func (s *Service) FindByPayment(ctx context.Context, paymentID snowflake.ID) (*receiptdomain.Receipt, error) {
	var receipt receiptdomain.Receipt
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&receipt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Void marks a receipt voided; the row itself is never deleted.
func (s *Service) Void(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Model(&receiptdomain.Receipt{}).
		Where("id = ?", id).
		Update("voided", true).Error
}

// nextNumberTx bumps the year-scoped sequence and formats the number. The
// upsert-then-read runs on the caller's transaction so concurrent postings
// serialize on the sequence row.
func (s *Service) nextNumberTx(ctx context.Context, tx *gorm.DB, year int) (string, error) {
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO receipt_sequences (year, last_value, updated_at)
		 VALUES (?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT (year) DO UPDATE SET
		   last_value = receipt_sequences.last_value + 1,
		   updated_at = CURRENT_TIMESTAMP`,
		year,
	).Error; err != nil {
		return "", err
	}

	var value int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT last_value FROM receipt_sequences WHERE year = ?`, year,
	).Scan(&value).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("RC-%d-%06d", year, value), nil
}

// buildQRPayload serializes the canonical receipt fields. Key order is fixed
// by the struct so signatures are reproducible.
func buildQRPayload(number string, payment *paymentdomain.Payment, at time.Time) (string, error) {
	canonical := struct {
		Number   string `json:"number"`
		Payment  string `json:"payment"`
		Member   string `json:"member"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		PaidAt   string `json:"paid_at"`
	}{
		Number:   number,
		Payment:  payment.ID.String(),
		Member:   payment.MemberID.String(),
		Amount:   payment.Amount,
		Currency: payment.Currency,
		PaidAt:   at.UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a QR payload against its signature.
func (s *Service) Verify(payload, signature string) bool {
	expected := s.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var Module = fx.Module("receipt.service",
	fx.Provide(NewService),
)
