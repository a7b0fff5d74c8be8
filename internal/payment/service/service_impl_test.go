package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/debt"
	ledgerdomain "github.com/smallbiznis/previsora/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/previsora/internal/ledger/service"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	memberrepository "github.com/smallbiznis/previsora/internal/member/repository"
	"github.com/smallbiznis/previsora/internal/outbox"
	"github.com/smallbiznis/previsora/internal/payment/allocate"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
	receiptdomain "github.com/smallbiznis/previsora/internal/receipt/domain"
	receiptservice "github.com/smallbiznis/previsora/internal/receipt/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (g *stubGenerator) Generate(_ context.Context, data receiptdomain.Data) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return "", "", fmt.Errorf("render failed")
	}
	return "/tmp/receipts/" + data.Number + ".pdf", "http://receipts.local/" + data.Number + ".pdf", nil
}

type paymentFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	gen   *stubGenerator
	svc   *Service
}

func setupPaymentService(t *testing.T, now time.Time) *paymentFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&memberdomain.Member{},
		&paymentdomain.Payment{},
		&paymentdomain.Allocation{},
		&ledgerdomain.Entry{},
		&receiptdomain.Receipt{},
		&receiptdomain.Sequence{},
		&outbox.Event{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fake := clock.NewFakeClock(now)
	log := zap.NewNop()
	cfg := config.Config{
		GoLivePeriod:  "2023-01",
		GraceDueDay:   10,
		Currency:      "ARS",
		CarryForward:  true,
		ReceiptSecret: "test-secret",
	}

	engine, err := debt.NewEngine(debt.Params{DB: db, Log: log, Clock: fake, Config: cfg})
	require.NoError(t, err)

	gen := &stubGenerator{}
	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Config:     cfg,
		MemberRepo: memberrepository.NewRepository(memberrepository.Params{DB: db}),
		DebtEngine: engine,
		LedgerSvc:  ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node}),
		ReceiptSvc: receiptservice.NewService(receiptservice.Params{DB: db, Log: log, GenID: node, Config: cfg, Generator: gen}),
		Outbox:     outbox.New(outbox.Params{DB: db, Log: log, GenID: node}),
	})

	return &paymentFixture{db: db, node: node, clock: fake, gen: gen, svc: svc}
}

func (f *paymentFixture) seedMember(t *testing.T, quota int64, enrolledAt time.Time) *memberdomain.Member {
	t.Helper()
	member := &memberdomain.Member{
		ID:         f.node.Generate(),
		GroupID:    12,
		Role:       memberdomain.RoleTitular,
		Name:       "Ferreyra, Hugo",
		Active:     true,
		EnrolledAt: enrolledAt,
		IdealQuota: quota,
	}
	require.NoError(t, f.db.Create(member).Error)
	return member
}

func (f *paymentFixture) allocations(t *testing.T, paymentID snowflake.ID) []paymentdomain.Allocation {
	t.Helper()
	var allocs []paymentdomain.Allocation
	require.NoError(t, f.db.Where("payment_id = ?", paymentID).Order("period").Find(&allocs).Error)
	return allocs
}

func TestPostAllocatesFIFOAcrossOwedPeriods(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-fifo-1",
		MemberID:       member.ID,
		Amount:         2500,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.False(t, result.Replayed)
	assert.Equal(t, paymentdomain.StatusPosted, result.Payment.Status)
	require.NotNil(t, result.Payment.PostedAt)

	allocs := f.allocations(t, result.Payment.ID)
	require.Len(t, allocs, 3)
	assert.Equal(t, "2025-01", allocs[0].Period)
	assert.Equal(t, int64(1000), allocs[0].Amount)
	assert.Equal(t, "2025-02", allocs[1].Period)
	assert.Equal(t, int64(1000), allocs[1].Amount)
	assert.Equal(t, "2025-03", allocs[2].Period)
	assert.Equal(t, int64(500), allocs[2].Amount)
	assert.Equal(t, string(debt.StatusPartial), allocs[2].ResultingStatus)

	statement, err := f.svc.debtEngine.Statement(context.Background(), member, debt.Opts{IncludeFuture: -1, AdministrativeView: true})
	require.NoError(t, err)
	assert.Equal(t, int64(500), statement.Summary.TotalBalanceDue)
}

func TestPostWritesBalancedLedgerPair(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-ledger-1",
		MemberID:       member.ID,
		Amount:         2000,
		Method:         paymentdomain.MethodTransfer,
		Channel:        paymentdomain.ChannelBank,
	})
	require.NoError(t, err)

	entries, err := f.svc.ledgerSvc.EntriesForPayment(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var debit, credit *ledgerdomain.Entry
	for i := range entries {
		switch entries[i].Side {
		case ledgerdomain.SideDebit:
			debit = &entries[i]
		case ledgerdomain.SideCredit:
			credit = &entries[i]
		}
	}
	require.NotNil(t, debit)
	require.NotNil(t, credit)
	assert.Equal(t, debit.Amount, credit.Amount)
	assert.Equal(t, int64(2000), debit.Amount)
	assert.Equal(t, ledgerdomain.AccountCodeBank, debit.Account)
	assert.Equal(t, ledgerdomain.AccountCodeMembershipRevenue, credit.Account)
}

func TestPostIssuesReceiptAndOutboxEvent(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-receipt-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Receipt)
	assert.Equal(t, "RC-2025-000001", result.Receipt.Number)
	assert.NotEmpty(t, result.Receipt.Signature)
	assert.True(t, f.svc.receiptSvc.Verify(result.Receipt.QRPayload, result.Receipt.Signature))

	var events []outbox.Event
	require.NoError(t, f.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, outbox.TopicPaymentPosted, events[0].Topic)
	assert.Equal(t, outbox.StatusPending, events[0].Status)
}

func TestPostZeroAmountDefaultsToEffectiveQuota(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1500, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-default-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), result.Payment.Amount)
}

func TestPostIdempotentReplayReturnsOriginal(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	req := PostRequest{
		IdempotencyKey: "post-replay-1",
		MemberID:       member.ID,
		Amount:         1000,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	}
	first, err := f.svc.Post(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Post(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	require.NotNil(t, second.Receipt)
	assert.Equal(t, first.Receipt.Number, second.Receipt.Number)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostUpToDateMemberRejected(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-utd-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)

	_, err = f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-utd-2",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrClientUpToDate)
}

func TestPostAllowPrepayCarriesForward(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-prepay-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-prepay-2",
		MemberID:       member.ID,
		Amount:         1000,
		Method:         paymentdomain.MethodAutoDebit,
		Channel:        paymentdomain.ChannelCard,
		Settled:        true,
		AllowPrepay:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSettled, result.Payment.Status)
	require.NotNil(t, result.Payment.SettledAt)

	allocs := f.allocations(t, result.Payment.ID)
	require.Len(t, allocs, 1)
	assert.Equal(t, "2025-04", allocs[0].Period)
	assert.Equal(t, int64(1000), allocs[0].Amount)
}

func TestPostManualBreakdownPinsPeriods(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-manual-1",
		MemberID:       member.ID,
		Amount:         1000,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
		Breakdown:      []paymentdomain.PeriodAmount{{Period: "2025-02", Amount: 1000}},
	})
	require.NoError(t, err)

	allocs := f.allocations(t, result.Payment.ID)
	require.Len(t, allocs, 1)
	assert.Equal(t, "2025-02", allocs[0].Period)
	assert.Equal(t, string(debt.StatusPaid), allocs[0].ResultingStatus)
}

func TestPostManualBreakdownOverpayRejected(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-overpay-1",
		MemberID:       member.ID,
		Amount:         1500,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
		Breakdown:      []paymentdomain.PeriodAmount{{Period: "2025-02", Amount: 1500}},
	})
	var overpay *paymentdomain.OverpayPeriodError
	require.ErrorAs(t, err, &overpay)
	assert.Equal(t, "2025-02", overpay.Period)
	assert.Equal(t, int64(1000), overpay.Balance)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostDraftOnlySkipsAllocationAndLedger(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-draft-1",
		MemberID:       member.ID,
		Amount:         1000,
		Method:         paymentdomain.MethodAutoDebit,
		Channel:        paymentdomain.ChannelCard,
		DraftOnly:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusDraft, result.Payment.Status)
	assert.Nil(t, result.Receipt)

	assert.Empty(t, f.allocations(t, result.Payment.ID))
	var events int64
	require.NoError(t, f.db.Model(&outbox.Event{}).Count(&events).Error)
	assert.Zero(t, events)

	// Draft rows never move balances.
	statement, err := f.svc.debtEngine.Statement(context.Background(), member, debt.Opts{AdministrativeView: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), statement.Summary.TotalBalanceDue)
}

func TestPostMemberNotFound(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))

	_, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-missing-1",
		MemberID:       f.node.Generate(),
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrMemberNotFound)
}

func TestPostNoQuota(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 0, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-noquota-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrNoQuota)
}

func TestPostReceiptRenderFailureDoesNotFailPosting(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	f.gen.fail = true

	result, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-renderfail-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Receipt)
	assert.NotEmpty(t, result.Receipt.GenerationError)
	assert.Empty(t, result.Receipt.FileLocation)
	assert.Equal(t, paymentdomain.StatusPosted, result.Payment.Status)
}

func TestReverseFlipsOriginalAndReopensDebt(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))

	posted, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-rev-1",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)

	reversed, err := f.svc.Reverse(context.Background(), posted.Payment.ID, "rev-1", "teller error")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.KindReversal, reversed.Payment.Kind)
	assert.Equal(t, int64(-1000), reversed.Payment.Amount)
	require.NotNil(t, reversed.Payment.ReversalOf)
	assert.Equal(t, posted.Payment.ID, *reversed.Payment.ReversalOf)

	original, err := f.svc.FindByID(context.Background(), posted.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusReversed, original.Status)

	statement, err := f.svc.debtEngine.Statement(context.Background(), member, debt.Opts{AdministrativeView: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), statement.Summary.TotalBalanceDue)

	receipt, err := f.svc.receiptSvc.FindByPayment(context.Background(), posted.Payment.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Voided)

	entries, err := f.svc.ledgerSvc.EntriesForPayment(context.Background(), reversed.Payment.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		if entry.Side == ledgerdomain.SideDebit {
			assert.Equal(t, ledgerdomain.AccountCodeMembershipRevenue, entry.Account)
		}
	}
}

func TestReverseIdempotentReplay(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	member := f.seedMember(t, 1000, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))

	posted, err := f.svc.Post(context.Background(), PostRequest{
		IdempotencyKey: "post-rev-2",
		MemberID:       member.ID,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
	})
	require.NoError(t, err)

	first, err := f.svc.Reverse(context.Background(), posted.Payment.ID, "rev-2", "duplicate charge")
	require.NoError(t, err)
	second, err := f.svc.Reverse(context.Background(), posted.Payment.ID, "rev-2", "duplicate charge")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	// A second reversal under a fresh key must fail: the original is no
	// longer posted.
	_, err = f.svc.Reverse(context.Background(), posted.Payment.ID, "rev-2-again", "duplicate charge")
	assert.ErrorIs(t, err, paymentdomain.ErrNotReversible)
}

func TestReversePaymentNotFound(t *testing.T) {
	f := setupPaymentService(t, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))

	_, err := f.svc.Reverse(context.Background(), f.node.Generate(), "rev-missing", "typo")
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestValidatePlanAgainstDetectsShrunkBalance(t *testing.T) {
	quota := int64(1000)
	stale := &debt.Statement{
		Rows: []debt.PeriodRow{
			{Period: "2025-01", Charge: quota, Balance: quota, Status: debt.StatusDue},
			{Period: "2025-02", Charge: quota, Balance: quota, Status: debt.StatusDue},
		},
		BaseEnd: period.Period("2025-02"),
	}
	plan, err := allocate.BuildFIFO(stale, 2000, allocate.Policy{})
	require.NoError(t, err)

	// A concurrent posting paid January in the meantime.
	fresh := &debt.Statement{
		Rows: []debt.PeriodRow{
			{Period: "2025-01", Charge: quota, Paid: quota, Status: debt.StatusPaid},
			{Period: "2025-02", Charge: quota, Balance: quota, Status: debt.StatusDue},
		},
		BaseEnd: period.Period("2025-02"),
	}
	err = validatePlanAgainst(fresh, plan, quota)
	assert.ErrorIs(t, err, paymentdomain.ErrRaceConditionOverpay)

	err = validatePlanAgainst(stale, plan, quota)
	assert.NoError(t, err)
}

func TestValidatePlanAgainstCapsCarryForward(t *testing.T) {
	quota := int64(1000)
	fresh := &debt.Statement{
		Rows: []debt.PeriodRow{
			{Period: "2025-03", Charge: quota, Paid: quota, Status: debt.StatusPaid},
			{Period: "2025-04", Paid: 800, Status: debt.StatusCredit},
		},
		BaseEnd: period.Period("2025-03"),
	}
	plan := &allocate.Plan{Lines: []allocate.Line{{Period: "2025-04", Amount: 500, ResultingStatus: debt.StatusCredit}}}

	err := validatePlanAgainst(fresh, plan, quota)
	assert.ErrorIs(t, err, paymentdomain.ErrRaceConditionOverpay)

	plan.Lines[0].Amount = 200
	assert.NoError(t, validatePlanAgainst(fresh, plan, quota))
}
