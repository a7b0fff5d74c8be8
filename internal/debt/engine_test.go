package debt

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/previsora/internal/clock"
	"github.com/smallbiznis/previsora/internal/config"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	paymentdomain "github.com/smallbiznis/previsora/internal/payment/domain"
	"github.com/smallbiznis/previsora/internal/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupEngine(t *testing.T, fake *clock.FakeClock) (*Engine, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&memberdomain.Member{},
		&paymentdomain.Payment{},
		&paymentdomain.Allocation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine, err := NewEngine(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		Config: config.Config{
			GoLivePeriod: "2023-01",
			GraceDueDay:  10,
		},
	})
	require.NoError(t, err)

	return engine, db, node
}

func seedMember(t *testing.T, db *gorm.DB, node *snowflake.Node, quota int64, enrolledAt time.Time) *memberdomain.Member {
	t.Helper()
	member := &memberdomain.Member{
		ID:         node.Generate(),
		GroupID:    77,
		Role:       memberdomain.RoleTitular,
		Name:       "Gonzalez, Marta",
		Active:     true,
		EnrolledAt: enrolledAt,
		IdealQuota: quota,
	}
	require.NoError(t, db.Create(member).Error)
	return member
}

func seedAllocations(t *testing.T, db *gorm.DB, node *snowflake.Node, member *memberdomain.Member, status paymentdomain.Status, amounts map[string]int64) {
	t.Helper()

	var total int64
	for _, amount := range amounts {
		total += amount
	}
	payment := &paymentdomain.Payment{
		ID:             node.Generate(),
		IdempotencyKey: node.Generate().String(),
		Kind:           paymentdomain.KindPayment,
		Method:         paymentdomain.MethodCash,
		Channel:        paymentdomain.ChannelOffice,
		Status:         status,
		Currency:       "ARS",
		Amount:         total,
		MemberID:       member.ID,
		GroupID:        member.GroupID,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, db.Create(payment).Error)

	for p, amount := range amounts {
		require.NoError(t, db.Create(&paymentdomain.Allocation{
			ID:              node.Generate(),
			PaymentID:       payment.ID,
			MemberID:        member.ID,
			Period:          p,
			Amount:          amount,
			ResultingStatus: string(StatusPaid),
			CreatedAt:       time.Now(),
		}).Error)
	}
}

func TestStatementReconstructsFromAllocations(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusPosted, map[string]int64{
		"2024-11": 1000,
		"2024-12": 500,
	})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 5)
	assert.Equal(t, StatusPaid, statement.Rows[0].Status)
	assert.Equal(t, StatusPartial, statement.Rows[1].Status)
	assert.Equal(t, int64(500), statement.Rows[1].Balance)
	assert.Equal(t, StatusDue, statement.Rows[2].Status)
	assert.Equal(t, StatusDue, statement.Rows[3].Status)
	assert.Equal(t, StatusDue, statement.Rows[4].Status)

	assert.Equal(t, 4, statement.Summary.MonthsDue)
	assert.Equal(t, int64(3500), statement.Summary.TotalBalanceDue)
	assert.False(t, statement.Summary.IsUpToDate)
}

func TestStatementIgnoresDraftAndReversedPayments(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusDraft, map[string]int64{"2025-01": 1000})
	seedAllocations(t, db, node, member, paymentdomain.StatusReversed, map[string]int64{"2025-01": 1000})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 1)
	assert.Equal(t, StatusDue, statement.Rows[0].Status)
	assert.Equal(t, int64(1000), statement.Rows[0].Balance)
}

func TestStatementSettledPaymentsCount(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusSettled, map[string]int64{"2025-01": 1000})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)
	assert.True(t, statement.Summary.IsUpToDate)
}

func TestStatementClampsToGoLive(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC))

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.NotEmpty(t, statement.Rows)
	assert.Equal(t, period.Period("2023-01"), statement.Rows[0].Period)
	assert.Len(t, statement.Rows, 3)
}

func TestStatementGraceDowngradesCurrentPeriod(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusPosted, map[string]int64{"2025-02": 1000})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 2)
	assert.Equal(t, StatusOpen, statement.Rows[1].Status)
	// The balance survives the label change.
	assert.Equal(t, int64(1000), statement.Rows[1].Balance)
	assert.True(t, statement.Summary.IsUpToDate)
}

func TestStatementGraceEndsOnDueDay(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 1)
	assert.Equal(t, StatusDue, statement.Rows[0].Status)
}

func TestStatementAdministrativeViewBypassesGrace(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1, AdministrativeView: true})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 1)
	assert.Equal(t, StatusDue, statement.Rows[0].Status)
	assert.False(t, statement.Summary.IsUpToDate)
}

func TestStatementFutureRowsAndCredit(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusPosted, map[string]int64{
		"2025-02": 1000,
		"2025-03": 1000,
		"2025-04": 400,
	})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: 1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 3)
	assert.Equal(t, period.Period("2025-04"), statement.Rows[2].Period)
	assert.Equal(t, StatusCredit, statement.Rows[2].Status)
	assert.Equal(t, int64(400), statement.Rows[2].Paid)
	assert.Equal(t, period.Period("2025-03"), statement.BaseEnd)
	assert.True(t, statement.Summary.IsUpToDate)
}

func TestStatementDefaultsToOneFuturePeriod(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	// A zero-value Opts keeps the forward-visibility row.
	statement, err := engine.Statement(context.Background(), member, Opts{})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 2)
	assert.Equal(t, period.Period("2025-04"), statement.Rows[1].Period)
	assert.Equal(t, StatusFuture, statement.Rows[1].Status)
	assert.Equal(t, period.Period("2025-03"), statement.BaseEnd)
}

func TestStatementOverpaidBasePeriodYieldsCredit(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	seedAllocations(t, db, node, member, paymentdomain.StatusPosted, map[string]int64{"2025-03": 1600})

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	assert.True(t, statement.Summary.HasCredit)
	assert.Equal(t, int64(600), statement.Summary.CreditAmount)
	assert.True(t, statement.Summary.IsUpToDate)
}

func TestStatementWindowOpts(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)
	member := seedMember(t, db, node, 1000, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	from := period.Period("2025-03")
	to := period.Period("2025-04")
	statement, err := engine.Statement(context.Background(), member, Opts{From: &from, To: &to, IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 2)
	assert.Equal(t, period.Period("2025-03"), statement.Rows[0].Period)
	assert.Equal(t, period.Period("2025-04"), statement.Rows[1].Period)
}

func TestStatementOverrideQuotaDrivesCharge(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	engine, db, node := setupEngine(t, fake)

	override := int64(2500)
	member := seedMember(t, db, node, 1000, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	member.OverrideQuota = &override
	member.UseOverride = true
	require.NoError(t, db.Save(member).Error)

	statement, err := engine.Statement(context.Background(), member, Opts{IncludeFuture: -1})
	require.NoError(t, err)

	require.Len(t, statement.Rows, 1)
	assert.Equal(t, int64(2500), statement.Rows[0].Charge)
}
