package outbox

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/previsora/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Outbox enqueues events; the Drainer delivers them.
type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) *Outbox {
	return &Outbox{
		db:    p.DB,
		log:   p.Log.Named("outbox"),
		genID: p.GenID,
	}
}

// PublishTx inserts an event on the caller's transaction. A duplicate dedupe
// key is silently absorbed, which makes retried workflows safe.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, topic string, payload map[string]any, dedupeKey string) error {
	var key *string
	if dedupeKey != "" {
		key = &dedupeKey
	}
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, topic, payload, dedupe_key, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		topic,
		datatypes.JSONMap(payload),
		key,
		StatusPending,
		time.Now().UTC(),
	)
	if result.Error == nil && result.RowsAffected > 0 {
		metrics.Billing().IncOutboxPublished()
	}
	return result.Error
}

// Pending claims up to limit deliverable events, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit, maxAttempts int) ([]Event, error) {
	var events []Event
	err := o.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", StatusPending, maxAttempts).
		Order("id").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkSent flips an event to sent.
func (o *Outbox) MarkSent(ctx context.Context, id snowflake.ID, at time.Time) error {
	return o.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  StatusSent,
			"sent_at": at,
		}).Error
}

// MarkAttemptFailed records a delivery failure; events that exhaust their
// attempts are parked as failed for operator inspection.
func (o *Outbox) MarkAttemptFailed(ctx context.Context, id snowflake.ID, attempt int, maxAttempts int, cause error) error {
	status := StatusPending
	if attempt >= maxAttempts {
		status = StatusFailed
	}
	return o.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempt,
			"last_error": cause.Error(),
		}).Error
}

var Module = fx.Module("outbox",
	fx.Provide(
		New,
		NewLogSink,
		NewDrainer,
	),
	fx.Invoke(registerDrainer),
)
