package outbox

import (
	"context"
	"time"

	"github.com/smallbiznis/previsora/internal/config"
	"github.com/smallbiznis/previsora/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sink delivers a drained event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// LogSink is the default delivery target: it emits the event as a structured
// log line. Deployments wire a real broker sink in its place.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) Sink {
	return &LogSink{log: log.Named("outbox.sink")}
}

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.log.Info("event delivered",
		zap.String("topic", event.Topic),
		zap.String("event_id", event.ID.String()),
	)
	return nil
}

type DrainerParams struct {
	fx.In

	Outbox *Outbox
	Log    *zap.Logger
	Config config.Config
	Sink   Sink
}

// Drainer is the background worker moving pending events to their sink with
// bounded attempts and exponential backoff between sweeps.
type Drainer struct {
	outbox      *Outbox
	log         *zap.Logger
	sink        Sink
	batchSize   int
	maxAttempts int
	interval    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDrainer(p DrainerParams) *Drainer {
	return &Drainer{
		outbox:      p.Outbox,
		log:         p.Log.Named("outbox.drainer"),
		sink:        p.Sink,
		batchSize:   p.Config.OutboxBatchSize,
		maxAttempts: p.Config.OutboxMaxAttempts,
		interval:    5 * time.Second,
	}
}

func (d *Drainer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		backoff := d.interval
		for {
			n, err := d.DrainOnce(ctx)
			if err != nil {
				d.log.Warn("drain sweep failed", zap.Error(err))
			}
			if n > 0 {
				backoff = d.interval
			} else if backoff < time.Minute {
				backoff *= 2
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

func (d *Drainer) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// DrainOnce delivers one batch and returns how many events were sent.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	events, err := d.outbox.Pending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if deliverErr := d.sink.Deliver(ctx, event); deliverErr != nil {
			metrics.Billing().IncOutboxDelivered("error")
			attempt := event.Attempts + 1
			d.log.Warn("event delivery failed",
				zap.String("event_id", event.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(deliverErr),
			)
			if markErr := d.outbox.MarkAttemptFailed(ctx, event.ID, attempt, d.maxAttempts, deliverErr); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, event.ID, time.Now().UTC()); err != nil {
			return sent, err
		}
		metrics.Billing().IncOutboxDelivered("sent")
		sent++
	}
	return sent, nil
}

func registerDrainer(lc fx.Lifecycle, d *Drainer) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			d.Stop()
			return nil
		},
	})
}
