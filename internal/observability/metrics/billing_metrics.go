package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the const labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

// BillingMetrics captures posting and repricing health signals.
type BillingMetrics struct {
	paymentsPosted   *prometheus.CounterVec
	paymentsRejected *prometheus.CounterVec
	postingDuration  prometheus.Observer
	allocationLines  prometheus.Counter
	recomputeRuns    *prometheus.CounterVec
	recomputeSeconds prometheus.Observer
	outboxPublished  prometheus.Counter
	outboxDelivered  *prometheus.CounterVec
	receiptFailures  prometheus.Counter
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "previsora"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	paymentsPosted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "previsora_payments_posted_total",
		Help:        "Payments committed by method and channel.",
		ConstLabels: constLabels,
	}, []string{"method", "channel"})
	paymentsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "previsora_payments_rejected_total",
		Help:        "Payment postings rejected by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	postingDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "previsora_payment_posting_duration_seconds",
		Help:        "End-to-end posting transaction latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})
	allocationLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "previsora_payment_allocations_total",
		Help:        "Allocation lines written by committed postings.",
		ConstLabels: constLabels,
	})
	recomputeRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "previsora_group_recompute_total",
		Help:        "Group repricing runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	recomputeSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "previsora_group_recompute_duration_seconds",
		Help:        "Per-group repricing latency.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	})
	outboxPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "previsora_outbox_published_total",
		Help:        "Events written to the outbox table.",
		ConstLabels: constLabels,
	})
	outboxDelivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "previsora_outbox_delivered_total",
		Help:        "Outbox drain attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	receiptFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "previsora_receipt_generation_failures_total",
		Help:        "Receipts whose PDF rendering failed after the payment committed.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		paymentsPosted,
		paymentsRejected,
		postingDuration,
		allocationLines,
		recomputeRuns,
		recomputeSeconds,
		outboxPublished,
		outboxDelivered,
		receiptFailures,
	)

	return &BillingMetrics{
		paymentsPosted:   paymentsPosted,
		paymentsRejected: paymentsRejected,
		postingDuration:  postingDuration,
		allocationLines:  allocationLines,
		recomputeRuns:    recomputeRuns,
		recomputeSeconds: recomputeSeconds,
		outboxPublished:  outboxPublished,
		outboxDelivered:  outboxDelivered,
		receiptFailures:  receiptFailures,
	}
}

// IncPaymentPosted counts a committed posting.
func (m *BillingMetrics) IncPaymentPosted(method, channel string) {
	if m == nil || m.paymentsPosted == nil {
		return
	}
	m.paymentsPosted.WithLabelValues(method, channel).Inc()
}

// IncPaymentRejected counts a rejected posting by reason.
func (m *BillingMetrics) IncPaymentRejected(reason string) {
	if m == nil || m.paymentsRejected == nil {
		return
	}
	m.paymentsRejected.WithLabelValues(reason).Inc()
}

// ObservePostingDuration records posting transaction latency.
func (m *BillingMetrics) ObservePostingDuration(duration time.Duration) {
	if m == nil || m.postingDuration == nil {
		return
	}
	m.postingDuration.Observe(duration.Seconds())
}

// AddAllocations counts allocation lines written by a posting.
func (m *BillingMetrics) AddAllocations(count int) {
	if m == nil || m.allocationLines == nil || count <= 0 {
		return
	}
	m.allocationLines.Add(float64(count))
}

// IncRecompute counts one group repricing run by outcome.
func (m *BillingMetrics) IncRecompute(outcome string) {
	if m == nil || m.recomputeRuns == nil {
		return
	}
	m.recomputeRuns.WithLabelValues(outcome).Inc()
}

// ObserveRecomputeDuration records per-group repricing latency.
func (m *BillingMetrics) ObserveRecomputeDuration(duration time.Duration) {
	if m == nil || m.recomputeSeconds == nil {
		return
	}
	m.recomputeSeconds.Observe(duration.Seconds())
}

// IncOutboxPublished counts an event written to the outbox.
func (m *BillingMetrics) IncOutboxPublished() {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.Inc()
}

// IncOutboxDelivered counts a drain attempt by outcome.
func (m *BillingMetrics) IncOutboxDelivered(outcome string) {
	if m == nil || m.outboxDelivered == nil {
		return
	}
	m.outboxDelivered.WithLabelValues(outcome).Inc()
}

// IncReceiptFailure counts a failed PDF render.
func (m *BillingMetrics) IncReceiptFailure() {
	if m == nil || m.receiptFailures == nil {
		return
	}
	m.receiptFailures.Inc()
}
