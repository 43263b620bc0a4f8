package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type ledgerMetrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	events    *prometheus.CounterVec
	contracts *prometheus.GaugeVec
	sequence  prometheus.Gauge

	// Exported over OTLP when telemetry is enabled.
	otelCalls metric.Int64Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// RPC returns the lazily-initialised registry recording JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "custody",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting or authorization.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC request. A zero code means the
// request succeeded.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "unauthorized".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Ledger returns the registry tracking applied calls.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Admitted calls segmented by call type and status.",
			}, []string{"type", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "custody",
				Subsystem: "ledger",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying and committing a call.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Published protocol events segmented by type.",
			}, []string{"type"}),
			contracts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "custody",
				Subsystem: "ledger",
				Name:      "contracts",
				Help:      "Deployed protocol instances segmented by kind.",
			}, []string{"kind"}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "custody",
				Subsystem: "ledger",
				Name:      "journal_sequence",
				Help:      "Sequence number of the most recent journal entry.",
			}),
		}
		meter := otel.GetMeterProvider().Meter("custodychain/ledger")
		counter, err := meter.Int64Counter("custody.ledger.calls",
			metric.WithDescription("Admitted calls segmented by call type and status."))
		if err != nil {
			counter, _ = noop.NewMeterProvider().Meter("custodychain/ledger").Int64Counter("custody.ledger.calls")
		}
		ledgerRegistry.otelCalls = counter
		prometheus.MustRegister(
			ledgerRegistry.calls,
			ledgerRegistry.latency,
			ledgerRegistry.events,
			ledgerRegistry.contracts,
			ledgerRegistry.sequence,
		)
	})
	return ledgerRegistry
}

// ObserveCall records one admitted call.
func (m *ledgerMetrics) ObserveCall(callType, status string, sequence uint64, duration time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(callType, status).Inc()
	m.latency.WithLabelValues(callType).Observe(duration.Seconds())
	m.sequence.Set(float64(sequence))
	if m.otelCalls != nil {
		m.otelCalls.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("type", callType),
			attribute.String("status", status),
		))
	}
}

// RecordEvent increments the counter for a published event type.
func (m *ledgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordDeployment increments the instance gauge for kind.
func (m *ledgerMetrics) RecordDeployment(kind string) {
	if m == nil {
		return
	}
	m.contracts.WithLabelValues(kind).Inc()
}
