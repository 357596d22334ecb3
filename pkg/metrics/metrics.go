package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeEnqueued    = "enqueued"
	OutcomeRejected    = "rejected"
	OutcomeDecodeError = "decode_error"

	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing,
// so components can be constructed without a registry in tests.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	WorkerPanics      *prometheus.CounterVec
	PushesTotal       *prometheus.CounterVec
	PushDuration      *prometheus.HistogramVec
	FailureRecords    *prometheus.CounterVec
	FailureSinkErrors prometheus.Counter
	BreakerState      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpt_gateway_messages_received_total",
				Help: "Bus messages handed to the dispatch layer, by topic and outcome (count)",
			},
			[]string{"topic", "outcome"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpt_gateway_queue_depth",
				Help: "Messages waiting in a topic pipeline's queue (count)",
			},
			[]string{"topic"},
		),
		WorkerPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpt_gateway_worker_panics_total",
				Help: "Panics recovered inside pipeline workers (count)",
			},
			[]string{"topic"},
		),
		PushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpt_gateway_pushes_total",
				Help: "Record pushes by destination and outcome (count)",
			},
			[]string{"destination", "outcome"},
		),
		PushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cpt_gateway_push_duration_ms",
				Help:    "Record push duration including token fetch, in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"destination"},
		),
		FailureRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpt_gateway_failure_records_total",
				Help: "Failure records written to the failure log (count)",
			},
			[]string{"destination"},
		),
		FailureSinkErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cpt_gateway_failure_sink_errors_total",
				Help: "Failure records that could not be written; each one is a lost audit entry (count)",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpt_gateway_breaker_state",
				Help: "Circuit breaker state per destination (0=closed, 1=half-open, 2=open)",
			},
			[]string{"destination"},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.MessagesReceived, m.QueueDepth, m.WorkerPanics, m.PushesTotal,
		m.PushDuration, m.FailureRecords, m.FailureSinkErrors, m.BreakerState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveReceived(topic, outcome string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(topic string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(topic).Set(float64(depth))
}

func (m *Metrics) ObserveWorkerPanic(topic string) {
	if m == nil {
		return
	}
	m.WorkerPanics.WithLabelValues(topic).Inc()
}

func (m *Metrics) ObservePush(destination, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PushesTotal.WithLabelValues(destination, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.PushDuration.WithLabelValues(destination).Observe(float64(elapsed.Milliseconds()))
	}
}

func (m *Metrics) ObserveFailureRecord(destination string) {
	if m == nil {
		return
	}
	m.FailureRecords.WithLabelValues(destination).Inc()
}

func (m *Metrics) ObserveFailureSinkError() {
	if m == nil {
		return
	}
	m.FailureSinkErrors.Inc()
}

// SetBreakerState records state as 0 (closed), 1 (half-open) or 2 (open).
func (m *Metrics) SetBreakerState(destination string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(destination).Set(float64(state))
}
