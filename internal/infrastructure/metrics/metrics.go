// Package metrics exposes Prometheus instruments for notification delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notify"

// DeliveryMetrics groups delivery instruments. A nil *DeliveryMetrics is valid
// and records nothing.
type DeliveryMetrics struct {
	attempts         *prometheus.CounterVec
	retries          *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	failures         *prometheus.CounterVec
	deadLetters      *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	sendDuration     *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	breakerState     *prometheus.GaugeVec
	jobRuns          *prometheus.CounterVec
}

// NewDeliveryMetrics registers delivery instruments on reg.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	f := promauto.With(reg)
	return &DeliveryMetrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Send attempts per channel",
		}, []string{"channel"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_total",
			Help:      "Retries scheduled per channel",
		}, []string{"channel"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Successful deliveries per channel",
		}, []string{"channel"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed send attempts per channel",
		}, []string{"channel", "retryable"}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Deliveries that exhausted all attempts",
		}, []string{"channel"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Notification status after dispatch",
		}, []string{"status"}),
		dispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time to fan out one notification to all of its channels",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of a single sender call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatches_in_flight",
			Help:      "Notifications currently being dispatched",
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sender_circuit_state",
			Help:      "Circuit breaker state per sender (0 closed, 1 open, 2 half-open)",
		}, []string{"sender"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "outcome"}),
	}
}

func (m *DeliveryMetrics) Attempt(channel string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(channel).Inc()
}

func (m *DeliveryMetrics) Retry(channel string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(channel).Inc()
}

func (m *DeliveryMetrics) Delivered(channel string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel).Inc()
	m.sendDuration.WithLabelValues(channel).Observe(took.Seconds())
}

func (m *DeliveryMetrics) Failed(channel string, retryable bool, took time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if retryable {
		label = "true"
	}
	m.failures.WithLabelValues(channel, label).Inc()
	m.sendDuration.WithLabelValues(channel).Observe(took.Seconds())
}

func (m *DeliveryMetrics) DeadLettered(channel string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(channel).Inc()
}

// DispatchStarted increments the in-flight gauge and returns a func that
// records the outcome and duration.
func (m *DeliveryMetrics) DispatchStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(status string) {
		m.inFlight.Dec()
		m.dispatchDuration.Observe(time.Since(start).Seconds())
		m.outcomes.WithLabelValues(status).Inc()
	}
}

// BreakerState records a sender circuit state transition.
func (m *DeliveryMetrics) BreakerState(sender string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(sender).Set(float64(state))
}

// JobRun records a scheduled job run.
func (m *DeliveryMetrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}
