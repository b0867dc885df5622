package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDeliveryMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeliveryMetrics(reg)

	m.Attempt("email")
	m.Attempt("email")
	m.Retry("email")
	m.Failed("email", true, time.Millisecond)
	m.Delivered("email", time.Millisecond)
	m.DeadLettered("sms")
	m.JobRun("expire_notifications", errors.New("db down"))

	done := m.DispatchStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("email", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLetters.WithLabelValues("sms")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("expire_notifications", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestDeliveryMetrics_NilIsNoop(t *testing.T) {
	var m *DeliveryMetrics
	assert.NotPanics(t, func() {
		m.Attempt("email")
		m.DeadLettered("email")
		m.DispatchStarted()("failed")
		m.BreakerState("email", 1)
	})
}
