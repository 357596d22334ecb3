package metrics_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveReceived("new-request", metrics.OutcomeEnqueued)
	m.ObserveReceived("new-request", metrics.OutcomeEnqueued)
	m.ObserveReceived("new-request", metrics.OutcomeRejected)
	m.SetQueueDepth("new-request", 7)
	m.ObservePush("new-request", metrics.OutcomeFailed, 20*time.Millisecond)
	m.ObservePush("update-sample", metrics.OutcomeSkipped, 0)
	m.ObserveFailureRecord("new-request")
	m.ObserveFailureSinkError()
	m.ObserveWorkerPanic("new-request")
	m.SetBreakerState("new-request", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("new-request", metrics.OutcomeEnqueued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("new-request", metrics.OutcomeRejected)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("new-request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushesTotal.WithLabelValues("new-request", metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailureRecords.WithLabelValues("new-request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailureSinkErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerPanics.WithLabelValues("new-request")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("new-request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushesTotal.WithLabelValues("update-sample", metrics.OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PushDuration), "skipped pushes are not timed")
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewMetrics(reg)
	require.NoError(t, err)
	_, err = metrics.NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveReceived("t", metrics.OutcomeEnqueued)
		m.SetQueueDepth("t", 1)
		m.ObservePush("d", metrics.OutcomeDelivered, time.Second)
		m.ObserveFailureRecord("d")
		m.ObserveFailureSinkError()
		m.ObserveWorkerPanic("t")
		m.SetBreakerState("d", 1)
	})
}
