package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/dispatch"
	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopics() []dispatch.TopicConfig {
	return []dispatch.TopicConfig{
		{Name: "new-request", Subscription: "cmo-new-request", Destination: "new-request", Workers: 2},
		{Name: "update-sample", Destination: "update-sample", Workers: 1},
	}
}

func newTestOrchestrator(t *testing.T, pusher dispatch.RecordPusher, m *metrics.Metrics) *dispatch.Orchestrator {
	t.Helper()
	cfg := dispatch.NewOrchestratorConfigDefaults()
	cfg.Topics = testTopics()
	cfg.PollInterval = 10 * time.Millisecond
	o, err := dispatch.NewOrchestrator(cfg, pusher, m, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func shutdownWithin(t *testing.T, o *dispatch.Orchestrator, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}

func TestOrchestrator_InitializeSubscribesEveryTopic(t *testing.T) {
	o := newTestOrchestrator(t, &recordingPusher{}, nil)
	bus := newFakeBus()

	assert.False(t, o.Ready())
	require.NoError(t, o.Initialize(context.Background(), bus))
	assert.True(t, o.Ready())
	assert.Equal(t, []string{"cmo-new-request", "update-sample"}, bus.Subscriptions(), "subscription defaults to the topic name")

	shutdownWithin(t, o, time.Second)
	assert.False(t, o.Ready())
}

func TestOrchestrator_SecondInitializeIsRejected(t *testing.T) {
	pusher := &recordingPusher{}
	o := newTestOrchestrator(t, pusher, nil)
	bus := newFakeBus()
	ctx := context.Background()
	require.NoError(t, o.Initialize(ctx, bus))

	err := o.Initialize(ctx, bus)
	assert.ErrorIs(t, err, dispatch.ErrAlreadyInitialized)
	assert.Len(t, bus.Subscriptions(), 2, "no duplicate subscriptions")

	// The running pipelines still work.
	require.NoError(t, o.Enqueue("new-request", `{"requestId":"R1"}`))
	assert.Eventually(t, func() bool { return pusher.Count() == 1 }, time.Second, 5*time.Millisecond)
	shutdownWithin(t, o, time.Second)
}

func TestOrchestrator_ShutdownBeforeInitialize(t *testing.T) {
	o := newTestOrchestrator(t, &recordingPusher{}, nil)
	assert.ErrorIs(t, o.Shutdown(context.Background()), dispatch.ErrNotInitialized)
}

func TestOrchestrator_SubscribesOnlyAfterWorkersCheckIn(t *testing.T) {
	// Arrange
	var mu sync.Mutex
	checkedIn := map[string]int{}
	cfg := dispatch.NewOrchestratorConfigDefaults()
	cfg.Topics = testTopics()
	cfg.OnWorkerStart = func(topic string, _ int) {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		checkedIn[topic]++
		mu.Unlock()
	}
	o, err := dispatch.NewOrchestrator(cfg, &recordingPusher{}, nil, zerolog.Nop())
	require.NoError(t, err)

	workers := map[string]int{"cmo-new-request": 2, "update-sample": 1}
	topicOf := map[string]string{"cmo-new-request": "new-request", "update-sample": "update-sample"}
	bus := newFakeBus()
	bus.onSubscribe = func(subscription string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, workers[subscription], checkedIn[topicOf[subscription]],
			"all workers of %s must check in before it is subscribed", subscription)
	}

	// Act / Assert
	require.NoError(t, o.Initialize(context.Background(), bus))
	shutdownWithin(t, o, time.Second)
}

func TestOrchestrator_DeliveryDecodesAndEnqueues(t *testing.T) {
	pusher := &recordingPusher{}
	m, err := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	o := newTestOrchestrator(t, pusher, m)
	bus := newFakeBus()
	ctx := context.Background()
	require.NoError(t, o.Initialize(ctx, bus))

	require.NoError(t, bus.Deliver(ctx, "cmo-new-request", []byte(`"{\"requestId\":\"R1\"}"`)))
	require.NoError(t, bus.Deliver(ctx, "update-sample", []byte(`"{\"primaryId\":\"S1\"}"`)))
	shutdownWithin(t, o, time.Second)

	calls := pusher.Calls()
	require.Len(t, calls, 2)
	byDest := map[string]string{}
	for _, c := range calls {
		byDest[c.Destination] = c.Payload
	}
	assert.Equal(t, `{"requestId":"R1"}`, byDest["new-request"])
	assert.Equal(t, `{"primaryId":"S1"}`, byDest["update-sample"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("new-request", metrics.OutcomeEnqueued)))
}

func TestOrchestrator_DecodeErrorIsDropped(t *testing.T) {
	pusher := &recordingPusher{}
	m, err := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	o := newTestOrchestrator(t, pusher, m)
	bus := newFakeBus()
	ctx := context.Background()
	require.NoError(t, o.Initialize(ctx, bus))

	err = bus.Deliver(ctx, "cmo-new-request", []byte(`{"requestId":"R1"}`))
	assert.NoError(t, err, "a bad payload must not fail the subscription")
	require.NoError(t, bus.Deliver(ctx, "cmo-new-request", []byte(`"{\"requestId\":\"R2\"}"`)))
	shutdownWithin(t, o, time.Second)

	calls := pusher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `{"requestId":"R2"}`, calls[0].Payload)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("new-request", metrics.OutcomeDecodeError)))
}

func TestOrchestrator_RejectsAfterShutdown(t *testing.T) {
	pusher := &recordingPusher{}
	o := newTestOrchestrator(t, pusher, nil)
	bus := newFakeBus()
	ctx := context.Background()
	require.NoError(t, o.Initialize(ctx, bus))
	shutdownWithin(t, o, time.Second)

	err := bus.Deliver(ctx, "cmo-new-request", []byte(`"{\"requestId\":\"R1\"}"`))
	assert.ErrorIs(t, err, dispatch.ErrShuttingDown)
	assert.ErrorIs(t, o.Enqueue("update-sample", "x"), dispatch.ErrShuttingDown)
	assert.Zero(t, pusher.Count())

	// Shutdown is idempotent.
	shutdownWithin(t, o, time.Second)
}

func TestOrchestrator_ShutdownDrainsEveryPipeline(t *testing.T) {
	pusher := &recordingPusher{delay: 2 * time.Millisecond}
	o := newTestOrchestrator(t, pusher, nil)
	require.NoError(t, o.Initialize(context.Background(), newFakeBus()))

	for i := 0; i < 30; i++ {
		require.NoError(t, o.Enqueue("new-request", "a"))
		require.NoError(t, o.Enqueue("update-sample", "b"))
	}
	shutdownWithin(t, o, 5*time.Second)

	assert.Equal(t, 60, pusher.Count())
	for _, s := range o.Stats() {
		assert.Zero(t, s.Depth, s.Topic)
		assert.Equal(t, uint64(30), s.Processed, s.Topic)
	}
}

func TestOrchestrator_EnqueueUnknownTopic(t *testing.T) {
	o := newTestOrchestrator(t, &recordingPusher{}, nil)
	assert.ErrorIs(t, o.Enqueue("cohort", "x"), dispatch.ErrUnknownTopic)
}

func TestOrchestrator_SubscribeFailure(t *testing.T) {
	o := newTestOrchestrator(t, &recordingPusher{}, nil)
	bus := newFakeBus()
	bus.subscribeErr = errors.New("subscription does not exist")

	err := o.Initialize(context.Background(), bus)
	assert.Error(t, err)
	assert.False(t, o.Ready())
	shutdownWithin(t, o, time.Second)
}

func TestOrchestrator_Stats(t *testing.T) {
	o := newTestOrchestrator(t, &recordingPusher{}, nil)
	stats := o.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "new-request", stats[0].Topic)
	assert.Equal(t, 2, stats[0].Workers)
	assert.Equal(t, "update-sample", stats[1].Topic)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	pusher := &recordingPusher{}
	_, err := dispatch.NewOrchestrator(dispatch.OrchestratorConfig{}, pusher, nil, zerolog.Nop())
	assert.Error(t, err)

	dup := dispatch.OrchestratorConfig{Topics: []dispatch.TopicConfig{
		{Name: "a", Destination: "d", Workers: 1},
		{Name: "a", Destination: "d", Workers: 1},
	}}
	_, err = dispatch.NewOrchestrator(dup, pusher, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "duplicate")

	_, err = dispatch.NewOrchestrator(dispatch.OrchestratorConfig{Topics: testTopics()}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	testCases := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "json string", data: `"{\"requestId\":\"R1\"}"`, want: `{"requestId":"R1"}`},
		{name: "plain string", data: `"hello"`, want: "hello"},
		{name: "object", data: `{"requestId":"R1"}`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dispatch.DecodePayload([]byte(tc.data))
			if tc.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
