package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
	"github.com/illmade-knight/go-cptgateway/pkg/gateway"
	"github.com/illmade-knight/go-cptgateway/pkg/types"
)

// --- recordingPusher ---

type pushCall struct {
	Payload     string
	Destination string
}

// recordingPusher records every push. Payloads starting with "panic" panic and
// payloads starting with "sinkfail" return a SinkError.
type recordingPusher struct {
	mu    sync.Mutex
	calls []pushCall
	delay time.Duration
}

func (p *recordingPusher) Push(_ context.Context, payload, destination string) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if strings.HasPrefix(payload, "panic") {
		panic("boom: " + payload)
	}
	p.mu.Lock()
	p.calls = append(p.calls, pushCall{Payload: payload, Destination: destination})
	p.mu.Unlock()
	if strings.HasPrefix(payload, "sinkfail") {
		return &failurelog.SinkError{Sink: "file", Err: errors.New("disk full")}
	}
	return nil
}

func (p *recordingPusher) Calls() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pushCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *recordingPusher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// --- fakeBus ---

// fakeBus is a gateway.Subscriber that hands messages straight to the registered
// handlers.
type fakeBus struct {
	mu           sync.Mutex
	handlers     map[string]gateway.Handler
	order        []string
	subscribeErr error
	onSubscribe  func(topic string)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]gateway.Handler)}
}

func (b *fakeBus) Subscribe(_ context.Context, topic string, handler gateway.Handler) error {
	if b.onSubscribe != nil {
		b.onSubscribe(topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	b.order = append(b.order, topic)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) Deliver(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + topic)
	}
	return h(ctx, types.BusMessage{ID: "m-" + topic, Topic: topic, Payload: data, PublishTime: time.Now()})
}

func (b *fakeBus) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}
