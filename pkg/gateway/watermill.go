package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/illmade-knight/go-cptgateway/pkg/types"
	"github.com/rs/zerolog"
)

const metaKeyPublishedAt = "published_at"

// WatermillGatewayConfig configures the in-memory bus.
type WatermillGatewayConfig struct {
	OutputChannelBuffer int64
	// Persistent keeps messages published before a subscriber exists.
	Persistent bool
}

// WatermillGateway implements Subscriber with watermill's GoChannel. It is the
// "memory" bus: useful for local runs and for exercising the full dispatch path in tests.
type WatermillGateway struct {
	pubSub *gochannel.GoChannel
	logger zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewWatermillGateway creates an in-memory gateway.
func NewWatermillGateway(cfg WatermillGatewayConfig, logger zerolog.Logger) *WatermillGateway {
	logger = logger.With().Str("component", "WatermillGateway").Logger()
	return &WatermillGateway{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: cfg.OutputChannelBuffer,
				Persistent:          cfg.Persistent,
			},
			NewZerologAdapter(logger),
		),
		logger: logger,
	}
}

// Publish sends payload to every subscriber of topic.
func (g *WatermillGateway) Publish(_ context.Context, topic string, payload []byte, attributes map[string]string) error {
	wmMsg := message.NewMessage(watermill.NewUUID(), payload)
	for k, v := range attributes {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyPublishedAt, time.Now().UTC().Format(time.RFC3339Nano))
	return g.pubSub.Publish(topic, wmMsg)
}

// Subscribe starts a delivery loop for topic. There is no second consumer to hand a
// rejected message to, so handler errors are logged and the message is acked.
func (g *WatermillGateway) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	messages, err := g.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for wmMsg := range messages {
			busMsg := toBusMessage(topic, wmMsg)
			if err := handler(ctx, busMsg); err != nil {
				g.logger.Warn().Err(err).Str("topic", topic).Str("msg_id", wmMsg.UUID).Msg("Handler rejected message, dropping.")
			}
			wmMsg.Ack()
		}
		g.logger.Debug().Str("topic", topic).Msg("Subscription message loop ended")
	}()
	return nil
}

// Close shuts the GoChannel down and waits for the delivery loops to finish.
func (g *WatermillGateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		err = g.pubSub.Close()
		g.wg.Wait()
	})
	return err
}

func toBusMessage(topic string, wmMsg *message.Message) types.BusMessage {
	attributes := make(map[string]string, len(wmMsg.Metadata))
	var publishTime time.Time
	for k, v := range wmMsg.Metadata {
		if k == metaKeyPublishedAt {
			publishTime, _ = time.Parse(time.RFC3339Nano, v)
			continue
		}
		attributes[k] = v
	}
	payloadCopy := make([]byte, len(wmMsg.Payload))
	copy(payloadCopy, wmMsg.Payload)
	return types.BusMessage{
		ID:          wmMsg.UUID,
		Topic:       topic,
		Payload:     payloadCopy,
		PublishTime: publishTime,
		Attributes:  attributes,
	}
}

// zerologAdapter routes watermill's internal logging through zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps logger as a watermill.LoggerAdapter.
func NewZerologAdapter(logger zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{logger: logger}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
