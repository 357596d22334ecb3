package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-cptgateway/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// --- Google Cloud Pub/Sub Gateway Implementation ---

// GooglePubsubGatewayConfig holds configuration for the Pub/Sub gateway. Topic names
// handed to Subscribe are subscription IDs in the configured project.
type GooglePubsubGatewayConfig struct {
	ProjectID                 string
	CredentialsFile           string // Optional
	MaxOutstandingMessages    int
	NumGoroutines             int
	SubscriptionExistsTimeout time.Duration
	StopTimeout               time.Duration
}

// NewGooglePubsubGatewayDefaults returns a config with the receive settings used in production.
func NewGooglePubsubGatewayDefaults(projectID string) *GooglePubsubGatewayConfig {
	return &GooglePubsubGatewayConfig{
		ProjectID:                 projectID,
		MaxOutstandingMessages:    100,
		NumGoroutines:             5,
		SubscriptionExistsTimeout: 20 * time.Second,
		StopTimeout:               30 * time.Second,
	}
}

// NewPubsubClient creates a Pub/Sub client, using a credentials file when one is configured
// and Application Default Credentials otherwise.
func NewPubsubClient(ctx context.Context, cfg *GooglePubsubGatewayConfig, logger zerolog.Logger, opts ...option.ClientOption) (*pubsub.Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Pub/Sub client.")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	return client, nil
}

// GooglePubsubGateway implements Subscriber on top of Pub/Sub streaming pull.
// Each Subscribe call runs its own Receive loop.
type GooglePubsubGateway struct {
	client *pubsub.Client
	cfg    *GooglePubsubGatewayConfig
	logger zerolog.Logger

	mu        sync.Mutex
	closed    bool
	cancels   []context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewGooglePubsubGateway creates a gateway around an existing client. The client's
// lifecycle stays with the caller.
func NewGooglePubsubGateway(cfg *GooglePubsubGatewayConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubGateway, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for gateway")
	}
	if cfg == nil {
		cfg = NewGooglePubsubGatewayDefaults(client.Project())
	}
	if cfg.SubscriptionExistsTimeout <= 0 {
		cfg.SubscriptionExistsTimeout = 20 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &GooglePubsubGateway{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "GooglePubsubGateway").Logger(),
	}, nil
}

// Subscribe verifies the subscription exists and starts receiving from it.
func (g *GooglePubsubGateway) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	sub := g.client.Subscription(topic)

	existsCtx, cancel := context.WithTimeout(ctx, g.cfg.SubscriptionExistsTimeout)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return fmt.Errorf("failed to check for subscription %s: %w", topic, err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", topic)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = g.cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = g.cfg.NumGoroutines

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	receiveCtx, receiveCancel := context.WithCancel(ctx)
	g.cancels = append(g.cancels, receiveCancel)

	logger := g.logger.With().Str("subscription_id", topic).Logger()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		logger.Info().Msg("Pub/Sub Receive goroutine started.")
		err := sub.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			busMsg := types.BusMessage{
				ID:          msg.ID,
				Topic:       topic,
				Payload:     payloadCopy,
				PublishTime: msg.PublishTime,
				Attributes:  msg.Attributes,
			}
			if err := handler(ctx, busMsg); err != nil {
				logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Handler rejected message, Nacking.")
				msg.Nack()
				return
			}
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Close cancels every Receive loop and waits, up to StopTimeout, for them to return.
func (g *GooglePubsubGateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.logger.Info().Msg("Stopping Pub/Sub gateway...")
		g.mu.Lock()
		g.closed = true
		for _, cancel := range g.cancels {
			cancel()
		}
		g.mu.Unlock()

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			g.logger.Info().Msg("All Pub/Sub Receive goroutines confirmed stopped.")
		case <-time.After(g.cfg.StopTimeout):
			g.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutines to stop.")
			err = errors.New("timeout waiting for pubsub receivers to stop")
		}
	})
	return err
}
