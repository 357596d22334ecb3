package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/gateway"
	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/illmade-knight/go-cptgateway/pkg/types"
	"github.com/rs/zerolog"
)

// TopicConfig maps one bus topic onto a destination.
type TopicConfig struct {
	// Name identifies the pipeline in logs, metrics and Enqueue.
	Name string `mapstructure:"name"`
	// Subscription is handed to the bus; it defaults to Name.
	Subscription string `mapstructure:"subscription"`
	Destination  string `mapstructure:"destination"`
	Workers      int    `mapstructure:"workers"`
}

// OrchestratorConfig holds configuration for the Orchestrator.
type OrchestratorConfig struct {
	Topics         []TopicConfig
	PollInterval   time.Duration
	StartupTimeout time.Duration
	OnWorkerStart  func(topic string, workerID int)
}

// NewOrchestratorConfigDefaults returns timing defaults with no topics.
func NewOrchestratorConfigDefaults() OrchestratorConfig {
	return OrchestratorConfig{
		PollInterval:   100 * time.Millisecond,
		StartupTimeout: 30 * time.Second,
	}
}

// Orchestrator owns one Pipeline per configured topic and wires bus subscriptions
// to them.
type Orchestrator struct {
	cfg       OrchestratorConfig
	pipelines map[string]*Pipeline
	order     []string
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu           sync.Mutex
	initialized  bool
	ready        atomic.Bool
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewOrchestrator creates the pipelines for cfg.Topics. Nothing runs until Initialize.
func NewOrchestrator(cfg OrchestratorConfig, pusher RecordPusher, m *metrics.Metrics, logger zerolog.Logger) (*Orchestrator, error) {
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic must be configured")
	}
	if pusher == nil {
		return nil, errors.New("record pusher cannot be nil")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	cfg.Topics = append([]TopicConfig(nil), cfg.Topics...)

	o := &Orchestrator{
		cfg:       cfg,
		pipelines: make(map[string]*Pipeline, len(cfg.Topics)),
		metrics:   m,
		logger:    logger.With().Str("component", "Orchestrator").Logger(),
	}
	for i, t := range cfg.Topics {
		if _, dup := o.pipelines[t.Name]; dup {
			return nil, fmt.Errorf("duplicate topic %q", t.Name)
		}
		if t.Subscription == "" {
			cfg.Topics[i].Subscription = t.Name
		}
		p, err := NewPipeline(PipelineConfig{
			Topic:         t.Name,
			Destination:   t.Destination,
			Workers:       t.Workers,
			PollInterval:  cfg.PollInterval,
			OnWorkerStart: cfg.OnWorkerStart,
		}, pusher, m, logger)
		if err != nil {
			return nil, err
		}
		o.pipelines[t.Name] = p
		o.order = append(o.order, t.Name)
	}
	return o, nil
}

// Initialize starts every pipeline and subscribes it to the bus. Each pipeline's
// workers have all checked in before its subscription is registered, so the bus
// never delivers into a queue nobody consumes. A second call returns
// ErrAlreadyInitialized. If Initialize fails, Shutdown still stops whatever started.
func (o *Orchestrator) Initialize(ctx context.Context, bus gateway.Subscriber) error {
	if bus == nil {
		return errors.New("bus subscriber cannot be nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		o.logger.Error().Msg("Dispatch orchestrator has already been initialized, ignoring request.")
		return ErrAlreadyInitialized
	}
	o.initialized = true

	startCtx, cancel := context.WithTimeout(ctx, o.cfg.StartupTimeout)
	defer cancel()

	for _, t := range o.cfg.Topics {
		p := o.pipelines[t.Name]
		if err := p.Start(startCtx); err != nil {
			return fmt.Errorf("start pipeline %s: %w", t.Name, err)
		}
		if err := bus.Subscribe(ctx, t.Subscription, o.handler(p)); err != nil {
			return fmt.Errorf("subscribe %s to %s: %w", t.Name, t.Subscription, err)
		}
		o.logger.Info().Str("topic", t.Name).Str("subscription", t.Subscription).Msg("Subscribed to topic.")
	}

	if o.shuttingDown.Load() {
		return ErrShuttingDown
	}
	o.ready.Store(true)
	o.logger.Info().Int("pipelines", len(o.pipelines)).Msg("Dispatch orchestrator initialized.")
	return nil
}

func (o *Orchestrator) handler(p *Pipeline) gateway.Handler {
	return func(_ context.Context, msg types.BusMessage) error {
		payload, err := DecodePayload(msg.Payload)
		if err != nil {
			o.metrics.ObserveReceived(p.Name(), metrics.OutcomeDecodeError)
			o.logger.Error().Err(err).Str("topic", p.Name()).Str("msg_id", msg.ID).Msg("Cannot process message, dropping.")
			return nil
		}
		if err := o.enqueue(p, payload); err != nil {
			o.logger.Error().Err(err).Str("topic", p.Name()).Str("msg_id", msg.ID).Msg("Not accepting message.")
			return err
		}
		return nil
	}
}

// Enqueue places payload on the pipeline for topic.
func (o *Orchestrator) Enqueue(topic, payload string) error {
	p, ok := o.pipelines[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return o.enqueue(p, payload)
}

func (o *Orchestrator) enqueue(p *Pipeline, payload string) error {
	if o.shuttingDown.Load() {
		o.metrics.ObserveReceived(p.Name(), metrics.OutcomeRejected)
		return ErrShuttingDown
	}
	if err := p.Enqueue(payload); err != nil {
		o.metrics.ObserveReceived(p.Name(), metrics.OutcomeRejected)
		return err
	}
	o.metrics.ObserveReceived(p.Name(), metrics.OutcomeEnqueued)
	return nil
}

// Shutdown rejects new messages on every pipeline, then drains and joins all of
// them. Only the first call does the work; later calls return its result.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	initialized := o.initialized
	o.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	o.shutdownOnce.Do(func() {
		o.shuttingDown.Store(true)
		o.ready.Store(false)
		o.logger.Info().Msg("Dispatch orchestrator shutting down...")

		var wg sync.WaitGroup
		errs := make([]error, len(o.order))
		for i, name := range o.order {
			wg.Add(1)
			go func(i int, p *Pipeline) {
				defer wg.Done()
				if err := p.Stop(ctx); err != nil {
					errs[i] = fmt.Errorf("stop pipeline %s: %w", p.Name(), err)
				}
			}(i, o.pipelines[name])
		}
		wg.Wait()
		o.shutdownErr = errors.Join(errs...)
		if o.shutdownErr != nil {
			o.logger.Error().Err(o.shutdownErr).Msg("Dispatch orchestrator stopped with errors.")
			return
		}
		o.logger.Info().Msg("Dispatch orchestrator stopped, all queues drained.")
	})
	return o.shutdownErr
}

// Ready reports whether every pipeline has crossed its startup barrier and shutdown
// has not begun.
func (o *Orchestrator) Ready() bool {
	return o.ready.Load() && !o.shuttingDown.Load()
}

// Stats returns per-pipeline stats in configuration order.
func (o *Orchestrator) Stats() []PipelineStats {
	stats := make([]PipelineStats, 0, len(o.order))
	for _, name := range o.order {
		stats = append(stats, o.pipelines[name].Stats())
	}
	return stats
}

// DecodePayload decodes a bus payload, which is a JSON-encoded string, into the
// record text it carries.
func DecodePayload(data []byte) (string, error) {
	var payload string
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return payload, nil
}
