package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/rs/zerolog"
)

// RecordPusher delivers one payload to a destination. A non-nil error means the
// failure record for that payload could not be written.
type RecordPusher interface {
	Push(ctx context.Context, payload, destination string) error
}

// PipelineConfig holds configuration for one topic pipeline.
type PipelineConfig struct {
	Topic       string
	Destination string
	Workers     int
	// PollInterval bounds how long an idle worker waits before re-checking its queue.
	PollInterval time.Duration
	// OnWorkerStart, if set, runs in each worker before it checks in at the startup
	// barrier.
	OnWorkerStart func(topic string, workerID int)
}

// PipelineStats is a point-in-time view of a pipeline.
type PipelineStats struct {
	Topic       string `json:"topic"`
	Destination string `json:"destination"`
	Workers     int    `json:"workers"`
	Depth       int    `json:"depth"`
	Queued      uint64 `json:"queued"`
	Rejected    uint64 `json:"rejected"`
	Processed   uint64 `json:"processed"`
	Panics      uint64 `json:"panics"`
	SinkErrors  uint64 `json:"sink_errors"`
	Stopping    bool   `json:"stopping"`
}

// Pipeline is an unbounded FIFO queue drained by a fixed pool of workers, each of
// which hands payloads to the RecordPusher.
type Pipeline struct {
	cfg     PipelineConfig
	pusher  RecordPusher
	metrics *metrics.Metrics
	logger  zerolog.Logger

	queue    *queue
	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	ready    sync.WaitGroup
	wg       sync.WaitGroup

	queued     atomic.Uint64
	rejected   atomic.Uint64
	processed  atomic.Uint64
	panics     atomic.Uint64
	sinkErrors atomic.Uint64
}

// NewPipeline creates a pipeline. m may be nil.
func NewPipeline(cfg PipelineConfig, pusher RecordPusher, m *metrics.Metrics, logger zerolog.Logger) (*Pipeline, error) {
	if cfg.Topic == "" {
		return nil, errors.New("pipeline topic cannot be empty")
	}
	if cfg.Destination == "" {
		return nil, fmt.Errorf("pipeline %s: destination cannot be empty", cfg.Topic)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("pipeline %s: workers must be positive, got %d", cfg.Topic, cfg.Workers)
	}
	if pusher == nil {
		return nil, errors.New("record pusher cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Pipeline{
		cfg:     cfg,
		pusher:  pusher,
		metrics: m,
		logger: logger.With().
			Str("component", "Pipeline").
			Str("topic", cfg.Topic).
			Str("destination", cfg.Destination).
			Logger(),
		queue: newQueue(),
	}, nil
}

// Name returns the topic this pipeline serves.
func (p *Pipeline) Name() string {
	return p.cfg.Topic
}

// Start launches the worker pool and blocks until every worker has checked in, or
// until ctx is done. Workers run until Stop, independent of ctx.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline %s already started", p.cfg.Topic)
	}
	if p.stopping.Load() {
		return ErrShuttingDown
	}

	p.logger.Info().Int("worker_count", p.cfg.Workers).Msg("Starting pipeline workers...")
	workerCtx := context.WithoutCancel(ctx)
	p.ready.Add(p.cfg.Workers)
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.worker(workerCtx, i)
	}

	allReady := make(chan struct{})
	go func() {
		p.ready.Wait()
		close(allReady)
	}()
	select {
	case <-allReady:
		p.logger.Info().Msg("All pipeline workers checked in.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline %s: waiting for workers to start: %w", p.cfg.Topic, ctx.Err())
	}
}

// Enqueue appends payload to the queue. It never blocks, and fails with
// ErrShuttingDown once Stop has been called.
func (p *Pipeline) Enqueue(payload string) error {
	if p.stopping.Load() {
		p.rejected.Add(1)
		return ErrShuttingDown
	}
	depth, ok := p.queue.push(payload)
	if !ok {
		p.rejected.Add(1)
		return ErrShuttingDown
	}
	p.queued.Add(1)
	p.metrics.SetQueueDepth(p.cfg.Topic, depth)
	return nil
}

// Stop rejects further enqueues, then waits for the workers to drain the queue and
// exit. If ctx ends first the workers keep draining in the background and ctx's
// error is returned.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		p.queue.close()
		p.logger.Info().Int("remaining", p.queue.len()).Msg("Stopping pipeline, draining queue...")
	})
	if !p.started.Load() {
		if n := p.queue.len(); n > 0 {
			p.logger.Warn().Int("discarded", n).Msg("Pipeline stopped before it was started.")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Uint64("processed", p.processed.Load()).Msg("Pipeline drained and stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Int("remaining", p.queue.len()).Msg("Timeout waiting for pipeline workers to drain.")
		return ctx.Err()
	}
}

// Stats returns the pipeline's counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Topic:       p.cfg.Topic,
		Destination: p.cfg.Destination,
		Workers:     p.cfg.Workers,
		Depth:       p.queue.len(),
		Queued:      p.queued.Load(),
		Rejected:    p.rejected.Load(),
		Processed:   p.processed.Load(),
		Panics:      p.panics.Load(),
		SinkErrors:  p.sinkErrors.Load(),
		Stopping:    p.stopping.Load(),
	}
}

// worker exits only once shutdown has been requested and the queue is empty.
func (p *Pipeline) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker_id", workerID).Logger()

	if p.cfg.OnWorkerStart != nil {
		p.cfg.OnWorkerStart(p.cfg.Topic, workerID)
	}
	p.ready.Done()
	logger.Debug().Msg("Pipeline worker started.")

	idle := time.NewTimer(p.cfg.PollInterval)
	defer idle.Stop()
	for {
		payload, depth, ok, drained := p.queue.poll()
		if drained {
			logger.Debug().Msg("Queue drained, pipeline worker exiting.")
			return
		}
		if ok {
			p.metrics.SetQueueDepth(p.cfg.Topic, depth)
			p.process(ctx, payload, logger)
			continue
		}

		idle.Reset(p.cfg.PollInterval)
		select {
		case <-p.queue.ready():
		case <-idle.C:
		}
	}
}

func (p *Pipeline) process(ctx context.Context, payload string, logger zerolog.Logger) {
	defer p.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.metrics.ObserveWorkerPanic(p.cfg.Topic)
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic while pushing record, worker continues.")
		}
	}()

	if err := p.pusher.Push(ctx, payload, p.cfg.Destination); err != nil {
		p.sinkErrors.Add(1)
		var sinkErr *failurelog.SinkError
		if errors.As(err, &sinkErr) {
			logger.Error().Err(err).Str("sink", sinkErr.Sink).Str("payload", payload).Msg("Failure record lost.")
			return
		}
		logger.Error().Err(err).Str("payload", payload).Msg("Error during record handling.")
	}
}
