package cpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const maxRecordResponseBytes = 64 << 10

var errServerStatus = errors.New("record api returned a server error")

// PusherConfig holds the pusher's optional behaviour.
type PusherConfig struct {
	Breaker BreakerConfig
}

// Pusher delivers records to their destination's record API. Every push that cannot
// be delivered is written to the failure sink exactly once.
type Pusher struct {
	table    *DestinationTable
	tokens   TokenSource
	client   *http.Client
	failures failurelog.Sink
	metrics  *metrics.Metrics
	breakers map[string]*gobreaker.CircuitBreaker
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPusher creates a Pusher. m may be nil.
func NewPusher(
	cfg PusherConfig,
	table *DestinationTable,
	tokens TokenSource,
	client *http.Client,
	failures failurelog.Sink,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Pusher, error) {
	if table == nil {
		return nil, errors.New("destination table cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token source cannot be nil")
	}
	if client == nil {
		return nil, errors.New("http client cannot be nil")
	}
	if failures == nil {
		return nil, errors.New("failure sink cannot be nil")
	}
	p := &Pusher{
		table:    table,
		tokens:   tokens,
		client:   client,
		failures: failures,
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger.With().Str("component", "Pusher").Logger(),
		now:      time.Now,
	}
	if cfg.Breaker.Enabled {
		for _, name := range table.Names() {
			if d, _ := table.Lookup(name); d.Enabled() {
				p.breakers[name] = newBreaker(name, cfg.Breaker, m, p.logger)
			}
		}
	}
	return p, nil
}

// Push sends payload to destination. A push to a destination without a URL does
// nothing. Delivery failures are recorded, not returned: the only error Push returns
// is a *failurelog.SinkError, meaning the failure record itself was lost.
func (p *Pusher) Push(ctx context.Context, payload, destination string) error {
	start := time.Now()
	logger := p.logger.With().Str("destination", destination).Str("push_id", uuid.NewString()).Logger()

	dest, ok := p.table.Lookup(destination)
	if !ok {
		p.metrics.ObservePush(destination, metrics.OutcomeFailed, time.Since(start))
		return p.recordFailure(ctx, destination, &PushError{
			Reason:  fmt.Sprintf("unknown destination %q", destination),
			Content: payload,
		}, logger)
	}
	if !dest.Enabled() {
		logger.Debug().Msg("Destination has no URL configured, skipping push.")
		p.metrics.ObservePush(destination, metrics.OutcomeSkipped, 0)
		return nil
	}

	id, err := p.deliver(ctx, dest, payload, logger)
	if err == nil {
		p.metrics.ObservePush(destination, metrics.OutcomeDelivered, time.Since(start))
		logger.Info().Str("record_id", id).Msg("Successfully posted record.")
		return nil
	}

	p.metrics.ObservePush(destination, metrics.OutcomeFailed, time.Since(start))
	var pushErr *PushError
	if !errors.As(err, &pushErr) {
		pushErr = &PushError{Reason: err.Error(), Content: payload}
	}
	logger.Warn().Str("record_id", id).Str("reason", pushErr.Reason).Msg("Unsuccessful post of record.")
	return p.recordFailure(ctx, destination, pushErr, logger)
}

// deliver returns the extracted record ID, if any, and a *PushError on failure.
func (p *Pusher) deliver(ctx context.Context, dest Destination, payload string, logger zerolog.Logger) (string, error) {
	id, ok := dest.ExtractID(payload)
	if !ok {
		return "", &PushError{
			Reason:  fmt.Sprintf("Error parsing payload, cannot find %s", dest.IDField),
			Content: payload,
		}
	}
	envelope := BuildEnvelope(dest, id, payload)

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return id, &PushError{Reason: fmt.Sprintf("session token: %v", err), Content: envelope}
	}

	res, err := p.post(ctx, dest, token, envelope)
	if err != nil {
		return id, &PushError{Reason: err.Error(), Content: envelope}
	}
	if res.status == http.StatusUnauthorized {
		if inv, ok := p.tokens.(TokenInvalidator); ok {
			inv.Invalidate(ctx)
		}
	}
	if res.status < 200 || res.status > 299 {
		logger.Debug().Int("status", res.status).Bytes("response", res.body).Msg("Record API rejected post.")
		return id, &PushError{Reason: res.statusText, Content: envelope}
	}
	return id, nil
}

type postResult struct {
	status     int
	statusText string
	body       []byte
}

func (p *Pusher) post(ctx context.Context, dest Destination, token, envelope string) (postResult, error) {
	cb, ok := p.breakers[dest.Name]
	if !ok {
		return p.send(ctx, dest.URL, token, envelope)
	}
	var res postResult
	_, err := cb.Execute(func() (interface{}, error) {
		var sendErr error
		res, sendErr = p.send(ctx, dest.URL, token, envelope)
		if sendErr != nil {
			return nil, sendErr
		}
		if res.status >= 500 {
			return nil, errServerStatus
		}
		return nil, nil
	})
	if errors.Is(err, errServerStatus) {
		return res, nil
	}
	return res, err
}

func (p *Pusher) send(ctx context.Context, url, token, envelope string) (postResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
	if err != nil {
		return postResult{}, fmt.Errorf("build record request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return postResult{}, fmt.Errorf("record request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRecordResponseBytes))

	return postResult{status: resp.StatusCode, statusText: statusText(resp), body: body}, nil
}

func (p *Pusher) recordFailure(ctx context.Context, destination string, pushErr *PushError, logger zerolog.Logger) error {
	rec := failurelog.Record{
		Timestamp:   p.now(),
		Reason:      pushErr.Reason,
		Content:     pushErr.Content,
		Destination: destination,
	}
	if err := p.failures.Record(ctx, rec); err != nil {
		p.metrics.ObserveFailureSinkError()
		logger.Error().Err(err).Str("reason", pushErr.Reason).Msg("Failed to write failure record.")
		var sinkErr *failurelog.SinkError
		if errors.As(err, &sinkErr) {
			return sinkErr
		}
		return &failurelog.SinkError{Sink: "unknown", Err: err}
	}
	p.metrics.ObserveFailureRecord(destination)
	return nil
}
