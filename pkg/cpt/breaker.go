package cpt

import (
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures the optional per-destination circuit breaker. When it is
// open, pushes to that destination fail fast and become failure records without a
// network call.
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// NewBreakerConfigDefaults returns a disabled breaker with usable thresholds.
func NewBreakerConfigDefaults() BreakerConfig {
	return BreakerConfig{
		Enabled:      false,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func newBreaker(destination string, cfg BreakerConfig, m *metrics.Metrics, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        destination,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("destination", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed.")
			m.SetBreakerState(name, breakerStateValue(to))
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	m.SetBreakerState(destination, breakerStateValue(cb.State()))
	return cb
}

func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
