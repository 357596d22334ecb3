package config

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-cptgateway/pkg/cpt"
	"github.com/rs/zerolog"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		add("log_level", "unknown log level %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("log_format", "must be json or console, got %q", cfg.LogFormat)
	}
	if cfg.HTTPPort == "" {
		add("http_port", "is required")
	}

	validateBus(cfg.Bus, add)

	table, err := cpt.NewDestinationTable(cfg.DestinationSpecs())
	if err != nil {
		add("destinations", "%v", err)
	}
	validateTopics(cfg, table, add)
	validateCPT(cfg.CPT, table, add)

	if cfg.Dispatch.PollInterval <= 0 {
		add("dispatch.poll_interval", "must be positive")
	}
	if cfg.Dispatch.StartupTimeout <= 0 {
		add("dispatch.startup_timeout", "must be positive")
	}
	if cfg.Dispatch.ShutdownTimeout <= 0 {
		add("dispatch.shutdown_timeout", "must be positive")
	}

	validateFailures(cfg.Failures, add)

	return errors.Join(errs...)
}

type addFunc func(field, format string, args ...any)

func validateBus(cfg BusConfig, add addFunc) {
	switch cfg.Type {
	case BusMemory:
	case BusPubsub:
		if cfg.ProjectID == "" {
			add("bus.project_id", "is required for the pubsub bus")
		}
	default:
		add("bus.type", "must be %s or %s, got %q", BusPubsub, BusMemory, cfg.Type)
	}
}

func validateTopics(cfg *Config, table *cpt.DestinationTable, add addFunc) {
	if len(cfg.Topics) == 0 {
		add("topics", "at least one topic is required")
		return
	}
	seen := make(map[string]bool, len(cfg.Topics))
	for i, t := range cfg.Topics {
		field := fmt.Sprintf("topics[%d]", i)
		if t.Name == "" {
			add(field+".name", "is required")
		} else if seen[t.Name] {
			add(field+".name", "duplicate topic %q", t.Name)
		}
		seen[t.Name] = true
		if t.Workers <= 0 {
			add(field+".workers", "must be positive, got %d", t.Workers)
		}
		if t.Destination == "" {
			add(field+".destination", "is required")
		} else if table != nil {
			if _, ok := table.Lookup(t.Destination); !ok {
				add(field+".destination", "unknown destination %q", t.Destination)
			}
		}
	}
}

func validateCPT(cfg CPTConfig, table *cpt.DestinationTable, add addFunc) {
	if cfg.PostTimeout <= 0 {
		add("cpt.post_timeout", "must be positive")
	}
	if table != nil && cfg.SessionTokenURL == "" {
		for _, name := range table.Names() {
			if d, _ := table.Lookup(name); d.Enabled() {
				add("cpt.session_token_url", "is required when destination %q has a url", name)
				break
			}
		}
	}

	tc := cfg.TokenCache
	switch tc.Backend {
	case TokenCacheNone:
	case TokenCacheMemory, TokenCacheRedis:
		if tc.TTL <= 0 {
			add("cpt.token_cache.ttl", "must be positive when caching tokens")
		}
		if tc.Backend == TokenCacheRedis && tc.Redis.Addr == "" {
			add("cpt.token_cache.redis.addr", "is required for the redis token cache")
		}
	default:
		add("cpt.token_cache.backend", "must be none, memory or redis, got %q", tc.Backend)
	}

	if cfg.Breaker.Enabled {
		if cfg.Breaker.FailureRatio <= 0 || cfg.Breaker.FailureRatio > 1 {
			add("cpt.breaker.failure_ratio", "must be in (0, 1], got %v", cfg.Breaker.FailureRatio)
		}
		if cfg.Breaker.Timeout <= 0 {
			add("cpt.breaker.timeout", "must be positive")
		}
	}
}

func validateFailures(cfg FailuresConfig, add addFunc) {
	if cfg.FilePath == "" {
		add("failures.file_path", "is required")
	}
	if cfg.BigQuery.Enabled {
		if cfg.BigQuery.ProjectID == "" {
			add("failures.bigquery.project_id", "is required when the bigquery mirror is enabled")
		}
		if cfg.BigQuery.DatasetID == "" || cfg.BigQuery.TableID == "" {
			add("failures.bigquery", "dataset_id and table_id are required when enabled")
		}
	}
	if cfg.GCS.Enabled && cfg.GCS.Bucket == "" {
		add("failures.gcs.bucket", "is required when the gcs mirror is enabled")
	}
	if cfg.Firestore.Enabled {
		if cfg.Firestore.ProjectID == "" {
			add("failures.firestore.project_id", "is required when the firestore mirror is enabled")
		}
		if cfg.Firestore.Collection == "" {
			add("failures.firestore.collection", "is required when the firestore mirror is enabled")
		}
	}
}
