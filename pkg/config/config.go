package config

import (
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/cpt"
	"github.com/illmade-knight/go-cptgateway/pkg/dispatch"
)

// Bus types.
const (
	BusPubsub = "pubsub"
	BusMemory = "memory"
)

// Token cache backends.
const (
	TokenCacheNone   = "none"
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// Config is the full gateway configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	HTTPPort  string `mapstructure:"http_port"`

	Bus    BusConfig              `mapstructure:"bus"`
	Topics []dispatch.TopicConfig `mapstructure:"topics"`
	// Destinations overrides or extends the built-in destination table.
	Destinations map[string]cpt.DestinationSpec `mapstructure:"destinations"`

	CPT      CPTConfig      `mapstructure:"cpt"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Failures FailuresConfig `mapstructure:"failures"`
}

type BusConfig struct {
	Type                   string `mapstructure:"type"`
	ProjectID              string `mapstructure:"project_id"`
	CredentialsFile        string `mapstructure:"credentials_file"`
	MaxOutstandingMessages int    `mapstructure:"max_outstanding_messages"`
	NumGoroutines          int    `mapstructure:"num_goroutines"`
}

type CPTConfig struct {
	PostTimeout     time.Duration `mapstructure:"post_timeout"`
	SessionTokenURL string        `mapstructure:"session_token_url"`
	// AuthorizationToken is the pre-encoded basic credential for the session endpoint.
	AuthorizationToken string            `mapstructure:"authorization_token"`
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify"`
	TokenCache         TokenCacheConfig  `mapstructure:"token_cache"`
	Breaker            cpt.BreakerConfig `mapstructure:"breaker"`
}

type TokenCacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type DispatchConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type FailuresConfig struct {
	FilePath        string          `mapstructure:"file_path"`
	TimestampLayout string          `mapstructure:"timestamp_layout"`
	BigQuery        BigQueryMirror  `mapstructure:"bigquery"`
	GCS             GCSMirror       `mapstructure:"gcs"`
	Firestore       FirestoreMirror `mapstructure:"firestore"`
}

type BigQueryMirror struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	DatasetID string `mapstructure:"dataset_id"`
	TableID   string `mapstructure:"table_id"`
}

type GCSMirror struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

type FirestoreMirror struct {
	Enabled    bool   `mapstructure:"enabled"`
	ProjectID  string `mapstructure:"project_id"`
	Collection string `mapstructure:"collection"`
}

// Defaults returns a configuration that runs the five built-in record kinds on the
// in-memory bus with every destination disabled.
func Defaults() *Config {
	topics := make([]dispatch.TopicConfig, 0, 5)
	for _, kind := range []string{cpt.NewRequest, cpt.PromotedRequest, cpt.UpdateRequest, cpt.UpdateSample, cpt.RequestStatus} {
		topics = append(topics, dispatch.TopicConfig{
			Name:         kind,
			Subscription: "cpt-gateway-" + kind,
			Destination:  kind,
			Workers:      1,
		})
	}
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		HTTPPort:  ":8080",
		Bus: BusConfig{
			Type:                   BusMemory,
			MaxOutstandingMessages: 100,
			NumGoroutines:          5,
		},
		Topics:       topics,
		Destinations: map[string]cpt.DestinationSpec{},
		CPT: CPTConfig{
			PostTimeout:        10 * time.Second,
			InsecureSkipVerify: true,
			TokenCache: TokenCacheConfig{
				Backend: TokenCacheNone,
				TTL:     10 * time.Minute,
				Redis:   RedisConfig{Key: "cpt:session-token"},
			},
			Breaker: cpt.NewBreakerConfigDefaults(),
		},
		Dispatch: DispatchConfig{
			PollInterval:    100 * time.Millisecond,
			StartupTimeout:  30 * time.Second,
			ShutdownTimeout: 60 * time.Second,
		},
		Failures: FailuresConfig{
			FilePath:        "cpt-failures.log",
			TimestampLayout: time.DateOnly,
			BigQuery:        BigQueryMirror{TableID: "cpt_failures"},
			GCS:             GCSMirror{Prefix: "cpt-failures"},
			Firestore:       FirestoreMirror{Collection: "cpt-failures"},
		},
	}
}

// DestinationSpecs returns the built-in destination table with the configured
// overrides applied.
func (c *Config) DestinationSpecs() map[string]cpt.DestinationSpec {
	return cpt.MergeDestinationSpecs(cpt.DefaultDestinationSpecs(), c.Destinations)
}

// OrchestratorConfig maps the topic and dispatch sections onto the orchestrator.
func (c *Config) OrchestratorConfig() dispatch.OrchestratorConfig {
	return dispatch.OrchestratorConfig{
		Topics:         c.Topics,
		PollInterval:   c.Dispatch.PollInterval,
		StartupTimeout: c.Dispatch.StartupTimeout,
	}
}
