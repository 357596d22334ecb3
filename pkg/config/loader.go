package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the YAML file at path over Defaults. Every scalar key can be overridden
// from the environment with dots replaced by underscores, e.g.
// CPT_AUTHORIZATION_TOKEN. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if v.IsSet("topics") {
		// A configured topic list replaces the defaults rather than merging into them.
		cfg.Topics = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for i := range cfg.Topics {
		if cfg.Topics[i].Subscription == "" {
			cfg.Topics[i].Subscription = cfg.Topics[i].Name
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can see it. Topics and
// destinations are structured and come from the file or Defaults.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("http_port", d.HTTPPort)

	v.SetDefault("bus.type", d.Bus.Type)
	v.SetDefault("bus.project_id", d.Bus.ProjectID)
	v.SetDefault("bus.credentials_file", d.Bus.CredentialsFile)
	v.SetDefault("bus.max_outstanding_messages", d.Bus.MaxOutstandingMessages)
	v.SetDefault("bus.num_goroutines", d.Bus.NumGoroutines)

	v.SetDefault("cpt.post_timeout", d.CPT.PostTimeout)
	v.SetDefault("cpt.session_token_url", d.CPT.SessionTokenURL)
	v.SetDefault("cpt.authorization_token", d.CPT.AuthorizationToken)
	v.SetDefault("cpt.insecure_skip_verify", d.CPT.InsecureSkipVerify)
	v.SetDefault("cpt.token_cache.backend", d.CPT.TokenCache.Backend)
	v.SetDefault("cpt.token_cache.ttl", d.CPT.TokenCache.TTL)
	v.SetDefault("cpt.token_cache.redis.addr", d.CPT.TokenCache.Redis.Addr)
	v.SetDefault("cpt.token_cache.redis.password", d.CPT.TokenCache.Redis.Password)
	v.SetDefault("cpt.token_cache.redis.db", d.CPT.TokenCache.Redis.DB)
	v.SetDefault("cpt.token_cache.redis.key", d.CPT.TokenCache.Redis.Key)
	v.SetDefault("cpt.breaker.enabled", d.CPT.Breaker.Enabled)
	v.SetDefault("cpt.breaker.max_requests", d.CPT.Breaker.MaxRequests)
	v.SetDefault("cpt.breaker.interval", d.CPT.Breaker.Interval)
	v.SetDefault("cpt.breaker.timeout", d.CPT.Breaker.Timeout)
	v.SetDefault("cpt.breaker.failure_ratio", d.CPT.Breaker.FailureRatio)
	v.SetDefault("cpt.breaker.min_requests", d.CPT.Breaker.MinRequests)

	v.SetDefault("dispatch.poll_interval", d.Dispatch.PollInterval)
	v.SetDefault("dispatch.startup_timeout", d.Dispatch.StartupTimeout)
	v.SetDefault("dispatch.shutdown_timeout", d.Dispatch.ShutdownTimeout)

	v.SetDefault("failures.file_path", d.Failures.FilePath)
	v.SetDefault("failures.timestamp_layout", d.Failures.TimestampLayout)
	v.SetDefault("failures.bigquery.enabled", d.Failures.BigQuery.Enabled)
	v.SetDefault("failures.bigquery.project_id", d.Failures.BigQuery.ProjectID)
	v.SetDefault("failures.bigquery.dataset_id", d.Failures.BigQuery.DatasetID)
	v.SetDefault("failures.bigquery.table_id", d.Failures.BigQuery.TableID)
	v.SetDefault("failures.gcs.enabled", d.Failures.GCS.Enabled)
	v.SetDefault("failures.gcs.bucket", d.Failures.GCS.Bucket)
	v.SetDefault("failures.gcs.prefix", d.Failures.GCS.Prefix)
	v.SetDefault("failures.firestore.enabled", d.Failures.Firestore.Enabled)
	v.SetDefault("failures.firestore.project_id", d.Failures.Firestore.ProjectID)
	v.SetDefault("failures.firestore.collection", d.Failures.Firestore.Collection)
}
