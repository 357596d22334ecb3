package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-cptgateway/pkg/cache"
	"github.com/illmade-knight/go-cptgateway/pkg/config"
	"github.com/illmade-knight/go-cptgateway/pkg/cpt"
	"github.com/illmade-knight/go-cptgateway/pkg/dispatch"
	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
	"github.com/illmade-knight/go-cptgateway/pkg/gateway"
	"github.com/illmade-knight/go-cptgateway/pkg/metrics"
	"github.com/illmade-knight/go-cptgateway/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// App wires the gateway's components together and owns their lifecycles.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry     *prometheus.Registry
	server       *microservice.BaseServer
	bus          gateway.Subscriber
	orchestrator *dispatch.Orchestrator
	closers      []io.Closer
}

func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Initialize builds every component, starts the admin server and then the
// orchestrator. It returns once all pipelines are ready and subscribed.
func (a *App) Initialize(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(a.registry)
	if err != nil {
		return err
	}

	sink, err := a.newFailureSink(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize failure log: %w", err)
	}
	pusher, err := a.newPusher(ctx, sink, m)
	if err != nil {
		return fmt.Errorf("failed to initialize record pusher: %w", err)
	}

	a.orchestrator, err = dispatch.NewOrchestrator(a.cfg.OrchestratorConfig(), pusher, m, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.server = microservice.NewBaseServer(a.logger, a.cfg.HTTPPort)
	a.server.HandleMetrics(a.registry)
	a.server.SetReadinessProbe(a.orchestrator.Ready)
	a.server.Mux().HandleFunc("/stats", a.statsHandler)
	if err := a.server.Start(); err != nil {
		return err
	}

	a.bus, err = a.newBus(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}
	return a.orchestrator.Initialize(ctx, a.bus)
}

// Shutdown closes the bus first so no new deliveries arrive, then drains every
// pipeline, then releases clients. It is safe to call after a failed Initialize.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Dispatch.ShutdownTimeout)
	defer cancel()

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing bus.")
		}
	}
	if a.orchestrator != nil {
		if err := a.orchestrator.Shutdown(ctx); err != nil && !errors.Is(err, dispatch.ErrNotInitialized) {
			a.logger.Error().Err(err).Msg("Error shutting down dispatch orchestrator.")
		}
	}
	if a.server != nil {
		_ = a.server.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Error closing client.")
		}
	}
}

func (a *App) clientOptions() []option.ClientOption {
	if a.cfg.Bus.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.Bus.CredentialsFile)}
}

func (a *App) newBus(ctx context.Context) (gateway.Subscriber, error) {
	switch a.cfg.Bus.Type {
	case config.BusPubsub:
		gwCfg := gateway.NewGooglePubsubGatewayDefaults(a.cfg.Bus.ProjectID)
		gwCfg.CredentialsFile = a.cfg.Bus.CredentialsFile
		gwCfg.MaxOutstandingMessages = a.cfg.Bus.MaxOutstandingMessages
		gwCfg.NumGoroutines = a.cfg.Bus.NumGoroutines
		client, err := gateway.NewPubsubClient(ctx, gwCfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return gateway.NewGooglePubsubGateway(gwCfg, client, a.logger)
	default:
		a.logger.Warn().Msg("Using the in-memory bus; nothing outside this process can publish to it.")
		return gateway.NewWatermillGateway(gateway.WatermillGatewayConfig{}, a.logger), nil
	}
}

func (a *App) newFailureSink(ctx context.Context) (failurelog.Sink, error) {
	fc := a.cfg.Failures
	fileSink, err := failurelog.NewFileSink(failurelog.FileSinkConfig{
		Path:            fc.FilePath,
		TimestampLayout: fc.TimestampLayout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	multi, err := failurelog.NewMultiSink(fileSink, a.logger)
	if err != nil {
		return nil, err
	}

	if fc.BigQuery.Enabled {
		client, err := bigquery.NewClient(ctx, fc.BigQuery.ProjectID, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("bigquery.NewClient: %w", err)
		}
		a.closers = append(a.closers, client)
		bq, err := failurelog.NewBigQuerySink(ctx, client, failurelog.BigQuerySinkConfig{
			DatasetID: fc.BigQuery.DatasetID,
			TableID:   fc.BigQuery.TableID,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		multi.AddMirror("bigquery", bq)
	}
	if fc.GCS.Enabled {
		client, err := storage.NewClient(ctx, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		a.closers = append(a.closers, client)
		gcs, err := failurelog.NewGCSSink(failurelog.NewGCSClientAdapter(client), failurelog.GCSSinkConfig{
			BucketName:      fc.GCS.Bucket,
			ObjectPrefix:    fc.GCS.Prefix,
			TimestampLayout: fc.TimestampLayout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		multi.AddMirror("gcs", gcs)
	}
	if fc.Firestore.Enabled {
		client, err := firestore.NewClient(ctx, fc.Firestore.ProjectID, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		a.closers = append(a.closers, client)
		fs, err := failurelog.NewFirestoreSink(client, failurelog.FirestoreSinkConfig{
			CollectionName: fc.Firestore.Collection,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		multi.AddMirror("firestore", fs)
	}
	a.logger.Info().Str("path", fileSink.Path()).Int("mirrors", multi.Mirrors()).Msg("Failure log ready.")
	return multi, nil
}

func (a *App) newPusher(ctx context.Context, sink failurelog.Sink, m *metrics.Metrics) (*cpt.Pusher, error) {
	cc := a.cfg.CPT
	table, err := cpt.NewDestinationTable(a.cfg.DestinationSpecs())
	if err != nil {
		return nil, err
	}
	client := cpt.NewHTTPClient(cpt.HTTPClientConfig{
		Timeout:            cc.PostTimeout,
		InsecureSkipVerify: cc.InsecureSkipVerify,
	})
	if cc.InsecureSkipVerify {
		a.logger.Warn().Msg("TLS certificate verification is disabled for the CPT API.")
	}

	var tokens cpt.TokenSource
	if cc.SessionTokenURL == "" {
		tokens = disabledTokenSource{}
	} else {
		httpTokens, err := cpt.NewHTTPTokenSource(client, cc.SessionTokenURL, cc.AuthorizationToken, a.logger)
		if err != nil {
			return nil, err
		}
		tokens, err = a.wrapTokenCache(ctx, httpTokens)
		if err != nil {
			return nil, err
		}
	}

	return cpt.NewPusher(cpt.PusherConfig{Breaker: cc.Breaker}, table, tokens, client, sink, m, a.logger)
}

func (a *App) wrapTokenCache(ctx context.Context, source cpt.TokenSource) (cpt.TokenSource, error) {
	tc := a.cfg.CPT.TokenCache
	switch tc.Backend {
	case config.TokenCacheMemory:
		return cpt.NewCachingTokenSource(source, cache.NewInMemoryCache[string, string](), tc.Redis.Key, tc.TTL, a.logger)
	case config.TokenCacheRedis:
		rc, err := cache.NewRedisCache[string, string](ctx, &cache.RedisConfig{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc)
		return cpt.NewCachingTokenSource(source, rc, tc.Redis.Key, tc.TTL, a.logger)
	default:
		return source, nil
	}
}

func (a *App) statsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.orchestrator.Stats())
}

// disabledTokenSource serves configurations in which every destination is
// disabled, so no token is ever requested.
type disabledTokenSource struct{}

func (disabledTokenSource) Token(context.Context) (string, error) {
	return "", errors.New("cpt.session_token_url is not configured")
}
