package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/config"
	"github.com/illmade-knight/go-cptgateway/pkg/cpt"
	"github.com/illmade-knight/go-cptgateway/pkg/dispatch"
	"github.com/illmade-knight/go-cptgateway/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_RelaysAndShutsDown(t *testing.T) {
	// Arrange
	var tokenCalls, posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"response":{"token":"app"}}`)
	})
	mux.HandleFunc("/records", func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	cfg := config.Defaults()
	cfg.HTTPPort = ":0"
	cfg.CPT.SessionTokenURL = api.URL + "/sessions"
	cfg.CPT.TokenCache.Backend = config.TokenCacheMemory
	cfg.Destinations[cpt.NewRequest] = cpt.DestinationSpec{URL: api.URL + "/records"}
	cfg.Failures.FilePath = filepath.Join(t.TempDir(), "failures.log")
	cfg.Dispatch.ShutdownTimeout = 5 * time.Second
	require.NoError(t, config.Validate(cfg))

	app := NewApp(cfg, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	// Act
	require.NoError(t, app.Initialize(ctx))
	base := "http://localhost" + app.server.GetHTTPPort()

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bus, ok := app.bus.(*gateway.WatermillGateway)
	require.True(t, ok, "defaults use the in-memory bus")
	for _, id := range []string{"R1", "R2", "R3"} {
		data, _ := json.Marshal(`{"requestId":"` + id + `"}`)
		require.NoError(t, bus.Publish(ctx, "cpt-gateway-new-request", data, nil))
	}
	require.Eventually(t, func() bool { return posts.Load() == 3 }, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats []dispatch.PipelineStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	_ = resp.Body.Close()
	require.Len(t, stats, 5)
	assert.Equal(t, "new-request", stats[0].Topic)
	assert.Equal(t, uint64(3), stats[0].Queued)

	app.Shutdown()

	// Assert
	assert.Equal(t, int32(1), tokenCalls.Load(), "memory token cache reuses the session token")
	assert.False(t, app.orchestrator.Ready())
	_, err = os.Stat(cfg.Failures.FilePath)
	assert.True(t, os.IsNotExist(err), "no failures, no failure file")
}

func TestApp_InitializeFailureCanShutDown(t *testing.T) {
	cfg := config.Defaults()
	cfg.HTTPPort = "not-a-port"
	cfg.Failures.FilePath = filepath.Join(t.TempDir(), "failures.log")

	app := NewApp(cfg, zerolog.Nop())
	err := app.Initialize(context.Background())
	require.Error(t, err)
	assert.NotPanics(t, app.Shutdown)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", "console")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	_, err = newLogger("loud", "json")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))
	configFile = path
	t.Cleanup(func() { configFile = "" })

	cmd := validateCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "5 topics")
}
