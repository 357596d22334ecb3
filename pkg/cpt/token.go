package cpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/illmade-knight/go-cptgateway/pkg/cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNoToken is returned when the token endpoint answered but no token could be found
// in the response.
var ErrNoToken = errors.New("no session token in response")

var tokenPattern = regexp.MustCompile(`token=(\w+)`)

const maxTokenResponseBytes = 1 << 20

// TokenSource yields a bearer token for the record API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by token sources that hold on to tokens. Invalidate
// drops the held token so the next Token call fetches a fresh one.
type TokenInvalidator interface {
	Invalidate(ctx context.Context)
}

// HTTPTokenSource fetches a new session token on every call.
type HTTPTokenSource struct {
	client     *http.Client
	url        string
	credential string
	logger     zerolog.Logger
}

// NewHTTPTokenSource creates a token source for the session endpoint at url. The
// credential is sent verbatim after "Basic " and so must already be encoded.
func NewHTTPTokenSource(client *http.Client, url, credential string, logger zerolog.Logger) (*HTTPTokenSource, error) {
	if client == nil {
		return nil, errors.New("http client cannot be nil")
	}
	if url == "" {
		return nil, errors.New("session token url is required")
	}
	return &HTTPTokenSource{
		client:     client,
		url:        url,
		credential: credential,
		logger:     logger.With().Str("component", "HTTPTokenSource").Logger(),
	}, nil
}

// Token POSTs to the session endpoint and extracts the token from the response.
func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build session token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+s.credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read session token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("session token request returned %s", statusText(resp))
	}

	token, ok := extractToken(body)
	if !ok {
		s.logger.Warn().Int("body_bytes", len(body)).Msg("Session token response did not contain a token.")
		return "", ErrNoToken
	}
	return token, nil
}

// extractToken looks for "token=<word>" in the response text first, then for a
// string field named "token" anywhere in a JSON response.
func extractToken(body []byte) (string, bool) {
	if m := tokenPattern.FindSubmatch(body); len(m) == 2 {
		return string(m[1]), true
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	return findTokenField(doc)
}

func findTokenField(v any) (string, bool) {
	switch node := v.(type) {
	case map[string]any:
		if s, ok := node["token"].(string); ok && s != "" {
			return s, true
		}
		for _, child := range node {
			if s, ok := findTokenField(child); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range node {
			if s, ok := findTokenField(child); ok {
				return s, true
			}
		}
	}
	return "", false
}

// CachingTokenSource keeps a token from an underlying source for a fixed TTL.
// Concurrent misses share a single fetch.
type CachingTokenSource struct {
	source TokenSource
	cache  cache.Cache[string, string]
	key    string
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachingTokenSource wraps source with store. key names the cache entry.
func NewCachingTokenSource(source TokenSource, store cache.Cache[string, string], key string, ttl time.Duration, logger zerolog.Logger) (*CachingTokenSource, error) {
	if source == nil || store == nil {
		return nil, errors.New("token source and cache cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("token cache ttl must be positive")
	}
	if key == "" {
		key = "cpt:session-token"
	}
	return &CachingTokenSource{
		source: source,
		cache:  store,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "CachingTokenSource").Logger(),
	}, nil
}

// Token returns the cached token or fetches and stores a new one. Cache errors other
// than a miss are logged and the underlying source is used directly.
func (c *CachingTokenSource) Token(ctx context.Context) (string, error) {
	token, err := c.cache.Get(ctx, c.key)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn().Err(err).Msg("Token cache read failed.")
	}

	v, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		fresh, err := c.source.Token(ctx)
		if err != nil {
			return "", err
		}
		if err := c.cache.Set(ctx, c.key, fresh, c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("Token cache write failed.")
		}
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token.
func (c *CachingTokenSource) Invalidate(ctx context.Context) {
	if err := c.cache.Delete(ctx, c.key); err != nil {
		c.logger.Warn().Err(err).Msg("Token cache delete failed.")
		return
	}
	c.logger.Debug().Msg("Cached session token invalidated.")
}

func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
