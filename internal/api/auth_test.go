package api

import (
	"net/http"
	"testing"

	"marketsync/internal/config"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "reader-key", Name: "dashboard", Permissions: []string{permReadStatus}},
				{Key: "admin-key", Name: "ops"},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func TestHTTPAuth(t *testing.T) {
	ts := newTestServer(t, authConfig(), &fakeService{})

	t.Run("PublicPathsSkipAuth", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp = doRequest(t, http.MethodGet, ts.URL+"/metrics", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("MissingKey", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", map[string]string{"x-api-key": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ReaderCanRead", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", map[string]string{"x-api-key": "reader-key"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("ReaderCannotRun", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks/daily_bars/run", map[string]string{"x-api-key": "reader-key"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("EmptyPermissionsAllowAll", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks/daily_bars/run", map[string]string{"x-api-key": "admin-key"})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	ts := newTestServer(t, cfg, &fakeService{})

	headers := map[string]string{"x-api-key": "admin-key"}
	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// buckets are per client
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks", map[string]string{"x-api-key": "reader-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiterReusesBucket(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1})
	assert.Same(t, l.getLimiter("a"), l.getLimiter("a"))
	assert.NotSame(t, l.getLimiter("a"), l.getLimiter("b"))
	assert.Equal(t, defaultBurst, l.getLimiter("a").Burst())
}
