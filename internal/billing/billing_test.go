package billing

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AETHER_URL", "AETHER_SERVICE_API_KEY", "AETHER_APP_ID", "AETHER_FAIL_MODE", "AETHER_CACHE_TTL_SECS"} {
		os.Unsetenv(k)
	}
}

func TestFromEnvDisabledWithoutURL(t *testing.T) {
	clearEnv(t)
	state, err := FromEnv(func(baseURL, appID, apiKey string) Client { return nil })
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFromEnvRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("AETHER_URL", "https://aether.example.com")
	defer clearEnv(t)

	_, err := FromEnv(func(baseURL, appID, apiKey string) Client { return nil })
	assert.Error(t, err)
}

func TestFromEnvDefaultsAndFailMode(t *testing.T) {
	clearEnv(t)
	os.Setenv("AETHER_URL", "https://aether.example.com")
	os.Setenv("AETHER_SERVICE_API_KEY", "secret")
	os.Setenv("AETHER_FAIL_MODE", "closed")
	defer clearEnv(t)

	state, err := FromEnv(func(baseURL, appID, apiKey string) Client {
		assert.Equal(t, "synapse", appID)
		assert.Equal(t, "secret", apiKey)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, FailClosed, state.FailMode)
}

func TestMiddlewarePassesThroughWithoutAuthHeader(t *testing.T) {
	mw := Middleware(&State{cache: newCache(time.Minute, 10)}, nil, nil)
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestMiddlewareNilStatePassesThrough(t *testing.T) {
	mw := Middleware(nil, nil, nil)
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := newCache(time.Hour, 2)
	c.putEntitlement("user", "a", "api_access", true)
	c.putEntitlement("user", "b", "api_access", true)
	c.putEntitlement("user", "c", "api_access", true)
	assert.LessOrEqual(t, len(c.entitlement), 2)
}
