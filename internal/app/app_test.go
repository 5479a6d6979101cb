package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/permgate/internal/config"
	"github.com/dropDatabas3/permgate/internal/rate"
)

func TestBuild_GatewaySource(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[],"meta":{"pages":1}}`))
	}))
	defer gw.Close()

	t.Setenv("GATEWAY_BASE_URL", gw.URL)
	t.Setenv("AUTH_HMAC_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := config.Load("")
	require.NoError(t, err)

	c, err := Build(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer c.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/permissions/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuild_UnknownCache(t *testing.T) {
	t.Setenv("GATEWAY_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("AUTH_HMAC_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Kind = "memcached"

	_, err = Build(context.Background(), cfg, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestBuildLimiter(t *testing.T) {
	cfg := &config.Config{}
	c := &Container{}
	assert.Nil(t, c.buildLimiter(cfg))

	cfg.Rate.Enabled = true
	cfg.Rate.Max = 5
	cfg.Rate.Window = "1m"
	cfg.Cache.Kind = "memory"
	assert.IsType(t, &rate.MemoryLimiter{}, c.buildLimiter(cfg))

	mr := miniredis.RunT(t)
	cfg.Cache.Kind = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()
	cfg.Cache.Redis.Prefix = "permgate"
	l := c.buildLimiter(cfg)
	require.IsType(t, &rate.RedisLimiter{}, l)
	defer c.Close()

	res, err := l.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Remaining)
}
