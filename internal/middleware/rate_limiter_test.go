package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/config"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	pkgredis "github.com/ghalitsar-coder/eschool-app-sub001/pkg/redis"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/response"
)

func newRedis(t *testing.T) (*pkgredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := pkgredis.DefaultConfig()
	cfg.Host = mr.Host()
	cfg.Port = port
	cfg.ConnectRetries = 0

	client, err := pkgredis.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestLocalRateLimiter_TokenBucket(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 3})
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, rl.Allow("10.0.0.2"))

	// one token per second at 60/min
	now = now.Add(time.Second)
	allowed, remaining := rl.AllowWithRemaining("10.0.0.1")
	assert.True(t, allowed)
	assert.InDelta(t, 0, remaining, 0.001)
	assert.False(t, rl.Allow("10.0.0.1"))

	// refill is capped at burst
	now = now.Add(time.Hour)
	_, remaining = rl.AllowWithRemaining("10.0.0.1")
	assert.InDelta(t, 2, remaining, 0.001)

	allowedCount, rejectedCount := rl.GetStats()
	assert.Equal(t, uint64(6), allowedCount)
	assert.Equal(t, uint64(2), rejectedCount)
}

func TestLocalRateLimiter_Evict(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))

	rl.evict(now.Add(time.Second))
	assert.True(t, rl.Allow("client"), "evicted entry starts with a full bucket")

	rl.Stop()
	rl.Stop()
}

func TestRedisRateLimiter(t *testing.T) {
	client, mr := newRedis(t)
	rl := NewRedisRateLimiter(client, "ratelimit:", time.Minute)
	ctx := context.Background()
	limit := RateLimitConfig{RequestsPerMinute: 1, Burst: 2}

	allowed, remaining, err := rl.AllowWithRemaining(ctx, "login:10.0.0.1", limit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.InDelta(t, 1, remaining, 0.01)

	allowed, _, err = rl.AllowWithRemaining(ctx, "login:10.0.0.1", limit)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, remaining, err = rl.AllowWithRemaining(ctx, "login:10.0.0.1", limit)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Less(t, remaining, 1.0)

	assert.True(t, mr.Exists("ratelimit:login:10.0.0.1"))
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:login:10.0.0.1"))
}

func TestRedisRateLimiter_SurvivesScriptFlush(t *testing.T) {
	client, _ := newRedis(t)
	rl := NewRedisRateLimiter(client, "ratelimit:", time.Minute)
	ctx := context.Background()
	limit := RateLimitConfig{RequestsPerMinute: 60, Burst: 5}

	_, _, err := rl.AllowWithRemaining(ctx, "default:10.0.0.2", limit)
	require.NoError(t, err)

	require.NoError(t, client.Redis().ScriptFlush(ctx).Err())

	allowed, remaining, err := rl.AllowWithRemaining(ctx, "default:10.0.0.2", limit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.InDelta(t, 3, remaining, 0.1)
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/login", "/login", true},
		{"/login", "/login/extra", false},
		{"/api/auth/**", "/api/auth/login", true},
		{"/api/auth/**", "/api/auth/token/refresh", true},
		{"/api/auth/**", "/api/auth", true},
		{"/api/auth/**", "/api/members", false},
		{"/api/*/attendance", "/api/42/attendance", true},
		{"/api/*/attendance", "/api/42/kas", false},
		{"/api/members/:id", "/api/members/7", true},
		{"/api/members/:id", "/api/members", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPath(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestDefaultPerEndpointConfig(t *testing.T) {
	cfg := DefaultPerEndpointConfig(config.RateLimitConfig{
		RequestsPerMinute:      600,
		Burst:                  50,
		LoginRequestsPerMinute: 10,
		LoginBurst:             3,
	})

	bucket, limit := cfg.findEndpointConfig(http.MethodPost, "/login")
	assert.Equal(t, "/login", bucket)
	assert.Equal(t, 10, limit.RequestsPerMinute)
	assert.Equal(t, 3, limit.Burst)

	bucket, _ = cfg.findEndpointConfig(http.MethodPost, "/api/auth/login")
	assert.Equal(t, "/api/auth/**", bucket)

	bucket, limit = cfg.findEndpointConfig(http.MethodGet, "/login")
	assert.Equal(t, "default", bucket)
	assert.Equal(t, 600, limit.RequestsPerMinute)
}

func newLimitedRouter(t *testing.T, cfg PerEndpointRateLimitConfig) *gin.Engine {
	t.Helper()
	handler, stop := PerEndpointRateLimiter(cfg)
	t.Cleanup(stop)

	r := gin.New()
	r.Use(RequestID(), handler)
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func post(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "192.0.2.10:51000"
	r.ServeHTTP(w, req)
	return w
}

func loginLimitedConfig() PerEndpointRateLimitConfig {
	cfg := DefaultPerEndpointConfig(config.RateLimitConfig{
		RequestsPerMinute:      6000,
		Burst:                  100,
		LoginRequestsPerMinute: 1,
		LoginBurst:             2,
	})
	cfg.Logger = logger.NewNop()
	return cfg
}

func TestPerEndpointRateLimiter_Local(t *testing.T) {
	r := newLimitedRouter(t, loginLimitedConfig())

	assert.Equal(t, http.StatusOK, post(r, "/login").Code)
	w := post(r, "/login")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Burst"))

	w = post(r, "/login")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, response.CodeTooManyRequests, body.Error.Code)

	// The default bucket is separate
	assert.Equal(t, http.StatusOK, post(r, "/dashboard/kas").Code)

	// Dot segments still land in the login bucket
	for _, p := range []string{"/x/../login", "/login/.", "/login//"} {
		assert.Equal(t, http.StatusTooManyRequests, post(r, p).Code, p)
	}
}

func TestPerEndpointRateLimiter_Unlimited(t *testing.T) {
	cfg := loginLimitedConfig()
	cfg.Default.RequestsPerMinute = 0
	r := newLimitedRouter(t, cfg)

	for i := 0; i < 20; i++ {
		w := post(r, "/dashboard/kas")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestPerEndpointRateLimiter_Redis(t *testing.T) {
	client, _ := newRedis(t)
	cfg := loginLimitedConfig()
	cfg.RedisClient = client
	r := newLimitedRouter(t, cfg)

	assert.Equal(t, http.StatusOK, post(r, "/api/auth/login").Code)
	assert.Equal(t, http.StatusOK, post(r, "/api/auth/login").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "/api/auth/login").Code)
}

func TestPerEndpointRateLimiter_RedisDownFailsOpen(t *testing.T) {
	client, mr := newRedis(t)
	cfg := loginLimitedConfig()
	cfg.RedisClient = client
	r := newLimitedRouter(t, cfg)

	mr.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, post(r, "/login").Code)
	}
}
