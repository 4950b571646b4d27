package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/config"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	pkgredis "github.com/ghalitsar-coder/eschool-app-sub001/pkg/redis"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/response"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/telemetry"
)

// RateLimitConfig holds token bucket settings for one bucket family
type RateLimitConfig struct {
	// Refill rate (0 = unlimited)
	RequestsPerMinute int
	// Bucket capacity
	Burst int
	// Cleanup interval for local rate limiter
	CleanupInterval time.Duration
	// Entry TTL for local rate limiter
	EntryTTL time.Duration
}

// perSecond returns the refill rate in tokens per second
func (c RateLimitConfig) perSecond() float64 {
	return float64(c.RequestsPerMinute) / 60
}

// EndpointRateLimitConfig holds per-endpoint rate limiting configuration
type EndpointRateLimitConfig struct {
	// Path pattern (supports wildcards: /api/*, /api/auth/**, /api/members/:id)
	PathPattern string
	// HTTP methods this config applies to (empty = all methods)
	Methods []string
	// Refill rate per client
	RequestsPerMinute int
	// Bucket capacity
	Burst int
}

// PerEndpointRateLimitConfig holds configuration for per-endpoint rate limiting
type PerEndpointRateLimitConfig struct {
	// Default rate limit for endpoints not in the list
	Default RateLimitConfig
	// Per-endpoint configurations (checked in order, first match wins)
	Endpoints []EndpointRateLimitConfig
	// Redis client for distributed limiting; nil keeps buckets in memory
	RedisClient *pkgredis.Client
	// Key prefix for Redis
	KeyPrefix string
	// Cleanup interval for local rate limiter
	CleanupInterval time.Duration
	// Entry TTL for local rate limiter
	EntryTTL time.Duration
	// Logger for fail-open diagnostics
	Logger *logger.Logger
}

// DefaultPerEndpointConfig builds the gateway limits: a generous default and a strict bucket for sign-in
func DefaultPerEndpointConfig(cfg config.RateLimitConfig) PerEndpointRateLimitConfig {
	login := EndpointRateLimitConfig{
		Methods:           []string{http.MethodPost},
		RequestsPerMinute: cfg.LoginRequestsPerMinute,
		Burst:             cfg.LoginBurst,
	}
	loginForm, authAPI := login, login
	loginForm.PathPattern = "/login"
	authAPI.PathPattern = "/api/auth/**"

	return PerEndpointRateLimitConfig{
		Default: RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			Burst:             cfg.Burst,
		},
		Endpoints:       []EndpointRateLimitConfig{loginForm, authAPI},
		KeyPrefix:       "ratelimit:",
		CleanupInterval: time.Minute,
		EntryTTL:        10 * time.Minute,
	}
}

// rateLimitEntry tracks rate limit state for a key
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// LocalRateLimiter implements in-memory token bucket rate limiting
type LocalRateLimiter struct {
	config  RateLimitConfig
	entries sync.Map
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time

	// Metrics
	totalAllowed  uint64
	totalRejected uint64
}

// NewLocalRateLimiter creates a new local rate limiter and starts its cleanup loop
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 10 * time.Minute
	}

	rl := &LocalRateLimiter{
		config: config,
		stop:   make(chan struct{}),
		now:    time.Now,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request should be allowed
func (rl *LocalRateLimiter) Allow(key string) bool {
	allowed, _ := rl.AllowWithRemaining(key)
	return allowed
}

// AllowWithRemaining checks if a request should be allowed and returns remaining tokens
func (rl *LocalRateLimiter) AllowWithRemaining(key string) (bool, float64) {
	now := rl.now()

	entry, _ := rl.entries.LoadOrStore(key, &rateLimitEntry{
		tokens:     float64(rl.config.Burst),
		lastUpdate: now,
	})
	e := entry.(*rateLimitEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.lastUpdate).Seconds()
	e.tokens = math.Min(float64(rl.config.Burst), e.tokens+elapsed*rl.config.perSecond())
	e.lastUpdate = now

	if e.tokens >= 1 {
		e.tokens--
		atomic.AddUint64(&rl.totalAllowed, 1)
		return true, e.tokens
	}

	atomic.AddUint64(&rl.totalRejected, 1)
	return false, e.tokens
}

// GetStats returns rate limiter statistics
func (rl *LocalRateLimiter) GetStats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&rl.totalAllowed), atomic.LoadUint64(&rl.totalRejected)
}

// cleanup periodically removes stale entries
func (rl *LocalRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evict(rl.now().Add(-rl.config.EntryTTL))
		case <-rl.stop:
			return
		}
	}
}

func (rl *LocalRateLimiter) evict(cutoff time.Time) {
	rl.entries.Range(func(key, value interface{}) bool {
		e := value.(*rateLimitEntry)
		e.mu.Lock()
		if e.lastUpdate.Before(cutoff) {
			rl.entries.Delete(key)
		}
		e.mu.Unlock()
		return true
	})
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *LocalRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// tokenBucketScript refills and takes one token atomically. Remaining tokens are
// returned as a string so fractional values survive the Lua to Redis conversion.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

local elapsed = math.max(0, now - last_update)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_update", tostring(now))
redis.call("EXPIRE", key, ttl)
return {allowed, tostring(tokens)}
`

// tokenBucket runs by SHA and falls back to EVAL when the server has not cached it
var tokenBucket = goredis.NewScript(tokenBucketScript)

// RedisRateLimiter implements Redis-based distributed rate limiting
type RedisRateLimiter struct {
	client    *pkgredis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(client *pkgredis.Client, keyPrefix string, ttl time.Duration) *RedisRateLimiter {
	if ttl < time.Second {
		ttl = 10 * time.Minute
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// AllowWithRemaining checks if a request should be allowed and returns remaining tokens
func (rl *RedisRateLimiter) AllowWithRemaining(ctx context.Context, key string, limit RateLimitConfig) (bool, float64, error) {
	now := float64(time.Now().UnixNano()) / 1e9

	result := tokenBucket.Run(ctx, rl.client.Redis(),
		[]string{rl.keyPrefix + key},
		limit.perSecond(),
		limit.Burst,
		now,
		int(rl.ttl.Seconds()),
	)

	values, err := result.Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("unexpected result length: %d", len(values))
	}

	return toFloat(values[0]) == 1, toFloat(values[1]), nil
}

// toFloat converts the reply types Redis may hand back
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

// matchPath checks if a request path matches a pattern
// Supports wildcards: * matches any segment, ** matches any number of segments
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}

	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	pi := 0
	for i := 0; i < len(pathParts); i++ {
		if pi >= len(patternParts) {
			return false
		}

		patternPart := patternParts[pi]

		// ** matches any remaining path
		if patternPart == "**" {
			return true
		}

		// * and :param match any single segment
		if patternPart == "*" || strings.HasPrefix(patternPart, ":") {
			pi++
			continue
		}

		if patternPart != pathParts[i] {
			return false
		}
		pi++
	}

	// A trailing ** also matches the bare prefix
	if pi == len(patternParts)-1 && patternParts[pi] == "**" {
		return true
	}
	return pi == len(patternParts)
}

// containsMethod checks if a method is in the list (empty list matches all)
func containsMethod(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// findEndpointConfig returns the bucket name and limits for a request
func (c *PerEndpointRateLimitConfig) findEndpointConfig(method, path string) (string, RateLimitConfig) {
	for _, endpoint := range c.Endpoints {
		if matchPath(endpoint.PathPattern, path) && containsMethod(endpoint.Methods, method) {
			return endpoint.PathPattern, RateLimitConfig{
				RequestsPerMinute: endpoint.RequestsPerMinute,
				Burst:             endpoint.Burst,
			}
		}
	}
	return "default", c.Default
}

// PerEndpointRateLimiter creates a middleware with per-endpoint rate limiting.
// Buckets are keyed by matched pattern and client IP. Redis errors fail open.
// The returned stop func ends the local cleanup goroutines.
func PerEndpointRateLimiter(config PerEndpointRateLimitConfig) (gin.HandlerFunc, func()) {
	log := config.Logger
	if log == nil {
		log = logger.Get()
	}

	var redisLimiter *RedisRateLimiter
	if config.RedisClient != nil {
		redisLimiter = NewRedisRateLimiter(config.RedisClient, config.KeyPrefix, config.EntryTTL)
	}

	var localLimiters sync.Map // bucket name -> *LocalRateLimiter

	getLimiter := func(bucket string, limit RateLimitConfig) *LocalRateLimiter {
		if limiter, ok := localLimiters.Load(bucket); ok {
			return limiter.(*LocalRateLimiter)
		}
		limit.CleanupInterval = config.CleanupInterval
		limit.EntryTTL = config.EntryTTL
		limiter := NewLocalRateLimiter(limit)
		actual, loaded := localLimiters.LoadOrStore(bucket, limiter)
		if loaded {
			limiter.Stop()
		}
		return actual.(*LocalRateLimiter)
	}

	stop := func() {
		localLimiters.Range(func(_, value interface{}) bool {
			value.(*LocalRateLimiter).Stop()
			return true
		})
	}

	handler := func(c *gin.Context) {
		bucket, limit := config.findEndpointConfig(c.Request.Method, CleanPath(c.Request.URL.Path))

		// Skip rate limiting if unlimited
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			c.Next()
			return
		}

		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		clientIP := c.ClientIP()
		span.SetAttributes(
			attribute.String("client_ip", clientIP),
			attribute.String("bucket", bucket),
			attribute.Int("requests_per_minute", limit.RequestsPerMinute),
			attribute.Int("burst", limit.Burst),
		)

		var allowed bool
		var remainingTokens float64

		if redisLimiter != nil {
			var err error
			allowed, remainingTokens, err = redisLimiter.AllowWithRemaining(ctx, bucket+":"+clientIP, limit)
			if err != nil {
				span.RecordError(err)
				log.Warn("Rate limiter unavailable, allowing request",
					zap.String("request_id", GetRequestID(c)),
					zap.String("bucket", bucket),
					zap.Error(err),
				)
				allowed = true
				remainingTokens = float64(limit.Burst)
			}
		} else {
			allowed, remainingTokens = getLimiter(bucket, limit).AllowWithRemaining(clientIP)
		}

		span.SetAttributes(attribute.Bool("allowed", allowed))

		remaining := int(remainingTokens)
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Burst", strconv.Itoa(limit.Burst))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			span.End()

			// Time until one full token is back
			retryAfter := int(math.Ceil((1 - remainingTokens) / limit.perSecond()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			response.Abort(c, http.StatusTooManyRequests, response.CodeTooManyRequests,
				"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" second(s).")
			return
		}

		span.End()
		c.Next()
	}

	return handler, stop
}
