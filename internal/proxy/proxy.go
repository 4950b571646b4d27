package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/gate"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/middleware"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/response"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/telemetry"
)

// Identity headers forwarded to upstreams for gated requests
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderProxied  = "X-Proxied-By"

	proxiedByValue = "eschool-gateway"
)

// ReverseProxy forwards requests to the frontend or the API upstream
type ReverseProxy struct {
	config  Config
	matcher *Matcher
	proxies map[string]*httputil.ReverseProxy
	client  *http.Client
	log     *logger.Logger
}

// NewReverseProxy creates a new reverse proxy instance
func NewReverseProxy(config Config, log *logger.Logger) (*ReverseProxy, error) {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	rp := &ReverseProxy{
		config:  config,
		matcher: NewMatcher(config),
		proxies: make(map[string]*httputil.ReverseProxy, 2),
		client: &http.Client{
			Transport: transport,
			Timeout:   config.DefaultTimeout,
		},
		log: log,
	}

	for _, service := range []ServiceConfig{config.Frontend, config.API} {
		if err := rp.initProxy(service); err != nil {
			return nil, err
		}
	}

	return rp, nil
}

// Matcher returns the gate route matcher for this layout
func (rp *ReverseProxy) Matcher() *Matcher {
	return rp.matcher
}

// initProxy initializes a reverse proxy for an upstream
func (rp *ReverseProxy) initProxy(service ServiceConfig) error {
	targetURL, err := url.Parse(service.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid %s upstream url %q: %w", service.Name, service.BaseURL, err)
	}
	if targetURL.Scheme == "" || targetURL.Host == "" {
		return fmt.Errorf("invalid %s upstream url %q: scheme and host are required", service.Name, service.BaseURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.Transport = rp.client.Transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = targetURL.Host

		// Identity headers only ever come from the gate
		req.Header.Del(HeaderUserID)
		req.Header.Del(HeaderUserRole)
		if sess, ok := gate.SessionFromContext(req.Context()); ok && sess.HasRole() {
			if sess.Subject != "" {
				req.Header.Set(HeaderUserID, sess.Subject)
			}
			req.Header.Set(HeaderUserRole, sess.RoleClaim)
		}

		telemetry.InjectHeaders(req.Context(), req.Header)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		fields := []zap.Field{
			zap.String("upstream", service.Name),
			zap.String("request_id", r.Header.Get(middleware.RequestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		}

		switch {
		case errors.Is(err, context.Canceled):
			// client went away; nobody reads this response
			rp.log.Debug("Upstream request cancelled", fields...)
			w.WriteHeader(499)
		case isTimeoutError(err):
			rp.log.Warn("Upstream timed out", fields...)
			response.WriteError(w, http.StatusGatewayTimeout, response.CodeGatewayTimeout, "Upstream service timed out")
		case isConnectionError(err):
			rp.log.Error("Upstream unavailable", fields...)
			response.WriteError(w, http.StatusBadGateway, response.CodeBadGateway, "Upstream service unavailable")
		default:
			rp.log.Error("Upstream error", fields...)
			response.WriteError(w, http.StatusBadGateway, response.CodeBadGateway, "Upstream service error")
		}
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Set(HeaderProxied, proxiedByValue)
		return nil
	}

	rp.proxies[service.Name] = proxy
	return nil
}

// route picks the upstream for a path
func (rp *ReverseProxy) route(path string) ServiceConfig {
	if rp.matcher.IsAPI(path) {
		return rp.config.API
	}
	return rp.config.Frontend
}

// Handler returns a Gin catch-all that forwards to the matching upstream
func (rp *ReverseProxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "gateway.proxy")
		defer span.End()

		service := rp.route(middleware.NormalizeRequestPath(c.Request))
		proxy := rp.proxies[service.Name]
		c.Set(middleware.UpstreamKey, service.Name)

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.path", c.Request.URL.Path),
			attribute.String("target.service", service.Name),
		)

		if service.Name == ServiceAPI && rp.config.StripAPIPrefix {
			c.Request.URL.Path = strings.TrimPrefix(c.Request.URL.Path, rp.matcher.apiPrefix)
			c.Request.URL.RawPath = ""
			if c.Request.URL.Path == "" {
				c.Request.URL.Path = "/"
			}
		}

		timeout := service.Timeout
		if timeout == 0 {
			timeout = rp.config.DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))

		if status := c.Writer.Status(); status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// isTimeoutError checks if error is a timeout
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionError checks if error is a connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) || strings.Contains(err.Error(), "connection refused")
}

// HealthCheck probes every upstream concurrently. Any answer below 500 counts as reachable.
func (rp *ReverseProxy) HealthCheck(ctx context.Context) map[string]bool {
	services := []ServiceConfig{rp.config.Frontend, rp.config.API}
	results := make(map[string]bool, len(services))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, service := range services {
		wg.Add(1)
		go func(service ServiceConfig) {
			defer wg.Done()

			ok := rp.probe(ctx, service)

			mu.Lock()
			results[service.Name] = ok
			mu.Unlock()
		}(service)
	}

	wg.Wait()
	return results
}

func (rp *ReverseProxy) probe(ctx context.Context, service ServiceConfig) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := rp.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
