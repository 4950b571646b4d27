package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency with a health probe, such as the redis client
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// UpstreamChecker reports reachability per upstream
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) map[string]bool
}

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	service   string
	version   string
	redis     Pinger
	upstreams UpstreamChecker
}

// NewHealthHandler creates a new HealthHandler. Nil dependencies are reported as not configured.
func NewHealthHandler(service, version string, redis Pinger, upstreams UpstreamChecker) *HealthHandler {
	return &HealthHandler{
		service:   service,
		version:   version,
		redis:     redis,
		upstreams: upstreams,
	}
}

// Health returns basic health status
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   h.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready checks redis and the upstreams
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ready := true
	components := gin.H{}

	if h.redis == nil {
		components["redis"] = "not configured"
	} else if err := h.redis.HealthCheck(ctx); err != nil {
		components["redis"] = "disconnected"
		ready = false
	} else {
		components["redis"] = "connected"
	}

	if h.upstreams == nil {
		components["upstreams"] = "not configured"
	} else {
		upstreams := gin.H{}
		for name, ok := range h.upstreams.HealthCheck(ctx) {
			if ok {
				upstreams[name] = "reachable"
			} else {
				upstreams[name] = "unreachable"
				ready = false
			}
		}
		components["upstreams"] = upstreams
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"service":    h.service,
		"components": components,
	})
}

// Status reports the gateway version
// GET /gateway/v1/status
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"service": h.service,
	})
}
