package proxy

import (
	"strings"
	"time"

	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/config"
)

// Upstream names
const (
	ServiceFrontend = "frontend"
	ServiceAPI      = "api"
)

// ServiceConfig holds configuration for an upstream
type ServiceConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// Config holds the upstream layout and the gate exclusion list
type Config struct {
	Frontend ServiceConfig
	API      ServiceConfig
	// APIPrefix routes to the API upstream and bypasses the gate
	APIPrefix string
	// StripAPIPrefix removes APIPrefix before forwarding
	StripAPIPrefix bool
	// BypassPrefixes are static asset prefixes the gate never sees
	BypassPrefixes []string
	// BypassExact are single paths the gate never sees
	BypassExact    []string
	DefaultTimeout time.Duration
}

// DefaultConfig returns the local development layout
func DefaultConfig() Config {
	return Config{
		Frontend: ServiceConfig{
			Name:    ServiceFrontend,
			BaseURL: "http://localhost:3000",
		},
		API: ServiceConfig{
			Name:    ServiceAPI,
			BaseURL: "http://localhost:8000",
		},
		APIPrefix:      "/api",
		BypassPrefixes: []string{"/_next/static", "/_next/image"},
		BypassExact:    []string{"/favicon.ico"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ConfigFrom builds the proxy layout from application configuration
func ConfigFrom(up config.UpstreamConfig) Config {
	cfg := DefaultConfig()
	cfg.Frontend.BaseURL = strings.TrimRight(up.FrontendURL, "/")
	cfg.API.BaseURL = strings.TrimRight(up.APIURL, "/")
	if up.APIPrefix != "" {
		cfg.APIPrefix = up.APIPrefix
	}
	cfg.StripAPIPrefix = up.StripAPIPrefix
	if up.Timeout > 0 {
		cfg.DefaultTimeout = up.Timeout
	}
	return cfg
}
