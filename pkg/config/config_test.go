package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	testChdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eschool-gateway", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, TokenModeDecode, cfg.Gate.TokenMode)
	assert.Equal(t, "token", cfg.Gate.TokenCookie)
	assert.Equal(t, "refresh_token", cfg.Gate.RefreshCookie)
	assert.Equal(t, "/api", cfg.Upstream.APIPrefix)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	testChdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GATE_TOKEN_MODE", "VERIFY")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("UPSTREAM_FRONTEND_URL", "http://frontend:3000")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, TokenModeVerify, cfg.Gate.TokenMode)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "http://frontend:3000", cfg.Upstream.FrontendURL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_VerifyModeRequiresSecret(t *testing.T) {
	testChdir(t, t.TempDir())
	t.Setenv("GATE_TOKEN_MODE", TokenModeVerify)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret is required")
}

func TestLoadWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.env")
	content := "APP_NAME=eschool-edge\nGATE_TOKEN_COOKIE=session\nUPSTREAM_API_PREFIX=/backend\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "eschool-edge", cfg.App.Name)
	assert.Equal(t, "session", cfg.Gate.TokenCookie)
	assert.Equal(t, "/backend", cfg.Upstream.APIPrefix)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Name: "eschool-gateway"},
		Server: ServerConfig{Port: 8080},
		Gate: GateConfig{
			TokenMode:     TokenModeDecode,
			TokenCookie:   "token",
			RefreshCookie: "refresh_token",
		},
		Upstream: UpstreamConfig{
			FrontendURL: "http://localhost:3000",
			APIURL:      "http://localhost:8000",
			APIPrefix:   "/api",
		},
		OTel: OTelConfig{SampleRatio: 1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: "app name"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "unknown token mode", mutate: func(c *Config) { c.Gate.TokenMode = "trust-me" }, wantErr: "invalid gate token mode"},
		{name: "verify without secret", mutate: func(c *Config) { c.Gate.TokenMode = TokenModeVerify }, wantErr: "JWT secret"},
		{name: "verify with secret", mutate: func(c *Config) {
			c.Gate.TokenMode = TokenModeVerify
			c.JWT.Secret = "secret"
		}},
		{name: "same cookie names", mutate: func(c *Config) { c.Gate.RefreshCookie = "token" }, wantErr: "must differ"},
		{name: "empty cookie name", mutate: func(c *Config) { c.Gate.TokenCookie = "" }, wantErr: "cookie names"},
		{name: "missing frontend", mutate: func(c *Config) { c.Upstream.FrontendURL = "" }, wantErr: "UPSTREAM_FRONTEND_URL"},
		{name: "missing api", mutate: func(c *Config) { c.Upstream.APIURL = "" }, wantErr: "UPSTREAM_API_URL"},
		{name: "relative api prefix", mutate: func(c *Config) { c.Upstream.APIPrefix = "api" }, wantErr: "UPSTREAM_API_PREFIX"},
		{name: "sample ratio out of range", mutate: func(c *Config) { c.OTel.SampleRatio = 2 }, wantErr: "OTEL_SAMPLE_RATIO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
