package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Token modes understood by the access gate
const (
	TokenModeDecode = "decode"
	TokenModeVerify = "verify"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Gate      GateConfig      `mapstructure:"gate"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	OTel      OTelConfig      `mapstructure:"otel"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GateConfig holds access gate settings
type GateConfig struct {
	TokenMode     string `mapstructure:"token_mode"` // decode, verify
	TokenCookie   string `mapstructure:"token_cookie"`
	RefreshCookie string `mapstructure:"refresh_cookie"`
	CookieSecure  bool   `mapstructure:"cookie_secure"`
}

// JWTConfig holds JWT settings. The secret is only consumed in verify mode.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// UpstreamConfig holds the dashboard frontend and REST API locations
type UpstreamConfig struct {
	FrontendURL    string        `mapstructure:"frontend_url"`
	APIURL         string        `mapstructure:"api_url"`
	APIPrefix      string        `mapstructure:"api_prefix"`
	StripAPIPrefix bool          `mapstructure:"strip_api_prefix"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RateLimitConfig holds request throttling settings
type RateLimitConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	RequestsPerMinute      int  `mapstructure:"requests_per_minute"`
	Burst                  int  `mapstructure:"burst"`
	LoginRequestsPerMinute int  `mapstructure:"login_requests_per_minute"`
	LoginBurst             int  `mapstructure:"login_burst"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "eschool-gateway")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "30s")

	// Gate defaults
	v.SetDefault("GATE_TOKEN_MODE", TokenModeDecode)
	v.SetDefault("GATE_TOKEN_COOKIE", "token")
	v.SetDefault("GATE_REFRESH_COOKIE", "refresh_token")
	v.SetDefault("GATE_COOKIE_SECURE", false)

	// JWT defaults (no secret: decode mode does not need one)
	v.SetDefault("JWT_SECRET", "")

	// Upstream defaults
	v.SetDefault("UPSTREAM_FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("UPSTREAM_API_URL", "http://localhost:8000")
	v.SetDefault("UPSTREAM_API_PREFIX", "/api")
	v.SetDefault("UPSTREAM_STRIP_API_PREFIX", false)
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Rate limit defaults
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", 6000)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("LOGIN_RATE_LIMIT_REQUESTS_PER_MINUTE", 60)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "eschool-gateway")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.ShutdownTimeout = v.GetDuration("SERVER_SHUTDOWN_TIMEOUT")

	// Gate
	cfg.Gate.TokenMode = strings.ToLower(strings.TrimSpace(v.GetString("GATE_TOKEN_MODE")))
	cfg.Gate.TokenCookie = v.GetString("GATE_TOKEN_COOKIE")
	cfg.Gate.RefreshCookie = v.GetString("GATE_REFRESH_COOKIE")
	cfg.Gate.CookieSecure = v.GetBool("GATE_COOKIE_SECURE")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")

	// Upstream
	cfg.Upstream.FrontendURL = v.GetString("UPSTREAM_FRONTEND_URL")
	cfg.Upstream.APIURL = v.GetString("UPSTREAM_API_URL")
	cfg.Upstream.APIPrefix = v.GetString("UPSTREAM_API_PREFIX")
	cfg.Upstream.StripAPIPrefix = v.GetBool("UPSTREAM_STRIP_API_PREFIX")
	cfg.Upstream.Timeout = v.GetDuration("UPSTREAM_TIMEOUT")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.RequestsPerMinute = v.GetInt("RATE_LIMIT_REQUESTS_PER_MINUTE")
	cfg.RateLimit.Burst = v.GetInt("RATE_LIMIT_BURST")
	cfg.RateLimit.LoginRequestsPerMinute = v.GetInt("LOGIN_RATE_LIMIT_REQUESTS_PER_MINUTE")
	cfg.RateLimit.LoginBurst = v.GetInt("LOGIN_RATE_LIMIT_BURST")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Gate.TokenMode {
	case TokenModeDecode:
	case TokenModeVerify:
		// The signing secret is only needed by the verifying path, and its absence is fatal there
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT secret is required when GATE_TOKEN_MODE=%s", TokenModeVerify)
		}
	default:
		return fmt.Errorf("invalid gate token mode: %q (want %s or %s)", c.Gate.TokenMode, TokenModeDecode, TokenModeVerify)
	}

	if c.Gate.TokenCookie == "" || c.Gate.RefreshCookie == "" {
		return fmt.Errorf("gate cookie names are required")
	}
	if c.Gate.TokenCookie == c.Gate.RefreshCookie {
		return fmt.Errorf("token and refresh cookie names must differ")
	}

	if c.Upstream.FrontendURL == "" {
		return fmt.Errorf("UPSTREAM_FRONTEND_URL is required")
	}
	if c.Upstream.APIURL == "" {
		return fmt.Errorf("UPSTREAM_API_URL is required")
	}
	if !strings.HasPrefix(c.Upstream.APIPrefix, "/") {
		return fmt.Errorf("UPSTREAM_API_PREFIX must start with /, got %q", c.Upstream.APIPrefix)
	}

	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %v", c.OTel.SampleRatio)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
