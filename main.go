package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ghalitsar-coder/eschool-app-sub001/internal/gate"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/handler"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/middleware"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/proxy"
	"github.com/ghalitsar-coder/eschool-app-sub001/internal/token"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/config"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/logger"
	pkgredis "github.com/ghalitsar-coder/eschool-app-sub001/pkg/redis"
	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting eschool gateway...",
		zap.String("environment", cfg.App.Environment),
		zap.String("token_mode", cfg.Gate.TokenMode),
	)

	ctx := context.Background()

	// Initialize OpenTelemetry
	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if tel, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		log.Warn("Failed to initialize telemetry", zap.Error(err))
	} else if tel.Enabled() {
		log.Info("Telemetry initialized", zap.String("collector", telemetryCfg.CollectorAddr))
	}
	defer telemetry.Shutdown(ctx)

	// Redis is optional: it backs distributed rate limiting and the /ready probe
	var redis *pkgredis.Client
	if cfg.Redis.Enabled {
		redisCfg := pkgredis.ConfigFrom(cfg.Redis)
		redis, err = pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			log.Warn("Redis connection failed, rate limiting stays in memory", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
			log.Info("Redis connected", zap.String("addr", redis.Addr()))
		}
	}

	decoder, err := token.NewDecoder(cfg.Gate.TokenMode, cfg.JWT.Secret)
	if err != nil {
		log.Fatal("Failed to create token decoder", zap.Error(err))
	}

	reverseProxy, err := proxy.NewReverseProxy(proxy.ConfigFrom(cfg.Upstream), log)
	if err != nil {
		log.Fatal("Failed to configure upstreams", zap.Error(err))
	}

	accessGate := gate.New(decoder, gate.Options{
		Cookies: gate.CookieNames{
			Token:   cfg.Gate.TokenCookie,
			Refresh: cfg.Gate.RefreshCookie,
		},
		SecureCookies: cfg.Gate.CookieSecure,
		Applies:       reverseProxy.Matcher().ShouldGate,
	})

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware("/health", "/ready"))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log, "/health", "/ready"))
	router.Use(middleware.NormalizePath())

	if cfg.RateLimit.Enabled {
		rateLimitConfig := middleware.DefaultPerEndpointConfig(cfg.RateLimit)
		rateLimitConfig.Logger = log
		if redis != nil {
			rateLimitConfig.RedisClient = redis
			log.Info("Rate limiting enabled (Redis-backed, distributed)")
		} else {
			log.Info("Rate limiting enabled (local, non-distributed)")
		}
		limiter, stop := middleware.PerEndpointRateLimiter(rateLimitConfig)
		defer stop()
		router.Use(limiter)
	} else {
		log.Warn("Rate limiting DISABLED (RATE_LIMIT_ENABLED=false)")
	}

	// A nil *Client inside a non-nil interface would be probed, so only pass a live one
	var redisPinger handler.Pinger
	if redis != nil {
		redisPinger = redis
	}
	healthHandler := handler.NewHealthHandler(cfg.App.Name, cfg.App.Version, redisPinger, reverseProxy)
	sessionHandler := handler.NewSessionHandler(accessGate, log)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/gateway/v1")
	{
		v1.GET("/status", healthHandler.Status)
		v1.GET("/session", sessionHandler.Session)
		v1.POST("/logout", sessionHandler.Logout)
	}

	// Everything else goes through the gate to the frontend or the API
	router.NoRoute(accessGate.Middleware(log), reverseProxy.Handler())

	log.Info("Upstreams configured",
		zap.String("frontend", cfg.Upstream.FrontendURL),
		zap.String("api", cfg.Upstream.APIURL),
		zap.String("api_prefix", cfg.Upstream.APIPrefix),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}
