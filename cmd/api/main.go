package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/joho/godotenv"
	"github.com/jordanlanch/entityhub/config"
	"github.com/jordanlanch/entityhub/pkg/api/handlers"
	apimiddleware "github.com/jordanlanch/entityhub/pkg/api/middleware"
	"github.com/jordanlanch/entityhub/pkg/app"
	"github.com/jordanlanch/entityhub/pkg/jobs"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	custommiddleware "github.com/jordanlanch/entityhub/pkg/middleware"
	"github.com/jordanlanch/entityhub/pkg/secrets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("configuration loaded", "environment", cfg.APIEnvironment)

	if err := secrets.Load(context.Background(), cfg, log); err != nil {
		log.Error("failed to load secrets", "backend", cfg.SecretsBackend, "error", err)
		os.Exit(1)
	}

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.APIEnvironment,
			Release:          "entityhub@" + version,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			log.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	prometheusMetrics := metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	services, err := app.New(ctx, cfg, log, app.Options{Metrics: prometheusMetrics})
	cancel()
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer rateLimiter.Stop()

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request failed", append(args, "error", v.Error)...)
				return nil
			}
			log.Info("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(middleware.Gzip())
	e.Use(rateLimiter.RateLimitMiddleware())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "EntityHub API",
			"version":     version,
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := services.Ping(ctx)
		code := http.StatusOK
		result := map[string]any{"status": "healthy"}
		for component, state := range status {
			result[component] = state
			if state != "up" {
				code = http.StatusServiceUnavailable
				result["status"] = "unhealthy"
			}
		}
		return c.JSON(code, result)
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	workspace := e.Group("/api/v1/workspaces/:workspace_id",
		apimiddleware.JWTMiddleware(cfg.JWTSecret),
		custommiddleware.RequireWorkspaceAccess(),
	)
	handlers.Handlers{
		Entities:      handlers.NewEntityHandler(services.Store, services.Graph, services.Timeline, prometheusMetrics, log),
		Relationships: handlers.NewRelationshipHandler(services.Graph, log),
		CustomFields:  handlers.NewCustomFieldsHandler(services.Registry, log),
		Activities:    handlers.NewActivityHandler(services.Timeline, log),
		Pipelines:     handlers.NewPipelineHandler(services.Engine, log),
		Exports:       handlers.NewExportHandler(services.Exports, log),
	}.Register(workspace)

	var cronManager *jobs.CronManager
	if cfg.JobsEnabled {
		purger := jobs.NewPurger(services.Store, services.Registry, prometheusMetrics, log)
		cronManager = jobs.NewCronManager(purger, log)
		if err := cronManager.SetupJobs(cfg.PurgeSchedule); err != nil {
			log.Error("failed to schedule jobs", "schedule", cfg.PurgeSchedule, "error", err)
			os.Exit(1)
		}
		cronManager.Start()
	}

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Info("entityhub api starting",
		"address", address,
		"rate_limit_per_minute", cfg.RateLimitRequestsPerMinute,
		"rate_limit_burst", cfg.RateLimitBurst,
		"jobs_enabled", cfg.JobsEnabled,
		"cache_enabled", services.Cache != nil,
	)

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	if cronManager != nil {
		cronManager.Stop()
		log.Info("cron jobs stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}

	log.Info("server gracefully stopped")
}
