// Package app wires configuration into the storage layer and the domain
// services shared by the API server and the command line tool.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/entityhub/config"
	"github.com/jordanlanch/entityhub/pkg/activity"
	"github.com/jordanlanch/entityhub/pkg/cache"
	"github.com/jordanlanch/entityhub/pkg/customfields"
	"github.com/jordanlanch/entityhub/pkg/database"
	"github.com/jordanlanch/entityhub/pkg/entities"
	"github.com/jordanlanch/entityhub/pkg/export"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/metrics"
	"github.com/jordanlanch/entityhub/pkg/pipeline"
	"github.com/jordanlanch/entityhub/pkg/relationships"
)

// Storage backends for exports
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// App holds the initialized services
type App struct {
	DB       *database.DB
	Cache    *cache.Client
	Metrics  *metrics.Metrics
	Store    *entities.Store
	Graph    *relationships.Graph
	Registry *customfields.Registry
	Timeline *activity.Timeline
	Engine   *pipeline.Engine
	Exports  *export.Service

	log logger.Logger
}

// Options tunes what New initializes
type Options struct {
	// Metrics registers Prometheus collectors; nil disables business counters
	Metrics *metrics.Metrics
	// SkipCache forces the services to run without Redis
	SkipCache bool
}

// New connects to the database and Redis, applies the schema and builds
// every service. Close releases the connections.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Metrics: opts.Metrics, log: log}

	var sslCfg *database.SSLConfig
	if cfg.DBSSLMode != "" {
		sslCfg = &database.SSLConfig{Mode: cfg.DBSSLMode}
	}
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig(), sslCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	if err := db.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("database ready", "dialect", db.Dialect)

	if !cfg.CacheDisabled && !opts.SkipCache {
		c, err := cache.NewClient(cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis unavailable, running without cache", "error", err)
		} else {
			a.Cache = c
		}
	}

	a.Store = entities.NewStore(db, log)
	a.Store.SetRetention(days(cfg.EntityRetentionDays))
	a.Timeline = activity.NewTimeline(a.Store, log).WithMetrics(a.Metrics)
	a.Graph = relationships.NewGraph(a.Store, log).WithMetrics(a.Metrics)
	a.Engine = pipeline.NewEngine(a.Store, a.Graph, log).WithMetrics(a.Metrics)

	fieldOpts := []customfields.Option{
		customfields.WithRetention(days(cfg.CustomFieldRetentionDays)),
		customfields.WithPhoneRegion(cfg.DefaultPhoneRegion),
		customfields.WithMetrics(a.Metrics),
	}
	if cfg.OpenAIAPIKey != "" {
		fieldOpts = append(fieldOpts, customfields.WithParser(customfields.NewOpenAIParser(customfields.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}, log)))
		log.Info("natural language field commands use openai", "model", cfg.OpenAIModel)
	}
	a.Registry = customfields.NewRegistry(a.Store, log, fieldOpts...)

	if a.Cache != nil {
		a.Timeline.WithCache(a.Cache, cfg.CacheTTL)
		a.Engine.WithCache(a.Cache, cfg.CacheTTL)
	}

	storage, err := NewStorage(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Exports = export.NewService(a.Store, a.Registry, storage, log).WithMetrics(a.Metrics)
	log.Info("export storage configured", "storage", storage.Name())

	return a, nil
}

// NewStorage builds the export storage selected by STORAGE_TYPE
func NewStorage(ctx context.Context, cfg *config.Config) (export.Storage, error) {
	switch cfg.StorageType {
	case StorageS3:
		s, err := export.NewS3Storage(ctx, export.S3Config{
			AWSAccessKeyID:     cfg.AWSAccessKeyID,
			AWSSecretAccessKey: cfg.AWSSecretAccessKey,
			AWSRegion:          cfg.AWSRegion,
			S3Bucket:           cfg.S3Bucket,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case StorageLocal, "":
		s, err := export.NewLocalStorage(cfg.StorageLocalPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

// Ping checks the database and, when configured, Redis
func (a *App) Ping(ctx context.Context) map[string]string {
	status := map[string]string{"database": "up"}
	if err := a.DB.PingContext(ctx); err != nil {
		status["database"] = "down"
	}
	if a.Cache != nil {
		status["cache"] = "up"
		if err := a.Cache.Redis.Ping(ctx).Err(); err != nil {
			status["cache"] = "down"
		}
	}
	return status
}

// Close releases the database and Redis connections
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
