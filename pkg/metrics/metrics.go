package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Business metrics
	EntitiesCreated   *prometheus.CounterVec
	ActivitiesLogged  *prometheus.CounterVec
	StageTransitions  *prometheus.CounterVec
	FieldsPurged      prometheus.Counter
	EntitiesPurged    prometheus.Counter
	ExportsCreated    *prometheus.CounterVec
	RelationshipsMade *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with all metrics registered on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Business metrics
		EntitiesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entities_created_total",
				Help: "Total number of entities created",
			},
			[]string{"type"},
		),
		ActivitiesLogged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activities_logged_total",
				Help: "Total number of activity events appended",
			},
			[]string{"module"},
		),
		StageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_stage_transitions_total",
				Help: "Total number of deal stage transitions",
			},
			[]string{"to_stage"},
		),
		FieldsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "custom_fields_purged_total",
			Help: "Total number of custom field definitions purged",
		}),
		EntitiesPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "entities_purged_total",
			Help: "Total number of soft-deleted entities permanently removed",
		}),
		ExportsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_created_total",
				Help: "Total number of exports created",
			},
			[]string{"storage"}, // local, s3
		),
		RelationshipsMade: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relationships_linked_total",
				Help: "Total number of relationship edges created",
			},
			[]string{"relationship_type"},
		),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/workspaces/:workspace_id/entities/:id

			if req.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(req.Method, path).Observe(float64(req.ContentLength))
			}

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// The Record methods are safe on a nil receiver so that services can run
// without metrics.

// RecordEntityCreated increments the entities created counter
func (m *Metrics) RecordEntityCreated(entityType string) {
	if m == nil {
		return
	}
	m.EntitiesCreated.WithLabelValues(entityType).Inc()
}

// RecordActivityLogged increments the activities logged counter
func (m *Metrics) RecordActivityLogged(module string) {
	if m == nil {
		return
	}
	m.ActivitiesLogged.WithLabelValues(module).Inc()
}

// RecordStageTransition increments the stage transitions counter
func (m *Metrics) RecordStageTransition(toStage string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(toStage).Inc()
}

// RecordFieldsPurged adds n purged custom field definitions
func (m *Metrics) RecordFieldsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldsPurged.Add(float64(n))
}

// RecordEntitiesPurged adds n purged entities
func (m *Metrics) RecordEntitiesPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntitiesPurged.Add(float64(n))
}

// RecordExportCreated increments exports created counter
func (m *Metrics) RecordExportCreated(storage string) {
	if m == nil {
		return
	}
	m.ExportsCreated.WithLabelValues(storage).Inc()
}

// RecordRelationshipLinked increments the relationships counter
func (m *Metrics) RecordRelationshipLinked(relationshipType string) {
	if m == nil {
		return
	}
	m.RelationshipsMade.WithLabelValues(relationshipType).Inc()
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
