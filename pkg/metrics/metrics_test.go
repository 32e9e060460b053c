package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Business(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordEntityCreated("contact")
	m.RecordEntityCreated("contact")
	m.RecordActivityLogged("crm")
	m.RecordStageTransition("won")
	m.RecordFieldsPurged(3)
	m.RecordFieldsPurged(0)
	m.RecordEntitiesPurged(2)
	m.RecordExportCreated("local")
	m.RecordRelationshipLinked("works_at")
	m.RecordCacheHit("redis")
	m.RecordCacheMiss("redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntitiesCreated.WithLabelValues("contact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivitiesLogged.WithLabelValues("crm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("won")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FieldsPurged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntitiesPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsCreated.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelationshipsMade.WithLabelValues("works_at")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("redis")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEntityCreated("contact")
		m.RecordStageTransition("won")
		m.RecordCacheHit("redis")
	})
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")))
}
