package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolatedRegistry подменяет DefaultRegisterer на время теста
func isolatedRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = registry
	t.Cleanup(func() { prometheus.DefaultRegisterer = prev })
	return registry
}

func family(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestPrometheusMiddlewareRecordsRequests(t *testing.T) {
	registry := isolatedRegistry(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewPrometheusMiddleware("test").Handler())
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/fail", func(c *gin.Context) { c.JSON(http.StatusConflict, gin.H{"code": "USERNAME_ALREADY_USED"}) })

	for _, path := range []string{"/ok", "/fail", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	duration := family(t, registry, "test_http_request_duration_seconds")
	require.NotNil(t, duration)
	assert.Len(t, duration.Metric, 3)

	errs := family(t, registry, "test_http_request_errors_total")
	require.NotNil(t, errs)
	assert.Len(t, errs.Metric, 2, "409 и 404")

	var unmatched bool
	for _, m := range errs.Metric {
		for _, l := range m.Label {
			if l.GetName() == "path" && l.GetValue() == "unmatched" {
				unmatched = true
			}
		}
	}
	assert.True(t, unmatched, "неизвестные пути схлопываются в одну метку")

	inflight := family(t, registry, "test_http_requests_inflight")
	require.NotNil(t, inflight)
	assert.Equal(t, 0.0, inflight.Metric[0].GetGauge().GetValue())
}

func TestPrometheusMiddlewareReusesCollectors(t *testing.T) {
	isolatedRegistry(t)

	first := NewPrometheusMiddleware("reuse")
	var second *PrometheusMiddleware
	require.NotPanics(t, func() { second = NewPrometheusMiddleware("reuse") })
	assert.Same(t, first.reqErrors, second.reqErrors)
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger().Handler())

	var captured string
	r.GET("/test", func(c *gin.Context) {
		traceID, exists := c.Get("trace_id")
		require.True(t, exists)
		captured = traceID.(string)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, w.Header().Get("X-Trace-Id"))
}
