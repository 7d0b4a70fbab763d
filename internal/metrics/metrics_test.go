package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryServesMetrics(t *testing.T) {
	reg := NewRegistry()
	fb := NewFeedbackMetrics(reg)
	fb.ActionsTotal.WithLabelValues("queue", "true").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedrank_feedback_actions_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRankMetrics(reg)
	assert.Panics(t, func() { NewRankMetrics(reg) })
}

func TestFeedbackMetrics(t *testing.T) {
	m := NewFeedbackMetrics(prometheus.NewRegistry())

	m.ActionsTotal.WithLabelValues("demote", "true").Inc()
	m.ActionsTotal.WithLabelValues("demote", "true").Inc()
	m.LedgerAppends.WithLabelValues("feedback").Inc()
	m.Rewards.Observe(-0.4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("demote", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerAppends.WithLabelValues("feedback")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Rewards))
}

func TestHTTPMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/feed", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/feed", "/feed", "/health"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/feed", "200")))

	expected := `
# HELP feedrank_http_in_flight_requests Number of HTTP requests currently being processed.
# TYPE feedrank_http_in_flight_requests gauge
feedrank_http_in_flight_requests 0
`
	assert.NoError(t, testutil.CollectAndCompare(m.InFlightGauge, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
}

func TestHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/bad", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") })
	e.GET("/boom", func(c echo.Context) error { return errors.New("boom") })

	for _, path := range []string{"/bad", "/boom", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/bad", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/boom", "500")))

	codes := map[string]bool{}
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "feedrank_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "status_code" {
					codes[l.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, codes["404"])
	assert.False(t, codes["200"])
}
