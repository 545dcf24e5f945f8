package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	pr.ObservePass(backup.OutcomeSuccess)
	pr.ObservePass(backup.OutcomeSuccess)
	pr.ObservePass(backup.OutcomeSkipped)
	pr.ObserveCadence(schedule.Daily, backup.StatusExecuted, 3*time.Second, at)
	pr.ObserveCadence(schedule.Weekly, backup.StatusFailed, time.Second, at)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.passes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.passes.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.executions.WithLabelValues("weekly", "failed")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(pr.lastSuccess.WithLabelValues("daily")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pr.lastSuccess.WithLabelValues("weekly")), "failures leave the timestamp alone")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestPrometheusRecorder_Nil(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObservePass(backup.OutcomeError)
		pr.ObserveCadence(schedule.Daily, backup.StatusExecuted, time.Second, time.Now())
	})
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).ObservePass(backup.OutcomeSkipped)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `envbackup_passes_total{outcome="skipped"} 1`)
}
