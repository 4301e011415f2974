package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/models"
)

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveFetch(models.Interval1d, "ok", 120*time.Millisecond)
	m.ObserveFetch(models.Interval1d, "ok", 80*time.Millisecond)
	m.ObserveCooldown(models.Interval1m)
	m.ObserveJob("fill", "transient", time.Second)
	m.ObserveJob("fill", "skipped", 0)
	m.ObserveEvent("dropped")
	m.ObserveCycle("refresh", false, time.Minute)
	m.SetSeriesRows(models.Interval5m, 250)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("1d", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cooldowns.WithLabelValues("1m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("fill", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("refresh", "failed")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.SeriesRows.WithLabelValues("5m")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveEvent("new_bucket")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `scanner_stream_events_total{outcome="new_bucket"} 1`)

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandlerUsesHealthResponder(t *testing.T) {
	m := New()
	m.SetHealth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
