// Package metrics exposes Prometheus metrics for the scanner.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"candle-scanner/internal/models"
)

// Metrics holds every collector. It satisfies the observer interfaces of
// the fetcher, pool, stream and scheduler packages.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time
	health   http.Handler

	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	Cooldowns     *prometheus.CounterVec
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	EventsTotal   *prometheus.CounterVec
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	SeriesRows    *prometheus.GaugeVec
}

// New creates metrics on their own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),

		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_fetch_total",
			Help: "Upstream candle requests by interval and outcome",
		}, []string{"interval", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_fetch_duration_seconds",
			Help:    "Upstream candle request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"interval"}),
		Cooldowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_rate_limit_cooldowns_total",
			Help: "Rate limit cooldowns taken by interval",
		}, []string{"interval"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_jobs_total",
			Help: "Pool jobs by operation and outcome",
		}, []string{"op", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_job_duration_seconds",
			Help:    "Pool job latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"op"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_stream_events_total",
			Help: "Live events by outcome (new_bucket, same_bucket, dropped)",
		}, []string{"outcome"}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Scheduler cycles by loop and result",
		}, []string{"loop", "result"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Scheduler cycle latency",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		}, []string{"loop"}),
		SeriesRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanner_series_rows",
			Help: "Candles held in memory per interval",
		}, []string{"interval"}),
	}

	m.registry.MustRegister(
		m.FetchTotal,
		m.FetchDuration,
		m.Cooldowns,
		m.JobsTotal,
		m.JobDuration,
		m.EventsTotal,
		m.CyclesTotal,
		m.CycleDuration,
		m.SeriesRows,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveFetch(iv models.Interval, outcome string, d time.Duration) {
	m.FetchTotal.WithLabelValues(iv.String(), outcome).Inc()
	m.FetchDuration.WithLabelValues(iv.String()).Observe(d.Seconds())
}

func (m *Metrics) ObserveCooldown(iv models.Interval) {
	m.Cooldowns.WithLabelValues(iv.String()).Inc()
}

func (m *Metrics) ObserveJob(op, outcome string, d time.Duration) {
	m.JobsTotal.WithLabelValues(op, outcome).Inc()
	if outcome != "skipped" {
		m.JobDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveEvent(outcome string) {
	m.EventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCycle(loop string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failed"
	}
	m.CyclesTotal.WithLabelValues(loop, result).Inc()
	m.CycleDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// SetSeriesRows records the in-memory candle count of iv.
func (m *Metrics) SetSeriesRows(iv models.Interval, n int) {
	m.SeriesRows.WithLabelValues(iv.String()).Set(float64(n))
}

// SetHealth replaces the default /healthz responder.
func (m *Metrics) SetHealth(h http.Handler) {
	m.health = h
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	if m.health != nil {
		mux.Handle("/healthz", m.health)
		return mux
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"started_at": m.started.UTC(),
			"uptime_sec": int(time.Since(m.started).Seconds()),
		})
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
