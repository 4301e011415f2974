// Package health reports whether the scanner's loops and live feed are
// keeping up.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/scheduler"
	"candle-scanner/internal/stream"
)

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "HEALTHY"
	Degraded  Status = "DEGRADED"
	Unhealthy Status = "UNHEALTHY"
)

// Component is the result of one check.
type Component struct {
	Name    string                 `json:"name"`
	Status  Status                 `json:"status"`
	Message string                 `json:"message"`
	Latency time.Duration          `json:"latency"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Check inspects one component.
type Check func(ctx context.Context) Component

// Config holds the thresholds of the built-in runtime checks.
type Config struct {
	MemoryThresholdMB  uint64
	GoroutineThreshold int
	Timeout            time.Duration
}

// DefaultConfig returns default thresholds.
func DefaultConfig() Config {
	return Config{
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
		Timeout:            5 * time.Second,
	}
}

// Monitor runs registered checks on demand.
type Monitor struct {
	mu      sync.RWMutex
	cfg     Config
	clock   clock.Clock
	started time.Time
	checks  map[string]Check

	total  atomic.Int64
	failed atomic.Int64
}

// NewMonitor creates a monitor with the memory and goroutine checks
// registered. clk may be nil.
func NewMonitor(cfg Config, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	m := &Monitor{
		cfg:     cfg,
		clock:   clk,
		started: clk.Now(),
		checks:  make(map[string]Check),
	}
	m.Register("memory", m.checkMemory)
	m.Register("goroutines", m.checkGoroutines)
	return m
}

// Register adds or replaces a check.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Report is the outcome of one round of checks.
type Report struct {
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime"`
	Components []Component   `json:"components"`
	Checks     int64         `json:"checks"`
	Failed     int64         `json:"failed_checks"`
}

// Check runs every registered check concurrently. A panicking check
// reports unhealthy.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	components := make([]Component, len(names))
	var wg conc.WaitGroup
	for i := range names {
		i := i
		wg.Go(func() {
			components[i] = m.run(ctx, names[i], checks[i])
		})
	}
	wg.Wait()

	m.total.Add(1)
	overall := Healthy
	for _, c := range components {
		switch c.Status {
		case Unhealthy:
			overall = Unhealthy
		case Degraded:
			if overall == Healthy {
				overall = Degraded
			}
		}
	}
	if overall == Unhealthy {
		m.failed.Add(1)
	}

	return Report{
		Status:     overall,
		StartedAt:  m.started,
		Uptime:     m.clock.Now().Sub(m.started),
		Components: components,
		Checks:     m.total.Load(),
		Failed:     m.failed.Load(),
	}
}

func (m *Monitor) run(ctx context.Context, name string, check Check) Component {
	start := time.Now()
	var c Component
	var catcher panics.Catcher
	catcher.Try(func() { c = check(ctx) })
	if rec := catcher.Recovered(); rec != nil {
		c = Component{Status: Unhealthy, Message: fmt.Sprintf("check panicked: %v", rec.Value)}
	}
	c.Name = name
	c.Latency = time.Since(start)
	return c
}

// Handler serves the report as JSON: 200 while healthy or degraded, 503
// otherwise.
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

func (m *Monitor) checkMemory(context.Context) Component {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	allocMB := ms.Alloc / 1024 / 1024

	c := Component{
		Status:  Healthy,
		Message: fmt.Sprintf("Memory usage: %d MB", allocMB),
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   ms.Sys / 1024 / 1024,
			"num_gc":   ms.NumGC,
		},
	}
	if m.cfg.MemoryThresholdMB > 0 && allocMB > m.cfg.MemoryThresholdMB {
		c.Status = Degraded
		c.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	}
	return c
}

func (m *Monitor) checkGoroutines(context.Context) Component {
	n := runtime.NumGoroutine()
	c := Component{
		Status:  Healthy,
		Message: fmt.Sprintf("Goroutine count: %d", n),
		Details: map[string]interface{}{"count": n},
	}
	if m.cfg.GoroutineThreshold > 0 && n > m.cfg.GoroutineThreshold {
		c.Status = Degraded
		c.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return c
}

// LoopCheck judges a scheduler loop. The loop is unhealthy once it has
// gone two intervals without a successful cycle and degraded while its
// latest cycle failed.
func LoopCheck(status func() scheduler.Status, interval time.Duration, clk clock.Clock) Check {
	if clk == nil {
		clk = clock.System{}
	}
	return func(context.Context) Component {
		st := status()
		c := Component{
			Status: Healthy,
			Details: map[string]interface{}{
				"state":    st.State.String(),
				"cycles":   st.Cycles,
				"failures": st.Failures,
			},
		}

		switch {
		case st.Cycles == 0:
			c.Message = "Waiting for first cycle"
		case st.LastSuccess.IsZero():
			c.Status = Unhealthy
			c.Message = fmt.Sprintf("No successful cycle in %d attempts", st.Cycles)
		case interval > 0 && clk.Now().Sub(st.LastSuccess) > 2*interval:
			c.Status = Unhealthy
			c.Message = fmt.Sprintf("Last success %v ago", clk.Now().Sub(st.LastSuccess).Round(time.Second))
		case st.LastFailure.After(st.LastSuccess):
			c.Status = Degraded
			c.Message = fmt.Sprintf("Last cycle failed: %v", st.LastErr)
		default:
			c.Message = fmt.Sprintf("Last success %v ago", clk.Now().Sub(st.LastSuccess).Round(time.Second))
		}
		return c
	}
}

// StreamCheck judges the live feed. Silence is only ever degraded: the
// market is closed for most of the day.
func StreamCheck(stats func() stream.Stats, maxSilence time.Duration, clk clock.Clock) Check {
	if clk == nil {
		clk = clock.System{}
	}
	return func(context.Context) Component {
		st := stats()
		c := Component{
			Status:  Healthy,
			Message: "Receiving live events",
			Details: map[string]interface{}{
				"applied":    st.Applied,
				"dropped":    st.Dropped,
				"reconnects": st.Reconnects,
			},
		}
		switch {
		case st.LastEvent.IsZero():
			c.Status = Degraded
			c.Message = "No live events received"
		case maxSilence > 0 && clk.Now().Sub(st.LastEvent) > maxSilence:
			c.Status = Degraded
			c.Message = fmt.Sprintf("No events for %v", clk.Now().Sub(st.LastEvent).Round(time.Second))
		}
		return c
	}
}
