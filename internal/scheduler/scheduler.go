// Package scheduler runs the unattended refresh loops. A loop survives any
// failure of its cycle and only stops when its context ends.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"candle-scanner/internal/clock"
)

// State is the cycle state of a loop.
type State int

const (
	Idle State = iota
	Running
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Status is a snapshot of a loop's history.
type Status struct {
	State       State
	Cycles      int
	Failures    int
	LastSuccess time.Time
	LastFailure time.Time
	LastErr     error
}

// Observer is told about every finished cycle.
type Observer interface {
	ObserveCycle(loop string, ok bool, d time.Duration)
}

// tracker records the state machine shared by both loop kinds.
type tracker struct {
	mu     sync.Mutex
	status Status
	states []State
}

func (t *tracker) set(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = s
	t.states = append(t.states, s)
	if len(t.states) > 64 {
		t.states = t.states[len(t.states)-64:]
	}
}

func (t *tracker) finish(now time.Time, err error) {
	t.mu.Lock()
	t.status.Cycles++
	if err != nil {
		t.status.Failures++
		t.status.LastFailure = now
		t.status.LastErr = err
	} else {
		t.status.LastSuccess = now
	}
	t.mu.Unlock()

	if err != nil {
		t.set(Failed)
	} else {
		t.set(Success)
	}
	t.set(Idle)
}

// Status returns the current snapshot.
func (t *tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// State returns the current cycle state.
func (t *tracker) State() State {
	return t.Status().State
}

// Transitions returns the most recent state transitions, oldest first.
func (t *tracker) Transitions() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.states))
	copy(out, t.states)
	return out
}

// run executes fn once, turning a panic into an error.
func run(ctx context.Context, fn func(context.Context) error) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() { err = fn(ctx) })
	if rec := catcher.Recovered(); rec != nil {
		err = fmt.Errorf("cycle panicked: %w", rec.AsError())
	}
	return err
}

// Loop runs Cycle after FirstDelay and then every Interval, measured from
// the end of the previous cycle.
type Loop struct {
	Name       string
	FirstDelay time.Duration
	Interval   time.Duration
	Cycle      func(ctx context.Context) error
	Clock      clock.Clock
	Logger     zerolog.Logger
	Observer   Observer

	tracker
}

// Run blocks until ctx is cancelled. A cycle in progress is allowed to
// return before Run does.
func (l *Loop) Run(ctx context.Context) error {
	clk := l.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := l.Logger.With().Str("loop", l.Name).Logger()
	logger.Info().Dur("first_delay", l.FirstDelay).Dur("interval", l.Interval).Msg("Loop started")

	if !clock.Sleep(clk, l.FirstDelay, ctx.Done()) {
		return ctx.Err()
	}
	for {
		l.cycle(ctx, clk, logger)
		if !clock.Sleep(clk, l.Interval, ctx.Done()) {
			logger.Info().Msg("Loop stopped")
			return ctx.Err()
		}
	}
}

func (l *Loop) cycle(ctx context.Context, clk clock.Clock, logger zerolog.Logger) {
	l.set(Running)
	start := clk.Now()
	wall := time.Now()
	err := run(ctx, l.Cycle)
	l.finish(clk.Now(), err)

	d := time.Since(wall)
	if l.Observer != nil {
		l.Observer.ObserveCycle(l.Name, err == nil, d)
	}
	if err != nil {
		logger.Error().Err(err).Time("started", start).Dur("duration", d).Msg("Cycle failed")
		return
	}
	logger.Info().Dur("duration", d).Msg("Cycle completed")
}

// Overview loop defaults.
const (
	DefaultFreshness  = 24 * time.Hour
	DefaultRecheck    = 6 * time.Hour
	DefaultRetryEmpty = time.Hour
)

// OverviewLoop regenerates an artifact only when it has gone stale.
type OverviewLoop struct {
	Name       string
	Freshness  time.Duration
	Recheck    time.Duration
	RetryEmpty time.Duration
	// ModTime returns the artifact's last write, zero when it does not exist.
	ModTime func(ctx context.Context) (time.Time, error)
	// Generate rebuilds and persists the artifact and returns its record count.
	Generate func(ctx context.Context) (int, error)
	Clock    clock.Clock
	Logger   zerolog.Logger
	Observer Observer

	tracker
}

func (o *OverviewLoop) clock() clock.Clock {
	if o.Clock == nil {
		return clock.System{}
	}
	return o.Clock
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Step runs one check and returns how long to sleep before the next.
func (o *OverviewLoop) Step(ctx context.Context) time.Duration {
	clk := o.clock()
	logger := o.Logger.With().Str("loop", o.Name).Logger()
	freshness := orDefault(o.Freshness, DefaultFreshness)
	recheck := orDefault(o.Recheck, DefaultRecheck)
	retryEmpty := orDefault(o.RetryEmpty, DefaultRetryEmpty)

	mt, err := o.ModTime(ctx)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Could not read artifact age, regenerating")
	case !mt.IsZero() && clk.Now().Sub(mt) < freshness:
		logger.Debug().Time("modified", mt).Dur("recheck", recheck).Msg("Artifact is fresh")
		return recheck
	}

	o.set(Running)
	wall := time.Now()
	var n int
	err = run(ctx, func(ctx context.Context) error {
		var gerr error
		n, gerr = o.Generate(ctx)
		return gerr
	})
	o.finish(clk.Now(), err)
	if o.Observer != nil {
		o.Observer.ObserveCycle(o.Name, err == nil, time.Since(wall))
	}

	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Artifact generation failed")
		return recheck
	case n == 0:
		logger.Warn().Dur("retry_in", retryEmpty).Msg("No records collected, skipping save")
		return retryEmpty
	}
	logger.Info().Int("records", n).Dur("duration", time.Since(wall)).Msg("Artifact regenerated")
	return recheck
}

// Run repeats Step until ctx is cancelled.
func (o *OverviewLoop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !clock.Sleep(o.clock(), o.Step(ctx), ctx.Done()) {
			return ctx.Err()
		}
	}
}
