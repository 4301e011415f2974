// Package pool fans out per-series jobs over a bounded set of workers and
// collects every job's outcome without letting one failure touch another.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// Default widths for the two phases. Fetching is I/O bound, indicator
// computation is CPU bound.
const (
	FetchWorkers     = 8
	IndicatorWorkers = 6
)

// Job is one unit of work against a single (instrument, interval) series.
type Job struct {
	Instrument models.Instrument
	Interval   models.Interval
	Op         string
	Run        func(ctx context.Context) error
}

// Name returns a human label for logs.
func (j Job) Name() string {
	return fmt.Sprintf("%s %s/%s", j.Op, j.Instrument.Ticker, j.Interval)
}

// Result is the outcome of one Job. Results keep submission order.
type Result struct {
	Job      Job
	Index    int
	Err      error
	Duration time.Duration
	Panicked bool
	Skipped  bool
}

// OK reports whether the job completed without error.
func (r Result) OK() bool {
	return r.Err == nil
}

// Observer receives job outcomes.
type Observer interface {
	ObserveJob(op string, outcome string, d time.Duration)
}

// Coordinator runs phases of jobs.
type Coordinator struct {
	logger   zerolog.Logger
	observer Observer

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewCoordinator creates a Coordinator. observer may be nil.
func NewCoordinator(logger zerolog.Logger, observer Observer) *Coordinator {
	return &Coordinator{
		logger:   logger.With().Str("component", "pool").Logger(),
		observer: observer,
	}
}

// Run executes jobs with at most maxWorkers in flight and returns once
// every job has finished. Errors and panics are recorded on the job's own
// Result. Jobs that have not started when ctx ends are marked Skipped;
// jobs already running are left to finish.
func (c *Coordinator) Run(ctx context.Context, jobs []Job, maxWorkers int) []Result {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	results := make([]Result, len(jobs))
	p := pool.New().WithMaxGoroutines(maxWorkers)

	for i, job := range jobs {
		i, job := i, job
		c.submitted.Add(1)
		p.Go(func() {
			results[i] = c.runOne(ctx, i, job)
		})
	}
	p.Wait()
	return results
}

func (c *Coordinator) runOne(ctx context.Context, i int, job Job) Result {
	res := Result{Job: job, Index: i}
	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Skipped = true
		c.observe(job.Op, "skipped", 0)
		return res
	}

	start := time.Now()
	var catcher panics.Catcher
	catcher.Try(func() {
		res.Err = job.Run(ctx)
	})
	if rec := catcher.Recovered(); rec != nil {
		res.Err = errors.Fatal(rec.AsError())
		res.Panicked = true
	}
	res.Duration = time.Since(start)
	c.completed.Add(1)

	if res.Err != nil {
		c.failed.Add(1)
		kind := errors.KindOf(res.Err)
		c.logger.Error().
			Err(res.Err).
			Str("job", job.Name()).
			Str("kind", kind.String()).
			Bool("panic", res.Panicked).
			Dur("duration", res.Duration).
			Msg("Job failed")
		c.observe(job.Op, kind.String(), res.Duration)
		return res
	}
	c.observe(job.Op, "ok", res.Duration)
	return res
}

func (c *Coordinator) observe(op, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveJob(op, outcome, d)
	}
}

// Stats is a running total across all phases.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Stats returns counters since the coordinator was created.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

// Summary counts the outcomes of one phase.
type Summary struct {
	Total   int
	OK      int
	Failed  int
	Skipped int
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Err != nil:
			s.Failed++
		default:
			s.OK++
		}
	}
	return s
}

// MostlySucceeded reports whether at least ratio of the jobs succeeded.
// An empty phase counts as success.
func (s Summary) MostlySucceeded(ratio float64) bool {
	if s.Total == 0 {
		return true
	}
	return float64(s.OK)/float64(s.Total) >= ratio
}

// Failures returns the failed results.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Err joins every failure into one error, or nil.
func Err(results []Result) error {
	var errs []error
	for _, r := range Failures(results) {
		errs = append(errs, errors.Wrap(r.Err, r.Job.Name()))
	}
	return errors.Join(errs...)
}
