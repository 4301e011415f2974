// Package fetcher wraps the upstream candle API with request pacing, a
// per-call timeout and the rate-limit cooldown.
package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// Source is the upstream candle API.
type Source interface {
	GetCandles(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error)
}

// Observer receives fetch outcomes. The metrics package implements it.
type Observer interface {
	ObserveFetch(iv models.Interval, outcome string, d time.Duration)
	ObserveCooldown(iv models.Interval)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(models.Interval, string, time.Duration) {}
func (nopObserver) ObserveCooldown(models.Interval)                     {}

// Fetcher issues paced, bounded calls against a Source.
type Fetcher struct {
	source   Source
	policy   Policy
	clock    clock.Clock
	limiter  *rate.Limiter
	logger   zerolog.Logger
	observer Observer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the clock used for cooldown waits.
func WithClock(c clock.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		if o != nil {
			f.observer = o
		}
	}
}

// New creates a Fetcher.
func New(source Source, policy Policy, opts ...Option) *Fetcher {
	limit := rate.Inf
	if policy.RequestsPerSecond > 0 {
		limit = rate.Limit(policy.RequestsPerSecond)
	}
	burst := policy.Burst
	if burst < 1 {
		burst = 1
	}
	f := &Fetcher{
		source:   source,
		policy:   policy,
		clock:    clock.System{},
		limiter:  rate.NewLimiter(limit, burst),
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the policy the fetcher was built with.
func (f *Fetcher) Policy() Policy {
	return f.policy
}

// Clock returns the clock used for waits and for "now".
func (f *Fetcher) Clock() clock.Clock {
	return f.clock
}

// Fetch returns the candles in [from, to). A rate-limit signal suspends
// only this call for one cooldown and then repeats the identical request;
// that repeats until it succeeds or ctx ends. Any other failure is
// returned as a *errors.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error) {
	log := f.logger.With().
		Str("ticker", inst.Ticker).
		Str("interval", iv.String()).
		Time("from", from).
		Time("to", to).
		Logger()

	for attempt := 1; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, errors.NewFetchError(errors.KindFatal, "fetch", inst.Ticker, iv.String(), err)
		}

		start := time.Now()
		candles, err := f.call(ctx, inst, iv, from, to)
		elapsed := time.Since(start)
		if err == nil {
			f.observer.ObserveFetch(iv, "ok", elapsed)
			log.Debug().Int("rows", len(candles)).Int("attempt", attempt).Dur("duration", elapsed).Msg("Fetched candles")
			return candles, nil
		}

		if ctx.Err() != nil {
			return nil, errors.NewFetchError(errors.KindFatal, "fetch", inst.Ticker, iv.String(), ctx.Err())
		}

		kind := errors.KindOf(err)
		f.observer.ObserveFetch(iv, kind.String(), elapsed)
		if kind != errors.KindRateLimited {
			return nil, errors.NewFetchError(kind, "fetch", inst.Ticker, iv.String(), err)
		}

		f.observer.ObserveCooldown(iv)
		log.Warn().Err(err).Int("attempt", attempt).Dur("cooldown", f.policy.Cooldown).Msg("Rate limited, cooling down")
		select {
		case <-f.clock.After(f.policy.Cooldown):
		case <-ctx.Done():
			return nil, errors.NewFetchError(errors.KindFatal, "fetch", inst.Ticker, iv.String(), ctx.Err())
		}
	}
}

func (f *Fetcher) call(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.policy.FetchTimeout)
	defer cancel()

	candles, err := f.source.GetCandles(callCtx, inst, iv, from, to)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, errors.Transient(errors.Wrapf(err, "fetch exceeded %s", f.policy.FetchTimeout))
	}
	return candles, err
}
