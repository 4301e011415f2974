// Package stream folds live candle events into the in-memory series.
package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
	"candle-scanner/internal/series"
)

// DefaultReconnectDelay is the pause before re-subscribing after the
// upstream subscription ends.
const DefaultReconnectDelay = 60 * time.Second

// Source produces live events. Stream blocks until the subscription ends
// and never sends on out after it returns.
type Source interface {
	Stream(ctx context.Context, out chan<- models.CandleEvent) error
}

// Observer receives one outcome per event: new_bucket, same_bucket or dropped.
type Observer interface {
	ObserveEvent(outcome string)
}

// Stats counts what the reconciler has done so far.
type Stats struct {
	Applied    int64
	Appended   int64
	Dropped    int64
	Reconnects int64
	// LastEvent is when the last event was applied, zero before the first.
	LastEvent  time.Time
}

// Reconciler is the single consumer of the live event feed.
type Reconciler struct {
	registry       *series.Registry
	clock          clock.Clock
	reconnectDelay time.Duration
	observer       Observer
	logger         zerolog.Logger

	applied    atomic.Int64
	appended   atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
	lastEvent  atomic.Int64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for reconnect pauses.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.reconnectDelay = d }
}

// WithObserver reports event outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

// NewReconciler creates a reconciler writing into reg.
func NewReconciler(reg *series.Registry, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry:       reg,
		clock:          clock.System{},
		reconnectDelay: DefaultReconnectDelay,
		logger:         logger.With().Str("component", "stream").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply validates ev and folds it into its series. Rejected events come
// back as errors matching errors.ErrMalformedEvent.
func (r *Reconciler) Apply(ev models.CandleEvent) (series.Transition, error) {
	if _, ok := r.registry.Instrument(ev.InstrumentID); !ok {
		return series.SameBucket, errors.NewEventError(ev.InstrumentID, "unknown instrument id")
	}
	if !ev.Interval.Valid() {
		return series.SameBucket, errors.NewEventError(ev.InstrumentID, "unknown interval "+string(ev.Interval))
	}
	c := ev.Candle()
	if c.Time.IsZero() {
		return series.SameBucket, errors.NewEventError(ev.InstrumentID, "missing open time")
	}
	if c.Close <= 0 {
		return series.SameBucket, errors.NewEventError(ev.InstrumentID, "missing close")
	}
	s, ok := r.registry.Lookup(ev.InstrumentID, ev.Interval)
	if !ok {
		return series.SameBucket, errors.NewEventError(ev.InstrumentID, "interval "+ev.Interval.String()+" not tracked")
	}

	tr, err := s.Apply(c)
	switch {
	case errors.Is(err, series.ErrNotFilled):
		return tr, errors.Join(errors.NewEventError(ev.InstrumentID, "series not filled yet"), err)
	case err != nil:
		return tr, errors.Join(errors.NewEventError(ev.InstrumentID, "stale event"), err)
	}
	return tr, nil
}

// Run consumes events until the channel closes or ctx is cancelled. Bad
// events are logged and dropped.
func (r *Reconciler) Run(ctx context.Context, events <-chan models.CandleEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Reconciler) handle(ev models.CandleEvent) {
	tr, err := r.Apply(ev)
	if err != nil {
		r.dropped.Add(1)
		r.observe("dropped")
		level := zerolog.WarnLevel
		if errors.Is(err, series.ErrNotFilled) {
			level = zerolog.DebugLevel
		}
		r.logger.WithLevel(level).
			Err(err).
			Str("instrument_id", ev.InstrumentID).
			Str("interval", string(ev.Interval)).
			Time("open_time", ev.Time).
			Msg("Dropped live event")
		return
	}
	r.applied.Add(1)
	r.lastEvent.Store(r.clock.Now().UnixNano())
	if tr == series.NewBucket {
		r.appended.Add(1)
	}
	r.observe(tr.String())
}

func (r *Reconciler) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveEvent(outcome)
	}
}

// Follow keeps src subscribed until ctx is cancelled, pausing for the
// reconnect delay whenever the subscription ends.
func (r *Reconciler) Follow(ctx context.Context, src Source) error {
	events := make(chan models.CandleEvent, 256)
	consumed := make(chan error, 1)
	go func() { consumed <- r.Run(ctx, events) }()

	for {
		err := src.Stream(ctx, events)
		if ctx.Err() != nil {
			break
		}
		r.reconnects.Add(1)
		r.logger.Warn().
			Err(err).
			Dur("retry_in", r.reconnectDelay).
			Msg("Live subscription ended, reconnecting")
		if !clock.Sleep(r.clock, r.reconnectDelay, ctx.Done()) {
			break
		}
	}

	close(events)
	<-consumed
	return ctx.Err()
}

// Stats returns a snapshot of the counters.
func (r *Reconciler) Stats() Stats {
	var last time.Time
	if ns := r.lastEvent.Load(); ns != 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Stats{
		LastEvent:  last,
		Applied:    r.applied.Load(),
		Appended:   r.appended.Load(),
		Dropped:    r.dropped.Load(),
		Reconnects: r.reconnects.Load(),
	}
}
