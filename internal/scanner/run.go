package scanner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/health"
	"candle-scanner/internal/scheduler"
	"candle-scanner/internal/stream"
)

// Schedule configures the long-running loops started by Run.
type Schedule struct {
	FirstDelay time.Duration
	Interval   time.Duration

	Overview   bool
	Freshness  time.Duration
	Recheck    time.Duration
	RetryEmpty time.Duration

	// Stream is the live source; nil disables the live path.
	Stream stream.Source

	// Services run alongside the loops, e.g. the metrics endpoint. An
	// error from any of them stops the rest.
	Services []func(ctx context.Context) error

	// Health, when set, gets a check per loop and for the live feed.
	Health *health.Monitor
	// StreamSilence is how long the feed may stay quiet before the
	// health check reports it degraded.
	StreamSilence time.Duration

	Clock    clock.Clock
	Observer scheduler.Observer
}

// Run loads persisted series and then supervises the refresh loop, the
// overview loop and the live stream until ctx is cancelled. A refresh
// cycle in progress finishes its current jobs before Run returns.
func (s *Scanner) Run(ctx context.Context, sc Schedule) error {
	if err := s.Load(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Some persisted series could not be loaded")
	}

	g, gctx := errgroup.WithContext(ctx)

	refresh := &scheduler.Loop{
		Name:       "refresh",
		FirstDelay: sc.FirstDelay,
		Interval:   sc.Interval,
		Cycle:      s.RefreshCycle,
		Clock:      sc.Clock,
		Logger:     s.logger,
		Observer:   sc.Observer,
	}
	if sc.Health != nil {
		sc.Health.Register("refresh", health.LoopCheck(refresh.Status, sc.Interval, sc.Clock))
	}
	g.Go(func() error { return refresh.Run(gctx) })

	if sc.Overview && s.collector != nil {
		ov := &scheduler.OverviewLoop{
			Name:       "overview",
			Freshness:  sc.Freshness,
			Recheck:    sc.Recheck,
			RetryEmpty: sc.RetryEmpty,
			ModTime:    s.store.OverviewModTime,
			Generate:   s.OverviewCycle,
			Clock:      sc.Clock,
			Logger:     s.logger,
			Observer:   sc.Observer,
		}
		if sc.Health != nil {
			sc.Health.Register("overview", health.LoopCheck(ov.Status, 0, sc.Clock))
		}
		g.Go(func() error { return ov.Run(gctx) })
	}

	if sc.Stream != nil {
		if sc.Health != nil {
			sc.Health.Register("stream", health.StreamCheck(s.reconciler.Stats, sc.StreamSilence, sc.Clock))
		}
		g.Go(func() error { return s.Stream(gctx, sc.Stream) })
	}

	for _, svc := range sc.Services {
		svc := svc
		g.Go(func() error { return svc(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		s.logger.Info().Msg("Scanner stopped")
		return nil
	}
	return err
}
