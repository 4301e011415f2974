package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"candle-scanner/internal/broker"
	"candle-scanner/internal/catalog"
	"candle-scanner/internal/clock"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/fetcher"
	"candle-scanner/internal/ingest"
	"candle-scanner/internal/models"
	"candle-scanner/internal/overview"
	"candle-scanner/internal/pool"
	"candle-scanner/internal/scanner"
	"candle-scanner/internal/series"
	"candle-scanner/internal/store"
	"candle-scanner/internal/stream"
	"candle-scanner/internal/summary"
)

// runtime is a fully wired scanner plus the resources it holds open.
type runtime struct {
	scanner *scanner.Scanner
	store   store.CandleStore
	kite    *broker.Kite
	mirror  *store.RedisMirror
}

func (r *runtime) Close() error {
	var errs []error
	if r.mirror != nil {
		errs = append(errs, r.mirror.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}

func (a *App) openStore() (store.CandleStore, error) {
	return store.Open(store.Config{
		Backend: a.Config.Data.Backend,
		DataDir: a.Config.Data.Dir,
		DBPath:  a.Config.Data.DBPath,
	}, a.Logger)
}

// tickers merges the configured list with the tickers file.
func (a *App) tickers() ([]string, error) {
	out := append([]string(nil), a.Config.Data.Tickers...)
	if path := a.Config.Data.TickersFile; path != "" {
		fromFile, err := catalog.LoadTickers(afero.NewOsFs(), path)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	if len(out) == 0 {
		return nil, errors.NewValidationError("data.tickers", out, "no tickers configured")
	}
	return out, nil
}

// build resolves the instrument set and wires every collaborator.
func (a *App) build(ctx context.Context, intervals []models.Interval, withOverview bool) (*runtime, error) {
	cfg := a.Config
	if len(intervals) == 0 {
		ivs, err := cfg.Intervals()
		if err != nil {
			return nil, err
		}
		intervals = ivs
	}

	kite, err := broker.NewKite(broker.KiteConfig{
		APIKey:      cfg.Kite.APIKey,
		AccessToken: cfg.Kite.AccessToken,
		TokenPath:   cfg.Kite.TokenPath,
		Exchange:    cfg.Exchange(),
	})
	if err != nil {
		return nil, err
	}

	tickers, err := a.tickers()
	if err != nil {
		return nil, err
	}
	instruments, errs := catalog.New(kite).Resolve(ctx, tickers)
	for _, e := range errs {
		a.Logger.Warn().Err(e).Msg("Skipping ticker")
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("none of %d tickers resolved", len(tickers))
	}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: st, kite: kite}

	policy := cfg.FetchPolicy()
	clk := clock.System{}
	f := fetcher.New(kite, policy,
		fetcher.WithClock(clk),
		fetcher.WithLogger(a.Logger),
		fetcher.WithObserver(a.Metrics),
	)

	reg := series.NewRegistry()
	coord := pool.NewCoordinator(a.Logger, a.Metrics)

	var mirror summary.Mirror
	if cfg.Redis.Enabled {
		m, err := store.NewRedisMirror(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			a.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis mirror unavailable, continuing without it")
		} else {
			rt.mirror = m
			mirror = m
		}
	}

	var collector *overview.Collector
	if withOverview {
		src := overview.NewFinvizSource(overview.FinvizConfig{Interval: cfg.Overview.RequestInterval}, a.Logger)
		var shortable *overview.ShortableCache
		if cfg.Overview.ShortableURL != "" {
			shortable = overview.NewShortableCache(&overview.HTMLShortableLoader{
				URL:       cfg.Overview.ShortableURL,
				Available: cfg.Overview.ShortableAvailable,
			}, cfg.Overview.CacheSize, cfg.Overview.CacheTTL, a.Logger)
		}
		collector = overview.NewCollector(src, shortable, coord, cfg.Pool.FetchWorkers, a.Logger)
	}

	rt.scanner = scanner.New(scanner.Config{
		Intervals:        intervals,
		FetchWorkers:     cfg.Pool.FetchWorkers,
		IndicatorWorkers: cfg.Pool.IndicatorWorkers,
	}, instruments, scanner.Deps{
		Registry:    reg,
		Store:       st,
		Filler:      ingest.New(f, policy, clk, a.Logger),
		Coordinator: coord,
		Publisher:   summary.NewPublisher(reg, st, mirror, a.Logger),
		Reconciler: stream.NewReconciler(reg, a.Logger,
			stream.WithReconnectDelay(cfg.Stream.ReconnectDelay),
			stream.WithObserver(a.Metrics),
		),
		Collector: collector,
		Rows:      a.Metrics,
	}, a.Logger)

	a.Logger.Info().
		Int("instruments", len(instruments)).
		Int("intervals", len(intervals)).
		Str("backend", cfg.Data.Backend).
		Msg("Scanner wired")
	return rt, nil
}

// liveSource returns the Kite ticker for the streamable intervals, or nil
// when none of them is.
func (a *App) liveSource(rt *runtime) stream.Source {
	ivs := rt.scanner.Intervals()
	if len(broker.StreamableIntervals(ivs)) == 0 {
		return nil
	}
	return broker.NewKiteStream(a.Config.Kite.APIKey, rt.kite.AccessToken(), rt.scanner.Instruments(), ivs, a.Logger)
}
