// Package scanner wires ingestion, indicators, persistence and summaries
// into the phases a refresh cycle runs, and supervises the long-running
// loops of the process.
package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"candle-scanner/internal/analysis/indicators"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/ingest"
	"candle-scanner/internal/logging"
	"candle-scanner/internal/models"
	"candle-scanner/internal/overview"
	"candle-scanner/internal/pool"
	"candle-scanner/internal/series"
	"candle-scanner/internal/store"
	"candle-scanner/internal/stream"
	"candle-scanner/internal/summary"
)

// Filler brings one series up to date. existing is never modified.
type Filler interface {
	Extend(ctx context.Context, existing []models.Candle, inst models.Instrument, iv models.Interval) (ingest.Result, error)
}

// RowObserver receives the in-memory candle count per interval.
type RowObserver interface {
	SetSeriesRows(iv models.Interval, n int)
}

// Config sizes the phases.
type Config struct {
	Intervals        []models.Interval
	FetchWorkers     int
	IndicatorWorkers int
	// MinSuccessRatio is the share of jobs a phase needs to count as a
	// success. The cycle carries on either way.
	MinSuccessRatio float64
}

// Deps are the collaborators of a Scanner. Store and Filler are required;
// the rest default to in-process implementations.
type Deps struct {
	Registry    *series.Registry
	Store       store.CandleStore
	Filler      Filler
	Computer    series.Computer
	Coordinator *pool.Coordinator
	Publisher   *summary.Publisher
	Reconciler  *stream.Reconciler
	Collector   *overview.Collector
	Rows        RowObserver
}

// Scanner owns the series of a fixed instrument set.
type Scanner struct {
	cfg         Config
	instruments []models.Instrument
	registry    *series.Registry
	store       store.CandleStore
	filler      Filler
	computer    series.Computer
	coordinator *pool.Coordinator
	publisher   *summary.Publisher
	reconciler  *stream.Reconciler
	collector   *overview.Collector
	rows        RowObserver
	logger      zerolog.Logger
}

// New creates a Scanner and registers an empty series for every
// instrument and interval. Live events for a series are rejected until
// its first load or fill.
func New(cfg Config, instruments []models.Instrument, deps Deps, logger zerolog.Logger) *Scanner {
	if cfg.FetchWorkers < 1 {
		cfg.FetchWorkers = pool.FetchWorkers
	}
	if cfg.IndicatorWorkers < 1 {
		cfg.IndicatorWorkers = pool.IndicatorWorkers
	}
	if cfg.MinSuccessRatio <= 0 {
		cfg.MinSuccessRatio = 0.5
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = models.AllIntervals()
	}

	s := &Scanner{
		cfg:         cfg,
		instruments: instruments,
		registry:    deps.Registry,
		store:       deps.Store,
		filler:      deps.Filler,
		computer:    deps.Computer,
		coordinator: deps.Coordinator,
		publisher:   deps.Publisher,
		reconciler:  deps.Reconciler,
		collector:   deps.Collector,
		rows:        deps.Rows,
		logger:      logger.With().Str("component", "scanner").Logger(),
	}
	if s.registry == nil {
		s.registry = series.NewRegistry()
	}
	if s.computer == nil {
		s.computer = indicators.NewEngine()
	}
	if s.coordinator == nil {
		s.coordinator = pool.NewCoordinator(logger, nil)
	}
	if s.publisher == nil {
		s.publisher = summary.NewPublisher(s.registry, s.store, nil, logger)
	}
	if s.reconciler == nil {
		s.reconciler = stream.NewReconciler(s.registry, logger)
	}

	for _, iv := range cfg.Intervals {
		for _, inst := range instruments {
			s.registry.Get(inst, iv).SetComputer(s.computer)
		}
	}
	return s
}

// Registry returns the shared series registry.
func (s *Scanner) Registry() *series.Registry { return s.registry }

// Instruments returns the resolved instrument set.
func (s *Scanner) Instruments() []models.Instrument { return s.instruments }

// Intervals returns the managed intervals.
func (s *Scanner) Intervals() []models.Interval { return s.cfg.Intervals }

// Load reads every persisted series. A series that cannot be read stays
// empty and is backfilled by the next fill.
func (s *Scanner) Load(ctx context.Context) error {
	var jobs []pool.Job
	for _, iv := range s.cfg.Intervals {
		for _, ser := range s.registry.ByInterval(iv) {
			ser := ser
			jobs = append(jobs, pool.Job{
				Instrument: ser.Instrument,
				Interval:   ser.Interval,
				Op:         "load",
				Run: func(ctx context.Context) error {
					rows, err := s.store.LoadSeries(ctx, ser.Instrument, ser.Interval)
					if err != nil {
						return err
					}
					if len(rows) > 0 {
						ser.Load(rows)
					}
					return nil
				},
			})
		}
	}

	results := s.coordinator.Run(ctx, jobs, s.cfg.FetchWorkers)
	sum := pool.Summarize(results)
	s.logger.Info().
		Int("series", sum.Total).
		Int("failed", sum.Failed).
		Msg("Persisted series loaded")
	return pool.Err(results)
}

// Fill extends or backfills every series of iv on the fetch pool. It
// returns once every instrument has finished.
func (s *Scanner) Fill(ctx context.Context, iv models.Interval) (pool.Summary, error) {
	jobs := make([]pool.Job, 0, len(s.instruments))
	for _, inst := range s.instruments {
		inst := inst
		ser := s.registry.Get(inst, iv)
		jobs = append(jobs, pool.Job{
			Instrument: inst,
			Interval:   iv,
			Op:         "fill",
			Run: func(ctx context.Context) error {
				start := time.Now()
				var existing []models.Candle
				if ser.Filled() {
					existing = ser.Candles()
				}
				res, err := s.filler.Extend(ctx, existing, inst, iv)
				if err != nil {
					return err
				}
				if res.UpToDate {
					return nil
				}
				ser.Merge(res.Fresh)
				logging.LogFill(s.logger, inst, iv, len(res.Fresh), ser.Len(), time.Since(start))
				return nil
			},
		})
	}
	return s.phase(ctx, "fill", iv, s.coordinator.Run(ctx, jobs, s.cfg.FetchWorkers))
}

// FillIndicators recomputes the derived columns of every series of iv on
// the indicator pool.
func (s *Scanner) FillIndicators(ctx context.Context, iv models.Interval) (pool.Summary, error) {
	all := s.registry.ByInterval(iv)
	jobs := make([]pool.Job, 0, len(all))
	for _, ser := range all {
		ser := ser
		jobs = append(jobs, pool.Job{
			Instrument: ser.Instrument,
			Interval:   iv,
			Op:         "indicators",
			Run: func(context.Context) error {
				return ser.Recompute(s.computer)
			},
		})
	}
	return s.phase(ctx, "indicators", iv, s.coordinator.Run(ctx, jobs, s.cfg.IndicatorWorkers))
}

// SaveSeries persists every filled series of iv.
func (s *Scanner) SaveSeries(ctx context.Context, iv models.Interval) (pool.Summary, error) {
	var (
		jobs  []pool.Job
		total int
	)
	for _, ser := range s.registry.ByInterval(iv) {
		if !ser.Filled() {
			continue
		}
		ser := ser
		total += ser.Len()
		jobs = append(jobs, pool.Job{
			Instrument: ser.Instrument,
			Interval:   iv,
			Op:         "save",
			Run: func(ctx context.Context) error {
				return s.store.SaveSeries(ctx, ser.Instrument, iv, ser.Rows())
			},
		})
	}
	if s.rows != nil {
		s.rows.SetSeriesRows(iv, total)
	}
	return s.phase(ctx, "save", iv, s.coordinator.Run(ctx, jobs, s.cfg.FetchWorkers))
}

// PublishSummaries rebuilds and persists the summary of every interval.
func (s *Scanner) PublishSummaries(ctx context.Context) error {
	return s.publisher.PublishAll(ctx, s.cfg.Intervals)
}

// RefreshInterval runs fill, indicators, save and publish for iv, each a
// full barrier. Later phases run even when an earlier one mostly failed so
// the summary reflects whatever is current.
func (s *Scanner) RefreshInterval(ctx context.Context, iv models.Interval) error {
	var errs []error
	if _, err := s.Fill(ctx, iv); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.FillIndicators(ctx, iv); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.SaveSeries(ctx, iv); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.publisher.Publish(ctx, iv); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RefreshCycle refreshes every interval in order.
func (s *Scanner) RefreshCycle(ctx context.Context) error {
	var errs []error
	for _, iv := range s.cfg.Intervals {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.RefreshInterval(ctx, iv); err != nil {
			errs = append(errs, errors.Wrapf(err, "refresh %s", iv))
		}
	}
	return errors.Join(errs...)
}

// OverviewCycle collects and persists the overview table. An empty
// collection leaves the previous artifact in place and reports zero.
func (s *Scanner) OverviewCycle(ctx context.Context) (int, error) {
	if s.collector == nil {
		return 0, errors.New("overview collector not configured")
	}
	records, sum := s.collector.Collect(ctx, s.instruments)
	if len(records) == 0 {
		if sum.Total > 0 && sum.Failed == sum.Total {
			return 0, errors.Transient(errors.New("every overview fetch failed"))
		}
		return 0, nil
	}
	if err := s.store.SaveOverview(ctx, records); err != nil {
		return 0, err
	}
	s.logger.Info().
		Int("records", len(records)).
		Int("failed", sum.Failed).
		Msg("Overview saved")
	return len(records), nil
}

// Stream applies live events from src until ctx ends.
func (s *Scanner) Stream(ctx context.Context, src stream.Source) error {
	return s.reconciler.Follow(ctx, src)
}

// Reconciler returns the live event consumer.
func (s *Scanner) Reconciler() *stream.Reconciler { return s.reconciler }

func (s *Scanner) phase(ctx context.Context, op string, iv models.Interval, results []pool.Result) (pool.Summary, error) {
	sum := pool.Summarize(results)
	event := s.logger.Debug()
	if sum.Failed > 0 || sum.Skipped > 0 {
		event = s.logger.Warn()
	}
	event.
		Str("phase", op).
		Str("interval", iv.String()).
		Int("ok", sum.OK).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Msg("Phase finished")

	if sum.MostlySucceeded(s.cfg.MinSuccessRatio) {
		return sum, nil
	}
	err := pool.Err(results)
	if err == nil {
		err = ctx.Err()
	}
	return sum, errors.Wrapf(err, "%s %s: %d of %d jobs succeeded", op, iv, sum.OK, sum.Total)
}
