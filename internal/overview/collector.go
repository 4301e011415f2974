package overview

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"candle-scanner/internal/models"
	"candle-scanner/internal/pool"
)

// Collector gathers overview records for a set of instruments.
type Collector struct {
	source      Source
	shortable   *ShortableCache
	coordinator *pool.Coordinator
	workers     int
	logger      zerolog.Logger
}

// NewCollector creates a collector. shortable may be nil.
func NewCollector(source Source, shortable *ShortableCache, coordinator *pool.Coordinator, workers int, logger zerolog.Logger) *Collector {
	if workers <= 0 {
		workers = pool.FetchWorkers
	}
	return &Collector{
		source:      source,
		shortable:   shortable,
		coordinator: coordinator,
		workers:     workers,
		logger:      logger.With().Str("component", "overview").Logger(),
	}
}

// Collect fetches every instrument's overview on the fetch pool and returns
// the recognized records sorted by ticker. Failed and unrecognized tickers
// are left out.
func (c *Collector) Collect(ctx context.Context, instruments []models.Instrument) ([]models.OverviewRecord, pool.Summary) {
	records := make([]*models.OverviewRecord, len(instruments))
	jobs := make([]pool.Job, len(instruments))
	for i, inst := range instruments {
		i, inst := i, inst
		jobs[i] = pool.Job{
			Instrument: inst,
			Op:         "overview",
			Run: func(ctx context.Context) error {
				rec, err := c.source.FetchOverview(ctx, inst.Ticker)
				if err != nil || rec == nil {
					return err
				}
				c.enrich(ctx, inst, rec)
				records[i] = rec
				return nil
			},
		}
	}

	results := c.coordinator.Run(ctx, jobs, c.workers)
	summary := pool.Summarize(results)

	out := make([]models.OverviewRecord, 0, len(records))
	for i, rec := range records {
		if rec == nil {
			if results[i].OK() {
				c.logger.Warn().Str("ticker", instruments[i].Ticker).Msg("No overview data")
			}
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, summary
}

func (c *Collector) enrich(ctx context.Context, inst models.Instrument, rec *models.OverviewRecord) {
	if c.shortable == nil || inst.ISIN == "" {
		return
	}
	ok, err := c.shortable.Lookup(ctx, inst.ISIN)
	if err != nil {
		c.logger.Warn().Err(err).Str("ticker", inst.Ticker).Msg("Shortability lookup failed")
		return
	}
	rec.Shortable = models.Bool(ok)
}
