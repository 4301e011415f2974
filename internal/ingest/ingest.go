// Package ingest fills candle series from the upstream API: a backward
// walk from empty (backfill) and an overlap-then-filter extension of an
// existing series (merge).
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/fetcher"
	"candle-scanner/internal/models"
	"candle-scanner/internal/series"
)

// Fetcher is the paced upstream call used by the engine.
type Fetcher interface {
	Fetch(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error)
}

// Engine runs backfills and incremental merges under one Policy.
type Engine struct {
	fetcher Fetcher
	policy  fetcher.Policy
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates an Engine.
func New(f Fetcher, policy fetcher.Policy, clk clock.Clock, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		fetcher: f,
		policy:  policy,
		clock:   clk,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Result is the outcome of one fill.
type Result struct {
	// Candles is the full series after the fill.
	Candles []models.Candle
	// Fresh holds the fetched rows that were merged in.
	Fresh []models.Candle
	// Added is how many rows the series grew by.
	Added int
	// Calls is the number of upstream requests made.
	Calls      int
	Backfilled bool
	UpToDate   bool
}

// walk pages backward from the current time one lookback window per call.
// stop is consulted after each page; the walk also ends after
// MaxThinPages consecutive thin pages.
type walk struct {
	pages   [][]models.Candle
	calls   int
	thinRun int
}

func (e *Engine) walk(ctx context.Context, inst models.Instrument, iv models.Interval, stop func(w *walk, from time.Time) bool) (*walk, error) {
	w := &walk{}
	cursor := e.clock.Now().UTC()
	lookback := iv.Lookback()
	log := e.logger.With().Str("ticker", inst.Ticker).Str("interval", iv.String()).Logger()

	var oldest time.Time
	for {
		from := cursor.Add(-lookback)
		page, err := e.fetcher.Fetch(ctx, inst, iv, from, cursor)
		w.calls++
		if err != nil {
			return nil, err
		}
		page = series.Dedupe(page)
		if len(page) > 0 {
			newest := page[len(page)-1].Time
			if !oldest.IsZero() && newest.After(oldest) {
				log.Warn().
					Time("page_newest", newest).
					Time("seen_oldest", oldest).
					Msg("Upstream page overlaps a newer page, relying on dedupe")
			}
			if oldest.IsZero() || page[0].Time.Before(oldest) {
				oldest = page[0].Time
			}
		}
		w.pages = append(w.pages, page)

		if e.policy.Thin(len(page)) {
			w.thinRun++
		} else {
			w.thinRun = 0
		}
		if stop(w, from) {
			return w, nil
		}
		if w.thinRun >= e.policy.MaxThinPages {
			log.Debug().Int("calls", w.calls).Msg("History exhausted")
			return w, nil
		}
		cursor = from
	}
}

func (w *walk) candles() []models.Candle {
	var all []models.Candle
	for _, p := range w.pages {
		all = append(all, p...)
	}
	return series.Dedupe(all)
}

func (w *walk) distinct() int {
	seen := make(map[int64]struct{})
	for _, p := range w.pages {
		for _, c := range p {
			seen[c.Time.UnixNano()] = struct{}{}
		}
	}
	return len(seen)
}
