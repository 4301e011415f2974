package ingest

import (
	"context"
	"time"

	"candle-scanner/internal/models"
	"candle-scanner/internal/series"
)

// Extend brings an existing series up to date. The upstream API pages
// only by time window, so the walk overlaps the known tail and then
// filters: rows older than the last known open are discarded, the last
// known open itself is refreshed (it may have been a still-open bucket)
// and newer rows are appended. existing is never modified; on error the
// caller keeps its prior series.
func (e *Engine) Extend(ctx context.Context, existing []models.Candle, inst models.Instrument, iv models.Interval) (Result, error) {
	if len(existing) == 0 {
		return e.Backfill(ctx, inst, iv)
	}

	last := existing[len(existing)-1].Time
	age := e.clock.Now().Sub(last)
	if age <= iv.Step()+e.policy.StalenessThreshold {
		return Result{Candles: existing, UpToDate: true}, nil
	}

	w, err := e.walk(ctx, inst, iv, func(w *walk, from time.Time) bool {
		if !from.After(last) {
			return true
		}
		page := w.pages[len(w.pages)-1]
		return len(page) > 0 && !page[0].Time.After(last)
	})
	if err != nil {
		return Result{}, err
	}

	fresh := series.After(w.candles(), last)
	merged := series.Merge(existing, fresh)

	e.logger.Debug().
		Str("ticker", inst.Ticker).
		Str("interval", iv.String()).
		Int("fetched", len(fresh)).
		Int("added", len(merged)-len(existing)).
		Int("calls", w.calls).
		Msg("Series extended")

	return Result{
		Candles: merged,
		Fresh:   fresh,
		Added:   len(merged) - len(existing),
		Calls:   w.calls,
	}, nil
}
