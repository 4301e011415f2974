package ingest

import (
	"context"
	"time"

	"candle-scanner/internal/models"
)

// Backfill populates a series from empty. It walks backward until
// RowTarget distinct rows are held or MaxThinPages consecutive pages come
// back with at most ThinPageRows rows. Any fetch error aborts the
// backfill and nothing is returned.
func (e *Engine) Backfill(ctx context.Context, inst models.Instrument, iv models.Interval) (Result, error) {
	w, err := e.walk(ctx, inst, iv, func(w *walk, _ time.Time) bool {
		return w.distinct() >= e.policy.RowTarget
	})
	if err != nil {
		return Result{}, err
	}

	candles := w.candles()
	e.logger.Info().
		Str("ticker", inst.Ticker).
		Str("interval", iv.String()).
		Int("rows", len(candles)).
		Int("calls", w.calls).
		Msg("Backfill complete")

	return Result{
		Candles:    candles,
		Fresh:      candles,
		Added:      len(candles),
		Calls:      w.calls,
		Backfilled: true,
	}, nil
}
