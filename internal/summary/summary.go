// Package summary builds the per-interval cross-section of latest rows.
package summary

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
	"candle-scanner/internal/series"
)

// Store persists summaries.
type Store interface {
	SaveSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error
}

// Mirror receives a copy of every published summary.
type Mirror interface {
	MirrorSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error
}

// Build returns the last row of every filled series of iv, sorted by ticker.
func Build(iv models.Interval, reg *series.Registry) []models.SummaryRow {
	all := reg.ByInterval(iv)
	rows := make([]models.SummaryRow, 0, len(all))
	for _, s := range all {
		if !s.Filled() {
			continue
		}
		row, ok := s.LastRow()
		if !ok {
			continue
		}
		rows = append(rows, models.SummaryRow{Ticker: s.Instrument.Ticker, Row: row})
	}
	return rows
}

// Publisher writes summaries to the store and the optional mirror.
type Publisher struct {
	registry *series.Registry
	store    Store
	mirror   Mirror
	logger   zerolog.Logger
}

// NewPublisher creates a publisher. mirror may be nil.
func NewPublisher(reg *series.Registry, store Store, mirror Mirror, logger zerolog.Logger) *Publisher {
	return &Publisher{
		registry: reg,
		store:    store,
		mirror:   mirror,
		logger:   logger.With().Str("component", "summary").Logger(),
	}
}

// Publish rebuilds and persists the summary of iv. A mirror failure is
// logged but does not fail the publish.
func (p *Publisher) Publish(ctx context.Context, iv models.Interval) ([]models.SummaryRow, error) {
	start := time.Now()
	rows := Build(iv, p.registry)

	if err := p.store.SaveSummary(ctx, iv, rows); err != nil {
		return nil, errors.Wrapf(err, "save %s summary", iv)
	}

	if p.mirror != nil {
		if err := p.mirror.MirrorSummary(ctx, iv, rows); err != nil {
			p.logger.Warn().Err(err).Str("interval", iv.String()).Msg("Summary mirror failed")
		}
	}

	p.logger.Info().
		Str("interval", iv.String()).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Summary published")
	return rows, nil
}

// PublishAll publishes every interval in ivs, continuing past failures.
func (p *Publisher) PublishAll(ctx context.Context, ivs []models.Interval) error {
	var errs []error
	for _, iv := range ivs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := p.Publish(ctx, iv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
