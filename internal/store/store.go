// Package store persists candle series, per-interval summaries and the
// overview table.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"candle-scanner/internal/models"
)

// CandleStore is the durable home of every artifact the scanner writes.
// Each save replaces the whole artifact; readers see either the previous
// or the new version, never a mix.
type CandleStore interface {
	LoadSeries(ctx context.Context, inst models.Instrument, iv models.Interval) ([]models.Row, error)
	SaveSeries(ctx context.Context, inst models.Instrument, iv models.Interval, rows []models.Row) error

	SaveSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error
	LoadSummary(ctx context.Context, iv models.Interval) ([]models.SummaryRow, error)

	SaveOverview(ctx context.Context, records []models.OverviewRecord) error
	LoadOverview(ctx context.Context) ([]models.OverviewRecord, error)
	// OverviewModTime is the zero time when no overview was ever saved.
	OverviewModTime(ctx context.Context) (time.Time, error)

	Close() error
}

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	DataDir string
	DBPath  string
}

// Open creates the configured backend.
func Open(cfg Config, logger zerolog.Logger) (CandleStore, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(afero.NewOsFs(), cfg.DataDir, logger)
	case BackendSQLite:
		path := cfg.DBPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "scanner.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// fileTicker makes a ticker safe to use in a file name.
func fileTicker(ticker string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(ticker)
}
