package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"candle-scanner/internal/models"
)

// SQLiteStore implements CandleStore on a single SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

const overviewSyncKey = "overview"

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		ticker TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		ema_10 REAL NOT NULL DEFAULT 0,
		ema_20 REAL NOT NULL DEFAULT 0,
		ema_50 REAL NOT NULL DEFAULT 0,
		ema_200 REAL NOT NULL DEFAULT 0,
		rsi_14 REAL NOT NULL DEFAULT 0,
		macd REAL NOT NULL DEFAULT 0,
		macd_hist REAL NOT NULL DEFAULT 0,
		macd_signal REAL NOT NULL DEFAULT 0,
		atr_14 REAL NOT NULL DEFAULT 0,
		UNIQUE(ticker, interval, open_time)
	);

	CREATE TABLE IF NOT EXISTS summaries (
		interval TEXT NOT NULL,
		ticker TEXT NOT NULL,
		open_time DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		ema_10 REAL NOT NULL,
		ema_20 REAL NOT NULL,
		ema_50 REAL NOT NULL,
		ema_200 REAL NOT NULL,
		rsi_14 REAL NOT NULL,
		macd REAL NOT NULL,
		macd_hist REAL NOT NULL,
		macd_signal REAL NOT NULL,
		atr_14 REAL NOT NULL,
		PRIMARY KEY (interval, ticker)
	);

	CREATE TABLE IF NOT EXISTS overview (
		ticker TEXT PRIMARY KEY,
		name TEXT,
		sector TEXT,
		industry TEXT,
		country TEXT,
		market_cap REAL,
		dividend REAL,
		dividend_pct REAL,
		employees REAL,
		recommendation REAL,
		pe REAL,
		ps REAL,
		debt_to_equity REAL,
		short_float_pct REAL,
		shortable INTEGER
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_series ON candles(ticker, interval, open_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

const rowColumns = `open_time, open, high, low, close, volume,
	ema_10, ema_20, ema_50, ema_200, rsi_14, macd, macd_hist, macd_signal, atr_14`

func rowArgs(r models.Row) []interface{} {
	return []interface{}{
		r.Time.UTC(), r.Open, r.High, r.Low, r.Close, r.Volume,
		r.EMA10, r.EMA20, r.EMA50, r.EMA200, r.RSI14,
		r.MACD, r.MACDHist, r.MACDSignal, r.ATR14,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(sc scanner, prefix ...interface{}) (models.Row, error) {
	var r models.Row
	dest := append(prefix,
		&r.Time, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume,
		&r.EMA10, &r.EMA20, &r.EMA50, &r.EMA200, &r.RSI14,
		&r.MACD, &r.MACDHist, &r.MACDSignal, &r.ATR14,
	)
	if err := sc.Scan(dest...); err != nil {
		return r, err
	}
	r.Time = r.Time.UTC()
	return r, nil
}

// SaveSeries replaces the stored series in one transaction.
func (s *SQLiteStore) SaveSeries(ctx context.Context, inst models.Instrument, iv models.Interval, rows []models.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candles WHERE ticker = ? AND interval = ?`, inst.Ticker, iv.String()); err != nil {
		return fmt.Errorf("failed to clear series: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (ticker, interval, `+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		args := append([]interface{}{inst.Ticker, iv.String()}, rowArgs(r)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadSeries returns the stored series ordered by open time.
func (s *SQLiteStore) LoadSeries(ctx context.Context, inst models.Instrument, iv models.Interval) ([]models.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rowColumns+`
		FROM candles
		WHERE ticker = ? AND interval = ?
		ORDER BY open_time ASC
	`, inst.Ticker, iv.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return out, nil
}

// SaveSummary replaces the summary of iv.
func (s *SQLiteStore) SaveSummary(ctx context.Context, iv models.Interval, rows []models.SummaryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE interval = ?`, iv.String()); err != nil {
		return fmt.Errorf("failed to clear summary: %w", err)
	}
	for _, r := range rows {
		args := append([]interface{}{iv.String(), r.Ticker}, rowArgs(r.Row)...)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO summaries (interval, ticker, `+rowColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...); err != nil {
			return fmt.Errorf("failed to insert summary row: %w", err)
		}
	}
	return tx.Commit()
}

// LoadSummary returns the summary of iv sorted by ticker.
func (s *SQLiteStore) LoadSummary(ctx context.Context, iv models.Interval) ([]models.SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, `+rowColumns+`
		FROM summaries
		WHERE interval = ?
		ORDER BY ticker ASC
	`, iv.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []models.SummaryRow
	for rows.Next() {
		var ticker string
		r, err := scanRow(rows, &ticker)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, models.SummaryRow{Ticker: ticker, Row: r})
	}
	return out, rows.Err()
}

// SaveOverview replaces the overview table and stamps its sync time.
func (s *SQLiteStore) SaveOverview(ctx context.Context, records []models.OverviewRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM overview`); err != nil {
		return fmt.Errorf("failed to clear overview: %w", err)
	}
	for _, o := range records {
		var shortable interface{}
		if o.Shortable != nil {
			shortable = *o.Shortable
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO overview (ticker, name, sector, industry, country, market_cap, dividend,
				dividend_pct, employees, recommendation, pe, ps, debt_to_equity, short_float_pct, shortable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.Ticker, o.Name, o.Sector, o.Industry, o.Country,
			o.MarketCap, o.Dividend, o.DividendPct, o.Employees, o.Recommendation,
			o.PE, o.PS, o.DebtToEquity, o.ShortFloatPct, shortable); err != nil {
			return fmt.Errorf("failed to insert overview %s: %w", o.Ticker, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.SetLastSync(overviewSyncKey, time.Now())
}

// LoadOverview returns every overview record sorted by ticker.
func (s *SQLiteStore) LoadOverview(ctx context.Context) ([]models.OverviewRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, name, sector, industry, country, market_cap, dividend, dividend_pct,
			employees, recommendation, pe, ps, debt_to_equity, short_float_pct, shortable
		FROM overview
		ORDER BY ticker ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overview: %w", err)
	}
	defer rows.Close()

	var out []models.OverviewRecord
	for rows.Next() {
		var (
			o                                     models.OverviewRecord
			name, sector, industry, country       sql.NullString
			mcap, div, divPct, emp, recom, pe, ps sql.NullFloat64
			debt, short                           sql.NullFloat64
			shortable                             sql.NullBool
		)
		if err := rows.Scan(&o.Ticker, &name, &sector, &industry, &country,
			&mcap, &div, &divPct, &emp, &recom, &pe, &ps, &debt, &short, &shortable); err != nil {
			return nil, fmt.Errorf("failed to scan overview: %w", err)
		}
		o.Name, o.Sector, o.Industry, o.Country = name.String, sector.String, industry.String, country.String
		o.MarketCap = nullFloat(mcap)
		o.Dividend = nullFloat(div)
		o.DividendPct = nullFloat(divPct)
		o.Employees = nullFloat(emp)
		o.Recommendation = nullFloat(recom)
		o.PE = nullFloat(pe)
		o.PS = nullFloat(ps)
		o.DebtToEquity = nullFloat(debt)
		o.ShortFloatPct = nullFloat(short)
		if shortable.Valid {
			o.Shortable = models.Bool(shortable.Bool)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// OverviewModTime returns when the overview was last saved.
func (s *SQLiteStore) OverviewModTime(ctx context.Context) (time.Time, error) {
	return s.GetLastSync(overviewSyncKey), nil
}

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
