package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

var (
	infy = models.Instrument{Ticker: "INFY", Token: 408065, Exchange: models.NSE}
	t0   = time.Date(2024, 2, 5, 3, 45, 0, 0, time.UTC)
)

func sampleRows(n int) []models.Row {
	rows := make([]models.Row, n)
	for i := range rows {
		p := 1500 + float64(i)*0.25
		rows[i] = models.Row{
			Candle: models.Candle{
				Time:   t0.Add(time.Duration(i) * time.Minute),
				Open:   p,
				High:   p + 2,
				Low:    p - 1.5,
				Close:  p + 0.5,
				Volume: float64(1000 + i),
			},
			Indicators: models.Indicators{EMA10: p, RSI14: 55.5, MACDHist: -0.125},
		}
	}
	return rows
}

func newMemStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/data", zerolog.Nop())
	require.NoError(t, err)
	return s, fs
}

func TestFileStoreSeriesRoundTrip(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()

	rows := sampleRows(5)
	require.NoError(t, s.SaveSeries(ctx, infy, models.Interval1m, rows))

	got, err := s.LoadSeries(ctx, infy, models.Interval1m)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestFileStoreHeaderMatchesColumns(t *testing.T) {
	s, fs := newMemStore(t)
	require.NoError(t, s.SaveSeries(context.Background(), infy, models.Interval1d, sampleRows(1)))

	data, err := afero.ReadFile(fs, s.SeriesPath(infy, models.Interval1d))
	require.NoError(t, err)
	header := string(data[:len("Time,Open,High,Low,Close,Volume,EMA_10,EMA_20,EMA_50,EMA_200,RSI_14,MACD_12_26_9,MACDh_12_26_9,MACDs_12_26_9,ATR_14")])
	assert.Equal(t, "Time,Open,High,Low,Close,Volume,EMA_10,EMA_20,EMA_50,EMA_200,RSI_14,MACD_12_26_9,MACDh_12_26_9,MACDs_12_26_9,ATR_14", header)
	assert.Contains(t, string(data), "2024-02-05T03:45:00Z")
}

func TestFileStoreMissingSeries(t *testing.T) {
	s, _ := newMemStore(t)
	rows, err := s.LoadSeries(context.Background(), infy, models.Interval5m)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestFileStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	s, fs := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSeries(ctx, infy, models.Interval1h, sampleRows(10)))
	require.NoError(t, s.SaveSeries(ctx, infy, models.Interval1h, sampleRows(3)))

	got, err := s.LoadSeries(ctx, infy, models.Interval1h)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	entries, err := afero.ReadDir(fs, "/data/candles")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFY_1h.csv", entries[0].Name())
}

func TestFileStoreCorruptSeriesIsFatalAndUntouched(t *testing.T) {
	s, fs := newMemStore(t)
	path := s.SeriesPath(infy, models.Interval1d)
	garbage := []byte("Time,Open\nnot-a-time,1\n")
	require.NoError(t, afero.WriteFile(fs, path, garbage, 0o644))

	_, err := s.LoadSeries(context.Background(), infy, models.Interval1d)
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))
	assert.ErrorIs(t, err, errors.ErrCorruptData)

	after, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, garbage, after)
}

func TestFileStoreSummary(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	rows := []models.SummaryRow{
		{Ticker: "INFY", Row: sampleRows(1)[0]},
		{Ticker: "TCS", Row: sampleRows(2)[1]},
	}
	require.NoError(t, s.SaveSummary(ctx, models.Interval15m, rows))

	got, err := s.LoadSummary(ctx, models.Interval15m)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestFileStoreOverview(t *testing.T) {
	s, fs := newMemStore(t)
	ctx := context.Background()

	mt, err := s.OverviewModTime(ctx)
	require.NoError(t, err)
	assert.True(t, mt.IsZero())

	recs := []models.OverviewRecord{
		{
			Ticker:    "INFY",
			Name:      "Infosys Ltd",
			Sector:    "Technology",
			Country:   "India",
			MarketCap: models.Float(6.2e10),
			PE:        models.Float(24.5),
			Shortable: models.Bool(true),
		},
		{Ticker: "XYZ", Name: "Unknown"},
	}
	require.NoError(t, s.SaveOverview(ctx, recs))

	got, err := s.LoadOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
	assert.Nil(t, got[1].MarketCap)

	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes(s.OverviewPath(), stamp, stamp))
	mt, err = s.OverviewModTime(ctx)
	require.NoError(t, err)
	assert.True(t, mt.Equal(stamp))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "parquet"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestFileTicker(t *testing.T) {
	assert.Equal(t, "M&M", fileTicker("M&M"))
	assert.Equal(t, "A_B", fileTicker("A/B"))
}
