package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/models"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "scanner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: saving a series and reading it back yields the same rows, and a
// second save replaces rather than appends.
func TestProperty_SQLiteSeriesRoundTrip(t *testing.T) {
	s := newSQLite(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	ivGen := gen.OneConstOf(models.Interval1m, models.Interval5m, models.Interval1h, models.Interval1d)
	seq := 0

	properties.Property("save then load returns the saved rows", prop.ForAll(
		func(iv models.Interval, n int, m int) bool {
			ctx := context.Background()
			seq++
			inst := models.Instrument{Ticker: fmt.Sprintf("SYM%d", seq)}

			if err := s.SaveSeries(ctx, inst, iv, sampleRows(n)); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			want := sampleRows(m)
			if err := s.SaveSeries(ctx, inst, iv, want); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			got, err := s.LoadSeries(ctx, inst, iv)
			if err != nil || len(got) != len(want) {
				return false
			}
			for i := range want {
				if !got[i].Time.Equal(want[i].Time) || got[i].Close != want[i].Close || got[i].RSI14 != want[i].RSI14 {
					return false
				}
			}
			return true
		},
		ivGen, gen.IntRange(0, 30), gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

func TestSQLiteSummaryAndOverview(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	rows := []models.SummaryRow{
		{Ticker: "TCS", Row: sampleRows(1)[0]},
		{Ticker: "INFY", Row: sampleRows(2)[1]},
	}
	require.NoError(t, s.SaveSummary(ctx, models.Interval1d, rows))
	got, err := s.LoadSummary(ctx, models.Interval1d)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INFY", got[0].Ticker)
	assert.Equal(t, rows[1].Close, got[0].Close)

	before := time.Now().Add(-time.Second)
	recs := []models.OverviewRecord{{Ticker: "INFY", Name: "Infosys", PE: models.Float(21), Shortable: models.Bool(false)}}
	require.NoError(t, s.SaveOverview(ctx, recs))

	loaded, err := s.LoadOverview(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 21.0, *loaded[0].PE)
	assert.Nil(t, loaded[0].MarketCap)
	require.NotNil(t, loaded[0].Shortable)
	assert.False(t, *loaded[0].Shortable)

	mt, err := s.OverviewModTime(ctx)
	require.NoError(t, err)
	assert.True(t, mt.After(before))
}
