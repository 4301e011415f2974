package overview

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
	"candle-scanner/internal/pool"
)

const quotePage = `<html><body>
<table class="fullview-title">
<tr><td><a id="ticker" href="#">AAPL</a> [NASD]</td></tr>
<tr><td><b>Apple Inc.</b></td></tr>
<tr><td><a>Technology</a> | <a>Consumer Electronics</a> | <a>USA</a></td></tr>
</table>
<table class="snapshot-table2">
<tr>
<td class="snapshot-td2-cp">Market Cap</td><td class="snapshot-td2">2950.00B</td>
<td class="snapshot-td2-cp">Dividend</td><td class="snapshot-td2">-</td>
<td class="snapshot-td2-cp">Dividend %</td><td class="snapshot-td2">0.51%</td>
</tr>
<tr>
<td class="snapshot-td2-cp">Employees</td><td class="snapshot-td2">161000</td>
<td class="snapshot-td2-cp">Recom</td><td class="snapshot-td2">2.10</td>
<td class="snapshot-td2-cp">P/E</td><td class="snapshot-td2">29.87</td>
</tr>
<tr>
<td class="snapshot-td2-cp">P/S</td><td class="snapshot-td2">7.74</td>
<td class="snapshot-td2-cp">Debt/Eq</td><td class="snapshot-td2">1.45</td>
<td class="snapshot-td2-cp">Short Float</td><td class="snapshot-td2">0.72%</td>
</tr>
</table>
</body></html>`

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"10.5", 10.5},
		{"100", 100},
		{"2.5k", 2500},
		{"10K", 10000},
		{"1.2m", 1.2e6},
		{"5M", 5e6},
		{"3b", 3e9},
		{"0.5B", 5e8},
		{"50%", 50},
		{"12.5%", 12.5},
		{"-", 0},
		{"invalid", 0},
		{"1.2.3", 0},
		{"10mk", 0},
		{"", 0},
		{" 2.5k ", 2500},
		{" 50% ", 50},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseNumber(tt.in), 1e-6)
		})
	}
}

func TestParseFinviz(t *testing.T) {
	rec, err := ParseFinviz(strings.NewReader(quotePage), "aapl")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, "Apple Inc.", rec.Name)
	assert.Equal(t, "Technology", rec.Sector)
	assert.Equal(t, "Consumer Electronics", rec.Industry)
	assert.Equal(t, "USA", rec.Country)
	assert.Equal(t, 2.95e12, *rec.MarketCap)
	assert.Equal(t, 0.0, *rec.Dividend)
	assert.Equal(t, 0.51, *rec.DividendPct)
	assert.Equal(t, 161000.0, *rec.Employees)
	assert.Equal(t, 2.1, *rec.Recommendation)
	assert.Equal(t, 29.87, *rec.PE)
	assert.Equal(t, 7.74, *rec.PS)
	assert.Equal(t, 1.45, *rec.DebtToEquity)
	assert.Equal(t, 0.72, *rec.ShortFloatPct)
	assert.Nil(t, rec.Shortable)
}

func TestParseFinvizUnrecognized(t *testing.T) {
	rec, err := ParseFinviz(strings.NewReader("<html><body>Not found</body></html>"), "AAPL")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = ParseFinviz(strings.NewReader(quotePage), "MSFT")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestParseFinvizMissingSnapshotField(t *testing.T) {
	page := strings.Replace(quotePage, `<td class="snapshot-td2-cp">P/S</td><td class="snapshot-td2">7.74</td>`, "", 1)
	rec, err := ParseFinviz(strings.NewReader(page), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.PS)
	assert.Equal(t, 1.45, *rec.DebtToEquity)
}

func TestFinvizSourceHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("t") {
		case "AAPL":
			w.Write([]byte(quotePage))
		case "BUSY":
			w.WriteHeader(http.StatusTooManyRequests)
		case "DOWN":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewFinvizSource(FinvizConfig{BaseURL: srv.URL}, zerolog.Nop())
	ctx := context.Background()

	rec, err := src.FetchOverview(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Apple Inc.", rec.Name)

	rec, err = src.FetchOverview(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = src.FetchOverview(ctx, "BUSY")
	assert.Equal(t, errors.KindRateLimited, errors.KindOf(err))

	_, err = src.FetchOverview(ctx, "DOWN")
	assert.Equal(t, errors.KindTransient, errors.KindOf(err))
}

type countingLoader struct {
	calls atomic.Int32
	table map[string]bool
	err   error
}

func (l *countingLoader) LoadShortable(context.Context) (map[string]bool, error) {
	l.calls.Add(1)
	return l.table, l.err
}

func TestShortableCache(t *testing.T) {
	loader := &countingLoader{table: map[string]bool{"US0378331005": true, "US5949181045": false}}
	cache := NewShortableCache(loader, 16, time.Hour, zerolog.Nop())
	ctx := context.Background()

	ok, err := cache.Lookup(ctx, "US0378331005")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Lookup(ctx, "US5949181045")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 2, cache.Len())
	assert.False(t, cache.LoadedAt().IsZero())

	ok, err = cache.Lookup(ctx, "XX0000000000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), loader.calls.Load())

	ok, err = cache.Lookup(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestShortableCacheExpires(t *testing.T) {
	loader := &countingLoader{table: map[string]bool{"IN0001": true}}
	cache := NewShortableCache(loader, 16, 10*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	_, err := cache.Lookup(ctx, "IN0001")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = cache.Lookup(ctx, "IN0001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestShortableCacheSizeBound(t *testing.T) {
	loader := &countingLoader{table: map[string]bool{"A": true, "B": true, "C": true, "D": true}}
	cache := NewShortableCache(loader, 2, time.Hour, zerolog.Nop())

	_, err := cache.Lookup(context.Background(), "A")
	require.NoError(t, err)
	assert.LessOrEqual(t, cache.Len(), 2)
}

func TestShortableCacheLoaderError(t *testing.T) {
	loader := &countingLoader{err: stderrors.New("timeout")}
	cache := NewShortableCache(loader, 16, time.Hour, zerolog.Nop())

	_, err := cache.Lookup(context.Background(), "IN0001")
	assert.Error(t, err)
}

func TestParseShortableTable(t *testing.T) {
	page := `<table>
<tr><th>Name</th><th>ISIN</th><th>Status</th></tr>
<tr><td>Apple</td><td>US0378331005</td><td>Available</td></tr>
<tr><td>Microsoft</td><td> US5949181045 </td><td>Unavailable</td></tr>
</table>`
	table, err := ParseShortableTable(strings.NewReader(page), "Available")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"US0378331005": true, "US5949181045": false}, table)
}

type fakeSource struct {
	mu    sync.Mutex
	pages map[string]*models.OverviewRecord
	fail  map[string]error
}

func (f *fakeSource) FetchOverview(_ context.Context, ticker string) (*models.OverviewRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[ticker]; err != nil {
		return nil, err
	}
	return f.pages[ticker], nil
}

func TestCollector(t *testing.T) {
	src := &fakeSource{
		pages: map[string]*models.OverviewRecord{
			"TCS":  {Ticker: "TCS", Name: "Tata Consultancy"},
			"INFY": {Ticker: "INFY", Name: "Infosys", PE: models.Float(25)},
		},
		fail: map[string]error{"WIPRO": errors.Transient(stderrors.New("reset"))},
	}
	cache := NewShortableCache(&countingLoader{table: map[string]bool{"INE009A01021": true}}, 16, time.Hour, zerolog.Nop())
	c := NewCollector(src, cache, pool.NewCoordinator(zerolog.Nop(), nil), 4, zerolog.Nop())

	records, summary := c.Collect(context.Background(), []models.Instrument{
		{Ticker: "TCS"},
		{Ticker: "WIPRO"},
		{Ticker: "INFY", ISIN: "INE009A01021"},
		{Ticker: "NOPE"},
	})

	require.Len(t, records, 2)
	assert.Equal(t, "INFY", records[0].Ticker)
	require.NotNil(t, records[0].Shortable)
	assert.True(t, *records[0].Shortable)
	assert.Equal(t, "TCS", records[1].Ticker)
	assert.Nil(t, records[1].Shortable)
	assert.Equal(t, pool.Summary{Total: 4, OK: 3, Failed: 1}, summary)
}
