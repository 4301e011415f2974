package ingest

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/clock"
	"candle-scanner/internal/errors"
	"candle-scanner/internal/fetcher"
	"candle-scanner/internal/models"
)

var (
	now  = time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	inst = models.Instrument{Ticker: "RELIANCE", Token: 738561}
)

type window struct {
	from, to time.Time
}

// pagedFetcher serves a page per call from a script, then empty pages.
type pagedFetcher struct {
	pages   [][]models.Candle
	err     error
	errAt   int
	windows []window
}

func (p *pagedFetcher) Fetch(_ context.Context, _ models.Instrument, _ models.Interval, from, to time.Time) ([]models.Candle, error) {
	p.windows = append(p.windows, window{from, to})
	n := len(p.windows) - 1
	if p.err != nil && n == p.errAt {
		return nil, p.err
	}
	if n < len(p.pages) {
		return p.pages[n], nil
	}
	return nil, nil
}

// rangeFetcher serves every candle of a fixed history inside the window.
type rangeFetcher struct {
	history []models.Candle
	calls   int
}

func (r *rangeFetcher) Fetch(_ context.Context, _ models.Instrument, _ models.Interval, from, to time.Time) ([]models.Candle, error) {
	r.calls++
	var out []models.Candle
	for _, c := range r.history {
		if !c.Time.Before(from) && c.Time.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func minutes(start time.Time, n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Time: start.Add(time.Duration(i) * time.Minute), Close: price + float64(i)}
	}
	return out
}

func newEngine(f Fetcher) *Engine {
	return New(f, fetcher.DefaultPolicy(), clock.NewFake(now), zerolog.Nop())
}

func assertSortedUnique(t *testing.T, candles []models.Candle) {
	t.Helper()
	for i := 1; i < len(candles); i++ {
		require.True(t, candles[i].Time.After(candles[i-1].Time), "row %d out of order", i)
	}
}

func TestBackfillStopsAtRowTarget(t *testing.T) {
	var pages [][]models.Candle
	for i := 0; i < 5; i++ {
		pages = append(pages, minutes(now.Add(-time.Duration(i+1)*24*time.Hour), 50, 100))
	}
	pages = append(pages, nil, nil)
	f := &pagedFetcher{pages: pages}

	res, err := newEngine(f).Backfill(context.Background(), inst, models.Interval1m)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(res.Candles), 200)
	assert.LessOrEqual(t, len(res.Candles), 250)
	assertSortedUnique(t, res.Candles)
	assert.True(t, res.Backfilled)
	assert.Equal(t, 5, res.Calls)
}

func TestBackfillWindowsStepBackward(t *testing.T) {
	f := &pagedFetcher{}
	_, err := newEngine(f).Backfill(context.Background(), inst, models.Interval1h)
	require.NoError(t, err)

	require.Len(t, f.windows, 4)
	assert.Equal(t, now, f.windows[0].to)
	for i, w := range f.windows {
		assert.Equal(t, 7*24*time.Hour, w.to.Sub(w.from))
		if i > 0 {
			assert.Equal(t, f.windows[i-1].from, w.to)
		}
	}
}

func TestBackfillSinglePageIsInconclusive(t *testing.T) {
	one := func(d int) []models.Candle {
		return minutes(now.Add(-time.Duration(d)*24*time.Hour), 1, 1)
	}
	// thin, thin, full, thin, thin, thin, thin
	f := &pagedFetcher{pages: [][]models.Candle{
		one(1), one(2), minutes(now.Add(-72*time.Hour), 10, 1), one(4), one(5), one(6), one(7),
	}}
	res, err := newEngine(f).Backfill(context.Background(), inst, models.Interval1m)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Calls)
	assert.Len(t, res.Candles, 16)
}

func TestBackfillAbortsOnError(t *testing.T) {
	boom := errors.NewFetchError(errors.KindTransient, "fetch", "RELIANCE", "1m", stderrors.New("reset"))
	f := &pagedFetcher{pages: [][]models.Candle{minutes(now.Add(-time.Hour), 50, 1)}, err: boom, errAt: 1}

	res, err := newEngine(f).Backfill(context.Background(), inst, models.Interval1m)
	require.Error(t, err)
	assert.Empty(t, res.Candles)
}

// Property: an upstream that never returns data ends the walk after exactly
// MaxThinPages calls.
func TestProperty_BackfillTerminatesOnEmptyHistory(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("calls equal the thin page threshold", prop.ForAll(
		func(threshold int, ivIdx int) bool {
			p := fetcher.DefaultPolicy()
			p.MaxThinPages = threshold
			iv := models.AllIntervals()[ivIdx]
			f := &pagedFetcher{}
			e := New(f, p, clock.NewFake(now), zerolog.Nop())
			res, err := e.Backfill(context.Background(), inst, iv)
			return err == nil && res.Calls == threshold && len(f.windows) == threshold
		},
		gen.IntRange(1, 10), gen.IntRange(0, len(models.AllIntervals())-1),
	))

	properties.TestingRun(t)
}

func TestExtendAppendsOnlyNewerRows(t *testing.T) {
	t0 := now.Add(-30 * time.Minute)
	existing := minutes(t0.Add(-99*time.Minute), 100, 10)
	require.Equal(t, t0, existing[len(existing)-1].Time)

	// 10 rows at or before T0, 3 after.
	page := minutes(t0.Add(-9*time.Minute), 13, 500)
	f := &pagedFetcher{pages: [][]models.Candle{page}}

	res, err := newEngine(f).Extend(context.Background(), existing, inst, models.Interval1m)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Added)
	assert.Len(t, res.Candles, 103)
	assertSortedUnique(t, res.Candles)
	assert.Equal(t, existing[50], res.Candles[50], "history before the last known open is untouched")
	assert.Equal(t, page[9].Close, res.Candles[99].Close, "the last known bucket is refreshed")
	assert.Len(t, existing, 100, "input slice is not modified")
}

func TestExtendWalksBackUntilOverlap(t *testing.T) {
	last := now.Add(-50 * time.Hour)
	existing := []models.Candle{{Time: last, Close: 1}}
	history := append([]models.Candle{{Time: last, Close: 2}}, minutes(now.Add(-2*time.Hour), 60, 5)...)
	f := &rangeFetcher{history: history}

	res, err := newEngine(f).Extend(context.Background(), existing, inst, models.Interval1m)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, 60, res.Added)
	assert.Equal(t, 2.0, res.Candles[0].Close)
}

func TestExtendIsIdempotent(t *testing.T) {
	history := minutes(now.Add(-5*time.Hour), 300, 1)
	existing := history[:200]
	f := &rangeFetcher{history: history}
	e := newEngine(f)

	first, err := e.Extend(context.Background(), existing, inst, models.Interval1m)
	require.NoError(t, err)
	second, err := e.Extend(context.Background(), first.Candles, inst, models.Interval1m)
	require.NoError(t, err)

	assert.Equal(t, first.Candles, second.Candles)
	assert.Zero(t, second.Added)
}

func TestExtendSkipsFreshSeries(t *testing.T) {
	existing := []models.Candle{{Time: now.Add(-30 * time.Second), Close: 1}}
	f := &pagedFetcher{}

	res, err := newEngine(f).Extend(context.Background(), existing, inst, models.Interval1m)
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.Empty(t, f.windows)
}

func TestExtendEmptyDelegatesToBackfill(t *testing.T) {
	f := &pagedFetcher{}
	res, err := newEngine(f).Extend(context.Background(), nil, inst, models.Interval1d)
	require.NoError(t, err)
	assert.True(t, res.Backfilled)
}

func TestExtendFailureLeavesExistingAlone(t *testing.T) {
	existing := minutes(now.Add(-3*time.Hour), 10, 1)
	f := &pagedFetcher{err: stderrors.New("reset"), errAt: 0}

	_, err := newEngine(f).Extend(context.Background(), existing, inst, models.Interval1m)
	require.Error(t, err)
	assert.Len(t, existing, 10)
}
