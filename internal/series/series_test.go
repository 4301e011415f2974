package series

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/models"
)

type closeCopier struct{}

func (closeCopier) Compute(candles []models.Candle) []models.Indicators {
	out := make([]models.Indicators, len(candles))
	for i, c := range candles {
		out[i].EMA10 = c.Close
	}
	return out
}

func TestApplyStaleEvent(t *testing.T) {
	base := candlesAt([]int{0, 5, 10}, 100)
	_, _, err := Apply(base, models.Candle{Time: epoch.Add(time.Minute), Close: 1}, 5*time.Minute)
	assert.ErrorIs(t, err, ErrStaleEvent)
}

func TestApplyEmptySeries(t *testing.T) {
	out, tr, err := Apply(nil, models.Candle{Time: epoch, Close: 1}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, NewBucket, tr)
	assert.Len(t, out, 1)
}

func TestSeriesDerivedColumnsFollowChanges(t *testing.T) {
	inst := models.Instrument{Ticker: "INFY", Token: 1}
	s := New(inst, models.Interval1m)
	assert.False(t, s.Filled())

	s.Replace(candlesAt([]int{2, 0, 1}, 100))
	require.NoError(t, s.Recompute(closeCopier{}))

	rows := s.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, rows[2].Close, rows[2].EMA10)
	assert.True(t, s.Filled())

	added := s.Merge(candlesAt([]int{2, 3}, 500))
	assert.Equal(t, 1, added)

	last, ok := s.LastRow()
	require.True(t, ok)
	assert.Equal(t, 501.0, last.Close)
	assert.Equal(t, 501.0, last.EMA10)
}

func TestSeriesWithoutComputerServesZeros(t *testing.T) {
	s := New(models.Instrument{Ticker: "INFY", Token: 1}, models.Interval1m)
	s.Replace(candlesAt([]int{0, 1}, 100))

	last, ok := s.LastRow()
	require.True(t, ok)
	assert.Zero(t, last.EMA10)
}

func TestSeriesApplyRequiresFill(t *testing.T) {
	s := New(models.Instrument{Ticker: "INFY", Token: 1}, models.Interval5m)

	_, err := s.Apply(models.Candle{Time: epoch, Close: 10})
	assert.ErrorIs(t, err, ErrNotFilled)
	assert.Zero(t, s.Len())

	s.Replace(candlesAt([]int{0}, 100))
	tr, err := s.Apply(models.Candle{Time: epoch.Add(5 * time.Minute), Close: 10})
	require.NoError(t, err)
	assert.Equal(t, NewBucket, tr)
	assert.Equal(t, 2, s.Len())
}

func TestSeriesApplyKeepsDerivedConsistent(t *testing.T) {
	s := New(models.Instrument{Ticker: "INFY", Token: 1}, models.Interval5m)
	s.SetComputer(closeCopier{})
	s.Replace(candlesAt([]int{0, 5}, 100))
	require.NoError(t, s.Recompute(closeCopier{}))

	_, err := s.Apply(models.Candle{Time: epoch.Add(6 * time.Minute), Close: 160})
	require.NoError(t, err)

	last, ok := s.LastRow()
	require.True(t, ok)
	assert.Equal(t, 160.0, last.Close)
	assert.Equal(t, 160.0, last.EMA10)

	rows := s.Rows()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, r.Close, r.EMA10)
	}
}

func TestSeriesLoadDropsDerivedOnDuplicates(t *testing.T) {
	s := New(models.Instrument{Ticker: "TCS"}, models.Interval1d)
	rows := []models.Row{
		{Candle: models.Candle{Time: epoch, Close: 1}, Indicators: models.Indicators{RSI14: 40}},
		{Candle: models.Candle{Time: epoch, Close: 2}, Indicators: models.Indicators{RSI14: 50}},
	}
	s.Load(rows)
	assert.Equal(t, 1, s.Len())
	last, _ := s.LastRow()
	assert.Equal(t, 2.0, last.Close)
	assert.Zero(t, last.RSI14)
}

func TestSeriesConcurrentWriters(t *testing.T) {
	s := New(models.Instrument{Ticker: "SBIN"}, models.Interval1m)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Merge(candlesAt([]int{w*50 + i}, 100))
				_, _ = s.Apply(models.Candle{Time: epoch.Add(time.Duration(w*50+i) * time.Minute), Close: 1})
			}
		}(w)
	}
	wg.Wait()
	assert.True(t, strictlyIncreasing(s.Candles()))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	b := models.Instrument{Ticker: "B", Token: 2}
	a := models.Instrument{Ticker: "A", Token: 1}

	sb := r.Get(b, models.Interval1d)
	sa := r.Get(a, models.Interval1d)
	r.Get(a, models.Interval1h)

	assert.Same(t, sa, r.Get(a, models.Interval1d))
	assert.Equal(t, []*Series{sa, sb}, r.ByInterval(models.Interval1d))
	assert.Len(t, r.All(), 3)

	got, ok := r.Lookup("2", models.Interval1d)
	require.True(t, ok)
	assert.Same(t, sb, got)

	_, ok = r.Lookup("3", models.Interval1d)
	assert.False(t, ok)
}

func TestAfter(t *testing.T) {
	c := candlesAt([]int{0, 1, 2, 3}, 1)
	assert.Len(t, After(c, epoch.Add(2*time.Minute)), 2)
	assert.Len(t, After(c, epoch.Add(time.Hour)), 0)
}
