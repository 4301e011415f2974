// Package broker adapts the upstream market data API to the engine's
// candle source, instrument lookup and live event boundaries.
package broker

import (
	"context"
	"sort"
	"time"

	"candle-scanner/internal/models"
)

// CandleSource serves historical candles for one window.
type CandleSource interface {
	GetCandles(ctx context.Context, inst models.Instrument, iv models.Interval, from, to time.Time) ([]models.Candle, error)
}

// InstrumentLookup lists the tradable instruments of the configured exchange.
type InstrumentLookup interface {
	Instruments(ctx context.Context) ([]models.Instrument, error)
}

// Exchange timestamps are anchored to Indian Standard Time. A fixed zone
// keeps bucketing independent of the host tzdata.
var ist = time.FixedZone("IST", 5*3600+30*60)

// Intraday buckets are aligned to the 09:15 session open.
const (
	sessionOpenHour   = 9
	sessionOpenMinute = 15
)

// BucketStart returns the open time of the iv bucket containing t, in UTC.
func BucketStart(t time.Time, iv models.Interval) time.Time {
	local := t.In(ist)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ist)

	switch iv {
	case models.Interval1d:
		return day.UTC()
	case models.Interval1w:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset).UTC()
	case models.Interval1mo:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, ist).UTC()
	}

	step := iv.Step()
	open := day.Add(sessionOpenHour*time.Hour + sessionOpenMinute*time.Minute)
	since := local.Sub(open)
	buckets := since / step
	if since < 0 && since%step != 0 {
		buckets--
	}
	return open.Add(buckets * step).UTC()
}

// Resample folds daily candles into iv buckets. Input must be sorted.
func Resample(daily []models.Candle, iv models.Interval) []models.Candle {
	var out []models.Candle
	for _, c := range daily {
		start := BucketStart(c.Time, iv)
		if n := len(out); n > 0 && out[n-1].Time.Equal(start) {
			b := &out[n-1]
			b.High = max(b.High, c.High)
			b.Low = min(b.Low, c.Low)
			b.Close = c.Close
			b.Volume += c.Volume
			continue
		}
		c.Time = start
		out = append(out, c)
	}
	return out
}

func sortCandles(candles []models.Candle) {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
}
