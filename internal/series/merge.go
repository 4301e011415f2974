// Package series holds the in-memory candle series shared by the batch
// fill path and the live stream.
package series

import (
	"sort"
	"time"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// Dedupe returns candles sorted by open time with one candle per open
// time. When two candles share an open time the later one in the input wins.
func Dedupe(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return nil
	}
	byTime := make(map[int64]int, len(candles))
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		c.Time = c.Time.UTC()
		key := c.Time.UnixNano()
		if idx, ok := byTime[key]; ok {
			out[idx] = c
			continue
		}
		byTime[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Merge combines an existing series with freshly fetched candles. Fresh
// candles override existing ones with the same open time.
func Merge(existing, fresh []models.Candle) []models.Candle {
	all := make([]models.Candle, 0, len(existing)+len(fresh))
	all = append(all, existing...)
	all = append(all, fresh...)
	return Dedupe(all)
}

// After returns the candles with open time at or after t.
func After(candles []models.Candle, t time.Time) []models.Candle {
	idx := sort.Search(len(candles), func(i int) bool {
		return !candles[i].Time.Before(t)
	})
	return candles[idx:]
}

// Transition is the outcome of applying a live candle to a series.
type Transition int

const (
	// SameBucket means the last candle was overwritten in place.
	SameBucket Transition = iota
	// NewBucket means a candle was appended.
	NewBucket
)

func (t Transition) String() string {
	if t == NewBucket {
		return "new_bucket"
	}
	return "same_bucket"
}

// ErrStaleEvent is returned for live candles older than the open bucket.
var ErrStaleEvent = errors.New("event precedes the open bucket")

// Apply folds a live candle into candles. An event at least one step past
// the last open starts a new bucket; anything else inside the bucket
// overwrites the last candle's OHLCV and keeps its open time.
func Apply(candles []models.Candle, c models.Candle, step time.Duration) ([]models.Candle, Transition, error) {
	c.Time = c.Time.UTC()
	if len(candles) == 0 {
		return []models.Candle{c}, NewBucket, nil
	}
	last := candles[len(candles)-1]
	delta := c.Time.Sub(last.Time)
	switch {
	case delta >= step:
		return append(candles, c), NewBucket, nil
	case delta < 0:
		return candles, SameBucket, ErrStaleEvent
	}
	c.Time = last.Time
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	out[len(out)-1] = c
	return out, SameBucket, nil
}
