package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"candle-scanner/internal/models"
)

// ErrStreamClosed is returned when the ticker connection ends on its own.
var ErrStreamClosed = errors.New("ticker connection closed")

// Tick is the part of a live trade update the aggregator needs.
type Tick struct {
	Token uint32
	Price float64
	// CumVolume is the volume traded so far in the session.
	CumVolume float64
	Time      time.Time
}

func convertTick(t kitemodels.Tick) Tick {
	ts := t.Timestamp.Time
	if ts.IsZero() {
		ts = t.LastTradeTime.Time
	}
	return Tick{
		Token:     t.InstrumentToken,
		Price:     t.LastPrice,
		CumVolume: float64(t.VolumeTraded),
		Time:      ts,
	}
}

// StreamableIntervals keeps the intervals whose buckets are at most a day
// wide. Wider buckets are calendar aligned and come from the batch path.
func StreamableIntervals(ivs []models.Interval) []models.Interval {
	var out []models.Interval
	for _, iv := range ivs {
		if iv.Valid() && iv.Step() <= 24*time.Hour {
			out = append(out, iv)
		}
	}
	return out
}

type bucketKey struct {
	token    uint32
	interval models.Interval
}

// Aggregator turns ticks into cumulative per-bucket candle events. It is
// not safe for concurrent use.
type Aggregator struct {
	intervals []models.Interval
	buckets   map[bucketKey]*models.Candle
	base      map[bucketKey]float64
	lastCum   map[uint32]float64
}

// NewAggregator creates an aggregator for the streamable subset of ivs.
func NewAggregator(ivs []models.Interval) *Aggregator {
	return &Aggregator{
		intervals: StreamableIntervals(ivs),
		buckets:   make(map[bucketKey]*models.Candle),
		base:      make(map[bucketKey]float64),
		lastCum:   make(map[uint32]float64),
	}
}

// Add folds t into every interval's open bucket and returns one event per
// interval. Ticks without a time or price, and ticks older than the open
// bucket, produce nothing.
func (a *Aggregator) Add(t Tick) []models.CandleEvent {
	if t.Time.IsZero() || t.Price <= 0 {
		return nil
	}
	prev, seen := a.lastCum[t.Token]
	a.lastCum[t.Token] = t.CumVolume

	events := make([]models.CandleEvent, 0, len(a.intervals))
	for _, iv := range a.intervals {
		k := bucketKey{t.Token, iv}
		start := BucketStart(t.Time, iv)
		b := a.buckets[k]

		switch {
		case b == nil || start.After(b.Time):
			base := t.CumVolume
			if seen {
				base = prev
			}
			if iv == models.Interval1d || base > t.CumVolume {
				base = 0
			}
			a.base[k] = base
			b = &models.Candle{Time: start, Open: t.Price, High: t.Price, Low: t.Price}
			a.buckets[k] = b
		case start.Before(b.Time):
			continue
		}

		b.High = max(b.High, t.Price)
		b.Low = min(b.Low, t.Price)
		b.Close = t.Price
		b.Volume = max(0, t.CumVolume-a.base[k])

		events = append(events, models.CandleEvent{
			InstrumentID: models.Instrument{Token: t.Token}.ID(),
			Interval:     iv,
			Time:         b.Time,
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
		})
	}
	return events
}

// KiteStream subscribes to the Kite ticker and emits candle events.
type KiteStream struct {
	apiKey      string
	accessToken string
	tokens      []uint32
	intervals   []models.Interval
	logger      zerolog.Logger

	dropped atomic.Int64
}

// NewKiteStream creates a stream for instruments on the streamable subset of ivs.
func NewKiteStream(apiKey, accessToken string, instruments []models.Instrument, ivs []models.Interval, logger zerolog.Logger) *KiteStream {
	tokens := make([]uint32, 0, len(instruments))
	for _, inst := range instruments {
		tokens = append(tokens, inst.Token)
	}
	return &KiteStream{
		apiKey:      apiKey,
		accessToken: accessToken,
		tokens:      tokens,
		intervals:   StreamableIntervals(ivs),
		logger:      logger.With().Str("component", "kite_ticker").Logger(),
	}
}

// Dropped returns how many ticks were discarded because the consumer lagged.
func (s *KiteStream) Dropped() int64 {
	return s.dropped.Load()
}

// Stream runs one ticker connection until it closes or ctx is cancelled.
func (s *KiteStream) Stream(ctx context.Context, out chan<- models.CandleEvent) error {
	if len(s.tokens) == 0 || len(s.intervals) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	agg := NewAggregator(s.intervals)
	ticker := kiteticker.New(s.apiKey, s.accessToken)
	ticks := make(chan kitemodels.Tick, 1024)
	served := make(chan struct{})

	ticker.OnConnect(func() {
		if err := ticker.Subscribe(s.tokens); err != nil {
			s.logger.Error().Err(err).Msg("Subscribe failed")
			return
		}
		if err := ticker.SetMode(kiteticker.ModeFull, s.tokens); err != nil {
			s.logger.Error().Err(err).Msg("Set mode failed")
			return
		}
		s.logger.Info().Int("instruments", len(s.tokens)).Msg("Subscribed to live ticks")
	})
	ticker.OnError(func(err error) {
		s.logger.Warn().Err(err).Msg("Ticker error")
	})
	ticker.OnTick(func(tick kitemodels.Tick) {
		select {
		case ticks <- tick:
		default:
			s.dropped.Add(1)
		}
	})

	go func() {
		ticker.Serve()
		close(served)
	}()

	for {
		select {
		case <-ctx.Done():
			ticker.Close()
			return ctx.Err()
		case <-served:
			return ErrStreamClosed
		case tick := <-ticks:
			for _, ev := range agg.Add(convertTick(tick)) {
				select {
				case out <- ev:
				case <-ctx.Done():
					ticker.Close()
					return ctx.Err()
				}
			}
		}
	}
}
