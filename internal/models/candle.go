package models

import "time"

// Candle is one OHLCV bar. Time is the bucket open in UTC and is the
// unique key within a series.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Valid reports whether the candle carries a usable price.
func (c Candle) Valid() bool {
	return !c.Time.IsZero() && c.Close > 0
}

// CandleEvent is a live update for the currently open bucket of one series.
type CandleEvent struct {
	InstrumentID string
	Interval     Interval
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
}

// Candle returns the OHLCV payload of the event.
func (e CandleEvent) Candle() Candle {
	return Candle{
		Time:   e.Time.UTC(),
		Open:   e.Open,
		High:   e.High,
		Low:    e.Low,
		Close:  e.Close,
		Volume: e.Volume,
	}
}

// Indicators holds the derived columns of one row. They are always a
// function of the series' Close column and are recomputed, never merged.
type Indicators struct {
	EMA10      float64
	EMA20      float64
	EMA50      float64
	EMA200     float64
	RSI14      float64
	MACD       float64
	MACDHist   float64
	MACDSignal float64
	ATR14      float64
}

// Row is a candle together with its derived columns.
type Row struct {
	Candle
	Indicators
}

// SummaryRow is the latest row of one instrument for one interval.
type SummaryRow struct {
	Ticker string
	Row
}
