package indicators

import (
	"candle-scanner/internal/models"
)

// Engine computes the fixed set of derived columns for a series.
type Engine struct {
	ema10  *EMA
	ema20  *EMA
	ema50  *EMA
	ema200 *EMA
	rsi    *RSI
	macd   *MACD
	atr    *ATR
}

// NewEngine creates the engine with the standard periods.
func NewEngine() *Engine {
	return &Engine{
		ema10:  NewEMA(10),
		ema20:  NewEMA(20),
		ema50:  NewEMA(50),
		ema200: NewEMA(200),
		rsi:    NewRSI(14),
		macd:   NewMACD(12, 26, 9),
		atr:    NewATR(14),
	}
}

// Compute returns one Indicators value per candle. A column whose period
// exceeds the series length is left at zero, as is every position before
// the column has enough history.
func (e *Engine) Compute(candles []models.Candle) []models.Indicators {
	out := make([]models.Indicators, len(candles))
	if len(candles) == 0 {
		return out
	}

	fill := func(ind Indicator, set func(*models.Indicators, float64)) {
		values, err := ind.Calculate(candles)
		if err != nil {
			return
		}
		for i, v := range values {
			set(&out[i], v)
		}
	}
	fill(e.ema10, func(r *models.Indicators, v float64) { r.EMA10 = v })
	fill(e.ema20, func(r *models.Indicators, v float64) { r.EMA20 = v })
	fill(e.ema50, func(r *models.Indicators, v float64) { r.EMA50 = v })
	fill(e.ema200, func(r *models.Indicators, v float64) { r.EMA200 = v })
	fill(e.rsi, func(r *models.Indicators, v float64) { r.RSI14 = v })
	fill(e.atr, func(r *models.Indicators, v float64) { r.ATR14 = v })

	if m, err := e.macd.Calculate(candles); err == nil {
		for i := range out {
			out[i].MACD = m.MACD[i]
			out[i].MACDSignal = m.Signal[i]
			out[i].MACDHist = m.Histogram[i]
		}
	}
	return out
}
