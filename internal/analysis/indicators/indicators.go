// Package indicators derives the technical columns stored next to every
// candle: EMA 10/20/50/200, RSI 14, MACD 12/26/9 and ATR 14.
package indicators

import (
	"errors"

	"candle-scanner/internal/models"
)

var (
	// ErrInsufficientData is returned when the series is shorter than the period.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Indicator is a single-column calculation over a candle series. The
// result has one value per candle; leading values without enough history
// are zero.
type Indicator interface {
	Name() string
	Period() int
	Calculate(candles []models.Candle) ([]float64, error)
}

func closePrices(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func trueRange(cur, prev models.Candle) float64 {
	hl := cur.High - cur.Low
	hc := abs(cur.High - prev.Close)
	lc := abs(cur.Low - prev.Close)
	return max(hl, max(hc, lc))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
