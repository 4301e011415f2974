package indicators

import (
	"fmt"

	"candle-scanner/internal/models"
)

// SMA calculates the Simple Moving Average of Close.
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator.
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string {
	return fmt.Sprintf("SMA_%d", s.period)
}

func (s *SMA) Period() int {
	return s.period
}

func (s *SMA) Calculate(candles []models.Candle) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < s.period {
		return nil, ErrInsufficientData
	}

	closes := closePrices(candles)
	result := make([]float64, len(candles))
	var window float64
	for i, v := range closes {
		window += v
		if i >= s.period {
			window -= closes[i-s.period]
		}
		if i >= s.period-1 {
			result[i] = window / float64(s.period)
		}
	}
	return result, nil
}

// EMA calculates the Exponential Moving Average of Close, seeded with
// the SMA of the first period values.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator.
func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA_%d", e.period)
}

func (e *EMA) Period() int {
	return e.period
}

func (e *EMA) Calculate(candles []models.Candle) ([]float64, error) {
	if e.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < e.period {
		return nil, ErrInsufficientData
	}
	return CalculateEMA(closePrices(candles), e.period), nil
}

// CalculateEMA runs an SMA-seeded EMA over raw values. It returns nil
// when values is shorter than period.
func CalculateEMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}

	result := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*k + result[i-1]
	}
	return result
}

// MACDResult holds the three MACD columns.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fast   int
	slow   int
	signal int
}

// NewMACD creates a MACD indicator, conventionally 12, 26, 9.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: fast, slow: slow, signal: signal}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fast, m.slow, m.signal)
}

// Period is the number of candles before the histogram is defined.
func (m *MACD) Period() int {
	return m.slow + m.signal - 1
}

// Calculate returns the MACD line, its signal line and the histogram.
// The MACD line exists once the slow EMA does; signal and histogram
// once Period candles are available. Undefined positions are zero.
func (m *MACD) Calculate(candles []models.Candle) (*MACDResult, error) {
	if m.fast <= 0 || m.slow <= 0 || m.signal <= 0 || m.fast >= m.slow {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < m.slow {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	closes := closePrices(candles)
	fastEMA := CalculateEMA(closes, m.fast)
	slowEMA := CalculateEMA(closes, m.slow)

	res := &MACDResult{
		MACD:      make([]float64, n),
		Signal:    make([]float64, n),
		Histogram: make([]float64, n),
	}
	start := m.slow - 1
	for i := start; i < n; i++ {
		res.MACD[i] = fastEMA[i] - slowEMA[i]
	}

	signal := CalculateEMA(res.MACD[start:], m.signal)
	for i, v := range signal {
		res.Signal[start+i] = v
	}
	for i := m.Period() - 1; i < n; i++ {
		res.Histogram[i] = res.MACD[i] - res.Signal[i]
	}
	return res, nil
}
