package models

import (
	"fmt"
	"time"
)

// Interval is the bucket width of a candle series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1mo Interval = "1mo"
)

const day = 24 * time.Hour

var intervalOrder = []Interval{
	Interval1m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval1d, Interval1w, Interval1mo,
}

var steps = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval1d:  day,
	Interval1w:  7 * day,
	Interval1mo: 30 * day,
}

// Lookbacks are the widest window a single upstream request may span.
var lookbacks = map[Interval]time.Duration{
	Interval1m:  day,
	Interval5m:  day,
	Interval15m: day,
	Interval30m: day,
	Interval1h:  7 * day,
	Interval1d:  365 * day,
	Interval1w:  657 * day, // 1.8 years
	Interval1mo: 3650 * day,
}

// AllIntervals returns every supported interval, shortest first.
func AllIntervals() []Interval {
	out := make([]Interval, len(intervalOrder))
	copy(out, intervalOrder)
	return out
}

// ParseInterval validates s.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := steps[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// ParseIntervals validates a list, keeping the given order.
func ParseIntervals(in []string) ([]Interval, error) {
	out := make([]Interval, 0, len(in))
	for _, s := range in {
		iv, err := ParseInterval(s)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// Valid reports whether iv is a known interval.
func (iv Interval) Valid() bool {
	_, ok := steps[iv]
	return ok
}

// Step is the minimum spacing between two candle opens.
func (iv Interval) Step() time.Duration {
	return steps[iv]
}

// Lookback is the window one fetch call may request.
func (iv Interval) Lookback() time.Duration {
	return lookbacks[iv]
}

// Intraday reports whether the interval is shorter than a day.
func (iv Interval) Intraday() bool {
	return iv.Step() < day
}

func (iv Interval) String() string {
	return string(iv)
}
