package overview

import (
	"strings"

	"github.com/spf13/cast"
)

var multipliers = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'b': 1e9,
}

// ParseNumber reads a snapshot cell such as "2.5B", "1.24%" or "-".
// Anything unreadable is 0.
func ParseNumber(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return 0
	}

	mult := 1.0
	last := s[len(s)-1]
	if m, ok := multipliers[last]; ok {
		mult = m
		s = s[:len(s)-1]
	} else if last == '%' {
		s = s[:len(s)-1]
	}

	v, err := cast.ToFloat64E(s)
	if err != nil {
		return 0
	}
	return v * mult
}
