package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// formatIndianNumber groups an integer string the Indian way:
// 1,00,00,000 rather than 10,000,000.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatQuantity formats a whole number with Indian grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + formatIndianNumber(fmt.Sprintf("%d", -qty))
	}
	return formatIndianNumber(fmt.Sprintf("%d", qty))
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume float64) string {
	switch {
	case volume >= 1e7:
		return fmt.Sprintf("%.2f Cr", volume/1e7)
	case volume >= 1e5:
		return fmt.Sprintf("%.2f L", volume/1e5)
	case volume >= 1e3:
		return fmt.Sprintf("%.2f K", volume/1e3)
	}
	return fmt.Sprintf("%.0f", volume)
}

// FormatCompact formats a large amount with B/M suffixes, the way
// overview pages quote market capitalisation.
func FormatCompact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatPrice formats a price with appropriate decimal places.
func FormatPrice(price float64) string {
	if math.Abs(price) >= 10 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}

// FormatOptional renders a missing value as "-".
func FormatOptional(v *float64, f func(float64) string) string {
	if v == nil {
		return "-"
	}
	return f(*v)
}

var ist = time.FixedZone("IST", 5*3600+1800)

// FormatCandleTime formats a candle open in IST. Daily and longer candles
// drop the clock.
func FormatCandleTime(t time.Time, intraday bool) string {
	if intraday {
		return t.In(ist).Format("2006-01-02 15:04")
	}
	return t.In(ist).Format("2006-01-02")
}

// FormatDuration formats a duration compactly.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString shortens s to maxLen runes with an ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return strings.TrimSpace(string(r[:maxLen-3])) + "..."
}
