package models

// OverviewRecord is the fundamental snapshot of one ticker. Optional
// numeric members are nil when the source page did not carry them.
type OverviewRecord struct {
	Ticker         string
	Name           string
	Sector         string
	Industry       string
	Country        string
	MarketCap      *float64
	Dividend       *float64
	DividendPct    *float64
	Employees      *float64
	Recommendation *float64
	PE             *float64
	PS             *float64
	DebtToEquity   *float64
	ShortFloatPct  *float64
	Shortable      *bool
}

// Float returns a pointer to v, for filling optional members.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
