// Package models defines the core data types shared across the scanner.
package models

import "strconv"

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Instrument identifies one tradable symbol. It is immutable once resolved.
type Instrument struct {
	Ticker   string
	Token    uint32
	Exchange Exchange
	ISIN     string
	Currency string
}

// ID returns the upstream identifier used by the live feed.
func (i Instrument) ID() string {
	return strconv.FormatUint(uint64(i.Token), 10)
}

// Key returns a stable "EXCHANGE:TICKER" key.
func (i Instrument) Key() string {
	if i.Exchange == "" {
		return i.Ticker
	}
	return string(i.Exchange) + ":" + i.Ticker
}
