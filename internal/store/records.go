package store

import (
	"fmt"
	"strconv"
	"time"

	"candle-scanner/internal/models"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// Optional columns are written empty when absent.
func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatOptBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func parseOptBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// rowRecord is one line of a series file.
type rowRecord struct {
	Time       string  `csv:"Time"`
	Open       float64 `csv:"Open"`
	High       float64 `csv:"High"`
	Low        float64 `csv:"Low"`
	Close      float64 `csv:"Close"`
	Volume     float64 `csv:"Volume"`
	EMA10      float64 `csv:"EMA_10"`
	EMA20      float64 `csv:"EMA_20"`
	EMA50      float64 `csv:"EMA_50"`
	EMA200     float64 `csv:"EMA_200"`
	RSI14      float64 `csv:"RSI_14"`
	MACD       float64 `csv:"MACD_12_26_9"`
	MACDHist   float64 `csv:"MACDh_12_26_9"`
	MACDSignal float64 `csv:"MACDs_12_26_9"`
	ATR14      float64 `csv:"ATR_14"`
}

// summaryRecord is one line of a summary file.
type summaryRecord struct {
	Ticker     string  `csv:"Ticker"`
	Time       string  `csv:"Time"`
	Open       float64 `csv:"Open"`
	High       float64 `csv:"High"`
	Low        float64 `csv:"Low"`
	Close      float64 `csv:"Close"`
	Volume     float64 `csv:"Volume"`
	EMA10      float64 `csv:"EMA_10"`
	EMA20      float64 `csv:"EMA_20"`
	EMA50      float64 `csv:"EMA_50"`
	EMA200     float64 `csv:"EMA_200"`
	RSI14      float64 `csv:"RSI_14"`
	MACD       float64 `csv:"MACD_12_26_9"`
	MACDHist   float64 `csv:"MACDh_12_26_9"`
	MACDSignal float64 `csv:"MACDs_12_26_9"`
	ATR14      float64 `csv:"ATR_14"`
}

// overviewRecord is one line of the overview file.
type overviewRecord struct {
	Ticker         string `csv:"Ticker"`
	Name           string `csv:"Name"`
	Sector         string `csv:"Sector"`
	Industry       string `csv:"Industry"`
	Country        string `csv:"Country"`
	MarketCap      string `csv:"Market Cap"`
	Dividend       string `csv:"Dividend"`
	DividendPct    string `csv:"Dividend %"`
	Employees      string `csv:"Employees"`
	Recommendation string `csv:"Recommendation"`
	PE             string `csv:"P/E"`
	PS             string `csv:"P/S"`
	DebtToEquity   string `csv:"Debt to Eq"`
	ShortFloatPct  string `csv:"Short Float %"`
	Shortable      string `csv:"Shortable"`
}

func toRowRecord(r models.Row) *rowRecord {
	return &rowRecord{
		Time:       formatTime(r.Time),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		EMA10:      r.EMA10,
		EMA20:      r.EMA20,
		EMA50:      r.EMA50,
		EMA200:     r.EMA200,
		RSI14:      r.RSI14,
		MACD:       r.MACD,
		MACDHist:   r.MACDHist,
		MACDSignal: r.MACDSignal,
		ATR14:      r.ATR14,
	}
}

func (r *rowRecord) row() (models.Row, error) {
	t, err := parseTime(r.Time)
	if err != nil {
		return models.Row{}, err
	}
	return models.Row{
		Candle: models.Candle{
			Time:   t,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		},
		Indicators: models.Indicators{
			EMA10:      r.EMA10,
			EMA20:      r.EMA20,
			EMA50:      r.EMA50,
			EMA200:     r.EMA200,
			RSI14:      r.RSI14,
			MACD:       r.MACD,
			MACDHist:   r.MACDHist,
			MACDSignal: r.MACDSignal,
			ATR14:      r.ATR14,
		},
	}, nil
}

func toSummaryRecord(s models.SummaryRow) *summaryRecord {
	r := toRowRecord(s.Row)
	return &summaryRecord{
		Ticker:     s.Ticker,
		Time:       r.Time,
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		EMA10:      r.EMA10,
		EMA20:      r.EMA20,
		EMA50:      r.EMA50,
		EMA200:     r.EMA200,
		RSI14:      r.RSI14,
		MACD:       r.MACD,
		MACDHist:   r.MACDHist,
		MACDSignal: r.MACDSignal,
		ATR14:      r.ATR14,
	}
}

func (s *summaryRecord) summaryRow() (models.SummaryRow, error) {
	r := rowRecord{
		Time:       s.Time,
		Open:       s.Open,
		High:       s.High,
		Low:        s.Low,
		Close:      s.Close,
		Volume:     s.Volume,
		EMA10:      s.EMA10,
		EMA20:      s.EMA20,
		EMA50:      s.EMA50,
		EMA200:     s.EMA200,
		RSI14:      s.RSI14,
		MACD:       s.MACD,
		MACDHist:   s.MACDHist,
		MACDSignal: s.MACDSignal,
		ATR14:      s.ATR14,
	}
	row, err := r.row()
	if err != nil {
		return models.SummaryRow{}, err
	}
	return models.SummaryRow{Ticker: s.Ticker, Row: row}, nil
}

func toOverviewRecord(o models.OverviewRecord) *overviewRecord {
	return &overviewRecord{
		Ticker:         o.Ticker,
		Name:           o.Name,
		Sector:         o.Sector,
		Industry:       o.Industry,
		Country:        o.Country,
		MarketCap:      formatOptFloat(o.MarketCap),
		Dividend:       formatOptFloat(o.Dividend),
		DividendPct:    formatOptFloat(o.DividendPct),
		Employees:      formatOptFloat(o.Employees),
		Recommendation: formatOptFloat(o.Recommendation),
		PE:             formatOptFloat(o.PE),
		PS:             formatOptFloat(o.PS),
		DebtToEquity:   formatOptFloat(o.DebtToEquity),
		ShortFloatPct:  formatOptFloat(o.ShortFloatPct),
		Shortable:      formatOptBool(o.Shortable),
	}
}

func (o *overviewRecord) overview() (models.OverviewRecord, error) {
	rec := models.OverviewRecord{
		Ticker:   o.Ticker,
		Name:     o.Name,
		Sector:   o.Sector,
		Industry: o.Industry,
		Country:  o.Country,
	}
	floats := []struct {
		src string
		dst **float64
	}{
		{o.MarketCap, &rec.MarketCap},
		{o.Dividend, &rec.Dividend},
		{o.DividendPct, &rec.DividendPct},
		{o.Employees, &rec.Employees},
		{o.Recommendation, &rec.Recommendation},
		{o.PE, &rec.PE},
		{o.PS, &rec.PS},
		{o.DebtToEquity, &rec.DebtToEquity},
		{o.ShortFloatPct, &rec.ShortFloatPct},
	}
	for _, f := range floats {
		v, err := parseOptFloat(f.src)
		if err != nil {
			return rec, fmt.Errorf("%s: %w", o.Ticker, err)
		}
		*f.dst = v
	}
	shortable, err := parseOptBool(o.Shortable)
	if err != nil {
		return rec, fmt.Errorf("%s: %w", o.Ticker, err)
	}
	rec.Shortable = shortable
	return rec, nil
}
