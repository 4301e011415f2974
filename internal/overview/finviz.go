// Package overview collects per-ticker fundamentals for the overview artifact.
package overview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// Source returns the overview of one ticker. A nil record without error
// means the page carried no data for the ticker.
type Source interface {
	FetchOverview(ctx context.Context, ticker string) (*models.OverviewRecord, error)
}

// DefaultFinvizURL is the quote page endpoint.
const DefaultFinvizURL = "https://finviz.com/quote.ashx"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// FinvizConfig configures FinvizSource.
type FinvizConfig struct {
	BaseURL string
	// Interval is the minimum spacing between page requests.
	Interval time.Duration
	Timeout  time.Duration
}

// FinvizSource scrapes quote pages.
type FinvizSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewFinvizSource creates a scraper.
func NewFinvizSource(cfg FinvizConfig, logger zerolog.Logger) *FinvizSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFinvizURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &FinvizSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "finviz").Logger(),
	}
}

// FetchOverview downloads and parses the quote page of ticker.
func (f *FinvizSource) FetchOverview(ctx context.Context, ticker string) (*models.OverviewRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := f.baseURL + "?" + url.Values{"t": {ticker}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Fatal(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.RateLimited(fmt.Errorf("finviz %s: %s", ticker, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Transient(fmt.Errorf("finviz %s: %s", ticker, resp.Status))
	}

	rec, err := ParseFinviz(resp.Body, ticker)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		f.logger.Debug().Str("ticker", ticker).Msg("Quote page not recognized")
	}
	return rec, nil
}

// ParseFinviz extracts the overview from a quote page. It returns nil when
// the page has no quote or quotes a different ticker.
func ParseFinviz(r io.Reader, ticker string) (*models.OverviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Transient(err)
	}
	if doc.Find("#ticker").Length() == 0 {
		return nil, nil
	}

	rows := doc.Find("table.fullview-title tr")
	if rows.Length() < 3 {
		return nil, nil
	}
	found := strings.Fields(rows.Eq(0).Text())
	if len(found) == 0 || !strings.EqualFold(found[0], ticker) {
		return nil, nil
	}

	rec := &models.OverviewRecord{
		Ticker: strings.ToUpper(found[0]),
		Name:   strings.TrimSpace(rows.Eq(1).Text()),
	}
	links := rows.Eq(2).Find("a")
	for i, dst := range []*string{&rec.Sector, &rec.Industry, &rec.Country} {
		if i < links.Length() {
			*dst = strings.TrimSpace(links.Eq(i).Text())
		}
	}

	snapshot := snapshotCells(doc)
	fields := []struct {
		label string
		dst   **float64
	}{
		{"market cap", &rec.MarketCap},
		{"dividend", &rec.Dividend},
		{"dividend %", &rec.DividendPct},
		{"employees", &rec.Employees},
		{"recom", &rec.Recommendation},
		{"p/e", &rec.PE},
		{"p/s", &rec.PS},
		{"debt/eq", &rec.DebtToEquity},
		{"short float", &rec.ShortFloatPct},
	}
	for _, f := range fields {
		if v, ok := snapshot[f.label]; ok {
			*f.dst = models.Float(ParseNumber(v))
		}
	}
	return rec, nil
}

// snapshotCells pairs label cells with value cells of the snapshot table.
func snapshotCells(doc *goquery.Document) map[string]string {
	table := doc.Find("table.snapshot-table2").First()
	labels := table.Find("td.snapshot-td2-cp")
	values := table.Find("td.snapshot-td2")

	out := make(map[string]string, values.Length())
	values.Each(func(i int, v *goquery.Selection) {
		if i >= labels.Length() {
			return
		}
		label := strings.ToLower(strings.TrimSpace(labels.Eq(i).Text()))
		out[label] = strings.TrimSpace(v.Text())
	})
	return out
}
