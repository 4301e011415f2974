package overview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"candle-scanner/internal/errors"
)

// ShortableLoader returns the full ISIN to shortability table.
type ShortableLoader interface {
	LoadShortable(ctx context.Context) (map[string]bool, error)
}

// ShortableCache answers shortability by ISIN. Entries expire after the
// TTL and the cache never holds more than its size; a miss reloads the
// whole table once.
type ShortableCache struct {
	loader ShortableLoader
	lru    *expirable.LRU[string, bool]
	logger zerolog.Logger

	mu       sync.Mutex
	loadedAt time.Time
}

// NewShortableCache creates a cache bounded by size entries and ttl age.
func NewShortableCache(loader ShortableLoader, size int, ttl time.Duration, logger zerolog.Logger) *ShortableCache {
	if size <= 0 {
		size = 4096
	}
	return &ShortableCache{
		loader: loader,
		lru:    expirable.NewLRU[string, bool](size, nil, ttl),
		logger: logger.With().Str("component", "shortable").Logger(),
	}
}

// Lookup reports whether isin can be sold short. Unknown ISINs are not
// shortable.
func (c *ShortableCache) Lookup(ctx context.Context, isin string) (bool, error) {
	if isin == "" {
		return false, nil
	}
	if v, ok := c.lru.Get(isin); ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Get(isin); ok {
		return v, nil
	}
	if err := c.reloadLocked(ctx); err != nil {
		return false, err
	}
	v, _ := c.lru.Get(isin)
	return v, nil
}

func (c *ShortableCache) reloadLocked(ctx context.Context) error {
	table, err := c.loader.LoadShortable(ctx)
	if err != nil {
		return errors.Wrap(err, "load shortable table")
	}
	for isin, ok := range table {
		c.lru.Add(isin, ok)
	}
	c.loadedAt = time.Now()
	c.logger.Debug().Int("entries", len(table)).Msg("Shortable table loaded")
	return nil
}

// Len returns the number of live entries.
func (c *ShortableCache) Len() int {
	return c.lru.Len()
}

// LoadedAt returns when the table was last loaded.
func (c *ShortableCache) LoadedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedAt
}

// HTMLShortableLoader reads a broker margin table page where each row
// carries the ISIN in its second cell and the availability in its third.
type HTMLShortableLoader struct {
	URL string
	// Available is the availability text that marks a shortable row.
	Available string
	Client    *http.Client
}

// LoadShortable downloads and parses the table.
func (l *HTMLShortableLoader) LoadShortable(ctx context.Context) (map[string]bool, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Transient(fmt.Errorf("shortable table: %s", resp.Status))
	}
	return ParseShortableTable(resp.Body, l.Available)
}

// ParseShortableTable extracts ISIN availability from table rows.
func ParseShortableTable(r io.Reader, available string) (map[string]bool, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return
		}
		isin := strings.TrimSpace(cells.Eq(1).Text())
		if isin == "" {
			return
		}
		out[isin] = strings.TrimSpace(cells.Eq(2).Text()) == available
	})
	return out, nil
}
