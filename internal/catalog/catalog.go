// Package catalog resolves configured tickers to upstream instruments.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

// Lookup lists the instruments known upstream.
type Lookup interface {
	Instruments(ctx context.Context) ([]models.Instrument, error)
}

// LoadTickers reads a whitespace separated ticker list. Duplicates are
// dropped and order is kept.
func LoadTickers(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read ticker list %s", path)
	}
	return normalize(strings.Fields(string(data))), nil
}

func normalize(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Catalog caches the upstream instrument list.
type Catalog struct {
	lookup Lookup

	mu       sync.RWMutex
	byTicker map[string]models.Instrument
}

// New creates a catalog over lookup.
func New(lookup Lookup) *Catalog {
	return &Catalog{lookup: lookup}
}

func (c *Catalog) load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.byTicker != nil
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	list, err := c.lookup.Instruments(ctx)
	if err != nil {
		return errors.Wrap(err, "list instruments")
	}
	byTicker := make(map[string]models.Instrument, len(list))
	for _, inst := range list {
		byTicker[strings.ToUpper(inst.Ticker)] = inst
	}

	c.mu.Lock()
	c.byTicker = byTicker
	c.mu.Unlock()
	return nil
}

// Resolve maps tickers to instruments. Unknown tickers are reported and
// skipped; the returned instruments are sorted by ticker. A failing lookup
// is returned as the only error.
func (c *Catalog) Resolve(ctx context.Context, tickers []string) ([]models.Instrument, []error) {
	if err := c.load(ctx); err != nil {
		return nil, []error{err}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		out  []models.Instrument
		errs []error
	)
	for _, t := range normalize(tickers) {
		inst, ok := c.byTicker[t]
		if !ok {
			errs = append(errs, errors.Wrap(errors.ErrUnknownTicker, t))
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, errs
}

// Refresh drops the cached list so the next Resolve reloads it.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	c.byTicker = nil
	c.mu.Unlock()
}
