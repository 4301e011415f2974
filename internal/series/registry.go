package series

import (
	"sort"
	"sync"

	"candle-scanner/internal/models"
)

type key struct {
	ticker   string
	interval models.Interval
}

// Registry owns every series of the process. Series are created lazily
// and never removed.
type Registry struct {
	mu          sync.RWMutex
	series      map[key]*Series
	instruments map[string]models.Instrument
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		series:      make(map[key]*Series),
		instruments: make(map[string]models.Instrument),
	}
}

// Get returns the series for inst and iv, creating it empty on first access.
func (r *Registry) Get(inst models.Instrument, iv models.Interval) *Series {
	k := key{inst.Ticker, iv}
	r.mu.RLock()
	s, ok := r.series[k]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[k]; ok {
		return s
	}
	s = New(inst, iv)
	r.series[k] = s
	r.instruments[inst.ID()] = inst
	return s
}

// Lookup finds an existing series by upstream instrument id.
func (r *Registry) Lookup(instrumentID string, iv models.Interval) (*Series, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[instrumentID]
	if !ok {
		return nil, false
	}
	s, ok := r.series[key{inst.Ticker, iv}]
	return s, ok
}

// Instrument returns the instrument registered under an upstream id.
func (r *Registry) Instrument(instrumentID string) (models.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[instrumentID]
	return inst, ok
}

// ByInterval returns every series of iv sorted by ticker.
func (r *Registry) ByInterval(iv models.Interval) []*Series {
	r.mu.RLock()
	out := make([]*Series, 0, len(r.series))
	for k, s := range r.series {
		if k.interval == iv {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.Ticker < out[j].Instrument.Ticker
	})
	return out
}

// All returns every series sorted by ticker then interval order.
func (r *Registry) All() []*Series {
	var out []*Series
	for _, iv := range models.AllIntervals() {
		out = append(out, r.ByInterval(iv)...)
	}
	return out
}
