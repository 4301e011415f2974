package series

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"candle-scanner/internal/models"
)

// ErrNotFilled rejects live candles for a series that has no history yet.
// A tick landing first would make the next fill treat the series as
// current and skip the backfill.
var ErrNotFilled = errors.New("series not filled")

// Computer derives indicator columns from a candle slice.
type Computer interface {
	Compute(candles []models.Candle) []models.Indicators
}

// Series is the candle history of one (instrument, interval) pair. All
// access goes through its mutex so the batch and stream writers never
// interleave on the same series.
//
// Once a Computer is known, derived columns are never served stale: any
// read after a structural change recomputes them under the same lock.
type Series struct {
	Instrument models.Instrument
	Interval   models.Interval

	mu       sync.Mutex
	candles  []models.Candle
	derived  []models.Indicators
	computer Computer
	filled   bool
	updated  time.Time
}

// New creates an empty series.
func New(inst models.Instrument, iv models.Interval) *Series {
	return &Series{Instrument: inst, Interval: iv}
}

// Candles returns a copy of the current candles.
func (s *Series) Candles() []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Len returns the number of candles.
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles)
}

// Last returns the newest candle.
func (s *Series) Last() (models.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candles) == 0 {
		return models.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Filled reports whether the series has completed at least one fill.
func (s *Series) Filled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filled
}

// UpdatedAt returns the time of the last structural change.
func (s *Series) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Load installs rows read from storage, derived columns included.
func (s *Series) Load(rows []models.Row) {
	candles := make([]models.Candle, len(rows))
	derived := make([]models.Indicators, len(rows))
	for i, r := range rows {
		candles[i] = r.Candle
		derived[i] = r.Indicators
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = Dedupe(candles)
	s.derived = nil
	if len(s.candles) == len(rows) {
		s.derived = derived
	}
	s.filled = len(s.candles) > 0
	s.updated = time.Now()
}

// Replace swaps in a complete candle set from a successful fill.
func (s *Series) Replace(candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = Dedupe(candles)
	s.derived = nil
	s.filled = true
	s.updated = time.Now()
}

// Merge folds fetched candles in, fetched values winning on duplicate
// open times. It returns how many candles the series grew by.
func (s *Series) Merge(fresh []models.Candle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.candles)
	s.candles = Merge(s.candles, fresh)
	s.derived = nil
	s.filled = true
	s.updated = time.Now()
	return len(s.candles) - before
}

// SetComputer sets the engine used to refresh derived columns.
func (s *Series) SetComputer(c Computer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computer = c
}

// Apply folds one live candle into the series. It fails with ErrNotFilled
// until the series has been loaded or filled.
func (s *Series) Apply(c models.Candle) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filled {
		return SameBucket, ErrNotFilled
	}
	out, tr, err := Apply(s.candles, c, s.Interval.Step())
	if err != nil {
		return tr, err
	}
	s.candles = out
	s.derived = nil
	s.updated = time.Now()
	return tr, nil
}

// Recompute rebuilds the derived columns from the current candles.
func (s *Series) Recompute(c Computer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computer = c
	return s.recomputeLocked()
}

func (s *Series) recomputeLocked() error {
	derived := s.computer.Compute(s.candles)
	if len(derived) != len(s.candles) {
		s.derived = nil
		return fmt.Errorf("indicator rows %d != candles %d", len(derived), len(s.candles))
	}
	s.derived = derived
	return nil
}

// refreshLocked brings stale derived columns up to date when a Computer
// is known. Without one they stay empty and rows carry zeros.
func (s *Series) refreshLocked() {
	if s.computer == nil || len(s.candles) == 0 || len(s.derived) == len(s.candles) {
		return
	}
	_ = s.recomputeLocked()
}

// Rows returns candles joined with derived columns.
func (s *Series) Rows() []models.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.rowsLocked()
}

// LastRow returns the newest row.
func (s *Series) LastRow() (models.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candles) == 0 {
		return models.Row{}, false
	}
	s.refreshLocked()
	i := len(s.candles) - 1
	row := models.Row{Candle: s.candles[i]}
	if len(s.derived) == len(s.candles) {
		row.Indicators = s.derived[i]
	}
	return row, true
}

func (s *Series) rowsLocked() []models.Row {
	rows := make([]models.Row, len(s.candles))
	withDerived := len(s.derived) == len(s.candles)
	for i, c := range s.candles {
		rows[i].Candle = c
		if withDerived {
			rows[i].Indicators = s.derived[i]
		}
	}
	return rows
}
