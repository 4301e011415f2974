package fetcher

import (
	"time"

	"candle-scanner/internal/errors"
)

// Policy is the single retry and paging policy shared by the backfill and
// merge engines.
type Policy struct {
	// Cooldown is how long a job waits after a rate-limit signal before
	// repeating the identical request.
	Cooldown time.Duration
	// MaxThinPages consecutive pages of at most ThinPageRows rows end a walk.
	MaxThinPages int
	ThinPageRows int
	// RowTarget ends a backfill once this many distinct rows are held.
	RowTarget int
	// FetchTimeout bounds a single upstream call.
	FetchTimeout time.Duration
	// StalenessThreshold is the slack past one step before a series is
	// considered behind.
	StalenessThreshold time.Duration
	// RequestsPerSecond paces every upstream call. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultPolicy returns the policy used in production.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:           60 * time.Second,
		MaxThinPages:       4,
		ThinPageRows:       1,
		RowTarget:          250,
		FetchTimeout:       30 * time.Second,
		StalenessThreshold: 0,
		RequestsPerSecond:  3,
		Burst:              1,
	}
}

// Validate checks the policy for values that would stall or spin.
func (p Policy) Validate() error {
	if p.Cooldown <= 0 {
		return errors.NewValidationError("cooldown", p.Cooldown, "must be positive")
	}
	if p.MaxThinPages < 1 {
		return errors.NewValidationError("max_thin_pages", p.MaxThinPages, "must be at least 1")
	}
	if p.ThinPageRows < 0 {
		return errors.NewValidationError("thin_page_rows", p.ThinPageRows, "must not be negative")
	}
	if p.RowTarget < 1 {
		return errors.NewValidationError("row_target", p.RowTarget, "must be at least 1")
	}
	if p.FetchTimeout <= 0 {
		return errors.NewValidationError("fetch_timeout", p.FetchTimeout, "must be positive")
	}
	if p.RequestsPerSecond < 0 {
		return errors.NewValidationError("requests_per_second", p.RequestsPerSecond, "must not be negative")
	}
	return nil
}

// Thin reports whether a page of n rows counts toward the exhaustion rule.
func (p Policy) Thin(n int) bool {
	return n <= p.ThinPageRows
}
