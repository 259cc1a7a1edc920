package invite

import (
	"fmt"
	"time"
)

const (
	// DefaultTTL is how long an invite lives when no expiry option is given.
	DefaultTTL = 7 * 24 * time.Hour

	// MaxTTL bounds every relative expiry count.
	MaxTTL = 100 * 365 * 24 * time.Hour
)

// ExpiryOptions selects an invite's expiry. Zero values are unset.
type ExpiryOptions struct {
	ExpiresAt time.Time // absolute; wins over every relative option
	Days      int
	Hours     int
	Minutes   int
}

// Validate rejects negative relative counts and counts longer than MaxTTL.
func (o ExpiryOptions) Validate() error {
	if o.Days < 0 || o.Hours < 0 || o.Minutes < 0 {
		return fmt.Errorf("%w: negative duration (days=%d hours=%d minutes=%d)", ErrInvalidExpiry, o.Days, o.Hours, o.Minutes)
	}
	for _, c := range []struct {
		name  string
		n     int
		scale time.Duration
	}{
		{"days", o.Days, 24 * time.Hour},
		{"hours", o.Hours, time.Hour},
		{"minutes", o.Minutes, time.Minute},
	} {
		if int64(c.n) > int64(MaxTTL/c.scale) {
			return fmt.Errorf("%w: %s=%d exceeds %s", ErrInvalidExpiry, c.name, c.n, MaxTTL)
		}
	}
	return nil
}

// ComputeExpiry returns the absolute expiry for opts. An absolute time is
// returned as given, even if already past. Otherwise the first non-zero of
// days, hours, minutes is added to now, defaulting to DefaultTTL.
func ComputeExpiry(now time.Time, opts ExpiryOptions) time.Time {
	if !opts.ExpiresAt.IsZero() {
		return opts.ExpiresAt
	}
	switch {
	case opts.Days != 0:
		return now.Add(time.Duration(opts.Days) * 24 * time.Hour)
	case opts.Hours != 0:
		return now.Add(time.Duration(opts.Hours) * time.Hour)
	case opts.Minutes != 0:
		return now.Add(time.Duration(opts.Minutes) * time.Minute)
	default:
		return now.Add(DefaultTTL)
	}
}
