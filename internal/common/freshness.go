// Package common provides shared utilities for marketcache
package common

import "time"

// Freshness TTLs for derived data families
const (
	FreshnessNews         = 6 * time.Hour
	FreshnessFundamentals = 7 * 24 * time.Hour // 7 days
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	return IsFreshAt(updated, ttl, time.Now())
}

// IsFreshAt is IsFresh against an explicit clock.
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
