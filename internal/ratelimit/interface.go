// Package ratelimit keeps collections from being archived more often than
// a configured minimum interval.
package ratelimit

import (
	"time"
)

// RateLimiter decides whether a collection is due for a new archive.
type RateLimiter interface {
	// ShouldBackup reports whether a backup should proceed given the creation
	// time of the newest archive (zero when there is none), with a
	// human-readable reason.
	ShouldBackup(lastArchive time.Time) (bool, string)

	// GetMinInterval returns the minimum time between archives.
	GetMinInterval() time.Duration
}

// Config holds configuration for rate limiting.
type Config struct {
	// MinInterval is the minimum time between archives. Zero disables the guard.
	MinInterval time.Duration

	// ForceBackup overrides rate limiting when true.
	ForceBackup bool
}
