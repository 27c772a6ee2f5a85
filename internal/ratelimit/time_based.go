package ratelimit

import (
	"fmt"
	"time"

	"github.com/juju/clock"
)

// TimeBasedLimiter implements RateLimiter against a clock.
type TimeBasedLimiter struct {
	config Config
	clock  clock.Clock
}

// NewTimeBasedLimiter creates a new time-based rate limiter.
func NewTimeBasedLimiter(config Config, clk clock.Clock) *TimeBasedLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &TimeBasedLimiter{
		config: config,
		clock:  clk,
	}
}

// ShouldBackup implements RateLimiter.
func (t *TimeBasedLimiter) ShouldBackup(lastArchive time.Time) (bool, string) {
	if t.config.ForceBackup {
		return true, "forced backup requested"
	}

	if t.config.MinInterval <= 0 {
		return true, "no minimum interval configured"
	}

	if lastArchive.IsZero() {
		return true, "no previous archive found"
	}

	sinceLast := t.clock.Now().Sub(lastArchive)
	if sinceLast < t.config.MinInterval {
		return false, fmt.Sprintf(
			"last archive was %s ago, next backup allowed in %s",
			formatDuration(sinceLast),
			formatDuration(t.config.MinInterval-sinceLast),
		)
	}

	return true, fmt.Sprintf("last archive was %s ago", formatDuration(sinceLast))
}

// GetMinInterval implements RateLimiter.
func (t *TimeBasedLimiter) GetMinInterval() time.Duration {
	return t.config.MinInterval
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
