package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/model"
)

// RetryConfig holds retry configuration for deliveries.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryingNotifier retries transient delivery failures with exponential backoff.
type RetryingNotifier struct {
	next   Notifier
	config RetryConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewRetryingNotifier wraps next with retry logic.
func NewRetryingNotifier(next Notifier, config RetryConfig, clk clock.Clock, logger *slog.Logger) *RetryingNotifier {
	return &RetryingNotifier{
		next:   next,
		config: config,
		clock:  clk,
		logger: logger,
	}
}

// Send implements Notifier.
func (r *RetryingNotifier) Send(ctx context.Context, label string, recipients []string, a *model.Archive) error {
	if len(recipients) == 0 {
		return nil
	}

	delay := r.config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("Retrying notification",
				"collection", label,
				"attempt", attempt,
				"max_retries", r.config.MaxRetries,
				"delay", delay,
				"error", lastErr,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}

			delay = time.Duration(float64(delay) * r.config.Multiplier)
			if delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		}

		err := r.next.Send(ctx, label, recipients, a)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("notification failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

// isRetryableError reports whether a delivery failure is likely transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrIO) {
		return false
	}

	// SMTP 4xx replies are temporary, 5xx are permanent
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"broken pipe",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
