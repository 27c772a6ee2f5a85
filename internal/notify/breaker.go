package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/imedwei/collection-backup/internal/model"
)

// BreakerConfig controls when the circuit opens.
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures uint32
	// OpenPeriod is how long the circuit stays open before probing again.
	OpenPeriod time.Duration
}

// BreakerNotifier stops calling a failing mail server for a while so a batch
// run does not wait out retries for every collection.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps next with a circuit breaker.
func NewBreakerNotifier(next Notifier, config BreakerConfig, logger *slog.Logger) *BreakerNotifier {
	failures := config.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:        "notify",
		MaxRequests: 1,
		Timeout:     config.OpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Notification circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerNotifier{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Send implements Notifier.
func (b *BreakerNotifier) Send(ctx context.Context, label string, recipients []string, a *model.Archive) error {
	if len(recipients) == 0 {
		return nil
	}
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, label, recipients, a)
	})
	return err
}

// State returns the breaker state for health reporting.
func (b *BreakerNotifier) State() string {
	return b.cb.State().String()
}
