// Package notify delivers finished archives to a collection's recipients.
package notify

import (
	"context"

	"github.com/imedwei/collection-backup/internal/model"
)

// Notifier sends an archive to recipients. An empty recipient list is a no-op.
type Notifier interface {
	Send(ctx context.Context, label string, recipients []string, a *model.Archive) error
}

// Nop is a Notifier that never sends anything.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string, []string, *model.Archive) error { return nil }
