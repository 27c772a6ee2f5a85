package repository

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/database"
)

// DriverMemory selects the in-process repository.
const DriverMemory = "memory"

// New creates a repository for the configured driver.
func New(ctx context.Context, cfg database.Config, clk clock.Clock) (Repository, error) {
	if cfg.Driver == DriverMemory {
		return NewMemory(clk), nil
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s metadata repository: %w", cfg.Driver, err)
	}

	repo, err := NewSQL(ctx, db, clk)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
