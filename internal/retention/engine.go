package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/metrics"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/repository"
)

// Deleter removes an archive file together with its record.
type Deleter interface {
	Delete(ctx context.Context, a *model.Archive) error
}

// Engine applies the retention policy of a backup object.
type Engine struct {
	repo    repository.Repository
	deleter Deleter
	clock   clock.Clock
	logger  *slog.Logger
}

// NewEngine creates a retention engine.
func NewEngine(repo repository.Repository, deleter Deleter, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{
		repo:    repo,
		deleter: deleter,
		clock:   clk,
		logger:  logger.With("component", "retention"),
	}
}

// Result summarizes a prune run.
type Result struct {
	Selected int
	Deleted  []*model.Archive
	Freed    int64
}

// Prune deletes the archives the object's policy selects. Failures to
// delete individual archives do not stop the run; they are joined into the
// returned error.
func (e *Engine) Prune(ctx context.Context, obj *model.BackupObject) (*Result, error) {
	archives, err := e.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	selected, err := SelectForDeletion(archives, obj.PruneBy, obj.PruneValue, e.clock.Now())
	if err != nil {
		metrics.RecordPrune(string(obj.PruneBy), false)
		return nil, fmt.Errorf("failed to apply %s policy to %s: %w", obj.PruneBy, obj.Label, err)
	}

	result := &Result{Selected: len(selected)}
	if len(selected) == 0 {
		e.logger.Debug("Nothing to prune", "collection", obj.Label, "policy", obj.PruneBy)
		metrics.RecordPrune(string(obj.PruneBy), true)
		return result, nil
	}

	e.logger.Info("Starting prune",
		"collection", obj.Label,
		"policy", obj.PruneBy,
		"value", obj.PruneValue,
		"selected", len(selected),
	)

	var errs []error
	for _, a := range selected {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		e.logger.Info("Deleting old archive",
			"collection", obj.Label,
			"archive", a.Name,
			"created", a.CreatedAt,
			"age_days", int(e.clock.Now().Sub(a.CreatedAt).Hours()/24),
		)
		if err := e.deleter.Delete(ctx, a); err != nil {
			e.logger.Error("Failed to delete old archive", "archive", a.Name, "error", err)
			errs = append(errs, err)
			// Continue with other deletions
			continue
		}
		result.Deleted = append(result.Deleted, a)
		result.Freed += a.Size
	}

	metrics.RecordPrune(string(obj.PruneBy), len(errs) == 0)
	e.logger.Info("Prune completed", "collection", obj.Label, "deleted_count", len(result.Deleted))
	return result, errors.Join(errs...)
}

// Preview describes what a prune run would do without deleting anything.
type Preview struct {
	Policy      model.PruneBy
	Value       float64
	Total       int
	Kept        int
	SizeNotKept int64
	WouldDelete []*model.Archive
	WouldFree   int64
	WouldRetain int
}

// Preview evaluates the object's policy without deleting anything.
func (e *Engine) Preview(ctx context.Context, obj *model.BackupObject) (*Preview, error) {
	archives, err := e.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	selected, err := SelectForDeletion(archives, obj.PruneBy, obj.PruneValue, e.clock.Now())
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Policy:      obj.PruneBy,
		Value:       obj.PruneValue,
		Total:       len(archives),
		WouldDelete: selected,
		WouldRetain: len(archives) - len(selected),
	}
	for _, a := range archives {
		if a.Keep {
			p.Kept++
		} else {
			p.SizeNotKept += a.Size
		}
	}
	for _, a := range selected {
		p.WouldFree += a.Size
	}
	return p, nil
}
