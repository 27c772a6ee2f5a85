// Package registry manages which collections are backed up and with what
// settings.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/repository"
)

// Catalog knows which collections exist in the source database.
type Catalog interface {
	HasSchema(ctx context.Context, label string) (bool, error)
	Collections(ctx context.Context) ([]string, error)
}

// ArchiveDeleter removes an archive file and its record.
type ArchiveDeleter interface {
	Delete(ctx context.Context, a *model.Archive) error
}

// Registry is the set of registered backup objects.
type Registry struct {
	repo    repository.Repository
	catalog Catalog
	deleter ArchiveDeleter
	logger  *slog.Logger
}

// New creates a registry.
func New(repo repository.Repository, catalog Catalog, deleter ArchiveDeleter, logger *slog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		catalog: catalog,
		deleter: deleter,
		logger:  logger.With("component", "registry"),
	}
}

// Add registers a collection. The collection must exist in the catalog and
// must not already be registered. configure, when not nil, adjusts the
// defaults before the object is validated and stored.
func (r *Registry) Add(ctx context.Context, label string, configure func(*model.BackupObject) error) (*model.BackupObject, error) {
	ok, err := r.catalog.HasSchema(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("failed to look up collection %s: %w", label, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownCollection, label)
	}

	obj := model.NewBackupObject(label)
	if configure != nil {
		if err := configure(obj); err != nil {
			return nil, err
		}
	}
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	if err := r.repo.CreateObject(ctx, obj); err != nil {
		if errors.Is(err, model.ErrObjectExists) {
			return nil, fmt.Errorf("%s is already being backed up: %w", label, err)
		}
		return nil, err
	}

	r.logger.Info("Collection registered", "collection", label)
	return obj, nil
}

// Get returns a registered collection.
func (r *Registry) Get(ctx context.Context, label string) (*model.BackupObject, error) {
	return r.repo.GetObject(ctx, label)
}

// List returns every registered collection.
func (r *Registry) List(ctx context.Context) ([]*model.BackupObject, error) {
	return r.repo.ListObjects(ctx, false)
}

// ListIncluded returns the collections that take part in batch runs.
func (r *Registry) ListIncluded(ctx context.Context) ([]*model.BackupObject, error) {
	return r.repo.ListObjects(ctx, true)
}

// Update applies change to a registered collection and stores the result
// if it is valid.
func (r *Registry) Update(ctx context.Context, label string, change func(*model.BackupObject) error) (*model.BackupObject, error) {
	obj, err := r.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	if err := change(obj); err != nil {
		return nil, err
	}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	if err := r.repo.UpdateObject(ctx, obj); err != nil {
		return nil, err
	}

	r.logger.Info("Collection updated",
		"collection", label,
		"include", obj.Include,
		"compression", obj.Compression,
		"auto_prune", obj.AutoPrune,
		"prune_by", obj.PruneBy,
		"prune_value", obj.PruneValue,
	)
	return obj, nil
}

// Remove unregisters a collection and deletes all of its archives.
func (r *Registry) Remove(ctx context.Context, label string) error {
	obj, err := r.repo.GetObject(ctx, label)
	if err != nil {
		return err
	}

	archives, err := r.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("failed to list archives of %s: %w", label, err)
	}

	for _, a := range archives {
		if err := r.deleter.Delete(ctx, a); err != nil {
			return fmt.Errorf("failed to remove %s: %w", label, err)
		}
	}

	if err := r.repo.DeleteObject(ctx, obj.ID); err != nil {
		return err
	}

	r.logger.Info("Collection removed", "collection", label, "archives_deleted", len(archives))
	return nil
}

// Sync registers every collection in the catalog that is not registered yet
// and returns the newly added objects.
func (r *Registry) Sync(ctx context.Context) ([]*model.BackupObject, error) {
	labels, err := r.catalog.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	var added []*model.BackupObject
	for _, label := range labels {
		_, err := r.repo.GetObject(ctx, label)
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrObjectNotFound) {
			return added, err
		}

		obj := model.NewBackupObject(label)
		if err := r.repo.CreateObject(ctx, obj); err != nil {
			if errors.Is(err, model.ErrObjectExists) {
				continue
			}
			return added, err
		}
		added = append(added, obj)
	}

	r.logger.Info("Collections synced", "known", len(labels), "added", len(added))
	return added, nil
}
