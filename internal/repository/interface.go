// Package repository persists backup objects and archive metadata.
package repository

import (
	"context"

	"github.com/imedwei/collection-backup/internal/model"
)

// Repository defines the metadata operations the archive lifecycle needs.
type Repository interface {
	// CreateObject registers a backup object and fills in its ID and timestamps.
	// It fails with model.ErrObjectExists when the label is taken.
	CreateObject(ctx context.Context, obj *model.BackupObject) error

	// GetObject looks an object up by label.
	GetObject(ctx context.Context, label string) (*model.BackupObject, error)

	// GetObjectByID looks an object up by ID.
	GetObjectByID(ctx context.Context, id int64) (*model.BackupObject, error)

	// UpdateObject stores the settings of an existing object.
	UpdateObject(ctx context.Context, obj *model.BackupObject) error

	// DeleteObject removes an object and, by cascade, its archive records.
	DeleteObject(ctx context.Context, id int64) error

	// ListObjects returns objects ordered by label.
	ListObjects(ctx context.Context, includedOnly bool) ([]*model.BackupObject, error)

	// CreateArchiveIfAbsent atomically inserts an archive unless one with the
	// same (ObjectID, Fingerprint) exists. It returns the stored archive and
	// whether it was created by this call.
	CreateArchiveIfAbsent(ctx context.Context, archive *model.Archive) (*model.Archive, bool, error)

	// FindByFingerprint returns the archive of an object with the given
	// fingerprint or model.ErrArchiveNotFound.
	FindByFingerprint(ctx context.Context, objectID int64, fingerprint string) (*model.Archive, error)

	// GetArchive returns an archive by ID or model.ErrArchiveNotFound.
	GetArchive(ctx context.Context, id int64) (*model.Archive, error)

	// ListArchives returns the archives of an object, newest first.
	ListArchives(ctx context.Context, objectID int64) ([]*model.Archive, error)

	// SetKeep sets or clears the keep flag of an archive.
	SetKeep(ctx context.Context, id int64, keep bool) error

	// DeleteArchive removes an archive record.
	DeleteArchive(ctx context.Context, id int64) error

	// CountNotKept counts the archives of an object without the keep flag.
	CountNotKept(ctx context.Context, objectID int64) (int, error)

	// SumSizeNotKept sums the sizes of the archives of an object without the keep flag.
	SumSizeNotKept(ctx context.Context, objectID int64) (int64, error)

	// Ping checks that the repository is reachable.
	Ping(ctx context.Context) error

	// Close releases the repository's resources.
	Close() error
}
