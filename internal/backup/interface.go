// Package backup sequences backup cycles for registered collections and
// exposes the operator actions on their archives.
package backup

import (
	"context"
	"io"

	"github.com/imedwei/collection-backup/internal/archive"
	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/dump"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/retention"
)

// DumpProducer serializes a collection.
type DumpProducer interface {
	// Dump returns the serialized collection. It fails with
	// model.ErrUnknownCollection for labels it does not know.
	Dump(ctx context.Context, req dump.Request) (io.ReadCloser, error)
}

// Loader replaces the contents of a collection with a serialized payload.
type Loader interface {
	Load(ctx context.Context, label, format string, payload io.Reader) (int, error)
}

// SourceInfo describes the database collections are dumped from.
type SourceInfo interface {
	Info(ctx context.Context) (*database.Info, error)
}

// ArchiveStore persists archive files and their records.
type ArchiveStore interface {
	Write(ctx context.Context, obj *model.BackupObject, payload io.Reader) (*model.Archive, bool, error)
	Delete(ctx context.Context, a *model.Archive) error
	Verify(ctx context.Context, a *model.Archive) error
	Open(a *model.Archive) (io.ReadCloser, error)
	OpenRaw(a *model.Archive) (io.ReadCloser, error)
	OpenVerified(ctx context.Context, a *model.Archive) (io.ReadCloser, error)
	Check(ctx context.Context, obj *model.BackupObject) (*archive.Report, error)
}

// Pruner applies retention policies.
type Pruner interface {
	Prune(ctx context.Context, obj *model.BackupObject) (*retention.Result, error)
	Preview(ctx context.Context, obj *model.BackupObject) (*retention.Preview, error)
}
