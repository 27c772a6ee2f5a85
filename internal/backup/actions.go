package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/imedwei/collection-backup/internal/archive"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/utils"
)

// ErrNoRecipients is returned when mailing an archive of a collection with
// no recipients configured.
var ErrNoRecipients = errors.New("no recipients configured")

// Archive returns an archive record.
func (o *Orchestrator) Archive(ctx context.Context, archiveID int64) (*model.Archive, error) {
	return o.repo.GetArchive(ctx, archiveID)
}

// SetKeep marks or unmarks an archive as exempt from retention.
func (o *Orchestrator) SetKeep(ctx context.Context, archiveID int64, keep bool) (*model.Archive, error) {
	if err := o.repo.SetKeep(ctx, archiveID, keep); err != nil {
		return nil, err
	}
	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Archive keep flag changed", "archive", a.Name, "keep", keep)
	return a, nil
}

// DeleteArchive removes an archive file and its record.
func (o *Orchestrator) DeleteArchive(ctx context.Context, archiveID int64) (*model.Archive, error) {
	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if err := o.store.Delete(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyArchive checks an archive file against its recorded fingerprint.
func (o *Orchestrator) VerifyArchive(ctx context.Context, archiveID int64) (*model.Archive, error) {
	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if err := o.store.Verify(ctx, a); err != nil {
		o.logger.Error("Archive verification failed", "archive", a.Name, "error", err)
		return a, err
	}
	return a, nil
}

// Restore verifies an archive and loads it back into its collection. A
// fingerprint mismatch refuses the restore before anything is changed. The
// loaded bytes come from the same open file that was verified.
func (o *Orchestrator) Restore(ctx context.Context, archiveID int64) (int, error) {
	if o.loader == nil {
		return 0, fmt.Errorf("restore is not configured")
	}

	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return 0, fmt.Errorf("refusing to restore archive %d: %w", archiveID, err)
	}

	obj, err := o.repo.GetObjectByID(ctx, a.ObjectID)
	if err != nil {
		return 0, err
	}

	info, err := archive.ParseName(a.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to determine format of %s: %w", a.Name, err)
	}

	payload, err := o.store.OpenVerified(ctx, a)
	if err != nil {
		o.logger.Error("Archive verification failed", "archive", a.Name, "error", err)
		return 0, fmt.Errorf("refusing to restore archive %d: %w", archiveID, err)
	}
	defer payload.Close()

	o.logger.Info("Starting restore", "collection", obj.Label, "archive", a.Name, "format", info.Format)
	n, err := o.loader.Load(ctx, obj.Label, info.Format, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to restore %s: %w", a.Name, err)
	}

	o.logger.Info("Restore completed", "collection", obj.Label, "archive", a.Name, "records", n)
	return n, nil
}

// Download copies the stored bytes of an archive to w and returns the
// archive and the number of bytes written.
func (o *Orchestrator) Download(ctx context.Context, archiveID int64, w io.Writer) (*model.Archive, int64, error) {
	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, 0, err
	}

	raw, err := o.store.OpenRaw(a)
	if err != nil {
		return a, 0, err
	}
	defer raw.Close()

	n, err := utils.CopyContext(ctx, w, raw, utils.CopyPool)
	if err != nil {
		return a, n, fmt.Errorf("%w: failed to copy %s: %v", model.ErrIO, a.Name, err)
	}
	o.logger.Info("Archive downloaded", "archive", a.Name, "bytes", n)
	return a, n, nil
}

// MailArchive sends an existing archive to its collection's recipients.
func (o *Orchestrator) MailArchive(ctx context.Context, archiveID int64) (*model.Archive, error) {
	a, err := o.repo.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	obj, err := o.repo.GetObjectByID(ctx, a.ObjectID)
	if err != nil {
		return nil, err
	}
	if len(obj.Recipients) == 0 {
		return nil, fmt.Errorf("%s: %w", obj.Label, ErrNoRecipients)
	}

	if err := o.notifier.Send(ctx, obj.Label, obj.Recipients, a); err != nil {
		return nil, fmt.Errorf("failed to mail %s: %w", a.Name, err)
	}
	o.logger.Info("Archive mailed", "archive", a.Name, "recipients", len(obj.Recipients))
	return a, nil
}

// ListArchives returns the archives of a collection, newest first.
func (o *Orchestrator) ListArchives(ctx context.Context, label string) ([]*model.Archive, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	return o.repo.ListArchives(ctx, obj.ID)
}

// Stats summarizes the archives of a collection.
type Stats struct {
	Label       string
	Archives    int
	Kept        int
	TotalSize   int64
	SizeNotKept int64
	Newest      *model.Archive
}

// Stats returns archive counts and sizes for a collection.
func (o *Orchestrator) Stats(ctx context.Context, label string) (*Stats, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	archives, err := o.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return nil, err
	}

	s := &Stats{Label: label, Archives: len(archives)}
	for _, a := range archives {
		s.TotalSize += a.Size
		if a.Keep {
			s.Kept++
		} else {
			s.SizeNotKept += a.Size
		}
	}
	if len(archives) > 0 {
		s.Newest = archives[0]
	}
	return s, nil
}

// Check compares a collection's archive files with its records.
func (o *Orchestrator) Check(ctx context.Context, label string) (*archive.Report, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	return o.store.Check(ctx, obj)
}

// LogSourceInfo logs the name, version and size of the source database.
func (o *Orchestrator) LogSourceInfo(ctx context.Context, src SourceInfo) {
	info, err := src.Info(ctx)
	if err != nil {
		o.logger.Warn("Failed to get database info", "error", err)
		return
	}
	o.logger.Info("Database info",
		"name", info.Name,
		"size_bytes", info.Size,
		"version", info.Version,
	)
}
