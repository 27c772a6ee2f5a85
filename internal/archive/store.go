// Package archive manages archive files and keeps them consistent with
// their metadata records.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/fingerprint"
	"github.com/imedwei/collection-backup/internal/metrics"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/repository"
	"github.com/imedwei/collection-backup/internal/storage"
	"github.com/imedwei/collection-backup/internal/utils"
)

// maxNameAttempts bounds how many names Write tries when a name is taken.
const maxNameAttempts = 16

// Config holds archive store configuration.
type Config struct {
	// Format is the serialization format, used as the name extension.
	Format string
}

// Store writes, deduplicates, verifies and deletes archives.
type Store struct {
	storage storage.Storage
	repo    repository.Repository
	namer   *Namer
	locks   *kmutex.Kmutex
	clock   clock.Clock
	config  Config
	logger  *slog.Logger
}

// NewStore creates a new archive store.
func NewStore(st storage.Storage, repo repository.Repository, cfg Config, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	return &Store{
		storage: st,
		repo:    repo,
		namer:   NewNamer(clk),
		locks:   kmutex.New(),
		clock:   clk,
		config:  cfg,
		logger:  logger.With("component", "archive-store"),
	}
}

// Write stores payload as a new archive of obj. When an archive with the
// same content already exists the new file is discarded and the existing
// archive is returned with created=false.
func (s *Store) Write(ctx context.Context, obj *model.BackupObject, payload io.Reader) (*model.Archive, bool, error) {
	s.locks.Lock(obj.ID)
	defer s.locks.Unlock(obj.ID)

	name, file, err := s.create(obj)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", model.ErrArchiveCreationFailed, err)
	}
	path := s.storage.Path(name)

	s.logger.Debug("Writing archive", "collection", obj.Label, "archive", name, "compression", obj.Compression)
	written, err := s.writePayload(ctx, file, obj.Compression, payload)
	if err != nil {
		s.discard(name)
		return nil, false, fmt.Errorf("%w: failed to write %s: %w", model.ErrArchiveCreationFailed, name, err)
	}

	fp, err := fingerprint.File(path)
	if err != nil {
		s.discard(name)
		return nil, false, fmt.Errorf("%w: %w", model.ErrArchiveCreationFailed, err)
	}

	info, err := s.storage.Stat(name)
	if err != nil {
		s.discard(name)
		return nil, false, fmt.Errorf("%w: failed to stat %s: %w", model.ErrArchiveCreationFailed, name, err)
	}

	stored, created, err := s.repo.CreateArchiveIfAbsent(ctx, &model.Archive{
		ObjectID:    obj.ID,
		Name:        name,
		Path:        path,
		Size:        info.Size,
		Fingerprint: fp,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		s.discard(name)
		return nil, false, fmt.Errorf("%w: failed to record archive: %w", model.ErrArchiveCreationFailed, err)
	}

	if !created {
		s.discard(name)
		metrics.ArchivesDeduplicated.WithLabelValues(obj.Label).Inc()
		s.logger.Info("Archive content unchanged, keeping existing archive",
			"collection", obj.Label,
			"archive", stored.Name,
			"fingerprint", fp,
		)
		return stored, false, nil
	}

	s.logger.Info("Archive recorded",
		"collection", obj.Label,
		"archive", stored.Name,
		"size", humanize.Bytes(uint64(stored.Size)),
		"payload_bytes", written,
		"fingerprint", fp,
	)
	return stored, true, nil
}

// create opens a fresh archive file, moving on to the next name when one is taken.
func (s *Store) create(obj *model.BackupObject) (string, io.WriteCloser, error) {
	var lastErr error
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := s.namer.Next(obj.Label, s.config.Format, obj.Compression)
		f, err := s.storage.Create(name)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("no free archive name after %d attempts: %w", maxNameAttempts, lastErr)
}

// writePayload streams payload through the compression filter into file and
// closes both. It returns the number of uncompressed bytes written.
func (s *Store) writePayload(ctx context.Context, file io.WriteCloser, c model.Compression, payload io.Reader) (int64, error) {
	cw, err := newWriter(file, c)
	if err != nil {
		file.Close()
		return 0, err
	}

	pw := utils.NewProgressWriter(cw, func(written int64, elapsed time.Duration) {
		s.logger.Info("Archive write progress", "written", humanize.Bytes(uint64(written)), "elapsed", elapsed)
	})

	written, copyErr := utils.CopyContext(ctx, pw, payload, utils.CopyPool)

	// Close writers in reverse order
	closeErr := cw.Close()
	if err := file.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	if copyErr != nil {
		return written, copyErr
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to finish archive: %w", closeErr)
	}
	return written, nil
}

func (s *Store) discard(name string) {
	if err := s.storage.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove discarded archive file", "archive", name, "error", err)
	}
}

// Delete unlinks the archive file and removes its record. A file that is
// already gone is not an error. A file that cannot be unlinked is reported
// as a warning and the record is removed anyway.
func (s *Store) Delete(ctx context.Context, a *model.Archive) error {
	s.locks.Lock(a.ObjectID)
	defer s.locks.Unlock(a.ObjectID)

	if err := s.storage.Remove(a.Name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("Archive file already removed", "archive", a.Name)
		} else {
			metrics.UnlinkFailures.Inc()
			s.logger.Warn("Failed to unlink archive file, removing record anyway",
				"archive", a.Name,
				"path", a.Path,
				"error", fmt.Errorf("%w: %w", model.ErrUnableToDeleteArchive, err),
			)
		}
	}

	if err := s.repo.DeleteArchive(ctx, a.ID); err != nil {
		return fmt.Errorf("failed to delete archive %s: %w", a.Name, err)
	}

	metrics.ArchivesDeleted.Inc()
	s.logger.Info("Archive deleted", "archive", a.Name, "created", a.CreatedAt)
	return nil
}

// Verify recomputes the fingerprint of the archive file and compares it to
// the recorded one.
func (s *Store) Verify(ctx context.Context, a *model.Archive) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fp, err := fingerprint.File(s.storage.Path(a.Name))
	if err != nil {
		return err
	}
	if fp != a.Fingerprint {
		metrics.HashMismatches.Inc()
		return fmt.Errorf("%w: %s hashes to %s, recorded %s", model.ErrHashMismatch, a.Name, fp, a.Fingerprint)
	}
	return nil
}

// Open returns the decompressed payload of an archive.
func (s *Store) Open(a *model.Archive) (io.ReadCloser, error) {
	raw, err := s.OpenRaw(a)
	if err != nil {
		return nil, err
	}
	r, err := newReader(raw, compressionOf(a.Name))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to open %s: %w", a.Name, err)
	}
	return &stackedReader{ReadCloser: r, under: raw}, nil
}

// OpenVerified checks the archive against its recorded fingerprint and
// returns the decompressed payload read from the same open file, so the
// bytes returned are the bytes that were hashed. The object lock is held
// until the file is open; a later Delete does not affect the open handle.
func (s *Store) OpenVerified(ctx context.Context, a *model.Archive) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.locks.Lock(a.ObjectID)
	defer s.locks.Unlock(a.ObjectID)

	raw, err := s.OpenRaw(a)
	if err != nil {
		return nil, err
	}
	rs, ok := raw.(io.ReadSeeker)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("%w: %s cannot be reread", model.ErrIO, a.Name)
	}

	fp, err := fingerprint.Reader(rs)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: failed to hash %s: %v", model.ErrIO, a.Name, err)
	}
	if fp != a.Fingerprint {
		raw.Close()
		metrics.HashMismatches.Inc()
		return nil, fmt.Errorf("%w: %s hashes to %s, recorded %s", model.ErrHashMismatch, a.Name, fp, a.Fingerprint)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: failed to rewind %s: %v", model.ErrIO, a.Name, err)
	}
	r, err := newReader(raw, compressionOf(a.Name))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to open %s: %w", a.Name, err)
	}
	return &stackedReader{ReadCloser: r, under: raw}, nil
}

// OpenRaw returns the stored bytes of an archive.
func (s *Store) OpenRaw(a *model.Archive) (io.ReadCloser, error) {
	f, err := s.storage.Open(a.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", model.ErrIO, a.Name, err)
	}
	return f, nil
}

// Report describes how the files of a collection line up with its records.
type Report struct {
	// Orphans are files with no record.
	Orphans []string
	// Missing are records whose file is gone.
	Missing []*model.Archive
}

// Check compares the archive files of obj on disk with its records.
func (s *Store) Check(ctx context.Context, obj *model.BackupObject) (*Report, error) {
	s.locks.Lock(obj.ID)
	defer s.locks.Unlock(obj.ID)

	archives, err := s.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return nil, err
	}
	files, err := s.storage.List(obj.Label + "_")
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		info, err := ParseName(f.Key)
		if err != nil || info.Label != obj.Label {
			continue
		}
		onDisk[f.Key] = true
	}

	report := &Report{}
	recorded := make(map[string]bool, len(archives))
	for _, a := range archives {
		recorded[a.Name] = true
		if !onDisk[a.Name] {
			report.Missing = append(report.Missing, a)
		}
	}
	for name := range onDisk {
		if !recorded[name] {
			report.Orphans = append(report.Orphans, name)
		}
	}
	sort.Strings(report.Orphans)
	return report, nil
}

type stackedReader struct {
	io.ReadCloser
	under io.Closer
}

func (r *stackedReader) Close() error {
	err := r.ReadCloser.Close()
	if uerr := r.under.Close(); err == nil {
		err = uerr
	}
	return err
}
