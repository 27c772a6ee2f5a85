package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS backup_objects (
	id %[1]s,
	label TEXT NOT NULL UNIQUE,
	include BOOLEAN NOT NULL DEFAULT TRUE,
	compression TEXT NOT NULL DEFAULT 'none',
	use_natural_keys BOOLEAN NOT NULL DEFAULT TRUE,
	prune_by TEXT NOT NULL DEFAULT 'none',
	prune_value DOUBLE PRECISION NOT NULL DEFAULT 10,
	auto_prune BOOLEAN NOT NULL DEFAULT FALSE,
	recipients TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	modified_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS backup_archives (
	id %[1]s,
	object_id BIGINT NOT NULL REFERENCES backup_objects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	size BIGINT NOT NULL,
	fingerprint TEXT NOT NULL,
	keep BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL,
	modified_at BIGINT NOT NULL,
	UNIQUE (object_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS backup_archives_object_keep_created
	ON backup_archives (object_id, keep, created_at);
`

const (
	objectColumns  = `id, label, include, compression, use_natural_keys, prune_by, prune_value, auto_prune, recipients, created_at, modified_at`
	archiveColumns = `id, object_id, name, path, size, fingerprint, keep, created_at, modified_at`
)

// SQL is a Repository backed by sqlite or postgres.
type SQL struct {
	db    *database.DB
	clock clock.Clock
}

// NewSQL creates the metadata tables if needed and returns the repository.
func NewSQL(ctx context.Context, db *database.DB, clk clock.Clock) (*SQL, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	r := &SQL{db: db, clock: clk}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQL) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(fmt.Sprintf(schema, r.db.Dialect.IDColumn), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create metadata schema: %w", err)
		}
	}
	return nil
}

func (r *SQL) q(query string) string {
	return r.db.Dialect.Rebind(query)
}

func (r *SQL) now() int64 {
	return r.clock.Now().UnixNano()
}

// CreateObject implements Repository.
func (r *SQL) CreateObject(ctx context.Context, obj *model.BackupObject) error {
	now := r.now()
	err := r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO backup_objects (label, include, compression, use_natural_keys, prune_by, prune_value, auto_prune, recipients, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (label) DO NOTHING
		RETURNING id`),
		obj.Label, obj.Include, string(obj.Compression), obj.UseNaturalKeys, string(obj.PruneBy),
		obj.PruneValue, obj.AutoPrune, joinRecipients(obj.Recipients), now, now,
	).Scan(&obj.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrObjectExists, obj.Label)
	}
	if err != nil {
		return fmt.Errorf("failed to create backup object: %w", err)
	}
	obj.CreatedAt = time.Unix(0, now)
	obj.ModifiedAt = obj.CreatedAt
	return nil
}

// GetObject implements Repository.
func (r *SQL) GetObject(ctx context.Context, label string) (*model.BackupObject, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+objectColumns+` FROM backup_objects WHERE label = ?`), label)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrObjectNotFound, label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup object: %w", err)
	}
	return obj, nil
}

// GetObjectByID implements Repository.
func (r *SQL) GetObjectByID(ctx context.Context, id int64) (*model.BackupObject, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+objectColumns+` FROM backup_objects WHERE id = ?`), id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", model.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup object: %w", err)
	}
	return obj, nil
}

// UpdateObject implements Repository.
func (r *SQL) UpdateObject(ctx context.Context, obj *model.BackupObject) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE backup_objects
		SET include = ?, compression = ?, use_natural_keys = ?, prune_by = ?, prune_value = ?,
			auto_prune = ?, recipients = ?, modified_at = ?
		WHERE id = ?`),
		obj.Include, string(obj.Compression), obj.UseNaturalKeys, string(obj.PruneBy), obj.PruneValue,
		obj.AutoPrune, joinRecipients(obj.Recipients), now, obj.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup object: %w", err)
	}
	if err := expectOne(res, fmt.Errorf("%w: id %d", model.ErrObjectNotFound, obj.ID)); err != nil {
		return err
	}
	obj.ModifiedAt = time.Unix(0, now)
	return nil
}

// DeleteObject implements Repository.
func (r *SQL) DeleteObject(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM backup_archives WHERE object_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete archive records: %w", err)
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM backup_objects WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete backup object: %w", err)
	}
	if err := expectOne(res, fmt.Errorf("%w: id %d", model.ErrObjectNotFound, id)); err != nil {
		return err
	}
	return tx.Commit()
}

// ListObjects implements Repository.
func (r *SQL) ListObjects(ctx context.Context, includedOnly bool) ([]*model.BackupObject, error) {
	query := `SELECT ` + objectColumns + ` FROM backup_objects`
	var args []any
	if includedOnly {
		query += ` WHERE include = ?`
		args = append(args, true)
	}
	query += ` ORDER BY label`

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup objects: %w", err)
	}
	defer rows.Close()

	var out []*model.BackupObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup object: %w", err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// CreateArchiveIfAbsent implements Repository.
func (r *SQL) CreateArchiveIfAbsent(ctx context.Context, archive *model.Archive) (*model.Archive, bool, error) {
	created := archive.CreatedAt
	if created.IsZero() {
		created = r.clock.Now()
	}

	stored := *archive
	err := r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO backup_archives (object_id, name, path, size, fingerprint, keep, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (object_id, fingerprint) DO NOTHING
		RETURNING id`),
		archive.ObjectID, archive.Name, archive.Path, archive.Size, archive.Fingerprint, archive.Keep,
		created.UnixNano(), created.UnixNano(),
	).Scan(&stored.ID)

	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByFingerprint(ctx, archive.ObjectID, archive.Fingerprint)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create archive record: %w", err)
	}

	stored.CreatedAt = time.Unix(0, created.UnixNano())
	stored.ModifiedAt = stored.CreatedAt
	return &stored, true, nil
}

// FindByFingerprint implements Repository.
func (r *SQL) FindByFingerprint(ctx context.Context, objectID int64, fingerprint string) (*model.Archive, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT `+archiveColumns+` FROM backup_archives WHERE object_id = ? AND fingerprint = ?`),
		objectID, fingerprint)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fingerprint %s", model.ErrArchiveNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find archive: %w", err)
	}
	return a, nil
}

// GetArchive implements Repository.
func (r *SQL) GetArchive(ctx context.Context, id int64) (*model.Archive, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+archiveColumns+` FROM backup_archives WHERE id = ?`), id)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	return a, nil
}

// ListArchives implements Repository.
func (r *SQL) ListArchives(ctx context.Context, objectID int64) ([]*model.Archive, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+archiveColumns+` FROM backup_archives
		WHERE object_id = ?
		ORDER BY created_at DESC, id DESC`), objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	var out []*model.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetKeep implements Repository.
func (r *SQL) SetKeep(ctx context.Context, id int64, keep bool) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE backup_archives SET keep = ?, modified_at = ? WHERE id = ?`), keep, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update archive: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id))
}

// DeleteArchive implements Repository.
func (r *SQL) DeleteArchive(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM backup_archives WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete archive record: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id))
}

// CountNotKept implements Repository.
func (r *SQL) CountNotKept(ctx context.Context, objectID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM backup_archives WHERE object_id = ? AND keep = ?`), objectID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archives: %w", err)
	}
	return n, nil
}

// SumSizeNotKept implements Repository.
func (r *SQL) SumSizeNotKept(ctx context.Context, objectID int64) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COALESCE(SUM(size), 0) FROM backup_archives WHERE object_id = ? AND keep = ?`), objectID, false).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum archive sizes: %w", err)
	}
	return total, nil
}

// Ping implements Repository.
func (r *SQL) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close implements Repository.
func (r *SQL) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(s scanner) (*model.BackupObject, error) {
	var (
		obj                  model.BackupObject
		compression, pruneBy string
		recipients           string
		created, modified    int64
	)
	err := s.Scan(&obj.ID, &obj.Label, &obj.Include, &compression, &obj.UseNaturalKeys, &pruneBy,
		&obj.PruneValue, &obj.AutoPrune, &recipients, &created, &modified)
	if err != nil {
		return nil, err
	}
	obj.Compression = model.Compression(compression)
	obj.PruneBy = model.PruneBy(pruneBy)
	obj.Recipients = splitRecipients(recipients)
	obj.CreatedAt = time.Unix(0, created)
	obj.ModifiedAt = time.Unix(0, modified)
	return &obj, nil
}

func scanArchive(s scanner) (*model.Archive, error) {
	var (
		a                 model.Archive
		created, modified int64
	)
	err := s.Scan(&a.ID, &a.ObjectID, &a.Name, &a.Path, &a.Size, &a.Fingerprint, &a.Keep, &created, &modified)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, created)
	a.ModifiedAt = time.Unix(0, modified)
	return &a, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func joinRecipients(recipients []string) string {
	return strings.Join(recipients, ",")
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
