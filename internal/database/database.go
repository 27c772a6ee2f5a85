// Package database opens the SQL databases used for archive metadata and
// as the source of collection dumps.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config describes how to reach a database.
type Config struct {
	Driver string
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB is a connection pool plus the dialect of the database behind it.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens and pings a database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		dsn     string
		dialect Dialect
		err     error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		dsn = sqliteDSN(cfg.DSN)
		dialect = SQLite
	case DriverPostgres:
		dsn, err = postgresDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialect = Postgres
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if dialect == SQLite {
		// One long-lived writer; ":memory:" databases vanish with their connection
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 5))
		db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 2))
		db.SetConnMaxLifetime(orDefaultDuration(cfg.ConnMaxLifetime, 5*time.Minute))
		db.SetConnMaxIdleTime(orDefaultDuration(cfg.ConnMaxIdleTime, 1*time.Minute))
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Info holds database metadata.
type Info struct {
	Name    string
	Version string
	Size    int64
}

// Info retrieves the name, version and size of the database.
func (d *DB) Info(ctx context.Context) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info := &Info{}
	switch d.Dialect {
	case Postgres:
		err := d.QueryRowContext(ctx, `
			SELECT current_database(), version(), pg_database_size(current_database())
		`).Scan(&info.Name, &info.Version, &info.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to get database info: %w", err)
		}
	default:
		info.Name = "main"
		if err := d.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&info.Version); err != nil {
			return nil, fmt.Errorf("failed to get database info: %w", err)
		}
		info.Version = "SQLite " + info.Version
		err := d.QueryRowContext(ctx, `
			SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()
		`).Scan(&info.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to get database size: %w", err)
		}
	}
	return info, nil
}

// sqliteDSN enables foreign keys and a busy timeout unless the caller set pragmas.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:backup.db"
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// postgresDSN adds connection defaults to URL style DSNs.
func postgresDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("postgres DSN is required")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		// key=value form is passed through untouched
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "require")
	}
	if q.Get("connect_timeout") == "" {
		q.Set("connect_timeout", "10")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
