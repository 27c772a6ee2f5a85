// Package dump serializes the tables of a collection into fixture records
// and loads them back.
package dump

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/model"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// pkColumn is the primary key column of every collection table.
const pkColumn = "id"

// reserved prefixes belong to the database engine or to the archive catalog.
var reserved = map[string]bool{"sqlite": true, "backup": true, "pg": true}

// Request describes one dump.
type Request struct {
	Label          string
	UseNaturalKeys bool
	Indent         int
	Format         string
}

// Record is one row of a collection table.
type Record struct {
	Model  string         `json:"model" yaml:"model"`
	PK     any            `json:"pk,omitempty" yaml:"pk,omitempty"`
	Fields map[string]any `json:"fields" yaml:"fields"`
}

// SQLDumper dumps collections stored as tables named {label}_{name}.
type SQLDumper struct {
	db     *database.DB
	logger *slog.Logger
}

// NewSQLDumper creates a dumper over db.
func NewSQLDumper(db *database.DB, logger *slog.Logger) *SQLDumper {
	return &SQLDumper{
		db:     db,
		logger: logger.With("component", "sql-dump"),
	}
}

// Tables returns the tables that make up a collection.
func (d *SQLDumper) Tables(ctx context.Context, label string) ([]string, error) {
	if label == "" {
		return nil, nil
	}
	prefix := label + "_"
	rows, err := d.db.QueryContext(ctx, d.db.Dialect.Rebind(d.db.Dialect.ListTables), database.EscapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

// HasSchema reports whether label names a collection with at least one table.
func (d *SQLDumper) HasSchema(ctx context.Context, label string) (bool, error) {
	tables, err := d.Tables(ctx, label)
	if err != nil {
		return false, err
	}
	return len(tables) > 0, nil
}

// Collections returns every label found in the source database, taken as
// the table name up to its first underscore.
func (d *SQLDumper) Collections(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, d.db.Dialect.Rebind(d.db.Dialect.ListTables), "%")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		i := strings.Index(name, "_")
		if i <= 0 || i == len(name)-1 || reserved[name[:i]] {
			continue
		}
		seen[name[:i]] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, nil
}

// Dump serializes every table of the collection. The returned reader
// streams the encoded records and reports query failures on Read.
func (d *SQLDumper) Dump(ctx context.Context, req Request) (io.ReadCloser, error) {
	tables, err := d.Tables(ctx, req.Label)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownCollection, req.Label)
	}

	encode, err := encoder(req.Format, req.Indent)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		records, err := d.records(ctx, req, tables)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		d.logger.Debug("Collection dumped", "collection", req.Label, "tables", len(tables), "records", len(records))
		if err := encode(pw, records); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("failed to encode dump: %w", err))
			return
		}
		_ = pw.Close()
	}()

	return pr, nil
}

func (d *SQLDumper) records(ctx context.Context, req Request, tables []string) ([]Record, error) {
	records := make([]Record, 0)
	for _, table := range tables {
		columns, err := d.columns(ctx, table)
		if err != nil {
			return nil, err
		}

		order := make([]string, 0, len(columns))
		if contains(columns, pkColumn) {
			order = append(order, database.QuoteIdent(pkColumn))
		} else {
			for i := range columns {
				order = append(order, fmt.Sprint(i+1))
			}
		}

		rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
			database.QuoteIdent(table), strings.Join(order, ", ")))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", table, err)
		}

		modelName := req.Label + "." + strings.TrimPrefix(table, req.Label+"_")
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s: %w", table, err)
			}

			rec := Record{Model: modelName, Fields: make(map[string]any, len(columns))}
			for i, col := range columns {
				v := normalize(values[i])
				if col == pkColumn {
					if !req.UseNaturalKeys {
						rec.PK = v
					}
					continue
				}
				rec.Fields[col] = v
			}
			records = append(records, rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", table, err)
		}
	}
	return records, nil
}

func (d *SQLDumper) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", database.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()
	return rows.Columns()
}

// binaryKey tags a field value holding base64 encoded bytes that are not
// valid UTF-8, so Load can turn it back into bytes.
const binaryKey = "$binary"

// normalize turns driver values into values both encoders render the same way.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return map[string]any{binaryKey: base64.StdEncoding.EncodeToString(t)}
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func encoder(format string, indent int) (func(io.Writer, []Record) error, error) {
	switch format {
	case FormatJSON, "":
		return func(w io.Writer, records []Record) error {
			enc := json.NewEncoder(w)
			if indent > 0 {
				enc.SetIndent("", strings.Repeat(" ", indent))
			}
			return enc.Encode(records)
		}, nil
	case FormatYAML:
		return func(w io.Writer, records []Record) error {
			enc := yaml.NewEncoder(w)
			if indent >= 2 {
				enc.SetIndent(indent)
			}
			if err := enc.Encode(records); err != nil {
				return err
			}
			return enc.Close()
		}, nil
	default:
		return nil, fmt.Errorf("unsupported dump format %q (must be json or yaml)", format)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Info describes the source database.
func (d *SQLDumper) Info(ctx context.Context) (*database.Info, error) {
	return d.db.Info(ctx)
}
