package dump

import (
	"bytes"
	"encoding/base64"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/model"
)

// Load replaces the contents of a collection with the records in payload.
// All tables of the collection are cleared and refilled in one transaction,
// so a failed load leaves the collection untouched.
func (d *SQLDumper) Load(ctx context.Context, label, format string, payload io.Reader) (int, error) {
	tables, err := d.Tables(ctx, label)
	if err != nil {
		return 0, err
	}
	if len(tables) == 0 {
		return 0, fmt.Errorf("%w: %s", model.ErrUnknownCollection, label)
	}

	records, err := Decode(format, payload)
	if err != nil {
		return 0, err
	}

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}
	for _, rec := range records {
		if _, err := tableFor(label, rec.Model, known); err != nil {
			return 0, err
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if d.db.Dialect.Name == database.DriverSQLite {
		if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
			return 0, fmt.Errorf("failed to defer foreign keys: %w", err)
		}
	}

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+database.QuoteIdent(tables[i])); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", tables[i], err)
		}
	}

	for _, rec := range records {
		table, _ := tableFor(label, rec.Model, known)
		if err := d.insert(ctx, tx, table, rec); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit load: %w", err)
	}

	d.logger.Info("Collection loaded", "collection", label, "records", len(records))
	return len(records), nil
}

func (d *SQLDumper) insert(ctx context.Context, tx *sql.Tx, table string, rec Record) error {
	columns := make([]string, 0, len(rec.Fields)+1)
	for col := range rec.Fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]any, 0, len(columns)+1)
	quoted := make([]string, 0, len(columns)+1)
	if rec.PK != nil {
		quoted = append(quoted, database.QuoteIdent(pkColumn))
		args = append(args, rec.PK)
	}
	for _, col := range columns {
		quoted = append(quoted, database.QuoteIdent(col))
		args = append(args, rec.Fields[col])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", "))

	if _, err := tx.ExecContext(ctx, d.db.Dialect.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func tableFor(label, modelName string, known map[string]bool) (string, error) {
	name, ok := strings.CutPrefix(modelName, label+".")
	if !ok || name == "" {
		return "", fmt.Errorf("record model %q does not belong to collection %s", modelName, label)
	}
	table := label + "_" + name
	if !known[table] {
		return "", fmt.Errorf("record model %q has no table in collection %s", modelName, label)
	}
	return table, nil
}

// Decode parses a dump in the given format.
func Decode(format string, r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading dump: %v", model.ErrIO, err)
	}

	var records []Record
	switch format {
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode json dump: %w", err)
		}
		for i := range records {
			records[i].PK = fromNumber(records[i].PK)
			for k, v := range records[i].Fields {
				records[i].Fields[k] = fromNumber(v)
			}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode yaml dump: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dump format %q (must be json or yaml)", format)
	}

	for i := range records {
		for k, v := range records[i].Fields {
			b, err := fromBinary(v)
			if err != nil {
				return nil, fmt.Errorf("record %d field %s: %w", i, k, err)
			}
			records[i].Fields[k] = b
		}
	}
	return records, nil
}

// fromBinary decodes a value tagged with binaryKey back into bytes.
func fromBinary(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v, nil
	}
	encoded, ok := m[binaryKey].(string)
	if !ok {
		return v, nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid binary value: %w", err)
	}
	return b, nil
}

func fromNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
