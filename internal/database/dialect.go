package database

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name       string
	DriverName string

	// IDColumn is the column definition of an auto-incrementing primary key.
	IDColumn string

	// ListTables returns table names matching a LIKE pattern with '\' escapes.
	ListTables string
}

var (
	// SQLite is the dialect of modernc.org/sqlite.
	SQLite = Dialect{
		Name:       DriverSQLite,
		DriverName: "sqlite",
		IDColumn:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		ListTables: `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
	}

	// Postgres is the dialect of github.com/lib/pq.
	Postgres = Dialect{
		Name:       DriverPostgres,
		DriverName: "postgres",
		IDColumn:   "BIGSERIAL PRIMARY KEY",
		ListTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' AND table_name LIKE ? ESCAPE '\'
			ORDER BY table_name`,
	}
)

// Rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d.Name != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QuoteIdent quotes a table or column name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeLike escapes LIKE wildcards so s matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
