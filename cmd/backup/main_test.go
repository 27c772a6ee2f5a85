package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/model"
)

// setup writes a config file pointing at a fresh source database and
// metadata repository and returns its path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	srcDSN := "file:" + filepath.Join(dir, "source.db")
	src, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: srcDSN})
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE polls_question (id INTEGER PRIMARY KEY, text TEXT NOT NULL)`,
		`CREATE TABLE blog_post (id INTEGER PRIMARY KEY, title TEXT)`,
		`INSERT INTO polls_question (id, text) VALUES (1, 'Coffee?')`,
		`INSERT INTO blog_post (id, title) VALUES (1, 'hello')`,
	} {
		_, err := src.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, src.Close())

	cfg := fmt.Sprintf(`backup_dir: %s
repository:
  driver: sqlite
  dsn: file:%s
source:
  driver: sqlite
  dsn: %s
logging:
  level: error
  format: json
`, filepath.Join(dir, "backups"), filepath.Join(dir, "meta.db"), srcDSN)

	path := filepath.Join(dir, "backup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_AddRunList(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, cfg, "add", "polls", "--prune-by", "count", "--prune-value", "2", "--compression", "gzip")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded")
	assert.Contains(t, out, ".json.gz")

	out, err = execute(t, cfg, "run", "polls")
	require.NoError(t, err)
	assert.Contains(t, out, "deduped")

	out, err = execute(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "polls")
	assert.Contains(t, out, "count=2")
	assert.Contains(t, out, "gzip")

	out, err = execute(t, cfg, "archives", "polls")
	require.NoError(t, err)
	assert.Contains(t, out, "1 archives, 0 kept")

	out, err = execute(t, cfg, "keep", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "keep=true")

	out, err = execute(t, cfg, "verify", "1")
	require.NoError(t, err)
	assert.Contains(t, out, " ok ")

	out, err = execute(t, cfg, "check", "polls")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestCLI_Download(t *testing.T) {
	cfg := setup(t)

	_, err := execute(t, cfg, "add", "polls", "--compression", "bzip2")
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = execute(t, cfg, "download", "1", "-o", dir)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "polls_*.json.bz2"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	downloaded, err := os.ReadFile(files[0])
	require.NoError(t, err)

	stored, err := filepath.Glob(filepath.Join(filepath.Dir(cfg), "backups", "polls_*.json.bz2"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	want, err := os.ReadFile(stored[0])
	require.NoError(t, err)
	assert.Equal(t, want, downloaded)

	out, err := execute(t, cfg, "download", "1", "-o", "-")
	require.NoError(t, err)
	assert.Equal(t, string(want), out)

	_, err = execute(t, cfg, "download", "1", "-o", files[0])
	assert.ErrorIs(t, err, model.ErrIO, "existing file is not overwritten")

	_, err = execute(t, cfg, "download", "42", "-o", dir)
	assert.ErrorIs(t, err, model.ErrArchiveNotFound)
}

func TestCLI_SyncAndRunAll(t *testing.T) {
	cfg := setup(t)

	out, err := execute(t, cfg, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "blog")
	assert.Contains(t, out, "polls")

	out, err = execute(t, cfg, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "All collections already registered")

	out, err = execute(t, cfg, "set", "blog", "--include=false")
	require.NoError(t, err)
	assert.Contains(t, out, "false")

	out, err = execute(t, cfg, "run", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "polls")
	assert.NotContains(t, out, "blog")

	out, err = execute(t, cfg, "preview", "polls")
	require.NoError(t, err)
	assert.Contains(t, out, "policy none")
}

func TestCLI_Errors(t *testing.T) {
	cfg := setup(t)

	tests := []struct {
		name string
		args []string
	}{
		{"run without labels", []string{"run"}},
		{"run labels and all", []string{"run", "polls", "--all"}},
		{"unknown collection", []string{"add", "nosuch"}},
		{"invalid prune value", []string{"add", "polls", "--prune-by", "count", "--prune-value", "1.5"}},
		{"bad archive id", []string{"delete", "abc"}},
		{"missing archive", []string{"restore", "42"}},
		{"bad recipient", []string{"add", "blog", "--mail", "not an address"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, cfg, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCLI_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "backup dev\n", out.String())
}

func TestParseRecipients(t *testing.T) {
	got, err := parseRecipients([]string{"Ops <ops@example.com>", " ", "dba@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com", "dba@example.com"}, got)
}
