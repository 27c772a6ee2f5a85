//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/model"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "backup",
				"POSTGRES_PASSWORD": "backup",
				"POSTGRES_DB":       "backup",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping postgres integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://backup:backup@%s:%s/backup?sslmode=disable", host, port.Port())
}

func TestPostgresRepository(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	repo, err := New(ctx, database.Config{Driver: database.DriverPostgres, DSN: dsn}, clk)
	require.NoError(t, err)
	defer repo.Close()

	obj := model.NewBackupObject("polls")
	require.NoError(t, repo.CreateObject(ctx, obj))
	assert.ErrorIs(t, repo.CreateObject(ctx, model.NewBackupObject("polls")), model.ErrObjectExists)

	first, created, err := repo.CreateArchiveIfAbsent(ctx, &model.Archive{
		ObjectID: obj.ID, Name: "a.json", Path: "/b/a.json", Size: 10, Fingerprint: "fp",
	})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateArchiveIfAbsent(ctx, &model.Archive{
		ObjectID: obj.ID, Name: "b.json", Path: "/b/b.json", Size: 10, Fingerprint: "fp",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	total, err := repo.SumSizeNotKept(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	require.NoError(t, repo.DeleteObject(ctx, obj.ID))
	_, err = repo.GetArchive(ctx, first.ID)
	assert.ErrorIs(t, err, model.ErrArchiveNotFound)
}
