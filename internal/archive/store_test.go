package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/collection-backup/internal/fingerprint"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/repository"
	"github.com/imedwei/collection-backup/internal/storage"
)

type testEnv struct {
	store   *Store
	repo    *repository.Memory
	storage *storage.LocalStorage
	clock   *testclock.Clock
	obj     *model.BackupObject
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := testclock.NewClock(time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC))
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewMemory(clk)

	obj := model.NewBackupObject("polls")
	require.NoError(t, repo.CreateObject(context.Background(), obj))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		store:   NewStore(st, repo, Config{Format: "json"}, clk, logger),
		repo:    repo,
		storage: st,
		clock:   clk,
		obj:     obj,
	}
}

func (e *testEnv) files(t *testing.T) []string {
	t.Helper()
	objects, err := e.storage.List("")
	require.NoError(t, err)
	var names []string
	for _, o := range objects {
		names = append(names, o.Key)
	}
	return names
}

func TestStore_Write(t *testing.T) {
	for _, c := range []model.Compression{model.CompressionNone, model.CompressionGzip, model.CompressionBzip2} {
		t.Run(string(c), func(t *testing.T) {
			env := newTestEnv(t)
			env.obj.Compression = c
			payload := `[{"model": "polls.question", "pk": 1, "fields": {"text": "What's new?"}}]`

			a, created, err := env.store.Write(context.Background(), env.obj, strings.NewReader(payload))
			require.NoError(t, err)
			assert.True(t, created)
			assert.True(t, strings.HasSuffix(a.Name, ".json"+c.Suffix()))
			assert.Equal(t, env.storage.Path(a.Name), a.Path)

			info, err := os.Stat(a.Path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), a.Size)

			fp, err := fingerprint.File(a.Path)
			require.NoError(t, err)
			assert.Equal(t, fp, a.Fingerprint)

			r, err := env.store.Open(a)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestStore_WriteDeduplicates(t *testing.T) {
	for _, c := range []model.Compression{model.CompressionNone, model.CompressionGzip, model.CompressionBzip2} {
		t.Run(string(c), func(t *testing.T) {
			env := newTestEnv(t)
			env.obj.Compression = c
			ctx := context.Background()

			first, created, err := env.store.Write(ctx, env.obj, strings.NewReader("same payload"))
			require.NoError(t, err)
			require.True(t, created)

			env.clock.Advance(time.Hour)
			second, created, err := env.store.Write(ctx, env.obj, strings.NewReader("same payload"))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)

			archives, err := env.repo.ListArchives(ctx, env.obj.ID)
			require.NoError(t, err)
			assert.Len(t, archives, 1)
			assert.Equal(t, []string{first.Name}, env.files(t))
		})
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("dump stream broke")
}

func TestStore_WriteFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.store.Write(ctx, env.obj, io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrArchiveCreationFailed)

	assert.Empty(t, env.files(t))
	archives, err := env.repo.ListArchives(ctx, env.obj.ID)
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestStore_WriteRecordFailureRemovesFile(t *testing.T) {
	env := newTestEnv(t)
	ghost := model.NewBackupObject("ghost")
	ghost.ID = 999

	_, _, err := env.store.Write(context.Background(), ghost, strings.NewReader("payload"))
	assert.ErrorIs(t, err, model.ErrArchiveCreationFailed)
	assert.ErrorIs(t, err, model.ErrObjectNotFound)
	assert.Empty(t, env.files(t))
}

// takenStorage reports the first n names as already existing.
type takenStorage struct {
	*storage.LocalStorage
	taken int
}

func (s *takenStorage) Create(name string) (io.WriteCloser, error) {
	if s.taken > 0 {
		s.taken--
		return nil, fmt.Errorf("create %s: %w", name, os.ErrExist)
	}
	return s.LocalStorage.Create(name)
}

func TestStore_WriteSkipsTakenNames(t *testing.T) {
	env := newTestEnv(t)
	st := &takenStorage{LocalStorage: env.storage, taken: 3}
	store := NewStore(st, env.repo, Config{Format: "json"}, env.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a, created, err := store.Write(context.Background(), env.obj, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{a.Name}, env.files(t))

	st.taken = maxNameAttempts
	_, _, err = store.Write(context.Background(), env.obj, strings.NewReader("other"))
	assert.ErrorIs(t, err, model.ErrArchiveCreationFailed)
}

func TestStore_ConcurrentWritesSameObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half of the writers share content
			payload := fmt.Sprintf("payload-%d", i%10)
			if _, _, err := env.store.Write(ctx, env.obj, strings.NewReader(payload)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Write() error = %v", err)
	}

	archives, err := env.repo.ListArchives(ctx, env.obj.ID)
	require.NoError(t, err)
	assert.Len(t, archives, 10)
	assert.Len(t, env.files(t), 10)
}

// stuckStorage cannot unlink files.
type stuckStorage struct {
	*storage.LocalStorage
}

func (s *stuckStorage) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
}

func TestStore_Delete(t *testing.T) {
	t.Run("removes file and record", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader("payload"))
		require.NoError(t, err)

		require.NoError(t, env.store.Delete(ctx, a))
		assert.Empty(t, env.files(t))
		_, err = env.repo.GetArchive(ctx, a.ID)
		assert.ErrorIs(t, err, model.ErrArchiveNotFound)
	})

	t.Run("file already missing", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader("payload"))
		require.NoError(t, err)
		require.NoError(t, os.Remove(a.Path))

		require.NoError(t, env.store.Delete(ctx, a))
		_, err = env.repo.GetArchive(ctx, a.ID)
		assert.ErrorIs(t, err, model.ErrArchiveNotFound)
	})

	t.Run("unlink failure still frees the record", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader("payload"))
		require.NoError(t, err)

		var logs bytes.Buffer
		store := NewStore(&stuckStorage{env.storage}, env.repo, Config{}, env.clock, slog.New(slog.NewTextHandler(&logs, nil)))
		require.NoError(t, store.Delete(ctx, a))

		_, err = env.repo.GetArchive(ctx, a.ID)
		assert.ErrorIs(t, err, model.ErrArchiveNotFound)
		assert.Contains(t, logs.String(), model.ErrUnableToDeleteArchive.Error())
	})

	t.Run("unknown record", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.store.Delete(context.Background(), &model.Archive{ID: 42, ObjectID: env.obj.ID, Name: "polls_2024001-1.json"})
		assert.ErrorIs(t, err, model.ErrArchiveNotFound)
	})
}

func TestStore_Verify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, _, err := env.store.Write(ctx, env.obj, strings.NewReader("payload"))
	require.NoError(t, err)

	require.NoError(t, env.store.Verify(ctx, a))

	tampered := *a
	tampered.Fingerprint = strings.Repeat("0", fingerprint.Size)
	assert.ErrorIs(t, env.store.Verify(ctx, &tampered), model.ErrHashMismatch)

	require.NoError(t, os.WriteFile(a.Path, []byte("rewritten"), 0o600))
	assert.ErrorIs(t, env.store.Verify(ctx, a), model.ErrHashMismatch)

	require.NoError(t, os.Remove(a.Path))
	assert.ErrorIs(t, env.store.Verify(ctx, a), model.ErrIO)
}

func TestStore_OpenVerified(t *testing.T) {
	ctx := context.Background()
	payload := `[{"model": "polls.question", "pk": 1, "fields": {"text": "Tea?"}}]`

	t.Run("returns the verified payload", func(t *testing.T) {
		env := newTestEnv(t)
		env.obj.Compression = model.CompressionGzip
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader(payload))
		require.NoError(t, err)

		r, err := env.store.OpenVerified(ctx, a)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, payload, string(got))
	})

	t.Run("delete after open keeps the verified bytes", func(t *testing.T) {
		env := newTestEnv(t)
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader(payload))
		require.NoError(t, err)

		r, err := env.store.OpenVerified(ctx, a)
		require.NoError(t, err)
		defer r.Close()

		require.NoError(t, env.store.Delete(ctx, a))
		require.NoError(t, os.WriteFile(a.Path, []byte("swapped"), 0o600))

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, string(got))
	})

	t.Run("mismatch returns no reader", func(t *testing.T) {
		env := newTestEnv(t)
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader(payload))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(a.Path, []byte("rewritten"), 0o600))

		r, err := env.store.OpenVerified(ctx, a)
		assert.ErrorIs(t, err, model.ErrHashMismatch)
		assert.Nil(t, r)
	})

	t.Run("missing file", func(t *testing.T) {
		env := newTestEnv(t)
		a, _, err := env.store.Write(ctx, env.obj, strings.NewReader(payload))
		require.NoError(t, err)
		require.NoError(t, os.Remove(a.Path))

		_, err = env.store.OpenVerified(ctx, a)
		assert.ErrorIs(t, err, model.ErrIO)
	})
}

func TestStore_Check(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	kept, _, err := env.store.Write(ctx, env.obj, strings.NewReader("one"))
	require.NoError(t, err)
	gone, _, err := env.store.Write(ctx, env.obj, strings.NewReader("two"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone.Path))

	orphan := "polls_2024001-5.json"
	require.NoError(t, os.WriteFile(env.storage.Path(orphan), []byte("stray"), 0o600))
	// Belongs to a different collection sharing the prefix
	require.NoError(t, os.WriteFile(env.storage.Path("polls_extra_2024001-5.json"), []byte("x"), 0o600))

	report, err := env.store.Check(ctx, env.obj)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.Orphans)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, gone.ID, report.Missing[0].ID)
	assert.NotEqual(t, kept.ID, report.Missing[0].ID)
}
