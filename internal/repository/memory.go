package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/model"
)

// Memory is an in-process Repository, used for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	objects  map[int64]*model.BackupObject
	archives map[int64]*model.Archive
	nextID   int64
}

// NewMemory returns an empty in-memory repository.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Memory{
		clock:    clk,
		objects:  make(map[int64]*model.BackupObject),
		archives: make(map[int64]*model.Archive),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateObject implements Repository.
func (m *Memory) CreateObject(ctx context.Context, obj *model.BackupObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.objects {
		if o.Label == obj.Label {
			return fmt.Errorf("%w: %s", model.ErrObjectExists, obj.Label)
		}
	}

	now := m.clock.Now()
	obj.ID = m.id()
	obj.CreatedAt = now
	obj.ModifiedAt = now
	m.objects[obj.ID] = copyObject(obj)
	return nil
}

// GetObject implements Repository.
func (m *Memory) GetObject(ctx context.Context, label string) (*model.BackupObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.objects {
		if o.Label == label {
			return copyObject(o), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", model.ErrObjectNotFound, label)
}

// GetObjectByID implements Repository.
func (m *Memory) GetObjectByID(ctx context.Context, id int64) (*model.BackupObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", model.ErrObjectNotFound, id)
	}
	return copyObject(o), nil
}

// UpdateObject implements Repository.
func (m *Memory) UpdateObject(ctx context.Context, obj *model.BackupObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.objects[obj.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", model.ErrObjectNotFound, obj.ID)
	}
	updated := copyObject(obj)
	updated.CreatedAt = current.CreatedAt
	updated.ModifiedAt = m.clock.Now()
	m.objects[obj.ID] = updated
	obj.ModifiedAt = updated.ModifiedAt
	return nil
}

// DeleteObject implements Repository.
func (m *Memory) DeleteObject(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[id]; !ok {
		return fmt.Errorf("%w: id %d", model.ErrObjectNotFound, id)
	}
	delete(m.objects, id)
	for aid, a := range m.archives {
		if a.ObjectID == id {
			delete(m.archives, aid)
		}
	}
	return nil
}

// ListObjects implements Repository.
func (m *Memory) ListObjects(ctx context.Context, includedOnly bool) ([]*model.BackupObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.BackupObject
	for _, o := range m.objects {
		if includedOnly && !o.Include {
			continue
		}
		out = append(out, copyObject(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// CreateArchiveIfAbsent implements Repository.
func (m *Memory) CreateArchiveIfAbsent(ctx context.Context, archive *model.Archive) (*model.Archive, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[archive.ObjectID]; !ok {
		return nil, false, fmt.Errorf("%w: id %d", model.ErrObjectNotFound, archive.ObjectID)
	}
	for _, a := range m.archives {
		if a.ObjectID == archive.ObjectID && a.Fingerprint == archive.Fingerprint {
			c := *a
			return &c, false, nil
		}
	}

	stored := *archive
	stored.ID = m.id()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.clock.Now()
	}
	stored.ModifiedAt = stored.CreatedAt
	m.archives[stored.ID] = &stored

	c := stored
	return &c, true, nil
}

// FindByFingerprint implements Repository.
func (m *Memory) FindByFingerprint(ctx context.Context, objectID int64, fingerprint string) (*model.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.archives {
		if a.ObjectID == objectID && a.Fingerprint == fingerprint {
			c := *a
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: fingerprint %s", model.ErrArchiveNotFound, fingerprint)
}

// GetArchive implements Repository.
func (m *Memory) GetArchive(ctx context.Context, id int64) (*model.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id)
	}
	c := *a
	return &c, nil
}

// ListArchives implements Repository.
func (m *Memory) ListArchives(ctx context.Context, objectID int64) ([]*model.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Archive
	for _, a := range m.archives {
		if a.ObjectID == objectID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out, nil
}

// SetKeep implements Repository.
func (m *Memory) SetKeep(ctx context.Context, id int64, keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[id]
	if !ok {
		return fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id)
	}
	a.Keep = keep
	a.ModifiedAt = m.clock.Now()
	return nil
}

// DeleteArchive implements Repository.
func (m *Memory) DeleteArchive(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.archives[id]; !ok {
		return fmt.Errorf("%w: id %d", model.ErrArchiveNotFound, id)
	}
	delete(m.archives, id)
	return nil
}

// CountNotKept implements Repository.
func (m *Memory) CountNotKept(ctx context.Context, objectID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.archives {
		if a.ObjectID == objectID && !a.Keep {
			n++
		}
	}
	return n, nil
}

// SumSizeNotKept implements Repository.
func (m *Memory) SumSizeNotKept(ctx context.Context, objectID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, a := range m.archives {
		if a.ObjectID == objectID && !a.Keep {
			total += a.Size
		}
	}
	return total, nil
}

// Ping implements Repository.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Repository.
func (m *Memory) Close() error {
	return nil
}

func copyObject(o *model.BackupObject) *model.BackupObject {
	c := *o
	c.Recipients = append([]string(nil), o.Recipients...)
	return &c
}

