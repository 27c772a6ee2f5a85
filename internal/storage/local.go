package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage keeps archive files in a single directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates the backup directory if needed and returns a
// storage rooted at its absolute path.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// Root returns the backup directory.
func (l *LocalStorage) Root() string {
	return l.root
}

// Create implements Storage.
func (l *LocalStorage) Create(name string) (io.WriteCloser, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
}

// Open implements Storage.
func (l *LocalStorage) Open(name string) (io.ReadCloser, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove implements Storage.
func (l *LocalStorage) Remove(name string) error {
	path, err := l.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Stat implements Storage.
func (l *LocalStorage) Stat(name string) (ObjectInfo, error) {
	path, err := l.resolve(name)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: name, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// List implements Storage.
func (l *LocalStorage) List(prefix string) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var objects []ObjectInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, ObjectInfo{Key: e.Name(), Size: fi.Size(), LastModified: fi.ModTime()})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Path implements Storage.
func (l *LocalStorage) Path(name string) string {
	return filepath.Join(l.root, name)
}

// Writable checks that new files can be created in the backup directory.
func (l *LocalStorage) Writable() error {
	f, err := os.CreateTemp(l.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("backup directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (l *LocalStorage) resolve(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return filepath.Join(l.root, name), nil
}
