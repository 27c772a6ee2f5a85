package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorage_CreateExclusive(t *testing.T) {
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "nested", "backups"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	w, err := s.Create("polls_2024001-1.json")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := io.WriteString(w, "[]"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Create("polls_2024001-1.json"); !errors.Is(err, os.ErrExist) {
		t.Errorf("second Create() error = %v, want os.ErrExist", err)
	}

	info, err := s.Stat("polls_2024001-1.json")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != 2 {
		t.Errorf("Stat().Size = %d, want 2", info.Size)
	}

	if got := s.Path("polls_2024001-1.json"); got != filepath.Join(s.Root(), "polls_2024001-1.json") {
		t.Errorf("Path() = %s", got)
	}
}

func TestLocalStorage_RemoveAndList(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"polls_1.json", "polls_2.json", "blog_1.json"} {
		w, err := s.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_ = w.Close()
	}

	objects, err := s.List("polls_")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "polls_1.json" {
		t.Errorf("List() = %+v", objects)
	}

	if err := s.Remove("polls_1.json"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove("polls_1.json"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second Remove() error = %v, want os.ErrNotExist", err)
	}
}

func TestLocalStorage_RejectsPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"", "..", "../escape.json", "sub/dir.json"} {
		if _, err := s.Create(name); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}

	if err := s.Writable(); err != nil {
		t.Errorf("Writable() error = %v", err)
	}
}
