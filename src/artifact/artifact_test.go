package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestSaveAndRemove(t *testing.T) {
	s := NewStore(t.TempDir())

	path, err := s.Save([]byte("png-bytes"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !regexp.MustCompile(`^screenshot_\d+\.png$`).MatchString(filepath.Base(path)) {
		t.Errorf("unexpected file name %q", filepath.Base(path))
	}
	if b, _ := os.ReadFile(path); string(b) != "png-bytes" {
		t.Errorf("unexpected file contents %q", b)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be gone, stat err=%v", err)
	}
	if err := s.Remove(path); err == nil {
		t.Error("expected error removing an already removed artifact")
	}
}

func TestSaveSameMillisecondDoesNotCollide(t *testing.T) {
	s := NewStore(t.TempDir())
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed }

	a, err := s.Save([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Save([]byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct paths, both %q", a)
	}
	if filepath.Base(a) != "screenshot_1700000000000.png" {
		t.Errorf("unexpected first name %q", filepath.Base(a))
	}
}

func TestSaveCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tmp")
	s := NewStore(dir)
	if _, err := s.Save([]byte("x")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}
