// Package artifact persists the cropped capture for the duration of one OCR
// call.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxNameAttempts = 5

// Store writes screenshot_<unix-millis>.png files into Dir.
type Store struct {
	Dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Store{Dir: dir, now: time.Now}
}

// Save writes data to a new file and returns its path. Files are created
// exclusively; a name collision within the same millisecond gets a numeric
// suffix.
func (s *Store) Save(data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}

	stamp := s.now().UnixMilli()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := fmt.Sprintf("screenshot_%d.png", stamp)
		if attempt > 0 {
			name = fmt.Sprintf("screenshot_%d_%d.png", stamp, attempt)
		}
		path := filepath.Join(s.Dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("closing %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free screenshot name for timestamp %d", stamp)
}

// Remove deletes a saved artifact.
func (s *Store) Remove(path string) error {
	return os.Remove(path)
}
