package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// Reloadable holds the settings that may change while the resident is running.
type Reloadable struct {
	Model        string
	SystemPrompt string
}

// Watch re-reads the .env file at path whenever it is written and passes the
// reloadable settings to onChange. Only keys present in the file override the
// current values. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, current Reloadable, onChange func(Reloadable)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files on save, so watch the directory and filter by name.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	target := filepath.Clean(path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "err", err)
		case <-debounce:
			debounce = nil
			next, err := reloadFrom(path, current)
			if err != nil {
				slog.Warn("config reload failed", "path", path, "err", err)
				continue
			}
			if next != current {
				slog.Info("config reloaded", "path", path, "model", next.Model)
				current = next
				onChange(next)
			}
		}
	}
}

func reloadFrom(path string, current Reloadable) (Reloadable, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return current, err
	}
	next := current
	if v := values["MODEL"]; v != "" {
		next.Model = v
	}
	if v := values["SYSTEM_PROMPT"]; v != "" {
		next.SystemPrompt = v
	}
	return next, nil
}
