package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gohook "github.com/robotn/gohook"
)

// Listen registers combo (e.g. "Ctrl+Shift+S") as a global shortcut and
// calls callback on every press. It blocks until ctx is cancelled.
func Listen(ctx context.Context, combo string, callback func()) error {
	keys, err := Parse(combo)
	if err != nil {
		return err
	}
	slog.Info("hotkey registered", "hotkey", combo, "keys", keys)

	gohook.Register(gohook.KeyDown, keys, func(e gohook.Event) {
		slog.Debug("hotkey pressed", "hotkey", combo)
		callback()
	})

	evChan := gohook.Start()
	if evChan == nil {
		return fmt.Errorf("global keyboard hook unavailable")
	}

	stop := context.AfterFunc(ctx, gohook.End)
	defer stop()

	<-gohook.Process(evChan)
	return nil
}

// Parse converts a hotkey string like "Ctrl+Alt+q" to the key names the
// hook understands, rejecting names it has no keycode for.
func Parse(combo string) ([]string, error) {
	parts := strings.Split(strings.ToLower(combo), "+")
	keys := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			part = "ctrl"
		case "option":
			part = "alt"
		case "win", "super", "meta", "command":
			part = "cmd"
		case "escape":
			part = "esc"
		case "return":
			part = "enter"
		}
		if _, ok := gohook.Keycode[part]; !ok {
			return nil, fmt.Errorf("unknown key %q in hotkey %q", part, combo)
		}
		keys = append(keys, part)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("empty hotkey")
	}
	return keys, nil
}
