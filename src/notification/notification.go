package notification

import (
	"log/slog"
)

const maxPopupText = 200

// ShowResult displays a temporary popup with a capture result. It returns
// immediately; the popup manages its own lifetime.
func ShowResult(title, text string) {
	displayText := truncate(text, maxPopupText)
	go func() {
		if err := showPopup(title, displayText); err != nil {
			slog.Warn("failed to show notification", "err", err)
		}
	}()
}

func truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
