package tray

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/getlantern/systray"
)

type Config struct {
	Title     string
	Tooltip   string
	OnCapture func()
	OnExit    func()
}

var (
	ready atomic.Bool

	mu    sync.Mutex
	about *systray.MenuItem
	extra string
)

// Run shows the tray icon with "Take Screenshot" and "Quit" entries. It
// blocks until Quit is called or the menu's Quit entry is clicked.
func Run(cfg Config) {
	systray.Run(func() { onReady(cfg) }, func() {
		ready.Store(false)
		if cfg.OnExit != nil {
			cfg.OnExit()
		}
	})
}

func onReady(cfg Config) {
	icon, err := Icon()
	if err != nil {
		slog.Warn("tray icon unavailable", "err", err)
	} else {
		systray.SetIcon(icon)
	}
	systray.SetTitle(cfg.Title)
	systray.SetTooltip(cfg.Tooltip)

	mCapture := systray.AddMenuItem("Take Screenshot", "Select a region to recognize")
	systray.AddSeparator()
	mAbout := systray.AddMenuItem(cfg.Title, "")
	mAbout.Disable()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	mu.Lock()
	about = mAbout
	if extra != "" {
		about.SetTitle(extra)
	}
	mu.Unlock()
	ready.Store(true)

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				if cfg.OnCapture != nil {
					cfg.OnCapture()
				}
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

// Quit removes the tray icon and makes Run return.
func Quit() {
	if ready.Load() {
		systray.Quit()
	}
}

// UpdateTooltip is a no-op until the tray is running.
func UpdateTooltip(text string) {
	if ready.Load() {
		systray.SetTooltip(text)
	}
}

// SetAboutExtra sets the disabled informational menu entry.
func SetAboutExtra(text string) {
	mu.Lock()
	defer mu.Unlock()
	extra = text
	if about != nil {
		about.SetTitle(text)
	}
}
