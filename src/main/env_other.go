//go:build !windows

package main

import (
	"log/slog"

	"screen-ocr-ai/src/screenshot"
)

func enableDPIAwareness() {}

func logMonitorConfiguration() {
	d, err := screenshot.NewScreen().PrimaryDisplay()
	if err != nil {
		slog.Warn("no primary display", "err", err)
		return
	}
	w, h := d.Size()
	slog.Info("monitor configuration", "primary", d.ID, "width", w, "height", h)
}
