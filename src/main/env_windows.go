//go:build windows

package main

import (
	"log/slog"

	"golang.org/x/sys/windows"
)

const (
	processPerMonitorDPIAware = 2

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCXVirtualScreen = 78
	smCYVirtualScreen = 79
	smCMonitors       = 80
)

var (
	shcore = windows.NewLazySystemDLL("Shcore.dll")
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetProcessDpiAwareness = shcore.NewProc("SetProcessDpiAwareness")
	procSetProcessDPIAware     = user32.NewProc("SetProcessDPIAware")
	procGetSystemMetrics       = user32.NewProc("GetSystemMetrics")
)

// enableDPIAwareness makes region coordinates and capture bitmaps agree on
// scaled monitors.
func enableDPIAwareness() {
	if err := procSetProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := procSetProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret != 0 {
			slog.Warn("DPI: failed to set per-monitor awareness", "code", ret)
		}
		return
	}

	slog.Debug("DPI: SetProcessDpiAwareness not available, trying fallback")
	if err := procSetProcessDPIAware.Find(); err != nil {
		slog.Warn("DPI: no DPI awareness API available")
		return
	}
	if ret, _, _ := procSetProcessDPIAware.Call(); ret == 0 {
		slog.Warn("DPI: failed to set system awareness")
	}
}

func systemMetric(index int) int32 {
	ret, _, _ := procGetSystemMetrics.Call(uintptr(index))
	return int32(ret)
}

func logMonitorConfiguration() {
	if procGetSystemMetrics.Find() != nil {
		return
	}
	slog.Info("monitor configuration",
		"monitors", systemMetric(smCMonitors),
		"virtualX", systemMetric(smXVirtualScreen),
		"virtualY", systemMetric(smYVirtualScreen),
		"virtualWidth", systemMetric(smCXVirtualScreen),
		"virtualHeight", systemMetric(smCYVirtualScreen))
}
