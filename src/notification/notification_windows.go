//go:build windows

package notification

import (
	"golang.org/x/sys/windows"
)

// ShowBlockingError shows a modal error dialog and returns when it is dismissed.
func ShowBlockingError(title, message string) {
	_, _ = messageBox(title, message, windows.MB_OK|windows.MB_ICONERROR|windows.MB_TOPMOST)
}

func showPopup(title, text string) error {
	_, err := messageBox(title, text, windows.MB_OK|windows.MB_ICONINFORMATION|windows.MB_TOPMOST|windows.MB_SETFOREGROUND)
	return err
}

func messageBox(title, text string, flags uint32) (int32, error) {
	t, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return 0, err
	}
	m, err := windows.UTF16PtrFromString(text)
	if err != nil {
		return 0, err
	}
	return windows.MessageBox(0, m, t, flags)
}
