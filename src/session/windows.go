package session

import "context"

// Window is a handle on an open overlay or result window.
type Window interface {
	Focus()
	Hide()
	Close()
}

// ResultWindow receives the two pipeline notifications.
type ResultWindow interface {
	Window
	OCRReady(ocrText string)
	AIReady(aiText, ocrText string)
}

// HiddenWaiter is implemented by overlays that can confirm they are no longer
// on screen. When present it replaces the settle delay before capture.
type HiddenWaiter interface {
	WaitHidden(ctx context.Context) error
}

// Windows creates the overlay and result windows. onClosed must be called
// when the user closes the window, never from inside Open* itself.
type Windows interface {
	OpenOverlay(onClosed func()) (Window, error)
	OpenResult(onClosed func()) (ResultWindow, error)
}
