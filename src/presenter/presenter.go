// Package presenter renders capture results. A result "window" is a fan-out
// over sinks: the console, the clipboard, desktop popups and IPC subscribers.
package presenter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"screen-ocr-ai/src/clipboard"
	"screen-ocr-ai/src/notification"
	"screen-ocr-ai/src/session"
)

// Sink receives the two notifications of a capture session.
type Sink interface {
	OCRReady(ocrText string)
	AIReady(aiText, ocrText string)
}

// Factory opens result windows over a fixed set of sinks.
type Factory struct {
	Sinks []Sink
}

func NewFactory(sinks ...Sink) *Factory {
	return &Factory{Sinks: sinks}
}

func (f *Factory) OpenResult(onClosed func()) (session.ResultWindow, error) {
	return &Window{sinks: f.Sinks}, nil
}

// Window is an open result presentation. After Close, notifications are
// dropped.
type Window struct {
	sinks  []Sink
	closed atomic.Bool
}

func (w *Window) Focus() {}
func (w *Window) Hide()  {}

func (w *Window) Close() { w.closed.Store(true) }

func (w *Window) OCRReady(ocrText string) {
	if w.closed.Load() {
		return
	}
	for _, s := range w.sinks {
		s.OCRReady(ocrText)
	}
}

func (w *Window) AIReady(aiText, ocrText string) {
	if w.closed.Load() {
		return
	}
	for _, s := range w.sinks {
		s.AIReady(aiText, ocrText)
	}
}

// Console prints results to a writer, stdout by default.
type Console struct {
	mu sync.Mutex
	W  io.Writer
}

func (c *Console) writer() io.Writer {
	if c.W == nil {
		return os.Stdout
	}
	return c.W
}

func (c *Console) OCRReady(ocrText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer(), "--- OCR ---\n%s\n", ocrText)
}

func (c *Console) AIReady(aiText, ocrText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer(), "--- AI ---\n%s\n", aiText)
}

// Clipboard copies recognized text to the clipboard, or the AI answer when
// AIAnswer is set. Error results are never copied.
type Clipboard struct {
	AIAnswer bool
	// Write defaults to the system clipboard.
	Write func(text string) error
}

func (c Clipboard) write(text string) {
	if isError(text) {
		return
	}
	write := c.Write
	if write == nil {
		write = clipboard.Write
	}
	if err := write(text); err != nil {
		slog.Warn("clipboard write failed", "err", err)
	}
}

func (c Clipboard) OCRReady(ocrText string) {
	if !c.AIAnswer {
		c.write(ocrText)
	}
}

func (c Clipboard) AIReady(aiText, ocrText string) {
	if c.AIAnswer {
		c.write(aiText)
	}
}

// Popup shows a desktop notification for each stage.
type Popup struct {
	// Show defaults to notification.ShowResult.
	Show func(title, text string)
}

func (p Popup) show(title, text string) {
	if p.Show == nil {
		notification.ShowResult(title, text)
		return
	}
	p.Show(title, text)
}

func (p Popup) OCRReady(ocrText string)        { p.show("Screen OCR", ocrText) }
func (p Popup) AIReady(aiText, ocrText string) { p.show("AI answer", aiText) }

func isError(text string) bool {
	return strings.HasPrefix(text, session.OCRErrorPrefix) ||
		strings.HasPrefix(text, session.AIErrorPrefix) ||
		text == session.NoResponsePlaceholder
}
