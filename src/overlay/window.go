package overlay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
)

// Hooks receive the outcome of a selection. OnSelect is expected to pass the
// region on to Orchestrator.CaptureRegion. OnCancel gets a nil error when the
// user dismissed the overlay.
type Hooks struct {
	OnSelect func(screenshot.Region)
	OnCancel func(err error)
}

// Factory opens selector-backed overlays for the orchestrator.
type Factory struct {
	selector Selector
	hooks    Hooks
}

func NewFactory(selector Selector, hooks Hooks) *Factory {
	return &Factory{selector: selector, hooks: hooks}
}

func (f *Factory) OpenOverlay(onClosed func()) (session.Window, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, f.selector, f.hooks, onClosed)
	return w, nil
}

// Window is one running selection. The selector's surface is gone once
// Select returns, which is what WaitHidden waits for.
type Window struct {
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

func (w *Window) run(ctx context.Context, sel Selector, hooks Hooks, onClosed func()) {
	region, cancelled, err := sel.Select(ctx)
	close(w.done)

	if w.closed.Load() {
		return
	}
	switch {
	case err != nil:
		slog.Warn("region selection failed", "err", err)
	case cancelled:
		slog.Info("region selection cancelled")
	default:
		slog.Debug("region selected", "region", region)
		if hooks.OnSelect != nil {
			hooks.OnSelect(region)
		}
		return
	}
	onClosed()
	if hooks.OnCancel != nil {
		hooks.OnCancel(err)
	}
}

// Focus is a no-op: selectors take focus when they start.
func (w *Window) Focus() {}

// Hide is a no-op: the surface disappears when the selection completes.
func (w *Window) Hide() {}

func (w *Window) WaitHidden(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Window) Close() {
	w.closed.Store(true)
	w.cancel()
}
