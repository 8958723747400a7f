// Package session runs one screen capture at a time: region -> crop ->
// temporary PNG -> OCR -> LLM, delivering results to the result window.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/logutil"
	"screen-ocr-ai/src/ocr"
	"screen-ocr-ai/src/screenshot"
)

const (
	OCRErrorPrefix        = "OCR Error: "
	AIErrorPrefix         = "AI Error: "
	NoResponsePlaceholder = "(AI did not provide a response)"

	// MinCaptureSize is the smallest accepted width/height in bitmap pixels.
	MinCaptureSize = 10
)

var (
	ErrNoCaptureSource = screenshot.ErrNoCaptureSource
	ErrBusy            = errors.New("a capture session is already running")
)

// ArtifactStore persists the encoded capture for the OCR call.
type ArtifactStore interface {
	Save(data []byte) (string, error)
	Remove(path string) error
}

// Completer is the chat-completion side of the LLM client.
type Completer interface {
	Complete(ctx context.Context, model string, messages []llm.Message) (string, error)
}

type Options struct {
	Windows      Windows
	Screens      screenshot.Provider
	Artifacts    ArtifactStore
	OCR          ocr.Recognizer
	OCROptions   ocr.Options
	LLM          Completer
	Model        string
	SystemPrompt string
	SettleDelay  time.Duration
}

// Report summarizes a finished session.
type Report struct {
	ID        string `json:"id"`
	State     State  `json:"state"`
	OCRText   string `json:"ocrText,omitempty"`
	AIText    string `json:"aiText,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	AIRan     bool   `json:"aiRan"`
}

// Orchestrator owns the overlay and result window references and the state
// of the single active session. Follow-up chats may run concurrently with it.
type Orchestrator struct {
	opts Options

	mu           sync.Mutex
	state        State
	overlay      Window
	result       ResultWindow
	model        string
	systemPrompt string
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Screens == nil:
		return nil, errors.New("Screens is required")
	case opts.Artifacts == nil:
		return nil, errors.New("Artifacts is required")
	case opts.OCR == nil:
		return nil, errors.New("OCR is required")
	case opts.LLM == nil:
		return nil, errors.New("LLM is required")
	case opts.Model == "":
		return nil, errors.New("Model is required")
	}
	return &Orchestrator{
		opts:         opts,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
	}, nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) HasActiveOverlay() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overlay != nil
}

func (o *Orchestrator) HasActiveResult() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result != nil
}

// SetModel swaps the model and system prompt used by later LLM calls.
func (o *Orchestrator) SetModel(model, systemPrompt string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if model != "" {
		o.model = model
	}
	if systemPrompt != "" {
		o.systemPrompt = systemPrompt
	}
}

// StartCapture shows the overlay. If one is already open it is focused and no
// new session starts.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	if o.opts.Windows == nil {
		return errors.New("no window factory configured")
	}

	o.mu.Lock()
	if o.state != Idle && o.state != AwaitingSelection {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.overlay != nil {
		w := o.overlay
		o.mu.Unlock()
		slog.Debug("overlay already open, focusing")
		w.Focus()
		return nil
	}
	defer o.mu.Unlock()

	// The handle is read under o.mu inside onClosed, which this call holds
	// until w is stored.
	var w Window
	w, err := o.opts.Windows.OpenOverlay(func() { o.overlayClosed(&w) })
	if err != nil {
		return fmt.Errorf("opening overlay: %w", err)
	}
	o.overlay = w
	o.state = AwaitingSelection
	return nil
}

// CaptureRegion runs the pipeline for a selected region. It may be called
// without StartCapture when the region comes from elsewhere. A region smaller
// than MinCaptureSize pixels is a cancellation: windows are closed and a
// Report with Cancelled set is returned without error. Provider failures are
// reported in the Report text, not as errors.
func (o *Orchestrator) CaptureRegion(ctx context.Context, region screenshot.Region) (Report, error) {
	rep := Report{ID: uuid.NewString()}

	o.mu.Lock()
	if o.state != Idle && o.state != AwaitingSelection {
		o.mu.Unlock()
		return rep, ErrBusy
	}
	o.state = Capturing
	overlay := o.overlay
	model, systemPrompt := o.model, o.systemPrompt
	o.mu.Unlock()
	defer o.setState(Idle)

	log := slog.With("session", rep.ID)
	log.Info("capture started", "x", region.X, "y", region.Y, "width", region.Width, "height", region.Height)

	if overlay != nil {
		overlay.Hide()
		if err := o.waitHidden(ctx, overlay); err != nil {
			o.closeWindows()
			rep.State = Capturing
			return rep, err
		}
	}

	png, cancelled, err := o.grab(region)
	if err != nil {
		log.Error("capture failed", "err", err)
		o.closeWindows()
		rep.State = Capturing
		return rep, err
	}
	if cancelled {
		log.Info("selection too small, cancelled")
		o.closeWindows()
		rep.State = Cleanup
		rep.Cancelled = true
		return rep, nil
	}

	o.setState(CroppingAndEncoding)
	var path string
	if png.err == nil {
		path, png.err = o.opts.Artifacts.Save(png.data)
	}
	o.openResult()

	if png.err != nil {
		rep.OCRText = OCRErrorPrefix + png.err.Error()
	} else {
		o.setState(OcrPending)
		rep.OCRText = o.recognizeArtifact(ctx, log, path)
	}
	o.setState(OcrDone)
	log.Info("OCR finished", "text", logutil.SanitizeForLog(rep.OCRText))
	o.deliver(func(w ResultWindow) { w.OCRReady(rep.OCRText) })

	if !strings.HasPrefix(rep.OCRText, OCRErrorPrefix) {
		o.setState(AiPending)
		rep.AIRan = true
		rep.AIText = o.ask(ctx, model, systemPrompt, rep.OCRText)
		o.setState(AiDone)
		log.Info("AI finished", "text", logutil.SanitizeForLog(rep.AIText))
		o.deliver(func(w ResultWindow) { w.AIReady(rep.AIText, rep.OCRText) })
	}

	o.setState(Cleanup)
	o.closeOverlay()
	rep.State = Cleanup
	return rep, nil
}

// Chat runs one follow-up turn over a conversation the caller keeps. Failures
// come back as "(LLM Error: ...)" text.
func (o *Orchestrator) Chat(ctx context.Context, conversation []llm.Message) string {
	o.mu.Lock()
	model := o.model
	o.mu.Unlock()
	return Chat(ctx, o.opts.LLM, model, conversation)
}

// Chat is the stateless follow-up turn for callers without an Orchestrator.
func Chat(ctx context.Context, c Completer, model string, conversation []llm.Message) string {
	return complete(ctx, c, model, conversation, "(LLM Error: %s)")
}

// RecognizeImage runs the OCR stage on an encoded image that did not come
// from a screen capture. The result follows the same sentinel rules as a
// session's OCR text.
func (o *Orchestrator) RecognizeImage(ctx context.Context, data []byte) string {
	path, err := o.opts.Artifacts.Save(data)
	if err != nil {
		return OCRErrorPrefix + err.Error()
	}
	return o.recognizeArtifact(ctx, slog.Default(), path)
}

// Ask runs the AI stage over recognized text with the current model and
// system prompt.
func (o *Orchestrator) Ask(ctx context.Context, ocrText string) string {
	o.mu.Lock()
	model, systemPrompt := o.model, o.systemPrompt
	o.mu.Unlock()
	return o.ask(ctx, model, systemPrompt, ocrText)
}

func (o *Orchestrator) ask(ctx context.Context, model, systemPrompt, ocrText string) string {
	conversation := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: ocrText},
	}
	return complete(ctx, o.opts.LLM, model, conversation, AIErrorPrefix+"%s")
}

type encoded struct {
	data []byte
	err  error
}

// grab reads the primary display and crops region out of it. Crop and encode
// failures are returned inside encoded so the session can report them as OCR
// failures; only a missing capture source is fatal.
func (o *Orchestrator) grab(region screenshot.Region) (encoded, bool, error) {
	display, err := o.opts.Screens.PrimaryDisplay()
	if err != nil {
		return encoded{}, false, fmt.Errorf("%w: %v", ErrNoCaptureSource, err)
	}
	sources, err := o.opts.Screens.Sources()
	if err != nil {
		return encoded{}, false, fmt.Errorf("%w: %v", ErrNoCaptureSource, err)
	}
	source, err := screenshot.PickSource(sources, display.ID)
	if err != nil {
		return encoded{}, false, err
	}
	img, err := source.Image()
	if err != nil {
		return encoded{}, false, fmt.Errorf("%w: %v", ErrNoCaptureSource, err)
	}

	rect := screenshot.Clip(img.Bounds(), region.Pixels(display, screenshot.ScaleFor(img.Bounds(), display)))
	if rect.Dx() < MinCaptureSize || rect.Dy() < MinCaptureSize {
		return encoded{}, true, nil
	}

	cropped, err := screenshot.Crop(img, rect)
	if err != nil {
		return encoded{err: err}, false, nil
	}
	data, err := screenshot.EncodePNG(cropped)
	return encoded{data: data, err: err}, false, nil
}

// recognizeArtifact OCRs the file at path and removes it exactly once,
// whatever the outcome.
func (o *Orchestrator) recognizeArtifact(ctx context.Context, log *slog.Logger, path string) string {
	var text string
	res, err := o.opts.OCR.Recognize(ctx, path, o.opts.OCROptions)
	if err != nil {
		text = OCRErrorPrefix + err.Error()
	} else {
		text = ocr.Text(res)
	}
	if err := o.opts.Artifacts.Remove(path); err != nil {
		log.Warn("failed to remove temporary screenshot", "path", path, "err", err)
	}
	return text
}

func complete(ctx context.Context, c Completer, model string, conversation []llm.Message, errFormat string) string {
	text, err := c.Complete(ctx, model, conversation)
	if err != nil {
		slog.Warn("LLM request failed", "model", model, "err", err)
		return fmt.Sprintf(errFormat, err.Error())
	}
	if text == "" {
		return NoResponsePlaceholder
	}
	return text
}

func (o *Orchestrator) waitHidden(ctx context.Context, overlay Window) error {
	if hw, ok := overlay.(HiddenWaiter); ok {
		return hw.WaitHidden(ctx)
	}
	if o.opts.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(o.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) openResult() {
	o.mu.Lock()
	if w := o.result; w != nil {
		o.mu.Unlock()
		w.Focus()
		return
	}
	defer o.mu.Unlock()

	if o.opts.Windows == nil {
		return
	}
	var w ResultWindow
	w, err := o.opts.Windows.OpenResult(func() { o.resultClosed(&w) })
	if err != nil {
		slog.Warn("failed to open result window", "err", err)
		return
	}
	o.result = w
}

// deliver calls fn with the result window if one is still open.
func (o *Orchestrator) deliver(fn func(ResultWindow)) {
	o.mu.Lock()
	w := o.result
	o.mu.Unlock()
	if w == nil {
		slog.Debug("result window closed, dropping update")
		return
	}
	fn(w)
}

func (o *Orchestrator) overlayClosed(handle *Window) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := *handle
	if w != nil && o.overlay == w {
		o.overlay = nil
		if o.state == AwaitingSelection {
			o.state = Idle
		}
	}
}

func (o *Orchestrator) resultClosed(handle *ResultWindow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := *handle
	if w != nil && o.result == w {
		o.result = nil
	}
}

func (o *Orchestrator) closeOverlay() {
	o.mu.Lock()
	w := o.overlay
	o.overlay = nil
	o.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

func (o *Orchestrator) closeWindows() {
	o.mu.Lock()
	overlay, result := o.overlay, o.result
	o.overlay, o.result = nil, nil
	o.mu.Unlock()
	if overlay != nil {
		overlay.Close()
	}
	if result != nil {
		result.Close()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
