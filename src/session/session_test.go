package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/ocr"
	"screen-ocr-ai/src/screenshot"
)

type fakeWindow struct {
	mu       sync.Mutex
	focused  int
	hidden   int
	closed   int
	onClosed func()
}

func (w *fakeWindow) Focus() { w.mu.Lock(); w.focused++; w.mu.Unlock() }
func (w *fakeWindow) Hide()  { w.mu.Lock(); w.hidden++; w.mu.Unlock() }
func (w *fakeWindow) Close() { w.mu.Lock(); w.closed++; w.mu.Unlock() }

// userClose simulates the user dismissing the window.
func (w *fakeWindow) userClose() {
	w.Close()
	w.onClosed()
}

type hidingWindow struct {
	fakeWindow
	waited int
}

func (w *hidingWindow) WaitHidden(ctx context.Context) error {
	w.waited++
	return nil
}

type fakeResult struct {
	fakeWindow
	ocr []string
	ai  [][2]string
}

func (w *fakeResult) OCRReady(ocrText string)        { w.ocr = append(w.ocr, ocrText) }
func (w *fakeResult) AIReady(aiText, ocrText string) { w.ai = append(w.ai, [2]string{aiText, ocrText}) }

type fakeWindows struct {
	overlays []*fakeWindow
	results  []*fakeResult
	hiding   bool
	hider    *hidingWindow
}

func (f *fakeWindows) OpenOverlay(onClosed func()) (Window, error) {
	if f.hiding {
		f.hider = &hidingWindow{}
		f.hider.onClosed = onClosed
		return f.hider, nil
	}
	w := &fakeWindow{onClosed: onClosed}
	f.overlays = append(f.overlays, w)
	return w, nil
}

func (f *fakeWindows) OpenResult(onClosed func()) (ResultWindow, error) {
	w := &fakeResult{}
	w.onClosed = onClosed
	f.results = append(f.results, w)
	return w, nil
}

type fakeScreens struct {
	display screenshot.Display
	bitmap  image.Rectangle
	empty   bool
}

func (f fakeScreens) PrimaryDisplay() (screenshot.Display, error) { return f.display, nil }

func (f fakeScreens) Sources() ([]screenshot.Source, error) {
	if f.empty {
		return nil, nil
	}
	return []screenshot.Source{screenshot.NewSource(f.display.ID, image.NewRGBA(f.bitmap))}, nil
}

type fakeArtifacts struct {
	saved     [][]byte
	removed   []string
	saveErr   error
	removeErr error
}

func (f *fakeArtifacts) Save(data []byte) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, data)
	return "/tmp/screenshot_1.png", nil
}

func (f *fakeArtifacts) Remove(path string) error {
	f.removed = append(f.removed, path)
	return f.removeErr
}

type fakeOCR struct {
	res    *ocr.Result
	err    error
	calls  int
	paths  []string
	during func()
}

func (f *fakeOCR) Recognize(ctx context.Context, imagePath string, opts ocr.Options) (*ocr.Result, error) {
	f.calls++
	f.paths = append(f.paths, imagePath)
	if f.during != nil {
		f.during()
	}
	return f.res, f.err
}

type fakeLLM struct {
	mu     sync.Mutex
	text   string
	err    error
	calls  int
	models []string
	convs  [][]llm.Message
}

func (f *fakeLLM) Complete(ctx context.Context, model string, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.models = append(f.models, model)
	f.convs = append(f.convs, messages)
	return f.text, f.err
}

type harness struct {
	o         *Orchestrator
	windows   *fakeWindows
	artifacts *fakeArtifacts
	ocr       *fakeOCR
	llm       *fakeLLM
}

func textResult(lines ...ocr.Line) *ocr.Result {
	return &ocr.Result{ParsedResults: []ocr.ParsedResult{{TextOverlay: &ocr.TextOverlay{Lines: lines, HasOverlay: true}}}}
}

func newHarness(t *testing.T, screens fakeScreens) *harness {
	t.Helper()
	h := &harness{
		windows:   &fakeWindows{},
		artifacts: &fakeArtifacts{},
		ocr:       &fakeOCR{res: textResult(ocr.Line{MinTop: 0, Words: []ocr.Word{{WordText: "hello", Left: 0}}})},
		llm:       &fakeLLM{text: "answer"},
	}
	o, err := New(Options{
		Windows:      h.windows,
		Screens:      screens,
		Artifacts:    h.artifacts,
		OCR:          h.ocr,
		OCROptions:   ocr.Options{Language: "eng", Engine: 2, Scale: true, Overlay: true},
		LLM:          h.llm,
		Model:        "test-model",
		SystemPrompt: "be helpful",
	})
	require.NoError(t, err)
	h.o = o
	return h
}

func oneToOne() fakeScreens {
	r := image.Rect(0, 0, 1920, 1080)
	return fakeScreens{display: screenshot.Display{ID: "0", Bounds: r}, bitmap: r}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSuccessfulSession(t *testing.T) {
	h := newHarness(t, fakeScreens{
		display: screenshot.Display{ID: "0", Bounds: image.Rect(0, 0, 1000, 500)},
		bitmap:  image.Rect(0, 0, 2000, 1000),
	})
	h.ocr.res = textResult(
		ocr.Line{MinTop: 50, Words: []ocr.Word{{WordText: "World", Left: 30}, {WordText: "Hello", Left: 0}}},
		ocr.Line{MinTop: 0, Words: []ocr.Word{{WordText: "Top", Left: 0}}},
	)
	ctx := context.Background()

	require.NoError(t, h.o.StartCapture(ctx))
	assert.True(t, h.o.HasActiveOverlay())
	assert.Equal(t, AwaitingSelection, h.o.State())

	rep, err := h.o.CaptureRegion(ctx, screenshot.Region{X: 10, Y: 20, Width: 100, Height: 50})
	require.NoError(t, err)

	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, Cleanup, rep.State)
	assert.Equal(t, "Top\nHello World", rep.OCRText)
	assert.Equal(t, "answer", rep.AIText)
	assert.True(t, rep.AIRan)
	assert.False(t, rep.Cancelled)

	// crop happens in bitmap pixels
	require.Len(t, h.artifacts.saved, 1)
	img, err := png.Decode(bytes.NewReader(h.artifacts.saved[0]))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	assert.Equal(t, []string{"/tmp/screenshot_1.png"}, h.ocr.paths)
	assert.Equal(t, []string{"/tmp/screenshot_1.png"}, h.artifacts.removed)

	require.Equal(t, 1, h.llm.calls)
	assert.Equal(t, "test-model", h.llm.models[0])
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "Top\nHello World"},
	}, h.llm.convs[0])

	require.Len(t, h.windows.results, 1)
	result := h.windows.results[0]
	assert.Equal(t, []string{"Top\nHello World"}, result.ocr)
	assert.Equal(t, [][2]string{{"answer", "Top\nHello World"}}, result.ai)

	overlay := h.windows.overlays[0]
	assert.Equal(t, 1, overlay.hidden)
	assert.Equal(t, 1, overlay.closed)
	assert.False(t, h.o.HasActiveOverlay())
	assert.True(t, h.o.HasActiveResult(), "result window stays open")
	assert.Equal(t, 0, result.closed)
	assert.Equal(t, Idle, h.o.State())
}

func TestTinyRegionCancels(t *testing.T) {
	h := newHarness(t, oneToOne())
	ctx := context.Background()

	// leave a result window open from an earlier session
	_, err := h.o.CaptureRegion(ctx, screenshot.Region{X: 0, Y: 0, Width: 50, Height: 50})
	require.NoError(t, err)
	require.True(t, h.o.HasActiveResult())
	ocrCalls, llmCalls := h.ocr.calls, h.llm.calls

	require.NoError(t, h.o.StartCapture(ctx))
	rep, err := h.o.CaptureRegion(ctx, screenshot.Region{X: 100, Y: 100, Width: 5, Height: 5})
	require.NoError(t, err)

	assert.True(t, rep.Cancelled)
	assert.Empty(t, rep.OCRText)
	assert.Equal(t, ocrCalls, h.ocr.calls)
	assert.Equal(t, llmCalls, h.llm.calls)
	assert.Len(t, h.artifacts.saved, 1)
	assert.False(t, h.o.HasActiveOverlay())
	assert.False(t, h.o.HasActiveResult())
	assert.Equal(t, 1, h.windows.overlays[0].closed)
	assert.Equal(t, 1, h.windows.results[0].closed)
	assert.Equal(t, Idle, h.o.State())
}

func TestMinimumSizeIsCheckedInPixels(t *testing.T) {
	// 6 logical units are 12 pixels on a 2x display
	h := newHarness(t, fakeScreens{
		display: screenshot.Display{ID: "0", Bounds: image.Rect(0, 0, 100, 100)},
		bitmap:  image.Rect(0, 0, 200, 200),
	})
	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{X: 0, Y: 0, Width: 6, Height: 6})
	require.NoError(t, err)
	assert.False(t, rep.Cancelled)
	assert.Equal(t, 1, h.ocr.calls)

	// 15 logical units are 7.5 -> 8 pixels on a 0.5x capture
	h = newHarness(t, fakeScreens{
		display: screenshot.Display{ID: "0", Bounds: image.Rect(0, 0, 200, 200)},
		bitmap:  image.Rect(0, 0, 100, 100),
	})
	rep, err = h.o.CaptureRegion(context.Background(), screenshot.Region{X: 0, Y: 0, Width: 40, Height: 15})
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, 0, h.ocr.calls)
}

func TestMinimumSizeIsCheckedAfterClipping(t *testing.T) {
	h := newHarness(t, oneToOne())

	// 200x200 requested, only 4 pixels of it are on the bitmap horizontally
	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{X: 1916, Y: 100, Width: 200, Height: 200})
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, 0, h.ocr.calls)
	assert.Empty(t, h.artifacts.saved)

	rep, err = h.o.CaptureRegion(context.Background(), screenshot.Region{X: 1900, Y: 100, Width: 200, Height: 200})
	require.NoError(t, err)
	assert.False(t, rep.Cancelled)
	assert.Equal(t, 1, h.ocr.calls)
}

func TestOCRErrorSkipsAI(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.ocr.res = nil
	h.ocr.err = errors.New("timeout")

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)

	assert.Equal(t, "OCR Error: timeout", rep.OCRText)
	assert.False(t, rep.AIRan)
	assert.Equal(t, 0, h.llm.calls)
	assert.Equal(t, []string{"/tmp/screenshot_1.png"}, h.artifacts.removed)

	result := h.windows.results[0]
	assert.Equal(t, []string{"OCR Error: timeout"}, result.ocr)
	assert.Empty(t, result.ai)
}

func TestEmptyOCRUsesPlaceholder(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.ocr.res = &ocr.Result{ParsedResults: []ocr.ParsedResult{{ParsedText: ""}}}

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, ocr.NoTextPlaceholder, rep.OCRText)
	assert.True(t, rep.AIRan)
}

func TestEmptyAIUsesPlaceholder(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.llm.text = ""

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, NoResponsePlaceholder, rep.AIText)
	assert.Equal(t, [][2]string{{NoResponsePlaceholder, "hello"}}, h.windows.results[0].ai)
}

func TestAIErrorIsReported(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.llm.err = errors.New("rate limited")

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, "AI Error: rate limited", rep.AIText)
	assert.True(t, h.o.HasActiveResult())
}

func TestRemoveFailureDoesNotFailSession(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.artifacts.removeErr = errors.New("permission denied")

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Len(t, h.artifacts.removed, 1)
	assert.Equal(t, "answer", rep.AIText)
}

func TestArtifactSaveFailureIsOCRError(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.artifacts.saveErr = errors.New("disk full")

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Equal(t, "OCR Error: disk full", rep.OCRText)
	assert.Equal(t, 0, h.ocr.calls)
	assert.Equal(t, 0, h.llm.calls)
	assert.Empty(t, h.artifacts.removed)
	assert.Equal(t, []string{"OCR Error: disk full"}, h.windows.results[0].ocr)
}

func TestNoCaptureSourceAborts(t *testing.T) {
	screens := oneToOne()
	screens.empty = true
	h := newHarness(t, screens)
	ctx := context.Background()

	require.NoError(t, h.o.StartCapture(ctx))
	_, err := h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrNoCaptureSource)
	assert.Equal(t, 0, h.ocr.calls)
	assert.False(t, h.o.HasActiveOverlay())
	assert.Equal(t, 1, h.windows.overlays[0].closed)
	assert.Equal(t, Idle, h.o.State())
}

func TestStartCaptureFocusesExistingOverlay(t *testing.T) {
	h := newHarness(t, oneToOne())
	ctx := context.Background()

	require.NoError(t, h.o.StartCapture(ctx))
	require.NoError(t, h.o.StartCapture(ctx))

	require.Len(t, h.windows.overlays, 1)
	assert.Equal(t, 1, h.windows.overlays[0].focused)
}

func TestOverlayClosedByUserReturnsToIdle(t *testing.T) {
	h := newHarness(t, oneToOne())
	require.NoError(t, h.o.StartCapture(context.Background()))

	h.windows.overlays[0].userClose()

	assert.False(t, h.o.HasActiveOverlay())
	assert.Equal(t, Idle, h.o.State())
	require.NoError(t, h.o.StartCapture(context.Background()))
	assert.Len(t, h.windows.overlays, 2)
}

func TestResultWindowIsReused(t *testing.T) {
	h := newHarness(t, oneToOne())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
		require.NoError(t, err)
	}
	require.Len(t, h.windows.results, 1)
	assert.Equal(t, 1, h.windows.results[0].focused)
	assert.Len(t, h.windows.results[0].ocr, 2)
}

func TestClosedResultWindowSuppressesDelivery(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.ocr.during = func() { h.windows.results[0].userClose() }

	rep, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)

	assert.Equal(t, "answer", rep.AIText, "pending calls still complete")
	assert.Empty(t, h.windows.results[0].ocr)
	assert.Empty(t, h.windows.results[0].ai)
	assert.False(t, h.o.HasActiveResult())
}

func TestSecondCaptureWhileRunningIsBusy(t *testing.T) {
	h := newHarness(t, oneToOne())
	ctx := context.Background()

	var nestedCapture, nestedStart error
	h.ocr.during = func() {
		_, nestedCapture = h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
		nestedStart = h.o.StartCapture(ctx)
	}

	_, err := h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.ErrorIs(t, nestedCapture, ErrBusy)
	assert.ErrorIs(t, nestedStart, ErrBusy)
	assert.Equal(t, 1, h.ocr.calls)
}

func TestHiddenAckReplacesSettleDelay(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.o.opts.SettleDelay = time.Hour
	h.windows.hiding = true
	ctx := context.Background()

	require.NoError(t, h.o.StartCapture(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("capture waited for the settle delay")
	}
	assert.Equal(t, 1, h.windows.hider.waited)
}

func TestSettleDelayHonorsContext(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.o.opts.SettleDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.o.StartCapture(ctx))
	cancel()
	_, err := h.o.CaptureRegion(ctx, screenshot.Region{Width: 100, Height: 100})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.ocr.calls)
	assert.Equal(t, Idle, h.o.State())
}

func TestChat(t *testing.T) {
	h := newHarness(t, oneToOne())
	conv := []llm.Message{{Role: llm.RoleUser, Content: "and then?"}}

	assert.Equal(t, "answer", h.o.Chat(context.Background(), conv))
	assert.Equal(t, conv, h.llm.convs[0])

	h.llm.text = ""
	assert.Equal(t, NoResponsePlaceholder, h.o.Chat(context.Background(), conv))

	h.llm.err = errors.New("boom")
	assert.Equal(t, "(LLM Error: boom)", h.o.Chat(context.Background(), conv))
}

func TestPackageChatNeedsNoOrchestrator(t *testing.T) {
	c := &fakeLLM{text: "sure"}
	conv := []llm.Message{{Role: llm.RoleUser, Content: "q"}}
	assert.Equal(t, "sure", Chat(context.Background(), c, "m", conv))
	assert.Equal(t, []string{"m"}, c.models)
}

func TestRecognizeImageAndAsk(t *testing.T) {
	h := newHarness(t, oneToOne())

	text := h.o.RecognizeImage(context.Background(), []byte("png"))
	assert.Equal(t, "hello", text)
	assert.Equal(t, [][]byte{[]byte("png")}, h.artifacts.saved)
	assert.Equal(t, []string{"/tmp/screenshot_1.png"}, h.artifacts.removed)

	assert.Equal(t, "answer", h.o.Ask(context.Background(), text))
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "hello"},
	}, h.llm.convs[0])

	h.ocr.err = errors.New("timeout")
	assert.Equal(t, "OCR Error: timeout", h.o.RecognizeImage(context.Background(), []byte("png")))
	assert.Len(t, h.artifacts.removed, 2)

	h.artifacts.saveErr = errors.New("disk full")
	assert.Equal(t, "OCR Error: disk full", h.o.RecognizeImage(context.Background(), []byte("png")))
	assert.Equal(t, 0, len(h.windows.results), "no windows are involved")
}

func TestSetModel(t *testing.T) {
	h := newHarness(t, oneToOne())
	h.o.SetModel("other-model", "")

	h.o.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}})
	_, err := h.o.CaptureRegion(context.Background(), screenshot.Region{Width: 100, Height: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{"other-model", "other-model"}, h.llm.models)
	assert.Equal(t, "be helpful", h.llm.convs[1][0].Content)
}

func TestStateText(t *testing.T) {
	b, err := OcrPending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ocr-pending", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("ai-done")))
	assert.Equal(t, AiDone, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
