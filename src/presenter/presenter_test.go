package presenter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) OCRReady(ocrText string)        { r.events = append(r.events, "ocr:"+ocrText) }
func (r *recorder) AIReady(aiText, ocrText string) { r.events = append(r.events, "ai:"+aiText+"|"+ocrText) }

func TestWindowFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	w, err := NewFactory(a, b).OpenResult(func() {})
	require.NoError(t, err)

	w.OCRReady("text")
	w.AIReady("answer", "text")

	want := []string{"ocr:text", "ai:answer|text"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}

func TestClosedWindowDropsEvents(t *testing.T) {
	r := &recorder{}
	w, err := NewFactory(r).OpenResult(func() {})
	require.NoError(t, err)

	w.Close()
	w.OCRReady("text")
	w.AIReady("answer", "text")
	assert.Empty(t, r.events)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{W: &buf}
	c.OCRReady("Top\nHello World")
	c.AIReady("Hi", "Top\nHello World")
	assert.Equal(t, "--- OCR ---\nTop\nHello World\n--- AI ---\nHi\n", buf.String())
}

func TestClipboardSkipsErrors(t *testing.T) {
	var copied []string
	write := func(s string) error { copied = append(copied, s); return nil }

	c := Clipboard{Write: write}
	c.OCRReady("OCR Error: timeout")
	c.OCRReady("hello")
	c.AIReady("answer", "hello")
	assert.Equal(t, []string{"hello"}, copied)

	copied = nil
	c = Clipboard{AIAnswer: true, Write: write}
	c.OCRReady("hello")
	c.AIReady("AI Error: boom", "hello")
	c.AIReady("(AI did not provide a response)", "hello")
	c.AIReady("answer", "hello")
	assert.Equal(t, []string{"answer"}, copied)
}

func TestPopup(t *testing.T) {
	var shown []string
	p := Popup{Show: func(title, text string) { shown = append(shown, title+": "+text) }}
	p.OCRReady("hello")
	p.AIReady("answer", "hello")
	assert.Equal(t, []string{"Screen OCR: hello", "AI answer: answer"}, shown)
}
