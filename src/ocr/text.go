package ocr

import (
	"image"
	"sort"
	"strings"
)

// NoTextPlaceholder replaces an empty recognition result.
const NoTextPlaceholder = "(No text detected)"

// Text picks the display text for a provider result: positional data is
// rebuilt into reading order, otherwise the flat ParsedText is used.
func Text(res *Result) string {
	if res == nil || len(res.ParsedResults) == 0 {
		return NoTextPlaceholder
	}
	pr := res.ParsedResults[0]

	var text string
	if pr.TextOverlay != nil && len(pr.TextOverlay.Lines) > 0 {
		text = Reconstruct(pr.TextOverlay.Lines)
	} else {
		text = pr.ParsedText
	}
	if text == "" {
		return NoTextPlaceholder
	}
	return text
}

// Reconstruct orders lines top to bottom by MinTop and words left to right,
// joining words with spaces and lines with newlines. The input is not
// modified.
func Reconstruct(lines []Line) string {
	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MinTop < ordered[j].MinTop })

	out := make([]string, 0, len(ordered))
	for _, line := range ordered {
		words := make([]Word, len(line.Words))
		copy(words, line.Words)
		sort.SliceStable(words, func(i, j int) bool { return words[i].Left < words[j].Left })

		texts := make([]string, 0, len(words))
		for _, w := range words {
			texts = append(texts, w.WordText)
		}
		out = append(out, strings.Join(texts, " "))
	}
	return strings.Join(out, "\n")
}

// wordBox is one word located by a local engine.
type wordBox struct {
	Text  string
	Rect  image.Rectangle
	Block int
	Par   int
	Line  int
}

// linesFromBoxes groups located words into provider-style lines keyed by
// block, paragraph and line number.
func linesFromBoxes(boxes []wordBox) []Line {
	type key struct{ block, par, line int }
	index := map[key]int{}
	var lines []Line

	for _, b := range boxes {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		k := key{b.Block, b.Par, b.Line}
		i, ok := index[k]
		if !ok {
			i = len(lines)
			index[k] = i
			lines = append(lines, Line{MinTop: float64(b.Rect.Min.Y)})
		}
		l := &lines[i]
		if top := float64(b.Rect.Min.Y); top < l.MinTop {
			l.MinTop = top
		}
		if h := float64(b.Rect.Dy()); h > l.MaxHeight {
			l.MaxHeight = h
		}
		l.Words = append(l.Words, Word{
			WordText: b.Text,
			Left:     float64(b.Rect.Min.X),
			Top:      float64(b.Rect.Min.Y),
			Width:    float64(b.Rect.Dx()),
			Height:   float64(b.Rect.Dy()),
		})
	}
	for i := range lines {
		lines[i].LineText = Reconstruct([]Line{lines[i]})
	}
	return lines
}
