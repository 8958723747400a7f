//go:build tesseract

package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes images locally with libtesseract. It reports word
// positions so results go through the same reading-order reconstruction as
// the remote provider.
type Tesseract struct{}

// NewTesseract returns the local engine.
func NewTesseract() (Recognizer, error) { return Tesseract{}, nil }

func (Tesseract) Recognize(ctx context.Context, imagePath string, opts Options) (*Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if opts.Language != "" {
		if err := client.SetLanguage(opts.Language); err != nil {
			return nil, fmt.Errorf("setting language: %w", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	pr := ParsedResult{ParsedText: text}

	if opts.Overlay {
		boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			return nil, fmt.Errorf("tesseract layout failed: %w", err)
		}
		located := make([]wordBox, 0, len(boxes))
		for _, b := range boxes {
			located = append(located, wordBox{
				Text:  b.Word,
				Rect:  b.Box,
				Block: b.BlockNum,
				Par:   b.ParNum,
				Line:  b.LineNum,
			})
		}
		lines := linesFromBoxes(located)
		pr.TextOverlay = &TextOverlay{Lines: lines, HasOverlay: len(lines) > 0}
	}

	return &Result{ParsedResults: []ParsedResult{pr}}, nil
}
