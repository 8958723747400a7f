//go:build !tesseract

package ocr

import "errors"

// NewTesseract reports that this binary was built without libtesseract.
// Rebuild with -tags tesseract to enable the local engine.
func NewTesseract() (Recognizer, error) {
	return nil, errors.New("tesseract support not compiled in (build with -tags tesseract)")
}
