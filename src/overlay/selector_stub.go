//go:build !windows

package overlay

import (
	"context"

	"screen-ocr-ai/src/screenshot"
)

type unsupportedSelector struct{}

func newPlatformSelector() Selector { return unsupportedSelector{} }

func (unsupportedSelector) Select(ctx context.Context) (screenshot.Region, bool, error) {
	return screenshot.Region{}, false, ErrUnsupported
}
