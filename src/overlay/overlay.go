// Package overlay lets the user pick a screen region and exposes the picker
// to the session orchestrator as a window.
package overlay

import (
	"context"
	"errors"
	"strings"

	"screen-ocr-ai/src/screenshot"
)

var ErrUnsupported = errors.New("interactive region selection not implemented for this platform; set SELECTOR_CMD")

// Selector defines a synchronous region-selection API.
// Returns (region, cancelled, error). If cancelled is true, region is undefined and err is nil.
type Selector interface {
	Select(ctx context.Context) (screenshot.Region, bool, error)
}

// NewSelector returns an external command selector when command is set,
// otherwise the platform implementation.
func NewSelector(command string) Selector {
	if strings.TrimSpace(command) != "" {
		return NewCommand(command)
	}
	return newPlatformSelector()
}
