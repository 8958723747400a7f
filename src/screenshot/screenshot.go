package screenshot

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/kbinani/screenshot"
)

// ErrNoCaptureSource is returned when no display framebuffer can be read.
var ErrNoCaptureSource = errors.New("no capture source available")

// Display describes a monitor in logical (window-system) coordinates.
type Display struct {
	ID     string
	Bounds image.Rectangle
}

// Size returns the logical width and height of the display.
func (d Display) Size() (int, int) { return d.Bounds.Dx(), d.Bounds.Dy() }

// Source is one capturable framebuffer. The pixels are only read when Image
// is called so enumerating sources stays cheap.
type Source struct {
	DisplayID string
	capture   func() (image.Image, error)
}

// NewSource wraps an already captured bitmap as a Source.
func NewSource(displayID string, img image.Image) Source {
	return Source{DisplayID: displayID, capture: func() (image.Image, error) { return img, nil }}
}

// Image reads the source bitmap.
func (s Source) Image() (image.Image, error) {
	if s.capture == nil {
		return nil, fmt.Errorf("source %q has no framebuffer", s.DisplayID)
	}
	return s.capture()
}

// Provider enumerates displays and their framebuffers.
type Provider interface {
	PrimaryDisplay() (Display, error)
	Sources() ([]Source, error)
}

// Screen is the Provider backed by the operating system's active displays.
// Display 0 is treated as the primary display.
type Screen struct{}

func NewScreen() Screen { return Screen{} }

// PrimaryDisplay returns the bounds of the primary display
func (Screen) PrimaryDisplay() (Display, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return Display{}, fmt.Errorf("no active displays found")
	}
	return Display{ID: "0", Bounds: screenshot.GetDisplayBounds(0)}, nil
}

// Sources lists one framebuffer source per active display.
func (Screen) Sources() ([]Source, error) {
	n := screenshot.NumActiveDisplays()
	sources := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		idx := i
		sources = append(sources, Source{
			DisplayID: strconv.Itoa(idx),
			capture: func() (image.Image, error) {
				img, err := screenshot.CaptureDisplay(idx)
				if err != nil {
					return nil, fmt.Errorf("failed to capture display %d: %w", idx, err)
				}
				return img, nil
			},
		})
	}
	return sources, nil
}

// PickSource selects the source showing displayID, falling back to the first
// source. It fails with ErrNoCaptureSource when sources is empty.
func PickSource(sources []Source, displayID string) (Source, error) {
	if len(sources) == 0 {
		return Source{}, ErrNoCaptureSource
	}
	for _, s := range sources {
		if s.DisplayID == displayID {
			return s, nil
		}
	}
	return sources[0], nil
}
