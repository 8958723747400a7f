package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
)

// Region is a selection rectangle in logical screen coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pixels maps r into the bitmap of display d, whose logical origin may not be
// the screen origin.
func (r Region) Pixels(d Display, s Scale) image.Rectangle {
	return ScaleRect(r.X-float64(d.Bounds.Min.X), r.Y-float64(d.Bounds.Min.Y), r.Width, r.Height, s)
}

// Scale is the ratio between bitmap pixels and logical display units. X and Y
// differ on some fractional-scaling setups.
type Scale struct {
	X float64
	Y float64
}

// ScaleFor compares a captured bitmap with the logical size of its display.
func ScaleFor(bitmap image.Rectangle, display Display) Scale {
	w, h := display.Size()
	s := Scale{X: 1, Y: 1}
	if w > 0 {
		s.X = float64(bitmap.Dx()) / float64(w)
	}
	if h > 0 {
		s.Y = float64(bitmap.Dy()) / float64(h)
	}
	return s
}

// ScaleRect maps a logical rectangle into bitmap pixel space, rounding each
// coordinate independently.
func ScaleRect(x, y, width, height float64, s Scale) image.Rectangle {
	px := int(math.Round(x * s.X))
	py := int(math.Round(y * s.Y))
	pw := int(math.Round(width * s.X))
	ph := int(math.Round(height * s.Y))
	return image.Rect(px, py, px+pw, py+ph)
}

// Crop copies r (relative to the bitmap's top-left corner) out of img. Parts
// of r outside the bitmap are dropped.
func Crop(img image.Image, r image.Rectangle) (*image.RGBA, error) {
	b := img.Bounds()
	abs := Clip(b, r).Add(b.Min)
	if abs.Empty() {
		return nil, fmt.Errorf("crop rectangle %v is outside the %dx%d bitmap", r, b.Dx(), b.Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, abs.Dx(), abs.Dy()))
	draw.Draw(out, out.Bounds(), img, abs.Min, draw.Src)
	return out, nil
}

// Clip returns the part of r (relative to the top-left corner of bounds) that
// lies inside bounds, in the same relative coordinates.
func Clip(bounds image.Rectangle, r image.Rectangle) image.Rectangle {
	return r.Add(bounds.Min).Intersect(bounds).Sub(bounds.Min)
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
