package screenshot

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestScreenPrimaryDisplay(t *testing.T) {
	// Requires a display; only check it does not panic.
	_, err := NewScreen().PrimaryDisplay()
	if err != nil {
		t.Logf("Failed to get display bounds (expected in headless environment): %v", err)
	}
}

func TestPickSource(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	sources := []Source{NewSource("7", img), NewSource("3", img)}

	s, err := PickSource(sources, "3")
	if err != nil || s.DisplayID != "3" {
		t.Fatalf("expected matching source 3, got %q err=%v", s.DisplayID, err)
	}

	s, err = PickSource(sources, "42")
	if err != nil || s.DisplayID != "7" {
		t.Fatalf("expected fallback to first source, got %q err=%v", s.DisplayID, err)
	}

	if _, err := PickSource(nil, "0"); !errors.Is(err, ErrNoCaptureSource) {
		t.Fatalf("expected ErrNoCaptureSource, got %v", err)
	}
}

func TestScaleForFractional(t *testing.T) {
	d := Display{ID: "0", Bounds: image.Rect(0, 0, 1000, 500)}
	s := ScaleFor(image.Rect(0, 0, 1500, 1000), d)
	if s.X != 1.5 || s.Y != 2 {
		t.Fatalf("unexpected scale %+v", s)
	}
}

func TestScaleRectRounds(t *testing.T) {
	r := ScaleRect(10.2, 20.5, 33.3, 7, Scale{X: 1.5, Y: 2})
	want := image.Rect(15, 41, 15+50, 41+14)
	if r != want {
		t.Fatalf("ScaleRect = %v, want %v", r, want)
	}
}

func TestCropCopiesRegion(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	red := color.RGBA{R: 255, A: 255}
	img.SetRGBA(5, 6, red)

	out, err := Crop(img, image.Rect(5, 6, 15, 16))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if got := out.RGBAAt(0, 0); got != red {
		t.Fatalf("expected top-left pixel to be red, got %#v", got)
	}
}

func TestCropClipsAndRejectsOutside(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	out, err := Crop(img, image.Rect(15, 15, 40, 40))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 5 {
		t.Fatalf("expected clipped 5x5, got %v", out.Bounds())
	}

	if _, err := Crop(img, image.Rect(30, 30, 40, 40)); err == nil {
		t.Fatal("expected error for rectangle outside bitmap")
	}
}

func TestClip(t *testing.T) {
	bounds := image.Rect(100, 50, 300, 150)
	cases := []struct {
		in, want image.Rectangle
	}{
		{image.Rect(10, 10, 20, 20), image.Rect(10, 10, 20, 20)},
		{image.Rect(196, 10, 400, 90), image.Rect(196, 10, 200, 90)},
		{image.Rect(-5, -5, 10, 10), image.Rect(0, 0, 10, 10)},
	}
	for _, c := range cases {
		if got := Clip(bounds, c.in); got != c.want {
			t.Errorf("Clip(%v) = %v, want %v", c.in, got, c.want)
		}
	}
	if got := Clip(bounds, image.Rect(500, 500, 600, 600)); !got.Empty() {
		t.Errorf("expected empty rectangle, got %v", got)
	}
}

func TestEncodePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 3 || decoded.Bounds().Dy() != 2 {
		t.Fatalf("unexpected decoded size %v", decoded.Bounds())
	}
}

func TestRegionPixelsOffsetDisplay(t *testing.T) {
	d := Display{ID: "1", Bounds: image.Rect(1920, 0, 3840, 1080)}
	r := Region{X: 2020, Y: 50, Width: 200, Height: 100}
	got := r.Pixels(d, Scale{X: 2, Y: 2})
	want := image.Rect(200, 100, 600, 300)
	if got != want {
		t.Fatalf("Pixels = %v, want %v", got, want)
	}
}
