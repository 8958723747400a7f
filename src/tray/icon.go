package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"sync"
)

const iconSize = 32

var (
	iconOnce  sync.Once
	iconBytes []byte
	iconErr   error
)

// Icon returns the tray icon: PNG, wrapped in an ICO container on Windows.
func Icon() ([]byte, error) {
	iconOnce.Do(func() {
		var pngData []byte
		pngData, iconErr = drawIcon()
		if iconErr != nil {
			return
		}
		if runtime.GOOS == "windows" {
			iconBytes = wrapICO(pngData, iconSize)
		} else {
			iconBytes = pngData
		}
	})
	return iconBytes, iconErr
}

// drawIcon paints a dashed selection frame around a text glyph.
func drawIcon() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	frame := color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	ink := color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}

	for i := 2; i < iconSize-2; i++ {
		if (i/3)%2 == 0 {
			img.Set(i, 2, frame)
			img.Set(i, iconSize-3, frame)
			img.Set(2, i, frame)
			img.Set(iconSize-3, i, frame)
		}
	}
	// "T"
	for x := 9; x < 23; x++ {
		for y := 8; y < 11; y++ {
			img.Set(x, y, ink)
		}
	}
	for x := 14; x < 18; x++ {
		for y := 11; y < 24; y++ {
			img.Set(x, y, ink)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrapICO builds a single-image ICO file with a PNG payload.
func wrapICO(pngData []byte, size int) []byte {
	var buf bytes.Buffer
	// ICONDIR
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.WriteByte(byte(size))
	buf.WriteByte(byte(size))
	buf.WriteByte(0) // palette
	buf.WriteByte(0) // reserved
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32)) // bpp
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pngData)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(6+16))
	buf.Write(pngData)
	return buf.Bytes()
}
