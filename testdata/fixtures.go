// Package testdata builds camera frames for tests that need real pixels
// without shipping image files.
package testdata

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Scene draws a desk-like test frame: a vertical gradient, a lamp circle at
// a position derived from step, and a caption. The caller owns the Mat.
func Scene(width, height, step int) *gocv.Mat {
	m := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	for y := 0; y < height; y += 4 {
		shade := uint8(40 + 120*y/max(height, 1))
		gocv.Rectangle(&m, image.Rect(0, y, width, y+4), color.RGBA{R: shade, G: shade, B: shade / 2}, -1)
	}

	angle := float64(step) * 0.3
	cx := width/2 + int(float64(width/4)*math.Cos(angle))
	cy := height/2 + int(float64(height/4)*math.Sin(angle))
	gocv.Circle(&m, image.Pt(cx, cy), max(height/10, 4), color.RGBA{R: 250, G: 220, B: 120}, -1)

	gocv.PutText(&m, fmt.Sprintf("frame %d", step), image.Pt(10, 20), gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 255}, 1)
	return &m
}

// Sequence returns n consecutive scenes.
func Sequence(n, width, height int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = Scene(width, height, i)
	}
	return frames
}

// JPEG encodes a scene, for tests that exercise decoders.
func JPEG(width, height, step int) ([]byte, error) {
	m := Scene(width, height, step)
	defer m.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *m)
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases every frame.
func Close(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
