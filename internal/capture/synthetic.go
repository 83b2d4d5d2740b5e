package capture

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"gocv.io/x/gocv"
)

// Reasons shown on synthetic frames.
const (
	ReasonInitializing = "Camera initializing"
	ReasonNoCamera     = "No camera detected"
	ReasonRecovery     = "Timeout recovery mode"
)

var (
	syntheticBackground = gocv.NewScalar(50, 50, 50, 0)
	syntheticDot        = color.RGBA{R: 200, G: 150, B: 100, A: 0}
	syntheticText       = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	syntheticAlert      = color.RGBA{R: 255, G: 80, B: 80, A: 0}
)

// SyntheticInfo describes what a placeholder frame should announce.
type SyntheticInfo struct {
	Reason   string
	Cooldown time.Duration
	Captured bool
}

// SyntheticFrame draws a placeholder frame of the given size. The output is a
// pure function of now and info: a dot orbits the centre with wall-clock time,
// and the text shows why no real frame is available.
// The caller owns the returned Mat.
func SyntheticFrame(width, height int, now time.Time, info SyntheticInfo) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(syntheticBackground, height, width, gocv.MatTypeCV8UC3)

	t := float64(now.UnixNano()) / float64(time.Second)
	center := image.Pt(
		width/2+int(100*math.Sin(t)),
		height/2+int(50*math.Cos(t)),
	)
	gocv.Circle(&mat, center, 20, syntheticDot, -1)

	reason := info.Reason
	if reason == "" {
		reason = ReasonRecovery
	}

	lines := []string{"Camera Simulation", reason}
	if info.Cooldown > 0 {
		lines = append(lines, fmt.Sprintf("Cooldown: %.1fs", info.Cooldown.Seconds()))
	} else {
		lines = append(lines, "Ready to retry")
	}

	for i, line := range lines {
		gocv.PutText(&mat, line, image.Pt(20, 40+i*35), gocv.FontHersheySimplex, 0.8, syntheticText, 2)
	}

	if info.Captured {
		gocv.PutText(&mat, "PHOTO CAPTURED", image.Pt(20, height-60), gocv.FontHersheySimplex, 1.0, syntheticAlert, 2)
		gocv.PutText(&mat, now.Format("2006-01-02 15:04:05"), image.Pt(20, height-25), gocv.FontHersheySimplex, 0.6, syntheticText, 1)
	}

	return &mat
}
