package capture

import (
	"image"

	"gocv.io/x/gocv"
)

// Sharpness scores a frame by the variance of its Laplacian. Blurred or
// motion-smeared frames score low; empty frames score zero.
func Sharpness(frame *gocv.Mat) float64 {
	if frame == nil || frame.Empty() {
		return 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd
}

// wellFormed reports whether a raw frame can be normalized: it must have
// pixels and a channel layout we know how to convert to BGR.
func wellFormed(frame *gocv.Mat) bool {
	if frame == nil || frame.Empty() || frame.Rows() == 0 || frame.Cols() == 0 {
		return false
	}
	switch frame.Channels() {
	case 1, 3, 4:
		return true
	default:
		return false
	}
}

// normalize converts frame to 3-channel BGR at width x height. It consumes
// frame and returns a new Mat owned by the caller.
func normalize(frame *gocv.Mat, width, height int) *gocv.Mat {
	switch frame.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(*frame, &bgr, gocv.ColorGrayToBGR)
		frame.Close()
		frame = &bgr
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(*frame, &bgr, gocv.ColorBGRAToBGR)
		frame.Close()
		frame = &bgr
	}

	if width <= 0 || height <= 0 || (frame.Cols() == width && frame.Rows() == height) {
		return frame
	}

	resized := gocv.NewMat()
	gocv.Resize(*frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	frame.Close()
	return &resized
}
