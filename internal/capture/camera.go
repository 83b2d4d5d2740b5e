// Package capture acquires frames from unreliable camera hardware through an
// ordered list of acquisition strategies, falling back to synthetic frames.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrCameraNotOpen is returned when reading from a closed camera.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrHardwareUnavailable wraps every open or read failure of a real device.
	ErrHardwareUnavailable = errors.New("camera hardware unavailable")
	// ErrFrameTimeout is returned when a read does not complete in time.
	ErrFrameTimeout = errors.New("frame read timed out")
	// ErrMalformedFrame is returned for empty or oddly shaped frames.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Camera is an open hardware handle that yields frames.
type Camera interface {
	// ReadFrame reads one frame. The caller is responsible for closing the
	// returned Mat.
	ReadFrame() (*gocv.Mat, error)

	// Close releases the device. It must be safe to call more than once.
	Close() error
}

// cvCamera reads frames through an OpenCV VideoCapture.
type cvCamera struct {
	source  string
	capture *gocv.VideoCapture
	mu      sync.Mutex
}

// OpenVideoCapture opens device (an index or a pipeline/device string) with
// the given OpenCV backend. width and height are requested from drivers that
// honour them; pipeline descriptions carry their own caps.
func OpenVideoCapture(device any, api gocv.VideoCaptureAPI, width, height int) (Camera, error) {
	capture, err := gocv.OpenVideoCaptureWithAPI(device, api)
	if err != nil {
		return nil, fmt.Errorf("%w: open %v: %v", ErrHardwareUnavailable, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %v did not open", ErrHardwareUnavailable, device)
	}

	if api == gocv.VideoCaptureV4L2 && width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return &cvCamera{
		source:  fmt.Sprint(device),
		capture: capture,
	}, nil
}

// ReadFrame reads a single frame from the capture device.
func (c *cvCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("%w: read from %s failed", ErrHardwareUnavailable, c.source)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: empty frame from %s", ErrMalformedFrame, c.source)
	}

	return &mat, nil
}

// Close releases the capture device.
func (c *cvCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	return err
}
