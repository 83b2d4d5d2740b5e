package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"gocv.io/x/gocv"
)

// v4l2 fourcc for Motion-JPEG
const pixelFormatMJPEG webcam.PixelFormat = 0x47504A4D

// v4l2Camera reads MJPEG frames straight from a V4L2 device node.
type v4l2Camera struct {
	device  string
	timeout time.Duration

	mu  sync.Mutex
	cam *webcam.Webcam
}

// OpenV4L2 opens device in MJPEG mode at (or near) width x height.
func OpenV4L2(device string, width, height int, frameTimeout time.Duration) (Camera, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrHardwareUnavailable, device, err)
	}

	format, ok := findMJPEG(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, fmt.Errorf("%w: %s does not offer MJPEG", ErrHardwareUnavailable, device)
	}

	if _, _, _, err := cam.SetImageFormat(format, uint32(width), uint32(height)); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: set format on %s: %v", ErrHardwareUnavailable, device, err)
	}
	if err := cam.SetBufferCount(2); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: set buffers on %s: %v", ErrHardwareUnavailable, device, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: start streaming %s: %v", ErrHardwareUnavailable, device, err)
	}

	return &v4l2Camera{device: device, timeout: frameTimeout, cam: cam}, nil
}

func findMJPEG(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	if _, ok := formats[pixelFormatMJPEG]; ok {
		return pixelFormatMJPEG, true
	}
	for format, desc := range formats {
		if strings.Contains(strings.ToUpper(desc), "JPEG") {
			return format, true
		}
	}
	return 0, false
}

// ReadFrame waits for the next buffer and decodes it.
func (c *v4l2Camera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam == nil {
		return nil, ErrCameraNotOpen
	}

	secs := uint32(c.timeout / time.Second)
	if secs == 0 {
		secs = 1
	}

	if err := c.cam.WaitForFrame(secs); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return nil, fmt.Errorf("%w: %s", ErrFrameTimeout, c.device)
		}
		return nil, fmt.Errorf("%w: wait on %s: %v", ErrHardwareUnavailable, c.device, err)
	}

	data, err := c.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrHardwareUnavailable, c.device, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer from %s", ErrMalformedFrame, c.device)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: decode MJPEG from %s: %v", ErrMalformedFrame, c.device, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: undecodable MJPEG from %s", ErrMalformedFrame, c.device)
	}
	return &mat, nil
}

// Close stops streaming and closes the device node.
func (c *v4l2Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cam == nil {
		return nil
	}

	c.cam.StopStreaming()
	err := c.cam.Close()
	c.cam = nil
	return err
}
