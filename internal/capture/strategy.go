package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrNoStrategy is returned when no hardware candidate passed its self-test.
var ErrNoStrategy = errors.New("no acquisition strategy available")

// Strategy identifies a hardware access method, in descending preference.
type Strategy int

const (
	StrategyNone Strategy = iota
	HighLevelHardwareAPI
	SafeStreamingPipeline
	GenericStreamingPipeline
	GenericDriverCapture
	Synthetic
)

func (s Strategy) String() string {
	switch s {
	case HighLevelHardwareAPI:
		return "high_level_api"
	case SafeStreamingPipeline:
		return "safe_pipeline"
	case GenericStreamingPipeline:
		return "generic_pipeline"
	case GenericDriverCapture:
		return "driver_capture"
	case Synthetic:
		return "synthetic"
	default:
		return "none"
	}
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Candidate is one concrete way of opening a camera under a Strategy.
type Candidate struct {
	Strategy Strategy
	Name     string

	// Available is an optional cheap precondition. A nil func means always.
	Available func(ctx context.Context) bool

	// Open acquires the hardware. It may block; callers bound it with a
	// timeout and close any handle that arrives late.
	Open func(ctx context.Context) (Camera, error)
}

// DefaultCandidates lists every hardware candidate in probe order.
func DefaultCandidates(cfg Config) []Candidate {
	w, h := cfg.Width, cfg.Height
	ft := cfg.FrameTimeout

	libcamera := &libcameraCheck{timeout: 3 * time.Second}

	candidates := []Candidate{
		{
			Strategy: HighLevelHardwareAPI,
			Name:     "mediadevices",
			Open: func(context.Context) (Camera, error) {
				return OpenMediaDevices(w, h)
			},
		},
		{
			Strategy:  SafeStreamingPipeline,
			Name:      "gst-libcamera",
			Available: libcamera.Available,
			Open: func(context.Context) (Camera, error) {
				return OpenGStreamer(LibcameraPipeline(w, h), w, h, ft)
			},
		},
		{
			Strategy:  SafeStreamingPipeline,
			Name:      "opencv-libcamera",
			Available: libcamera.Available,
			Open: func(context.Context) (Camera, error) {
				return OpenVideoCapture(LibcameraPipeline(w, h), gocv.VideoCaptureGstreamer, w, h)
			},
		},
	}

	for _, dev := range []string{"/dev/video0", "/dev/video1"} {
		candidates = append(candidates, Candidate{
			Strategy: GenericStreamingPipeline,
			Name:     "opencv-v4l2src " + dev,
			Open: func(context.Context) (Camera, error) {
				return OpenVideoCapture(V4L2Pipeline(dev, w, h), gocv.VideoCaptureGstreamer, w, h)
			},
		})
	}

	for _, dev := range []string{"/dev/video0", "/dev/video1"} {
		candidates = append(candidates, Candidate{
			Strategy: GenericDriverCapture,
			Name:     "v4l2-mjpeg " + dev,
			Open: func(context.Context) (Camera, error) {
				return OpenV4L2(dev, w, h, ft)
			},
		})
	}

	for _, index := range []int{cfg.Index, cfg.Index + 1} {
		candidates = append(candidates, Candidate{
			Strategy: GenericDriverCapture,
			Name:     fmt.Sprintf("opencv-index %d", index),
			Open: func(context.Context) (Camera, error) {
				return OpenVideoCapture(index, gocv.VideoCaptureV4L2, w, h)
			},
		})
	}

	return candidates
}

// libcameraCheck asks libcamera-hello once whether a CSI camera is attached.
type libcameraCheck struct {
	timeout time.Duration
	once    sync.Once
	ok      bool
}

func (c *libcameraCheck) Available(ctx context.Context) bool {
	c.once.Do(func() {
		path, err := exec.LookPath("libcamera-hello")
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, path, "--list-cameras").CombinedOutput()
		if err != nil {
			return
		}
		c.ok = bytes.Contains(out, []byte("Available cameras"))
	})
	return c.ok
}

type openResult struct {
	cam Camera
	err error
}

// openWithTimeout runs c.Open and gives up after timeout. A camera that
// opens after the deadline is closed in the background.
func openWithTimeout(ctx context.Context, c Candidate, timeout time.Duration) (Camera, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan openResult, 1)
	go func() {
		cam, err := c.Open(ctx)
		done <- openResult{cam: cam, err: err}
	}()

	select {
	case r := <-done:
		return r.cam, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.cam != nil {
				r.cam.Close()
			}
		}()
		return nil, fmt.Errorf("%w: open %s: %v", ErrHardwareUnavailable, c.Name, ctx.Err())
	}
}
