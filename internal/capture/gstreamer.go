package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"gocv.io/x/gocv"
)

var gstInit sync.Once

// gstCamera pulls raw BGR frames out of a GStreamer pipeline that ends in an
// appsink named "sink".
type gstCamera struct {
	description string
	width       int
	height      int
	timeout     time.Duration

	pipeline *gst.Pipeline
	frames   chan []byte
	dropped  atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// LibcameraPipeline describes a libcamerasrc pipeline delivering BGR frames
// of the given size to an appsink named "sink".
func LibcameraPipeline(width, height int) string {
	return fmt.Sprintf(
		"libcamerasrc ! video/x-raw,width=%d,height=%d,framerate=15/1 ! videoconvert ! "+
			"video/x-raw,format=BGR,width=%d,height=%d ! appsink name=sink max-buffers=1 drop=true sync=false",
		width, height, width, height)
}

// V4L2Pipeline describes a v4l2src pipeline delivering BGR frames of the
// given size to an appsink named "sink".
func V4L2Pipeline(device string, width, height int) string {
	return fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! "+
			"video/x-raw,format=BGR,width=%d,height=%d ! appsink name=sink max-buffers=1 drop=true sync=false",
		device, width, height)
}

// OpenGStreamer starts description and returns a Camera reading from its
// appsink. Reads wait at most frameTimeout for the next sample.
func OpenGStreamer(description string, width, height int, frameTimeout time.Duration) (Camera, error) {
	gstInit.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pipeline: %v", ErrHardwareUnavailable, err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: pipeline has no appsink named sink: %v", ErrHardwareUnavailable, err)
	}

	c := &gstCamera{
		description: description,
		width:       width,
		height:      height,
		timeout:     frameTimeout,
		pipeline:    pipeline,
		frames:      make(chan []byte, 1),
	}

	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: start pipeline: %v", ErrHardwareUnavailable, err)
	}

	slog.Debug("capture: gstreamer pipeline started", "pipeline", description)
	return c, nil
}

// onSample copies each appsink sample into the frame channel, keeping only
// the newest frame when the reader falls behind.
func (c *gstCamera) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case c.frames <- frame:
	default:
		// drop the stale frame and keep the new one
		select {
		case <-c.frames:
			c.dropped.Add(1)
		default:
		}
		select {
		case c.frames <- frame:
		default:
		}
	}

	return gst.FlowOK
}

// ReadFrame waits for the next sample and wraps it as a BGR Mat.
func (c *gstCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrCameraNotOpen
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var data []byte
	select {
	case data = <-c.frames:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no sample from gstreamer within %v", ErrFrameTimeout, c.timeout)
	}

	if len(data) != c.width*c.height*3 {
		return nil, fmt.Errorf("%w: got %d bytes, want %dx%dx3", ErrMalformedFrame, len(data), c.width, c.height)
	}

	mat, err := gocv.NewMatFromBytes(c.height, c.width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &mat, nil
}

// Close stops the pipeline.
func (c *gstCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if dropped := c.dropped.Load(); dropped > 0 {
		slog.Debug("capture: gstreamer pipeline stopped", "dropped_frames", dropped)
	}
	return c.pipeline.SetState(gst.StateNull)
}
