package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing. It counts reads and
// can be told to fail or stall.
type MockCamera struct {
	frames []*gocv.Mat
	index  int
	loop   bool

	mu     sync.Mutex
	closed bool
	err    error
	delay  time.Duration
	reads  int
	closes int
}

// NewMockCamera returns an open camera replaying frames.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

// ReadFrame returns a clone of the next frame.
func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	c.reads++
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCameraNotOpen
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.frames) == 0 {
		return nil, errors.New("mock camera: no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, errors.New("mock camera: no more frames")
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

// Close marks the camera closed.
func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

// SetError makes every following read fail with err; nil restores playback.
func (c *MockCamera) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// SetDelay makes every read block for d first.
func (c *MockCamera) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reads returns how many times ReadFrame was called.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Closed reports whether Close was called, and how often.
func (c *MockCamera) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closes
}

// MockCandidate wraps cam as a probe candidate for the given strategy.
func MockCandidate(strategy Strategy, name string, cam Camera) Candidate {
	return Candidate{
		Strategy: strategy,
		Name:     name,
		Open: func(context.Context) (Camera, error) {
			return cam, nil
		},
	}
}
