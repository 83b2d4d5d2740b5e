package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/prop"
	"gocv.io/x/gocv"
)

// videoReader is the raw frame reader returned by a mediadevices video track.
type videoReader interface {
	Read() (img image.Image, release func(), err error)
}

// mediaCamera reads decoded frames through the mediadevices camera API.
type mediaCamera struct {
	track  mediadevices.Track
	reader videoReader

	mu     sync.Mutex
	closed bool
}

// OpenMediaDevices opens the first camera mediadevices can negotiate at
// width x height, relaxing the size constraint when the driver refuses it.
func OpenMediaDevices(width, height int) (Camera, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(width)
			c.Height = prop.Int(height)
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		stream, err = mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: mediadevices: %v", ErrHardwareUnavailable, err)
		}
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: mediadevices returned no video track", ErrHardwareUnavailable)
	}

	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("%w: unexpected track type %T", ErrHardwareUnavailable, tracks[0])
	}

	return &mediaCamera{
		track:  track,
		reader: track.NewReader(false),
	}, nil
}

// ReadFrame reads the next decoded image and converts it to a BGR Mat.
func (c *mediaCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCameraNotOpen
	}

	img, release, err := c.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: mediadevices read: %v", ErrHardwareUnavailable, err)
	}
	defer release()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &mat, nil
}

// Close stops the track.
func (c *mediaCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.track.Close()
}
