package detector

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gocv.io/x/gocv"
)

// HandScript is the file name of the hand landmark service.
const HandScript = "hand_service.py"

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
type MediaPipeDetector struct {
	svc *service
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	if config.Script == "" {
		config.Script = findScript(HandScript)
	}
	if config.MaxHands > 0 {
		config.Args = append(config.Args,
			"--max-hands", strconv.Itoa(config.MaxHands),
			"--min-detection", strconv.FormatFloat(config.MinConfidence, 'f', 2, 64),
			"--min-tracking", strconv.FormatFloat(config.MinTrackingConf, 'f', 2, 64),
		)
	}

	svc, err := newService(HandScript, config)
	if err != nil {
		return nil, err
	}
	return &MediaPipeDetector{svc: svc}, nil
}

// Detect analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	line, err := d.svc.request(frame)
	if err != nil {
		return nil, err
	}
	return parseHands(line)
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	return d.svc.close()
}

func parseHands(line []byte) ([]HandLandmarks, error) {
	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("hand service: %s", response.Error)
	}

	// Convert to HandLandmarks
	result := make([]HandLandmarks, len(response.Hands))
	for i, h := range response.Hands {
		result[i] = h.toHandLandmarks()
	}
	return result, nil
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}

	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		lm.Points[i] = Point3D{
			X: h.Points[i].X,
			Y: h.Points[i].Y,
			Z: h.Points[i].Z,
		}
	}

	return lm
}
