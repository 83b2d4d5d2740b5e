// Package detector turns frames into gesture confidences. Models run out of
// process; this package speaks to them and exposes the results as
// Observations over a closed label set.
package detector

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// Label is a gesture class.
type Label string

// Gesture vocabulary. LabelNone is the "no gesture" class.
const (
	LabelOK   Label = "OK"
	LabelYA   Label = "YA"
	LabelNone Label = "None"
)

// DefaultLabels is the label order used when no labels file is available.
var DefaultLabels = []Label{LabelOK, LabelYA, LabelNone}

// ErrServiceNotFound is returned when a model service script is missing.
var ErrServiceNotFound = errors.New("model service not found")

// Observation holds per-label confidences in percent for one frame.
// Confidences need not sum to 100.
type Observation struct {
	Confidences map[Label]float64

	// Annotated is an optional copy of the frame with the model's markup.
	// The receiver owns it.
	Annotated *gocv.Mat
}

// Confidence returns the confidence for l, zero when absent.
func (o Observation) Confidence(l Label) float64 {
	return o.Confidences[l]
}

// Close releases the annotated frame, if any.
func (o *Observation) Close() {
	if o.Annotated != nil {
		o.Annotated.Close()
		o.Annotated = nil
	}
}

// Classifier produces an Observation for a frame.
type Classifier interface {
	Predict(frame *gocv.Mat) (Observation, error)
	Close() error
}

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the model services.
type Config struct {
	// Script is the service entry point. Empty means search the usual places.
	Script string

	// Python is the interpreter. Empty means a venv python or python3.
	Python string

	// Args are extra arguments passed to the script.
	Args []string

	// MaxHands is the maximum number of hands to detect.
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// Timeout bounds a single request to the service.
	Timeout time.Duration

	// IdleTimeout stops the service after this long without requests.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.7,
		MinTrackingConf: 0.5,
		Timeout:         3 * time.Second,
		IdleTimeout:     30 * time.Second,
	}
}
