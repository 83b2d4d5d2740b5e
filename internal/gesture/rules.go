package gesture

import (
	"github.com/ayusman/poetrycam/internal/detector"
	"gocv.io/x/gocv"
)

// OKMaxDistance is the largest thumb-to-index tip distance, in normalized
// image units, that still counts as a closed OK ring.
const OKMaxDistance = 0.05

// Score applies the hand sign rules to one hand and returns the OK and YA
// confidences in percent.
//
//   - OK: thumb and index tips closer than OKMaxDistance, index curled and
//     middle, ring and pinky extended. Confidence grows as the tips close.
//   - YA: index and middle extended, ring and pinky curled.
func Score(hand *detector.HandLandmarks) (ok, ya float64) {
	if hand == nil {
		return 0, 0
	}

	index := hand.Extended(detector.Index)
	middle := hand.Extended(detector.Middle)
	ring := hand.Extended(detector.Ring)
	pinky := hand.Extended(detector.Pinky)

	d := detector.Distance2D(hand.Points[detector.ThumbTip], hand.Points[detector.IndexTip])
	if d < OKMaxDistance {
		if middle && ring && pinky && !index {
			return (1 - d/OKMaxDistance) * 100, 0
		}
		return 0, 0
	}

	if index && middle && !ring && !pinky {
		return 0, 100
	}
	return 0, 0
}

// LandmarkClassifier classifies frames by running a hand Detector and
// applying Score to the first hand found.
type LandmarkClassifier struct {
	det      detector.Detector
	annotate bool
}

// NewLandmarkClassifier wraps det. With annotate set, observations carry a
// copy of the frame with the detected skeleton drawn on it.
func NewLandmarkClassifier(det detector.Detector, annotate bool) *LandmarkClassifier {
	return &LandmarkClassifier{det: det, annotate: annotate}
}

// Predict implements detector.Classifier.
func (c *LandmarkClassifier) Predict(frame *gocv.Mat) (detector.Observation, error) {
	hands, err := c.det.Detect(frame)
	if err != nil {
		return detector.Observation{}, err
	}

	var ok, ya float64
	if len(hands) > 0 {
		ok, ya = Score(&hands[0])
	}

	obs := detector.Observation{
		Confidences: map[detector.Label]float64{
			detector.LabelOK:   ok,
			detector.LabelYA:   ya,
			detector.LabelNone: 100 - max(ok, ya),
		},
	}

	if c.annotate && frame != nil && !frame.Empty() && len(hands) > 0 {
		annotated := frame.Clone()
		for i := range hands {
			detector.DrawHand(&annotated, &hands[i])
		}
		obs.Annotated = &annotated
	}
	return obs, nil
}

// Close closes the underlying detector.
func (c *LandmarkClassifier) Close() error {
	return c.det.Close()
}
