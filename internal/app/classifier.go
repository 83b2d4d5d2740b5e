package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ayusman/poetrycam/internal/config"
	"github.com/ayusman/poetrycam/internal/detector"
	"github.com/ayusman/poetrycam/internal/gesture"
)

// ClassifierFactory builds the classifier for a mode. Manual mode needs no
// classifier and is never passed in.
type ClassifierFactory func(Mode) (detector.Classifier, error)

// NewClassifierFactory starts model services as described by cfg.
func NewClassifierFactory(cfg config.Gesture) ClassifierFactory {
	return func(m Mode) (detector.Classifier, error) {
		dc := detector.DefaultConfig()
		dc.Python = cfg.Python

		switch m {
		case ModeTeachable:
			labels, err := detector.LoadLabels(cfg.LabelsPath)
			if err != nil {
				slog.Warn("app: using default labels", "path", cfg.LabelsPath, "error", err)
			}
			dc.Script = existing(cfg.ModelScript)
			return detector.NewTeachableClassifier(dc, labels)

		case ModeMediaPipe:
			dc.Script = existing(cfg.HandScript)
			det, err := detector.NewMediaPipeDetector(dc)
			if err != nil {
				return nil, err
			}
			return gesture.NewLandmarkClassifier(det, true), nil
		}
		return nil, fmt.Errorf("no classifier for mode %q", m)
	}
}

// existing returns path when it names a file, otherwise "" so the detector
// searches its default locations.
func existing(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
