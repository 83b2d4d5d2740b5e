package app

import (
	"fmt"
	"strings"
)

// Mode selects how the appliance decides to take a photo.
type Mode string

const (
	// ModeManual ignores gestures; only triggers start a cycle.
	ModeManual Mode = "manual"
	// ModeTeachable uses the image classification model.
	ModeTeachable Mode = "teachable"
	// ModeMediaPipe uses hand landmarks and the OK / YA rules.
	ModeMediaPipe Mode = "mediapipe"
)

// Modes lists every mode in menu order.
var Modes = []Mode{ModeManual, ModeTeachable, ModeMediaPipe}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeManual, ModeTeachable, ModeMediaPipe:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Title is the label shown in menus.
func (m Mode) Title() string {
	switch m {
	case ModeTeachable:
		return "Teachable Machine"
	case ModeMediaPipe:
		return "MediaPipe"
	default:
		return "Manual"
	}
}
