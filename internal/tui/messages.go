package tui

import "github.com/ayusman/poetrycam/internal/status"

// StatusMsg carries a status update from the hub.
type StatusMsg struct {
	Status status.Status
}

// StatusClosedMsg is sent when the status subscription ends.
type StatusClosedMsg struct{}

// PoemLoadedMsg carries the text of the most recent poem.
type PoemLoadedMsg struct {
	Path string
	Text string
}

// ActionResultMsg reports the result of a key-triggered action.
type ActionResultMsg struct {
	Action string
	Err    error
}

// ClearTransientErrorMsg clears a transient error.
type ClearTransientErrorMsg struct{}
