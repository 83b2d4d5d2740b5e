// Package poem talks to the photo-analysis and poem-generation services.
// Both calls retry with backoff and, when a service stays unavailable,
// substitute a fixed offline result so a capture cycle always has a poem.
package poem

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServiceUnavailable is returned when a service cannot be reached or
	// answers with a non-success status.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrNoAPIKey is returned when a hosted service has no key configured.
	ErrNoAPIKey = errors.New("no api key configured")
	// ErrBadResponse is returned when a service answers with an unusable body.
	ErrBadResponse = errors.New("bad service response")
)

// Analysis describes a photo.
type Analysis struct {
	Description string   `json:"description"`
	Story       string   `json:"story"`
	Items       []string `json:"items"`
}

// OfflineAnalysis is used when the analysis service is unavailable.
func OfflineAnalysis() Analysis {
	return Analysis{
		Description: "A quiet moment held still by the camera. Light falls across the frame " +
			"and settles on the shapes in front of the lens. Nothing hurries. " +
			"The picture waits for someone to give it words.",
		Story: "Someone paused in front of a small camera, made a sign with their hand, " +
			"and asked it to remember this second for them.",
		Items: []string{"light", "a hand", "the camera", "a moment"},
	}
}

// OfflinePoem is used when the poem service is unavailable.
const OfflinePoem = `Held Second

A hand said now, and the shutter listened,
light folded itself into paper and ink.
What the lens could not name, it kept,
a small square of the world, given back to you.`

// Text renders the analysis for the analysis file.
func (a Analysis) Text() string {
	return fmt.Sprintf("Description: %s\nStory: %s\nItems: %s\n",
		a.Description, a.Story, strings.Join(a.Items, ", "))
}

// Validate rejects analyses missing any field.
func (a Analysis) Validate() error {
	switch {
	case strings.TrimSpace(a.Description) == "":
		return fmt.Errorf("%w: empty description", ErrBadResponse)
	case strings.TrimSpace(a.Story) == "":
		return fmt.Errorf("%w: empty story", ErrBadResponse)
	case a.Items == nil:
		return fmt.Errorf("%w: missing items", ErrBadResponse)
	}
	return nil
}

// ParseAnalysis decodes a model reply into an Analysis. The reply must be a
// JSON object with exactly description, story and items; a surrounding
// markdown code fence is tolerated.
func ParseAnalysis(reply string) (Analysis, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()

	var a Analysis
	if err := dec.Decode(&a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if err := a.Validate(); err != nil {
		return Analysis{}, err
	}
	return a, nil
}
