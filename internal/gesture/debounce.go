// Package gesture turns per-frame confidences into stable triggers and
// provides the landmark rules for the OK and YA hand signs.
package gesture

import (
	"sort"
	"sync"

	"github.com/ayusman/poetrycam/internal/detector"
)

// DetectionRun is the current streak of a winning label.
type DetectionRun struct {
	Label detector.Label `json:"label"`
	Count int            `json:"count"`
}

// Debouncer requires the same label to win RequiredFrames ticks in a row
// before it fires. It is safe for concurrent use.
type Debouncer struct {
	threshold float64
	required  int

	mu  sync.Mutex
	run DetectionRun
}

// NewDebouncer creates a debouncer. A label wins a tick when its confidence
// is strictly above threshold (percent).
func NewDebouncer(threshold float64, required int) *Debouncer {
	if required < 1 {
		required = 1
	}
	return &Debouncer{
		threshold: threshold,
		required:  required,
		run:       DetectionRun{Label: detector.LabelNone},
	}
}

// Top returns the most confident non-None label strictly above threshold.
// Ties go to the label that sorts first.
func Top(conf map[detector.Label]float64, threshold float64) (detector.Label, float64, bool) {
	labels := make([]detector.Label, 0, len(conf))
	for l := range conf {
		if l != detector.LabelNone {
			labels = append(labels, l)
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	var (
		best     detector.Label
		bestConf float64
		found    bool
	)
	for _, l := range labels {
		c := conf[l]
		if c > threshold && (!found || c > bestConf) {
			best, bestConf, found = l, c, true
		}
	}
	return best, bestConf, found
}

// Observe feeds one tick of confidences and reports whether the run has
// reached the required length.
func (d *Debouncer) Observe(conf map[detector.Label]float64) (DetectionRun, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	label, _, ok := Top(conf, d.threshold)
	switch {
	case !ok:
		d.run = DetectionRun{Label: detector.LabelNone}
	case label == d.run.Label:
		d.run.Count++
	default:
		d.run = DetectionRun{Label: label, Count: 1}
	}

	return d.run, d.run.Count >= d.required
}

// Reset clears the run.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.run = DetectionRun{Label: detector.LabelNone}
}

// Run returns the current run.
func (d *Debouncer) Run() DetectionRun {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}

// Required returns the run length that fires.
func (d *Debouncer) Required() int {
	return d.required
}
