package detector

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// ModelScript is the file name of the image-model service.
const ModelScript = "model_service.py"

// TeachableClassifier runs an exported image classification model in a
// subprocess. The service answers each frame with a probability per output
// index; LoadLabels maps indices to labels.
type TeachableClassifier struct {
	svc    *service
	labels []Label
}

// NewTeachableClassifier starts nothing; the model loads on the first frame.
func NewTeachableClassifier(config Config, labels []Label) (*TeachableClassifier, error) {
	if config.Script == "" {
		config.Script = findScript(ModelScript)
	}
	svc, err := newService(ModelScript, config)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &TeachableClassifier{svc: svc, labels: labels}, nil
}

// Predict classifies frame.
func (c *TeachableClassifier) Predict(frame *gocv.Mat) (Observation, error) {
	line, err := c.svc.request(frame)
	if err != nil {
		return Observation{}, err
	}
	return parseProbabilities(line, c.labels)
}

// Close stops the model process.
func (c *TeachableClassifier) Close() error {
	return c.svc.close()
}

// Labels returns the label order.
func (c *TeachableClassifier) Labels() []Label {
	return c.labels
}

func parseProbabilities(line []byte, labels []Label) (Observation, error) {
	var response struct {
		Probabilities []float64 `json:"probabilities"`
		Error         string    `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return Observation{}, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return Observation{}, fmt.Errorf("model service: %s", response.Error)
	}
	if len(response.Probabilities) < len(labels) {
		return Observation{}, fmt.Errorf("model returned %d outputs for %d labels", len(response.Probabilities), len(labels))
	}

	obs := Observation{Confidences: make(map[Label]float64, len(labels))}
	for i, l := range labels {
		obs.Confidences[l] = response.Probabilities[i] * 100
	}
	return obs, nil
}

// LoadLabels reads a labels file with one "<index> <label>" or "<label>"
// entry per line. A missing or empty file yields DefaultLabels and the
// error that caused the fallback.
func LoadLabels(path string) ([]Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultLabels, err
	}
	defer f.Close()

	var labels []Label
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, rest, ok := strings.Cut(line, " "); ok {
			line = strings.TrimSpace(rest)
		}
		labels = append(labels, Label(line))
	}
	if err := scanner.Err(); err != nil {
		return DefaultLabels, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return DefaultLabels, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
