package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	hands []HandLandmarks
	err   error
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// MockClassifier replays scripted observations. After the script runs out
// it keeps returning the last entry.
type MockClassifier struct {
	mu     sync.Mutex
	script []map[Label]float64
	errs   []error
	calls  int
	closed bool
}

// NewMockClassifier returns a classifier replaying confidences in order.
func NewMockClassifier(script ...map[Label]float64) *MockClassifier {
	return &MockClassifier{script: script}
}

// SetScript replaces the script and rewinds it.
func (m *MockClassifier) SetScript(script ...map[Label]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
	m.errs = nil
	m.calls = 0
}

// FailAt makes call number i (zero based) return err.
func (m *MockClassifier) FailAt(i int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= i {
		m.errs = append(m.errs, nil)
	}
	m.errs[i] = err
}

// Predict returns the next scripted observation.
func (m *MockClassifier) Predict(frame *gocv.Mat) (Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.calls
	m.calls++

	if i < len(m.errs) && m.errs[i] != nil {
		return Observation{}, m.errs[i]
	}
	if len(m.script) == 0 {
		return Observation{Confidences: map[Label]float64{LabelNone: 100}}, nil
	}
	if i >= len(m.script) {
		i = len(m.script) - 1
	}

	conf := make(map[Label]float64, len(m.script[i]))
	for l, c := range m.script[i] {
		conf[l] = c
	}
	return Observation{Confidences: conf}, nil
}

// Calls returns how many times Predict ran.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the classifier closed.
func (m *MockClassifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockClassifier) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// OKLandmarks returns a preset hand making the OK sign: thumb and index tips
// touching, the other three fingers raised.
func OKLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.56, Y: 0.76, Z: 0.0}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.60, Y: 0.70, Z: 0.0}
	landmarks.Points[ThumbIP] = Point3D{X: 0.61, Y: 0.64, Z: 0.0}
	landmarks.Points[ThumbTip] = Point3D{X: 0.60, Y: 0.60, Z: 0.0}

	// Index curled down to meet the thumb
	landmarks.Points[IndexMCP] = Point3D{X: 0.56, Y: 0.66, Z: 0.0}
	landmarks.Points[IndexPIP] = Point3D{X: 0.58, Y: 0.56, Z: -0.02}
	landmarks.Points[IndexDIP] = Point3D{X: 0.60, Y: 0.56, Z: -0.03}
	landmarks.Points[IndexTip] = Point3D{X: 0.61, Y: 0.59, Z: -0.02}

	// Middle, ring and pinky extended upward
	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.66, Z: 0.0}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.52, Z: 0.0}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.40, Z: 0.0}
	landmarks.Points[MiddleTip] = Point3D{X: 0.50, Y: 0.28, Z: 0.0}

	landmarks.Points[RingMCP] = Point3D{X: 0.45, Y: 0.68, Z: 0.0}
	landmarks.Points[RingPIP] = Point3D{X: 0.43, Y: 0.55, Z: 0.0}
	landmarks.Points[RingDIP] = Point3D{X: 0.42, Y: 0.45, Z: 0.0}
	landmarks.Points[RingTip] = Point3D{X: 0.42, Y: 0.35, Z: 0.0}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.40, Y: 0.70, Z: 0.0}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.37, Y: 0.60, Z: 0.0}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.35, Y: 0.50, Z: 0.0}
	landmarks.Points[PinkyTip] = Point3D{X: 0.34, Y: 0.42, Z: 0.0}

	return landmarks
}

// YALandmarks returns a preset hand making the V sign: index and middle
// raised, ring and pinky curled.
func YALandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb folded across the palm
	landmarks.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.76, Z: 0.0}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.56, Y: 0.72, Z: -0.02}
	landmarks.Points[ThumbIP] = Point3D{X: 0.52, Y: 0.70, Z: -0.03}
	landmarks.Points[ThumbTip] = Point3D{X: 0.48, Y: 0.70, Z: -0.03}

	// Index and middle extended, spread apart
	landmarks.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.68, Z: 0.0}
	landmarks.Points[IndexPIP] = Point3D{X: 0.58, Y: 0.55, Z: 0.0}
	landmarks.Points[IndexDIP] = Point3D{X: 0.60, Y: 0.45, Z: 0.0}
	landmarks.Points[IndexTip] = Point3D{X: 0.62, Y: 0.35, Z: 0.0}

	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.66, Z: 0.0}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.49, Y: 0.52, Z: 0.0}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.48, Y: 0.40, Z: 0.0}
	landmarks.Points[MiddleTip] = Point3D{X: 0.47, Y: 0.28, Z: 0.0}

	// Ring and pinky curled (tips fold back below the PIP joints)
	landmarks.Points[RingMCP] = Point3D{X: 0.45, Y: 0.70, Z: -0.02}
	landmarks.Points[RingPIP] = Point3D{X: 0.45, Y: 0.66, Z: -0.05}
	landmarks.Points[RingDIP] = Point3D{X: 0.44, Y: 0.69, Z: -0.04}
	landmarks.Points[RingTip] = Point3D{X: 0.44, Y: 0.72, Z: -0.02}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.40, Y: 0.72, Z: -0.02}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.40, Y: 0.69, Z: -0.05}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.39, Y: 0.72, Z: -0.04}
	landmarks.Points[PinkyTip] = Point3D{X: 0.39, Y: 0.75, Z: -0.02}

	return landmarks
}

// FistLandmarks returns a preset closed fist: no finger extended.
func FistLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	landmarks.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.0}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.58, Y: 0.70, Z: -0.02}
	landmarks.Points[ThumbIP] = Point3D{X: 0.55, Y: 0.66, Z: -0.04}
	landmarks.Points[ThumbTip] = Point3D{X: 0.51, Y: 0.66, Z: -0.05}

	fingers := []struct {
		f Finger
		x float64
	}{{Index, 0.55}, {Middle, 0.50}, {Ring, 0.45}, {Pinky, 0.40}}
	for _, fx := range fingers {
		landmarks.Points[fx.f.MCP] = Point3D{X: fx.x, Y: 0.68, Z: -0.02}
		landmarks.Points[fx.f.PIP] = Point3D{X: fx.x, Y: 0.64, Z: -0.05}
		landmarks.Points[fx.f.MCP+2] = Point3D{X: fx.x - 0.01, Y: 0.67, Z: -0.04}
		landmarks.Points[fx.f.Tip] = Point3D{X: fx.x - 0.01, Y: 0.70, Z: -0.02}
	}

	return landmarks
}
