package detector

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D represents a 3D point in space with x, y, z coordinates.
// X and Y are normalized to the frame size.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Finger identifies a non-thumb finger by its MCP, PIP and tip landmarks.
type Finger struct {
	MCP, PIP, Tip int
}

var (
	Index  = Finger{IndexMCP, IndexPIP, IndexTip}
	Middle = Finger{MiddleMCP, MiddlePIP, MiddleTip}
	Ring   = Finger{RingMCP, RingPIP, RingTip}
	Pinky  = Finger{PinkyMCP, PinkyPIP, PinkyTip}
)

// Distance2D is the distance between a and b in the image plane.
func Distance2D(a, b Point3D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Extended reports whether f points up in the image: tip above PIP above
// MCP. Image Y grows downward.
func (h *HandLandmarks) Extended(f Finger) bool {
	tip, pip, mcp := h.Points[f.Tip], h.Points[f.PIP], h.Points[f.MCP]
	return tip.Y < pip.Y && pip.Y < mcp.Y
}

// distance3D calculates the Euclidean distance between two 3D points.
func distance3D(a, b Point3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Normalize normalizes the hand landmarks relative to wrist position and hand size.
// The normalized landmarks have the wrist at origin (0,0,0) and are scaled
// so that the distance from wrist to middle finger MCP is 1.0.
// Returns a new HandLandmarks instance with normalized points.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	normalized := &HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}

	wrist := h.Points[Wrist]
	for i := 0; i < NumLandmarks; i++ {
		normalized.Points[i] = Point3D{
			X: h.Points[i].X - wrist.X,
			Y: h.Points[i].Y - wrist.Y,
			Z: h.Points[i].Z - wrist.Z,
		}
	}

	scale := distance3D(Point3D{}, normalized.Points[MiddleMCP])
	if scale < 1e-10 {
		return normalized
	}

	for i := 0; i < NumLandmarks; i++ {
		normalized.Points[i].X /= scale
		normalized.Points[i].Y /= scale
		normalized.Points[i].Z /= scale
	}

	return normalized
}

// handConnections are the bone segments drawn by DrawHand.
var handConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

var (
	boneColor  = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	jointColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// DrawHand draws the hand skeleton onto frame.
func DrawHand(frame *gocv.Mat, h *HandLandmarks) {
	w, ht := float64(frame.Cols()), float64(frame.Rows())
	px := func(i int) image.Point {
		return image.Pt(int(h.Points[i].X*w), int(h.Points[i].Y*ht))
	}

	for _, c := range handConnections {
		gocv.Line(frame, px(c[0]), px(c[1]), boneColor, 2)
	}
	for i := 0; i < NumLandmarks; i++ {
		gocv.Circle(frame, px(i), 4, jointColor, -1)
	}
}
