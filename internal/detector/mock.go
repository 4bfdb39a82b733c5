package detector

import (
	"math"
	"math/rand/v2"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu       sync.Mutex
	face     *FaceLandmarks
	script   []*FaceLandmarks
	scripted bool
	next     int
	err      error
	calls    int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFace sets the face returned by every Detect call. nil simulates a miss.
func (m *MockDetector) SetFace(face *FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.face = face
	m.script = nil
	m.scripted = false
}

// SetSequence makes Detect return the given faces in order, one per call.
// Once exhausted, Detect reports no face.
func (m *MockDetector) SetSequence(faces []*FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = faces
	m.scripted = true
	m.next = 0
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Detect invocations.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured face or error. The frame is ignored.
func (m *MockDetector) Detect(frame *gocv.Mat) (*FaceLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if !m.scripted {
		return m.face, nil
	}
	if m.next >= len(m.script) {
		return nil, nil
	}
	face := m.script[m.next]
	m.next++
	return face, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// NeutralFace returns a frontal face at rest, centered in the frame.
// Points outside the named landmarks sit on a coarse grid over the face box.
func NeutralFace() *FaceLandmarks {
	face := &FaceLandmarks{Score: 0.97}

	for i := 0; i < NumLandmarks; i++ {
		col := float64(i%22) / 21
		row := float64(i/22) / 21
		face.Points[i] = Point3D{
			X: 0.38 + 0.24*col,
			Y: 0.30 + 0.40*row,
			Z: -0.02 + 0.04*math.Abs(col-0.5),
		}
	}

	face.Points[NoseTip] = Point3D{X: 0.50, Y: 0.52, Z: -0.060}
	face.Points[ForeheadCenter] = Point3D{X: 0.50, Y: 0.30, Z: -0.020}
	face.Points[ChinCenter] = Point3D{X: 0.50, Y: 0.72, Z: -0.010}
	face.Points[LeftEyeOuter] = Point3D{X: 0.40, Y: 0.44, Z: 0.005}
	face.Points[RightEyeOuter] = Point3D{X: 0.60, Y: 0.44, Z: 0.005}
	face.Points[MouthLeft] = Point3D{X: 0.45, Y: 0.62, Z: -0.015}
	face.Points[MouthRight] = Point3D{X: 0.55, Y: 0.62, Z: -0.015}
	face.Points[LowerLipCenter] = Point3D{X: 0.50, Y: 0.66, Z: -0.025}

	return face
}

// Motion is a synthetic head movement.
type Motion int

const (
	MotionStill Motion = iota
	MotionNod
	MotionShake
)

func (m Motion) String() string {
	switch m {
	case MotionNod:
		return "nod"
	case MotionShake:
		return "shake"
	default:
		return "still"
	}
}

// MotionParams controls the shape of a synthetic movement.
type MotionParams struct {
	// Amplitude is the peak displacement in normalized image units.
	Amplitude float64
	// Period is the oscillation period in frames.
	Period float64
	// Phase is the starting phase in radians.
	Phase float64
	// Noise is the standard deviation of per-point jitter.
	Noise float64
}

// DefaultMotionParams returns parameters resembling a deliberate nod or shake at 30 fps.
func DefaultMotionParams() MotionParams {
	return MotionParams{
		Amplitude: 0.04,
		Period:    10,
		Noise:     0.002,
	}
}

// Synthesize produces n frames of the given motion starting from base.
// A nil base uses NeutralFace. A nil rng disables noise.
//
// A nod rotates about the horizontal axis: points move vertically, with the
// chin and forehead swinging further than the nose and depth following the
// pitch. A shake rotates about the vertical axis: points move horizontally and
// the eye corners move in depth in opposite directions.
func Synthesize(motion Motion, n int, base *FaceLandmarks, p MotionParams, rng *rand.Rand) []*FaceLandmarks {
	if base == nil {
		base = NeutralFace()
	}
	period := p.Period
	if period <= 0 {
		period = 1
	}

	frames := make([]*FaceLandmarks, n)
	for t := 0; t < n; t++ {
		s := p.Amplitude * math.Sin(2*math.Pi*float64(t)/period+p.Phase)
		face := &FaceLandmarks{Score: base.Score}

		for i := 0; i < NumLandmarks; i++ {
			pt := base.Points[i]
			switch motion {
			case MotionNod:
				lever := 1 + 2*math.Abs(pt.Y-base.Points[NoseTip].Y)
				pt.Y += s * lever
				pt.Z += 0.5 * s * (pt.Y - base.Points[NoseTip].Y)
			case MotionShake:
				pt.X += s
				pt.Z += 2 * s * (pt.X - base.Points[NoseTip].X)
			}
			if rng != nil && p.Noise > 0 {
				pt.X += rng.NormFloat64() * p.Noise
				pt.Y += rng.NormFloat64() * p.Noise
				pt.Z += rng.NormFloat64() * p.Noise
			}
			face.Points[i] = pt
		}
		frames[t] = face
	}

	return frames
}
