// Package detector provides face landmark detection interfaces and types for head gesture recognition.
package detector

// Face mesh landmark indices following the MediaPipe Face Mesh topology.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
const (
	NoseTip        = 1
	ForeheadCenter = 10
	LeftEyeOuter   = 33
	MouthLeft      = 61
	ChinCenter     = 152
	LowerLipCenter = 199
	RightEyeOuter  = 263
	MouthRight     = 291

	// NumLandmarks is the mesh size with refined iris landmarks enabled.
	NumLandmarks = 478
)

// Point3D represents a 3D point in normalized image coordinates.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FaceLandmarks represents one detected face mesh.
// A nil *FaceLandmarks means no face was found in the frame.
type FaceLandmarks struct {
	Points [NumLandmarks]Point3D `json:"points"`
	Score  float64               `json:"score"`
}

// Translate returns a copy of the face with every point shifted by (dx, dy, dz).
func (f *FaceLandmarks) Translate(dx, dy, dz float64) *FaceLandmarks {
	if f == nil {
		return nil
	}

	moved := &FaceLandmarks{Score: f.Score}
	for i := 0; i < NumLandmarks; i++ {
		moved.Points[i] = Point3D{
			X: f.Points[i].X + dx,
			Y: f.Points[i].Y + dy,
			Z: f.Points[i].Z + dz,
		}
	}

	return moved
}
