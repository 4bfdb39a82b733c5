package features

import "github.com/ayusman/headnod/internal/detector"

// Extractor builds descriptors for a fixed layout.
// It is stateless and safe for concurrent use.
type Extractor struct {
	layout Layout
}

// NewExtractor returns an extractor for layout.
func NewExtractor(layout Layout) *Extractor {
	return &Extractor{layout: layout}
}

// Layout returns the layout the extractor was built with.
func (e *Extractor) Layout() Layout {
	return e.layout
}

// Dim returns the descriptor length.
func (e *Extractor) Dim() int {
	return e.layout.Dim()
}

// Extract returns the descriptor for face, or nil if no face was detected.
func (e *Extractor) Extract(face *detector.FaceLandmarks) []float64 {
	if face == nil {
		return nil
	}

	out := make([]float64, 0, e.layout.Dim())
	for _, idx := range e.layout.Vertical {
		out = append(out, face.Points[idx].Y)
	}
	for _, idx := range e.layout.Horizontal {
		out = append(out, face.Points[idx].X)
	}
	for _, idx := range e.layout.Vertical {
		out = append(out, face.Points[idx].Z)
	}
	return out
}
