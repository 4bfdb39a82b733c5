// Package features turns one detected face into the fixed-size motion
// descriptor consumed by the windower and the classifier.
package features

import (
	"errors"
	"fmt"

	"github.com/ayusman/headnod/internal/detector"
)

// Layout identifiers recorded in every dataset and model artifact.
const (
	MotionLayoutID = "motion9.v1"
	LegacyLayoutID = "full24.v0"
)

// ErrLayoutMismatch is returned when an artifact was produced under a
// different descriptor layout than the one in use.
var ErrLayoutMismatch = errors.New("descriptor layout mismatch")

// Layout names the landmark subsets a descriptor is built from.
//
// The descriptor concatenates the Y of the vertical subset, the X of the
// horizontal subset, and the Z of the vertical subset, in that order.
type Layout struct {
	ID         string
	Vertical   []int
	Horizontal []int
}

// MotionLayout is the reference layout: nose tip, forehead and chin for
// vertical motion, nose tip and both outer eye corners for horizontal motion.
func MotionLayout() Layout {
	return Layout{
		ID:         MotionLayoutID,
		Vertical:   []int{detector.NoseTip, detector.ForeheadCenter, detector.ChinCenter},
		Horizontal: []int{detector.NoseTip, detector.LeftEyeOuter, detector.RightEyeOuter},
	}
}

// legacyLandmarks is the landmark set of the earlier full-coordinate layout.
// It is kept only to produce a precise rejection message.
var legacyLandmarks = []int{
	detector.NoseTip, detector.ForeheadCenter, detector.ChinCenter,
	detector.LeftEyeOuter, detector.RightEyeOuter,
	detector.MouthLeft, detector.MouthRight, detector.LowerLipCenter,
}

// LegacyDim is the descriptor size of the legacy layout.
var LegacyDim = len(legacyLandmarks) * 3

// NewLayout validates and returns a layout.
func NewLayout(id string, vertical, horizontal []int) (Layout, error) {
	if id == "" {
		return Layout{}, errors.New("layout id is required")
	}
	if id == LegacyLayoutID {
		return Layout{}, fmt.Errorf("%w: %s is not supported", ErrLayoutMismatch, LegacyLayoutID)
	}
	if len(vertical) == 0 || len(horizontal) == 0 {
		return Layout{}, errors.New("layout needs a vertical and a horizontal subset")
	}
	for _, idx := range append(append([]int{}, vertical...), horizontal...) {
		if idx < 0 || idx >= detector.NumLandmarks {
			return Layout{}, fmt.Errorf("landmark index %d out of range [0,%d)", idx, detector.NumLandmarks)
		}
	}

	return Layout{
		ID:         id,
		Vertical:   append([]int(nil), vertical...),
		Horizontal: append([]int(nil), horizontal...),
	}, nil
}

// Dim returns the descriptor length.
func (l Layout) Dim() int {
	return 2*len(l.Vertical) + len(l.Horizontal)
}

// CheckCompatible reports whether an artifact recorded with the given layout
// id and descriptor size can be used with l.
func (l Layout) CheckCompatible(id string, dim int) error {
	if id == LegacyLayoutID {
		return fmt.Errorf("%w: artifact uses legacy layout %s (%d values), this build extracts %s (%d values); re-run extraction and training",
			ErrLayoutMismatch, LegacyLayoutID, LegacyDim, l.ID, l.Dim())
	}
	if id != l.ID {
		return fmt.Errorf("%w: artifact layout %q, extractor layout %q", ErrLayoutMismatch, id, l.ID)
	}
	if dim != l.Dim() {
		return fmt.Errorf("%w: artifact descriptor dim %d, extractor dim %d", ErrLayoutMismatch, dim, l.Dim())
	}
	return nil
}
