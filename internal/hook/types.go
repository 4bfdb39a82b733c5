// Package hook runs external commands when the live loop confirms a gesture.
// Each hook lives in its own directory with a hook.json manifest naming the
// executable and the gestures it reacts to.
package hook

import (
	"encoding/json"
	"time"
)

// ManifestFile is the manifest name inside a hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook and the gestures bound to it.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Gestures lists the labels that trigger the hook, e.g. "YES".
	Gestures []string `json:"gestures"`
	// MinConfidence is an extra per-hook threshold on top of the session's.
	MinConfidence float64         `json:"min_confidence,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// Event is written as JSON to the hook's stdin.
type Event struct {
	Gesture       string             `json:"gesture"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Config        json.RawMessage    `json:"config,omitempty"`
}

// Response is the JSON a hook prints on stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Matches reports whether the hook reacts to gesture at confidence.
func (h *Hook) Matches(gesture string, confidence float64) bool {
	if confidence < h.Manifest.MinConfidence {
		return false
	}
	for _, g := range h.Manifest.Gestures {
		if g == gesture {
			return true
		}
	}
	return false
}
