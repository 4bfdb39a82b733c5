package dataset

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// CategoryStats summarizes one corpus category.
type CategoryStats struct {
	Videos    int `json:"videos"`
	Sequences int `json:"sequences"`
	// Insufficient counts videos that yielded no sequence.
	Insufficient int `json:"insufficient"`
	// Unreadable counts videos that could not be opened.
	Unreadable int `json:"unreadable"`
	// AvgFaceDetectionRate is the mean per-video detection rate in [0,1],
	// averaged over every listed video.
	AvgFaceDetectionRate float64 `json:"-"`

	rateSum float64
}

// Stats summarizes one extraction run.
type Stats struct {
	ExtractionTime time.Duration
	SequenceLength int
	TotalSequences int
	Categories     map[string]*CategoryStats
}

func newStats(sequenceLength int) *Stats {
	return &Stats{
		SequenceLength: sequenceLength,
		Categories:     make(map[string]*CategoryStats),
	}
}

func (s *Stats) add(category string, videos int) {
	s.Categories[category] = &CategoryStats{Videos: videos}
}

func (s *Stats) record(res *VideoResult) {
	cs, ok := s.Categories[res.Category]
	if !ok {
		cs = &CategoryStats{}
		s.Categories[res.Category] = cs
	}

	cs.rateSum += res.DetectionRate
	cs.Sequences += len(res.Sequences)
	s.TotalSequences += len(res.Sequences)

	switch {
	case res.Err == nil:
	case errors.Is(res.Err, ErrInsufficientData):
		cs.Insufficient++
	default:
		cs.Unreadable++
	}
}

func (s *Stats) finish(elapsed time.Duration) {
	s.ExtractionTime = elapsed
	for _, cs := range s.Categories {
		if cs.Videos > 0 {
			cs.AvgFaceDetectionRate = cs.rateSum / float64(cs.Videos)
		}
	}
}

type categoryStatsJSON struct {
	Videos               int    `json:"videos"`
	Sequences            int    `json:"sequences"`
	Insufficient         int    `json:"insufficient"`
	Unreadable           int    `json:"unreadable"`
	AvgFaceDetectionRate string `json:"avg_face_detection_rate"`
}

type statsJSON struct {
	ExtractionTime string                       `json:"extraction_time"`
	SequenceLength int                          `json:"sequence_length"`
	TotalSequences int                          `json:"total_sequences"`
	Categories     map[string]categoryStatsJSON `json:"categories"`
}

// MarshalJSON renders durations and rates in human readable form.
func (s *Stats) MarshalJSON() ([]byte, error) {
	out := statsJSON{
		ExtractionTime: fmt.Sprintf("%.2f seconds", s.ExtractionTime.Seconds()),
		SequenceLength: s.SequenceLength,
		TotalSequences: s.TotalSequences,
		Categories:     make(map[string]categoryStatsJSON, len(s.Categories)),
	}
	for name, cs := range s.Categories {
		out.Categories[name] = categoryStatsJSON{
			Videos:               cs.Videos,
			Sequences:            cs.Sequences,
			Insufficient:         cs.Insufficient,
			Unreadable:           cs.Unreadable,
			AvgFaceDetectionRate: fmt.Sprintf("%.1f%%", cs.AvgFaceDetectionRate*100),
		}
	}
	return json.Marshal(out)
}

// WriteStats writes s as indented JSON to path.
func WriteStats(path string, s *Stats) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}
