package store

import (
	"database/sql"
	"time"
)

// Video is the extraction record of one corpus video.
type Video struct {
	ID             int64     `json:"id"`
	Path           string    `json:"path"`
	Category       string    `json:"category"`
	Frames         int       `json:"frames"`
	FramesWithFace int       `json:"frames_with_face"`
	Sequences      int       `json:"sequences"`
	DetectionRate  float64   `json:"detection_rate"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// CategoryCount aggregates extraction records for one category.
type CategoryCount struct {
	Category         string
	Videos           int
	Sequences        int
	AvgDetectionRate float64
}

// VideoRepository provides access to extraction records.
type VideoRepository struct {
	db *sql.DB
}

// Videos returns the video repository for this store.
func (s *Store) Videos() *VideoRepository {
	return &VideoRepository{db: s.db}
}

// Upsert records v, replacing any earlier record for the same path.
func (r *VideoRepository) Upsert(v *Video) error {
	if v.ExtractedAt.IsZero() {
		v.ExtractedAt = time.Now()
	}

	err := r.db.QueryRow(
		`INSERT INTO extracted_videos (path, category, frames, frames_with_face, sequences, detection_rate, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			category = excluded.category,
			frames = excluded.frames,
			frames_with_face = excluded.frames_with_face,
			sequences = excluded.sequences,
			detection_rate = excluded.detection_rate,
			extracted_at = excluded.extracted_at
		 RETURNING id`,
		v.Path, v.Category, v.Frames, v.FramesWithFace, v.Sequences, v.DetectionRate, v.ExtractedAt,
	).Scan(&v.ID)
	return err
}

// ListByCategory returns records for category ordered by path.
func (r *VideoRepository) ListByCategory(category string) ([]*Video, error) {
	rows, err := r.db.Query(
		`SELECT id, path, category, frames, frames_with_face, sequences, detection_rate, extracted_at
		 FROM extracted_videos WHERE category = ? ORDER BY path`,
		category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v := &Video{}
		if err := rows.Scan(&v.ID, &v.Path, &v.Category, &v.Frames, &v.FramesWithFace, &v.Sequences, &v.DetectionRate, &v.ExtractedAt); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}

	return videos, rows.Err()
}

// Counts aggregates records per category, ordered by category name.
func (r *VideoRepository) Counts() ([]CategoryCount, error) {
	rows, err := r.db.Query(
		`SELECT category, COUNT(*), COALESCE(SUM(sequences), 0), COALESCE(AVG(detection_rate), 0)
		 FROM extracted_videos GROUP BY category ORDER BY category`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Videos, &c.Sequences, &c.AvgDetectionRate); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}
