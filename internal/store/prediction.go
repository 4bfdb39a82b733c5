package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Prediction is a gated live decision.
type Prediction struct {
	ID            int64              `json:"id"`
	SessionID     string             `json:"session_id"`
	RunID         string             `json:"run_id,omitempty"`
	Gesture       string             `json:"gesture"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	CreatedAt     time.Time          `json:"created_at"`
}

// PredictionRepository provides access to live predictions.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create inserts p and sets its ID.
func (r *PredictionRepository) Create(p *Prediction) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	probs, err := json.Marshal(p.Probabilities)
	if err != nil {
		return fmt.Errorf("encode probabilities: %w", err)
	}

	result, err := r.db.Exec(
		`INSERT INTO predictions (session_id, run_id, gesture, confidence, probabilities, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.RunID, p.Gesture, p.Confidence, string(probs), p.CreatedAt,
	)
	if err != nil {
		return err
	}

	p.ID, err = result.LastInsertId()
	return err
}

// ListBySession returns a session's predictions in insertion order.
func (r *PredictionRepository) ListBySession(sessionID string) ([]*Prediction, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, run_id, gesture, confidence, probabilities, created_at
		 FROM predictions WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*Prediction
	for rows.Next() {
		p := &Prediction{}
		var probs string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.RunID, &p.Gesture, &p.Confidence, &probs, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(probs), &p.Probabilities); err != nil {
			return nil, fmt.Errorf("decode probabilities of prediction %d: %w", p.ID, err)
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// CountByGesture returns the number of predictions per gesture for a session.
// An empty session ID counts every session.
func (r *PredictionRepository) CountByGesture(sessionID string) (map[string]int, error) {
	query := `SELECT gesture, COUNT(*) FROM predictions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY gesture`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var gesture string
		var n int
		if err := rows.Scan(&gesture, &n); err != nil {
			return nil, err
		}
		counts[gesture] = n
	}

	return counts, rows.Err()
}
