package store

import (
	"database/sql"
	"time"
)

// Trial is one operator-confirmed accuracy test: the gesture the operator
// performed and what the classifier decided.
type Trial struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	PredictionID *int64    `json:"prediction_id,omitempty"`
	Expected     string    `json:"expected"`
	Predicted    string    `json:"predicted"`
	Confidence   float64   `json:"confidence"`
	Correct      bool      `json:"correct"`
	CreatedAt    time.Time `json:"created_at"`
}

// TrialSummary aggregates trials for one expected gesture.
type TrialSummary struct {
	Expected      string         `json:"expected"`
	Total         int            `json:"total"`
	Correct       int            `json:"correct"`
	Accuracy      float64        `json:"accuracy"`
	AvgConfidence float64        `json:"avg_confidence"`
	Confusions    map[string]int `json:"confusions"`
}

// TrialRepository provides access to accuracy trials.
type TrialRepository struct {
	db *sql.DB
}

// Trials returns the trial repository for this store.
func (s *Store) Trials() *TrialRepository {
	return &TrialRepository{db: s.db}
}

// Create inserts t and sets its ID. Correct is derived from Expected and Predicted.
func (r *TrialRepository) Create(t *Trial) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Correct = t.Expected == t.Predicted

	var predictionID sql.NullInt64
	if t.PredictionID != nil {
		predictionID = sql.NullInt64{Int64: *t.PredictionID, Valid: true}
	}

	result, err := r.db.Exec(
		`INSERT INTO trials (session_id, prediction_id, expected, predicted, confidence, correct, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, predictionID, t.Expected, t.Predicted, t.Confidence, t.Correct, t.CreatedAt,
	)
	if err != nil {
		return err
	}

	t.ID, err = result.LastInsertId()
	return err
}

// List returns all trials in insertion order.
func (r *TrialRepository) List() ([]*Trial, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, prediction_id, expected, predicted, confidence, correct, created_at
		 FROM trials ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trials []*Trial
	for rows.Next() {
		t := &Trial{}
		var predictionID sql.NullInt64
		if err := rows.Scan(&t.ID, &t.SessionID, &predictionID, &t.Expected, &t.Predicted, &t.Confidence, &t.Correct, &t.CreatedAt); err != nil {
			return nil, err
		}
		if predictionID.Valid {
			id := predictionID.Int64
			t.PredictionID = &id
		}
		trials = append(trials, t)
	}

	return trials, rows.Err()
}

// Summary aggregates trials per expected gesture, ordered by gesture name.
func (r *TrialRepository) Summary() ([]*TrialSummary, error) {
	rows, err := r.db.Query(
		`SELECT expected, predicted, COUNT(*), SUM(confidence)
		 FROM trials GROUP BY expected, predicted ORDER BY expected, predicted`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*TrialSummary
	var current *TrialSummary
	var confidenceSum float64

	flush := func() {
		if current == nil {
			return
		}
		if current.Total > 0 {
			current.Accuracy = float64(current.Correct) / float64(current.Total)
			current.AvgConfidence = confidenceSum / float64(current.Total)
		}
		summaries = append(summaries, current)
	}

	for rows.Next() {
		var expected, predicted string
		var n int
		var sum float64
		if err := rows.Scan(&expected, &predicted, &n, &sum); err != nil {
			return nil, err
		}

		if current == nil || current.Expected != expected {
			flush()
			current = &TrialSummary{Expected: expected, Confusions: map[string]int{}}
			confidenceSum = 0
		}

		current.Total += n
		confidenceSum += sum
		if expected == predicted {
			current.Correct += n
		} else {
			current.Confusions[predicted] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()

	return summaries, nil
}
