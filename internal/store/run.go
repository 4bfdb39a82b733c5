package store

import (
	"database/sql"
	"errors"
	"time"
)

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one invocation of the trainer.
type Run struct {
	ID             string     `json:"id"`
	Status         RunStatus  `json:"status"`
	Layout         string     `json:"layout"`
	SequenceLength int        `json:"sequence_length"`
	Samples        int        `json:"samples"`
	Epochs         int        `json:"epochs"`
	MaxEpochs      int        `json:"max_epochs"`
	TrainAccuracy  float64    `json:"train_accuracy"`
	ValAccuracy    float64    `json:"val_accuracy"`
	TrainLoss      float64    `json:"train_loss"`
	ValLoss        float64    `json:"val_loss"`
	ArtifactDir    string     `json:"artifact_dir"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunResult holds the final metrics of a completed run.
type RunResult struct {
	Epochs        int
	TrainAccuracy float64
	ValAccuracy   float64
	TrainLoss     float64
	ValLoss       float64
	ArtifactDir   string
}

// RunRepository provides access to training runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the training run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a run in the running state.
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning

	_, err := r.db.Exec(
		`INSERT INTO training_runs (id, status, layout, sequence_length, samples, max_epochs, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Layout, run.SequenceLength, run.Samples, run.MaxEpochs, run.StartedAt,
	)
	return err
}

// Complete marks a run as completed with its final metrics.
func (r *RunRepository) Complete(id string, res RunResult) error {
	return r.finish(
		`UPDATE training_runs SET status = ?, epochs = ?, train_accuracy = ?, val_accuracy = ?,
		 train_loss = ?, val_loss = ?, artifact_dir = ?, finished_at = ? WHERE id = ?`,
		string(RunCompleted), res.Epochs, res.TrainAccuracy, res.ValAccuracy,
		res.TrainLoss, res.ValLoss, res.ArtifactDir, time.Now(), id,
	)
}

// Fail marks a run as failed.
func (r *RunRepository) Fail(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(
		`UPDATE training_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(RunFailed), msg, time.Now(), id,
	)
}

func (r *RunRepository) finish(query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, status, layout, sequence_length, samples, epochs, max_epochs,
	train_accuracy, val_accuracy, train_loss, val_loss, artifact_dir, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var status string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &status, &run.Layout, &run.SequenceLength, &run.Samples, &run.Epochs, &run.MaxEpochs,
		&run.TrainAccuracy, &run.ValAccuracy, &run.TrainLoss, &run.ValLoss, &run.ArtifactDir, &run.Error,
		&run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first. A limit of 0 returns all runs.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}
