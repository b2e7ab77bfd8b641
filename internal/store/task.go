package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// TaskRecord is the durable per-(user, module, task) progress state.
type TaskRecord struct {
	UserID          string
	ModuleID        string
	TaskID          string
	Status          Status
	Score           *float64
	Attempts        int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds int64
	ScreenshotPath  string
	Notes           string
}

// TaskRepo provides durable access to task records.
type TaskRepo interface {
	// Get returns the record for (user, module, task), or ErrNotFound.
	Get(ctx context.Context, userID, moduleID, taskID string) (*TaskRecord, error)

	// Put inserts or updates the record keyed by (user, module, task).
	Put(ctx context.Context, rec *TaskRecord) error

	// ListByUserModule returns all records for (user, module), ordered by task id.
	ListByUserModule(ctx context.Context, userID, moduleID string) ([]*TaskRecord, error)

	// ListByUser returns all records for a user, ordered by module then task id.
	ListByUser(ctx context.Context, userID string) ([]*TaskRecord, error)

	// CountCompleted returns the number of completed tasks for a user.
	CountCompleted(ctx context.Context, userID string) (int, error)

	// CountPerfectScores returns the number of tasks the user completed
	// with a score of 100.
	CountPerfectScores(ctx context.Context, userID string) (int, error)
}

type taskRepo struct {
	db *sql.DB
}

const taskColumns = `user_id, module_id, task_id, status, score, attempts,
started_at, completed_at, duration_seconds, screenshot_path, notes`

func (r *taskRepo) Get(ctx context.Context, userID, moduleID, taskID string) (*TaskRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM task_records
WHERE user_id = ? AND module_id = ? AND task_id = ?`,
		userID, moduleID, taskID)

	rec, err := scanTaskRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task record: %w", err)
	}
	return rec, nil
}

func (r *taskRepo) Put(ctx context.Context, rec *TaskRecord) error {
	const stmt = `
INSERT INTO task_records
  (user_id, module_id, task_id, status, score, attempts,
   started_at, completed_at, duration_seconds, screenshot_path, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, module_id, task_id) DO UPDATE SET
  status=excluded.status,
  score=excluded.score,
  attempts=excluded.attempts,
  started_at=excluded.started_at,
  completed_at=excluded.completed_at,
  duration_seconds=excluded.duration_seconds,
  screenshot_path=excluded.screenshot_path,
  notes=excluded.notes,
  updated_at=strftime('%Y-%m-%dT%H:%M:%SZ','now');
`
	_, err := r.db.ExecContext(ctx, stmt,
		rec.UserID,
		rec.ModuleID,
		rec.TaskID,
		string(rec.Status),
		nullFloat(rec.Score),
		rec.Attempts,
		nullTime(rec.StartedAt),
		nullTime(rec.CompletedAt),
		rec.DurationSeconds,
		nullStr(rec.ScreenshotPath),
		nullStr(rec.Notes),
	)
	if err != nil {
		return fmt.Errorf("put task record: %w", err)
	}
	return nil
}

func (r *taskRepo) ListByUserModule(ctx context.Context, userID, moduleID string) ([]*TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM task_records
WHERE user_id = ? AND module_id = ?
ORDER BY task_id`,
		userID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()
	return collectTaskRecords(rows)
}

func (r *taskRepo) ListByUser(ctx context.Context, userID string) ([]*TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM task_records
WHERE user_id = ?
ORDER BY module_id, task_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()
	return collectTaskRecords(rows)
}

func (r *taskRepo) CountCompleted(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM task_records WHERE user_id = ? AND status = ?`,
		userID, string(StatusCompleted)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return n, nil
}

func (r *taskRepo) CountPerfectScores(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM task_records
WHERE user_id = ? AND status = ? AND score = 100`,
		userID, string(StatusCompleted)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count perfect scores: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRecord(row rowScanner) (*TaskRecord, error) {
	var (
		rec         TaskRecord
		status      string
		score       sql.NullFloat64
		startedAt   sql.NullString
		completedAt sql.NullString
		screenshot  sql.NullString
		notes       sql.NullString
	)
	err := row.Scan(
		&rec.UserID, &rec.ModuleID, &rec.TaskID, &status, &score,
		&rec.Attempts, &startedAt, &completedAt, &rec.DurationSeconds,
		&screenshot, &notes,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if score.Valid {
		rec.Score = &score.Float64
	}
	if rec.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	rec.ScreenshotPath = screenshot.String
	rec.Notes = notes.String
	return &rec, nil
}

func collectTaskRecords(rows *sql.Rows) ([]*TaskRecord, error) {
	var recs []*TaskRecord
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task records: %w", err)
	}
	return recs, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
