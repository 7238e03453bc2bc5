package asyncx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohans/snaptutor/internal/database"
)

// Store abstracts persistence for task lifecycle records.
// Implementations must be safe for concurrent use.
type Store interface {
	InsertPending(ctx context.Context, rec TaskRecord) error
	MarkProcessing(ctx context.Context, taskID string, at time.Time) error
	MarkCompleted(ctx context.Context, taskID string, result string, at time.Time) error
	MarkFailed(ctx context.Context, taskID string, errorMsg string, at time.Time) error
	GetByID(ctx context.Context, taskID string) (*TaskRecord, error)
}

// SQLStore is backed by the task_status table of a relational DB
// (Postgres or SQLite). Table schema lives in internal/database.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) InsertPending(ctx context.Context, rec TaskRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: new task %s must be pending, got %s", ErrInvalidRecord, rec.ID, rec.Status)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	q := s.dialect.Rebind(`INSERT INTO task_status (task_id, user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.UserID, string(StatusPending), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLStore) MarkProcessing(ctx context.Context, taskID string, at time.Time) error {
	return s.transition(ctx, taskID, StatusProcessing, nil, nil, at)
}

func (s *SQLStore) MarkCompleted(ctx context.Context, taskID string, result string, at time.Time) error {
	return s.transition(ctx, taskID, StatusCompleted, &result, nil, at)
}

func (s *SQLStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, at time.Time) error {
	return s.transition(ctx, taskID, StatusFailed, nil, &errorMsg, at)
}

// transition moves a task to next only if its current status is one of the
// allowed predecessors. The guard lives in the WHERE clause so concurrent
// writers cannot move a terminal task.
func (s *SQLStore) transition(ctx context.Context, taskID string, next Status, result, errorMsg *string, at time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	from := predecessors[next]
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	q := s.dialect.Rebind(`UPDATE task_status SET status = ?, result = ?, error_message = ?, updated_at = ?
		WHERE task_id = ? AND status IN (` + marks + `)`)
	args := []any{string(next), result, errorMsg, at.UTC(), taskID}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("mark task %s %s: %w", taskID, next, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark task %s %s: %w", taskID, next, err)
	}
	if n > 0 {
		return nil
	}
	cur, err := s.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, cur.Status, next, taskID)
}

func (s *SQLStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := s.dialect.Rebind(`SELECT task_id, user_id, status, result, error_message, created_at, updated_at
		FROM task_status WHERE task_id = ?`)
	row := s.db.QueryRowContext(ctx, q, taskID)
	rec := TaskRecord{}
	var status string
	var result, errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.UserID, &status, &result, &errorMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	rec.Status = Status(status)
	if result.Valid {
		v := result.String
		rec.Result = &v
	}
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMessage = &v
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping reports whether the underlying database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	return s.db.PingContext(ctx)
}
