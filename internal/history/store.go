package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mohans/snaptutor/internal/database"
)

var ErrNotFound = errors.New("history: record not found")

// Record is one completed explanation. Records are written once and never
// updated.
type Record struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	SchoolID    string    `json:"school_id"`
	ImageBase64 string    `json:"image_base64"`
	Explanation string    `json:"explanation"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store persists history records.
type Store interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	GetByID(ctx context.Context, id int64) (*Record, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Record, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Insert stores rec and returns the id assigned by the database.
func (s *SQLStore) Insert(ctx context.Context, rec Record) (int64, error) {
	q := s.dialect.Rebind(`INSERT INTO history (user_id, school_id, image_base64, explanation, timestamp)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	var id int64
	err := s.db.QueryRowContext(ctx, q, rec.UserID, rec.SchoolID, rec.ImageBase64, rec.Explanation, rec.Timestamp.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert history for %s: %w", rec.UserID, err)
	}
	return id, nil
}

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*Record, error) {
	q := s.dialect.Rebind(`SELECT id, user_id, school_id, image_base64, explanation, timestamp
		FROM history WHERE id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history %d: %w", id, err)
	}
	return rec, nil
}

// ListByUser returns a page of the user's records, newest first.
func (s *SQLStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Record, error) {
	q := s.dialect.Rebind(`SELECT id, user_id, school_id, image_base64, explanation, timestamp
		FROM history WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", userID, err)
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list history for %s: %w", userID, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountByUser(ctx context.Context, userID string) (int, error) {
	q := s.dialect.Rebind(`SELECT COUNT(*) FROM history WHERE user_id = ?`)
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history for %s: %w", userID, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var school sql.NullString
	if err := row.Scan(&rec.ID, &rec.UserID, &school, &rec.ImageBase64, &rec.Explanation, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.SchoolID = school.String
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}
