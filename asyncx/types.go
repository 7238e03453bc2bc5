package asyncx

import (
	"errors"
	"fmt"
	"time"
)

// Status represents task processing status recorded in the database.
// Valid values: pending, processing, completed, failed.
// Kept as string for readability in SQL.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound          = errors.New("asyncx: task not found")
	ErrInvalidTransition = errors.New("asyncx: invalid status transition")
	ErrInvalidRecord     = errors.New("asyncx: invalid task record")
)

// IsTerminal reports whether no further transitions can occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// predecessors lists the statuses a task may be in right before moving to
// the key status. processing -> processing is allowed so that every retry
// attempt can re-mark the task.
var predecessors = map[Status][]Status{
	StatusProcessing: {StatusPending, StatusProcessing},
	StatusCompleted:  {StatusPending, StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, p := range predecessors[next] {
		if p == s {
			return true
		}
	}
	return false
}

// TaskRecord is the persisted representation of a task lifecycle.
// Result is set only when completed, ErrorMessage only when failed.
type TaskRecord struct {
	ID           string
	UserID       string
	Status       Status
	Result       *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPendingTask builds the record written at submission time.
func NewPendingTask(id, userID string, now time.Time) (TaskRecord, error) {
	rec := TaskRecord{
		ID:        id,
		UserID:    userID,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	return rec, rec.Validate()
}

// Validate checks the result/error invariant for the record's status.
func (r TaskRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	switch r.Status {
	case StatusCompleted:
		if r.Result == nil || r.ErrorMessage != nil {
			return fmt.Errorf("%w: completed task %s must carry only a result", ErrInvalidRecord, r.ID)
		}
	case StatusFailed:
		if r.ErrorMessage == nil || r.Result != nil {
			return fmt.Errorf("%w: failed task %s must carry only an error message", ErrInvalidRecord, r.ID)
		}
	default:
		if r.Result != nil || r.ErrorMessage != nil {
			return fmt.Errorf("%w: %s task %s cannot carry an outcome", ErrInvalidRecord, r.Status, r.ID)
		}
	}
	return nil
}

// TimeFormat is the textual form used for timestamps in task views.
const TimeFormat = time.RFC3339

// TaskView is what status readers hand back to callers. Views served from
// the result cache have no user or timestamps.
type TaskView struct {
	TaskID       string  `json:"task_id"`
	UserID       string  `json:"user_id,omitempty"`
	Status       Status  `json:"status"`
	Result       *string `json:"result,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at,omitempty"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
	Cached       bool    `json:"-"`
}

// View renders the record with normalized timestamps.
func (r TaskRecord) View() TaskView {
	return TaskView{
		TaskID:       r.ID,
		UserID:       r.UserID,
		Status:       r.Status,
		Result:       r.Result,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt.UTC().Format(TimeFormat),
		UpdatedAt:    r.UpdatedAt.UTC().Format(TimeFormat),
	}
}
