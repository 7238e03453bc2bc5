package explain

import (
	"context"
	"errors"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/apperr"
)

// StatusService answers task status polls.
type StatusService struct {
	reader *asyncx.StatusReader
}

func NewStatusService(reader *asyncx.StatusReader) *StatusService {
	return &StatusService{reader: reader}
}

func (s *StatusService) Get(ctx context.Context, taskID string) (asyncx.TaskView, error) {
	if taskID == "" {
		return asyncx.TaskView{}, apperr.New(apperr.Validation, "task id is required")
	}
	view, err := s.reader.Lookup(ctx, taskID)
	if errors.Is(err, asyncx.ErrNotFound) {
		return asyncx.TaskView{}, apperr.New(apperr.NotFound, "task not found")
	}
	if err != nil {
		return asyncx.TaskView{}, apperr.Wrap(apperr.Internal, "could not read task status", err)
	}
	return view, nil
}
