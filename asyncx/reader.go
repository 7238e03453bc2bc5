package asyncx

import (
	"context"

	"github.com/sirupsen/logrus"
)

// TaskGetter is the authoritative side of the read path.
type TaskGetter interface {
	GetByID(ctx context.Context, taskID string) (*TaskRecord, error)
}

// StatusReader answers status lookups from the result cache when it can and
// from the store otherwise. The cache may be nil, and cache errors fall
// through to the store.
type StatusReader struct {
	store  TaskGetter
	cache  ResultSource
	logger *logrus.Logger
}

func NewStatusReader(store TaskGetter, cache ResultSource, logger *logrus.Logger) *StatusReader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StatusReader{store: store, cache: cache, logger: logger}
}

// Lookup returns ErrNotFound only when the store has no record.
func (r *StatusReader) Lookup(ctx context.Context, taskID string) (TaskView, error) {
	if r.cache != nil {
		res, ok, err := r.cache.GetResult(ctx, taskID)
		switch {
		case err != nil:
			r.logger.WithError(err).WithField("task_id", taskID).Warn("result cache read failed, falling back to store")
		case ok:
			return res.View(taskID), nil
		}
	}
	rec, err := r.store.GetByID(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	return rec.View(), nil
}
