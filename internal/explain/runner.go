package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/history"
	"github.com/mohans/snaptutor/internal/vision"
)

// HistoryWriter stores completed explanations.
type HistoryWriter interface {
	Insert(ctx context.Context, rec history.Record) (int64, error)
}

// ResultWriter publishes terminal results to the fast read path.
type ResultWriter interface {
	PutResult(ctx context.Context, taskID string, res asyncx.CachedResult) error
}

type RunnerConfig struct {
	Retry        asyncx.RetryPolicy
	Model        string
	MaxTokens    int
	ModelTimeout time.Duration
	// OnOutcome, if set, sees the terminal status of every task.
	OnOutcome func(taskType string, status asyncx.Status)
}

// Runner executes explanation work items. Every attempt re-marks the task
// processing and calls the model again; the terminal writes (history,
// task status, cache) are independent and a failing one does not undo the
// others.
type Runner struct {
	tasks     asyncx.Store
	history   HistoryWriter
	cache     ResultWriter
	explainer vision.Explainer
	cfg       RunnerConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRunner builds a Runner. cache may be nil.
func NewRunner(tasks asyncx.Store, hist HistoryWriter, cache ResultWriter, explainer vision.Explainer, cfg RunnerConfig, logger *logrus.Logger) *Runner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		tasks:     tasks,
		history:   hist,
		cache:     cache,
		explainer: explainer,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register adds the runner to mux under TypeExplainImage.
func (r *Runner) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeExplainImage, r)
}

// ProcessTask implements asynq.Handler. It only returns an error for payloads
// it cannot decode; every other outcome is recorded by Run.
func (r *Runner) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.TaskID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			p.TaskID = id
		}
	}
	r.Run(ctx, p)
	return nil
}

// Run drives one task to a terminal state and returns it. A task that is
// already terminal is left as it is and its stored status returned.
func (r *Runner) Run(ctx context.Context, p Payload) asyncx.Status {
	log := r.logger.WithFields(logrus.Fields{"task_id": p.TaskID, "user_id": p.UserID})
	prompt := vision.ExplainPrompt(p.GradeLevel)

	var answer string
	var finished bool
	st, err := r.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := r.tasks.MarkProcessing(ctx, p.TaskID, r.now()); err != nil {
			if errors.Is(err, asyncx.ErrInvalidTransition) {
				// Redelivered after the task already reached a terminal state.
				finished = true
				return nil
			}
			log.WithError(err).WithField("attempt", attempt).Warn("mark task processing")
		}
		callCtx, cancel := r.modelContext(ctx)
		defer cancel()
		text, err := r.explainer.Explain(callCtx, vision.Request{
			Model:       r.cfg.Model,
			Prompt:      prompt,
			ImageBase64: p.ImageBase64,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("vision call failed")
			return err
		}
		answer = text
		return nil
	})

	// Bookkeeping must land even if the worker is shutting down.
	ctx = context.WithoutCancel(ctx)
	if finished {
		return r.settled(ctx, log, p.TaskID)
	}
	if err != nil {
		msg := st.LastErr.Error()
		if merr := r.tasks.MarkFailed(ctx, p.TaskID, msg, r.now()); merr != nil {
			if errors.Is(merr, asyncx.ErrInvalidTransition) {
				return r.settled(ctx, log, p.TaskID)
			}
			log.WithError(merr).Error("mark task failed")
		}
		r.publish(ctx, log, p.TaskID, asyncx.CachedResult{Status: asyncx.StatusFailed, Error: msg})
		log.WithError(err).WithField("attempts", st.Attempts).Error("image analysis failed")
		r.outcome(asyncx.StatusFailed)
		return asyncx.StatusFailed
	}

	// The status write goes first so a task finished by another delivery
	// gets no second history row.
	now := r.now()
	if merr := r.tasks.MarkCompleted(ctx, p.TaskID, answer, now); merr != nil {
		if errors.Is(merr, asyncx.ErrInvalidTransition) {
			return r.settled(ctx, log, p.TaskID)
		}
		log.WithError(merr).Error("mark task completed")
	}
	if _, herr := r.history.Insert(ctx, history.Record{
		UserID:      p.UserID,
		SchoolID:    p.SchoolID,
		ImageBase64: p.ImageBase64,
		Explanation: answer,
		Timestamp:   now,
	}); herr != nil {
		log.WithError(herr).Error("insert history")
	}
	r.publish(ctx, log, p.TaskID, asyncx.CachedResult{Status: asyncx.StatusCompleted, Result: answer})
	log.WithField("attempts", st.Attempts).Info("image analysis completed")
	r.outcome(asyncx.StatusCompleted)
	return asyncx.StatusCompleted
}

// settled reports the status another delivery already recorded. Nothing is
// written and the model is not called again.
func (r *Runner) settled(ctx context.Context, log *logrus.Entry, taskID string) asyncx.Status {
	rec, err := r.tasks.GetByID(ctx, taskID)
	if err != nil {
		log.WithError(err).Warn("read finished task")
		return asyncx.StatusFailed
	}
	log.WithField("status", rec.Status).Info("task already finished, skipping duplicate delivery")
	return rec.Status
}

func (r *Runner) modelContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.ModelTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.ModelTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Runner) publish(ctx context.Context, log *logrus.Entry, taskID string, res asyncx.CachedResult) {
	if r.cache == nil {
		return
	}
	if err := r.cache.PutResult(ctx, taskID, res); err != nil {
		log.WithError(err).Warn("write result cache")
	}
}

func (r *Runner) outcome(status asyncx.Status) {
	if r.cfg.OnOutcome != nil {
		r.cfg.OnOutcome(TypeExplainImage, status)
	}
}
