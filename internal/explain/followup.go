package explain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/history"
	"github.com/mohans/snaptutor/internal/vision"
)

// HistoryGetter loads one history record.
type HistoryGetter interface {
	GetByID(ctx context.Context, id int64) (*history.Record, error)
}

type FollowUpRequest struct {
	HistoryID int64  `form:"history_id" validate:"required,gt=0"`
	Question  string `form:"question_text" validate:"required"`
}

type FollowUpConfig struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// FollowUp answers a question about an earlier explanation. It is
// synchronous and nothing about the exchange is stored.
type FollowUp struct {
	history   HistoryGetter
	explainer vision.Explainer
	cfg       FollowUpConfig
	validate  *validator.Validate
	logger    *logrus.Logger
}

func NewFollowUp(hist HistoryGetter, explainer vision.Explainer, cfg FollowUpConfig, logger *logrus.Logger) *FollowUp {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FollowUp{history: hist, explainer: explainer, cfg: cfg, validate: newValidator(), logger: logger}
}

func (f *FollowUp) Ask(ctx context.Context, req FollowUpRequest) (string, error) {
	req.Question = strings.TrimSpace(req.Question)
	if err := f.validate.Struct(req); err != nil {
		return "", validationError(err)
	}
	rec, err := f.history.GetByID(ctx, req.HistoryID)
	if errors.Is(err, history.ErrNotFound) {
		return "", apperr.New(apperr.NotFound, "the original question was not found")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "could not load the original question", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	answer, err := f.explainer.Explain(ctx, vision.Request{
		Model:       f.cfg.Model,
		Prompt:      vision.FollowUpPrompt(rec.Explanation, req.Question),
		ImageBase64: rec.ImageBase64,
		MaxTokens:   f.cfg.MaxTokens,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "could not answer the follow-up question", err)
	}
	f.logger.WithField("history_id", req.HistoryID).Info("answered follow-up question")
	return answer, nil
}
