package explain

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/vision"
)

// Upload is an inbound image submission.
type Upload struct {
	Filename   string
	Data       []byte
	UserID     string `form:"user_id" validate:"max=255"`
	SchoolID   string `form:"school_id" validate:"max=255"`
	GradeLevel string `form:"grade_level"`
}

// TaskSubmitter persists a pending task and enqueues its work item.
// asyncx.Client implements it.
type TaskSubmitter interface {
	Submit(ctx context.Context, rec asyncx.TaskRecord, taskType string, payload any, options ...asynq.Option) (*asynq.TaskInfo, error)
}

type Submitter struct {
	tasks    TaskSubmitter
	validate *validator.Validate
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string
}

func NewSubmitter(tasks TaskSubmitter, logger *logrus.Logger) *Submitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Submitter{
		tasks:    tasks,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Validate checks an upload without side effects. Defaults for user, school
// and grade are applied to u.
func (s *Submitter) Validate(u *Upload) error {
	if u.Filename == "" && len(u.Data) == 0 {
		return apperr.New(apperr.Validation, "no file was uploaded")
	}
	if u.Filename == "" {
		return apperr.New(apperr.Validation, "no file was selected")
	}
	if ext := strings.TrimPrefix(filepath.Ext(u.Filename), "."); ext != "" {
		if !slices.Contains(config.AllowedExtensions, strings.ToLower(ext)) {
			return apperr.New(apperr.Validation, fmt.Sprintf("file type .%s is not allowed; use one of %s",
				ext, strings.Join(config.AllowedExtensions, ", ")))
		}
	}
	if len(u.Data) == 0 {
		return apperr.New(apperr.Validation, "the uploaded file is empty")
	}
	if len(u.Data) > config.MaxUploadBytes {
		return apperr.New(apperr.TooLarge, "file is too large; the limit is 16MB")
	}
	if u.UserID == "" {
		u.UserID = DefaultUserID
	}
	if u.SchoolID == "" {
		u.SchoolID = DefaultSchoolID
	}
	u.GradeLevel = vision.NormalizeGrade(u.GradeLevel)
	if err := s.validate.Struct(u); err != nil {
		return validationError(err)
	}
	return nil
}

// Submit validates u, records a pending task and enqueues it. It returns the
// new task id.
func (s *Submitter) Submit(ctx context.Context, u Upload) (string, error) {
	if err := s.Validate(&u); err != nil {
		return "", err
	}
	taskID := s.newID()
	rec, err := asyncx.NewPendingTask(taskID, u.UserID, s.now())
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "could not create task", err)
	}
	payload := Payload{
		TaskID:      taskID,
		UserID:      u.UserID,
		SchoolID:    u.SchoolID,
		ImageBase64: base64.StdEncoding.EncodeToString(u.Data),
		GradeLevel:  u.GradeLevel,
	}
	log := s.logger.WithFields(logrus.Fields{"task_id": taskID, "user_id": u.UserID})
	if _, err := s.tasks.Submit(ctx, rec, TypeExplainImage, payload); err != nil {
		log.WithError(err).Error("submit task")
		return "", apperr.Wrap(apperr.Internal, "could not start image analysis", err)
	}
	log.WithField("grade_level", u.GradeLevel).Info("task created")
	return taskID, nil
}
