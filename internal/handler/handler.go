package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/history"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	submitter *explain.Submitter
	status    *explain.StatusService
	history   *history.Service
	followUp  *explain.FollowUp
	database  Pinger
	redis     Pinger
	logger    *logrus.Logger
}

type Deps struct {
	Submitter *explain.Submitter
	Status    *explain.StatusService
	History   *history.Service
	FollowUp  *explain.FollowUp
	Database  Pinger
	Redis     Pinger
	Logger    *logrus.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		submitter: d.Submitter,
		status:    d.Status,
		history:   d.History,
		followUp:  d.FollowUp,
		database:  d.Database,
		redis:     d.Redis,
		logger:    logger,
	}
}

// fail writes err as {"error": ...}. Server-side failures are logged and
// the client only sees fallback.
func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	abortWithError(c, h.logger, err, fallback)
}

func abortWithError(c *gin.Context, logger *logrus.Logger, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err, fallback)})
}
