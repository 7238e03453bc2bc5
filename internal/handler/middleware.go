package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/ratelimit"
)

// Limit pairs a limiter with the rule it enforces, for the 429 message.
type Limit struct {
	Limiter ratelimit.Limiter
	Rule    ratelimit.Rule
}

// RateLimit rejects requests over budget for the caller's user_id (form
// field, then query, then the default user). A nil limiter or a zero rule
// lets everything through; limiter errors fail open. A body over the
// BodyLimit ceiling is not counted and is left for the handler to reject.
func RateLimit(l Limit, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Limiter == nil || l.Rule.Limit <= 0 {
			c.Next()
			return
		}
		user, err := requestUser(c)
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.Next()
			return
		}
		ok, err := l.Limiter.Allow(c.Request.Context(), user)
		if err != nil {
			logger.WithError(err).WithField("user_id", user).Warn("rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !ok {
			abortWithError(c, logger, apperr.New(apperr.RateLimited,
				fmt.Sprintf("at most %d requests per %d seconds are allowed", l.Rule.Limit, int(l.Rule.Window.Seconds()))), "")
			return
		}
		c.Next()
	}
}

func requestUser(c *gin.Context) (string, error) {
	var user string
	if c.ContentType() == binding.MIMEMultipartPOSTForm {
		form, err := c.MultipartForm()
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", err
		}
		if err == nil {
			if v := form.Value["user_id"]; len(v) > 0 {
				user = v[0]
			}
		}
	} else {
		user = c.PostForm("user_id")
	}
	if user == "" {
		user = c.Query("user_id")
	}
	if user == "" {
		user = explain.DefaultUserID
	}
	return user, nil
}

// BodyLimit caps the request body at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request served")
	}
}
