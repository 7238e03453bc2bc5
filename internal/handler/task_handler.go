package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/explain"
)

// POST /upload
func (h *Handler) Upload(c *gin.Context) {
	u := explain.Upload{
		UserID:     c.PostForm("user_id"),
		SchoolID:   c.PostForm("school_id"),
		GradeLevel: c.PostForm("grade_level"),
	}
	fh, err := c.FormFile("file")
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		h.fail(c, apperr.New(apperr.TooLarge, "file is too large; the limit is 16MB"), "")
		return
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			h.fail(c, apperr.Wrap(apperr.Internal, "open upload", err), "image upload failed")
			return
		}
		defer f.Close()
		u.Filename = fh.Filename
		u.Data, err = io.ReadAll(io.LimitReader(f, config.MaxUploadBytes+1))
		if err != nil {
			h.fail(c, apperr.Wrap(apperr.Internal, "read upload", err), "image upload failed")
			return
		}
	}

	taskID, err := h.submitter.Submit(c.Request.Context(), u)
	if err != nil {
		h.fail(c, err, "image upload failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task_id": taskID,
		"message": "Image analysis started. Use the task id to fetch the result.",
	})
}

// GET /task/:task_id
func (h *Handler) TaskStatus(c *gin.Context) {
	view, err := h.status.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.fail(c, err, "could not read task status")
		return
	}
	c.JSON(http.StatusOK, view)
}
