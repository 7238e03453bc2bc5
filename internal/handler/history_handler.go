package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/history"
)

// GET /history?user_id=&limit=&offset=
func (h *Handler) History(c *gin.Context) {
	userID := c.DefaultQuery("user_id", explain.DefaultUserID)
	limit, err := intQuery(c, "limit", history.DefaultLimit)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	page, err := h.history.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.fail(c, err, "could not load history")
		return
	}
	c.JSON(http.StatusOK, page)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.New(apperr.Validation, fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}

// flexibleID accepts a JSON number or a numeric string.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.New("history_id must be an integer")
		}
		n = json.Number(s)
	}
	if n == "" {
		*f = 0
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		return errors.New("history_id must be an integer")
	}
	*f = flexibleID(v)
	return nil
}

type reQuestionRequest struct {
	HistoryID    flexibleID `json:"history_id"`
	QuestionText string     `json:"question_text"`
}

// POST /api/re-question
func (h *Handler) ReQuestion(c *gin.Context) {
	var req reQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Wrap(apperr.Validation, "history_id and question_text are required", err), "")
		return
	}
	answer, err := h.followUp.Ask(c.Request.Context(), explain.FollowUpRequest{
		HistoryID: int64(req.HistoryID),
		Question:  req.QuestionText,
	})
	if err != nil {
		h.fail(c, err, "an error occurred while answering the follow-up question")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "answer": answer})
}
