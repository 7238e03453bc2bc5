package history

import (
	"context"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one slice of a user's history plus the paging actually applied.
type Page struct {
	History []Entry `json:"history"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Entry is a Record with its timestamp in RFC 3339 form.
type Entry struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	SchoolID    string `json:"school_id"`
	ImageBase64 string `json:"image_base64"`
	Explanation string `json:"explanation"`
	Timestamp   string `json:"timestamp"`
}

// Service is the read side of history.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ClampPaging applies the default and ceiling to limit and floors offset at 0.
func ClampPaging(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns the user's records newest first. Total counts every record of
// the user regardless of paging.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) (Page, error) {
	limit, offset = ClampPaging(limit, offset)
	recs, err := s.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return Page{}, err
	}
	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, Entry{
			ID:          r.ID,
			UserID:      r.UserID,
			SchoolID:    r.SchoolID,
			ImageBase64: r.ImageBase64,
			Explanation: r.Explanation,
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return Page{History: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// Get loads one record for follow-up questions.
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.store.GetByID(ctx, id)
}
