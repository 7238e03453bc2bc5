package explain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/apperr"
	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/database/dbtest"
	"github.com/mohans/snaptutor/internal/logging"
	"github.com/mohans/snaptutor/internal/vision"
)

type recordingSubmitter struct {
	recs     []asyncx.TaskRecord
	payloads []Payload
	err      error
}

func (r *recordingSubmitter) Submit(_ context.Context, rec asyncx.TaskRecord, taskType string, payload any, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.recs = append(r.recs, rec)
	r.payloads = append(r.payloads, payload.(Payload))
	return &asynq.TaskInfo{ID: rec.ID, Type: taskType}, nil
}

func TestSubmitter_Validate(t *testing.T) {
	img := []byte("\x89PNG\r\n\x1a\n")
	cases := []struct {
		name string
		in   Upload
		kind apperr.Kind
		ok   bool
	}{
		{"no file", Upload{}, apperr.Validation, false},
		{"no filename", Upload{Data: img}, apperr.Validation, false},
		{"bad extension", Upload{Filename: "virus.exe", Data: img}, apperr.Validation, false},
		{"empty", Upload{Filename: "a.png"}, apperr.Validation, false},
		{"too large", Upload{Filename: "a.png", Data: make([]byte, config.MaxUploadBytes+1)}, apperr.TooLarge, false},
		{"long user id", Upload{Filename: "a.png", Data: img, UserID: string(bytes.Repeat([]byte("u"), 256))}, apperr.Validation, false},
		{"upper-case extension", Upload{Filename: "A.JPG", Data: img}, 0, true},
		{"exactly at the limit", Upload{Filename: "a.webp", Data: make([]byte, config.MaxUploadBytes)}, 0, true},
		{"no extension", Upload{Filename: "camera", Data: img}, 0, true},
	}
	s := NewSubmitter(&recordingSubmitter{}, logging.Discard())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := tc.in
			err := s.Validate(&u)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestSubmitter_ValidateAppliesDefaults(t *testing.T) {
	u := Upload{Filename: "a.png", Data: []byte("x"), GradeLevel: "graduate"}
	require.NoError(t, NewSubmitter(&recordingSubmitter{}, logging.Discard()).Validate(&u))
	assert.Equal(t, DefaultUserID, u.UserID)
	assert.Equal(t, DefaultSchoolID, u.SchoolID)
	assert.Equal(t, vision.GradeJuniorHigh, u.GradeLevel)
}

func TestSubmitter_Submit(t *testing.T) {
	rs := &recordingSubmitter{}
	s := NewSubmitter(rs, logging.Discard())
	s.newID = func() string { return "fixed-id" }

	id, err := s.Submit(context.Background(), Upload{Filename: "q.png", Data: []byte("img"), UserID: "u9", GradeLevel: vision.GradeHighSchool})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	require.Len(t, rs.recs, 1)
	assert.Equal(t, asyncx.StatusPending, rs.recs[0].Status)
	assert.Equal(t, "u9", rs.recs[0].UserID)
	assert.Equal(t, Payload{
		TaskID:      "fixed-id",
		UserID:      "u9",
		SchoolID:    DefaultSchoolID,
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("img")),
		GradeLevel:  vision.GradeHighSchool,
	}, rs.payloads[0])
}

func TestSubmitter_RejectedUploadCreatesNothing(t *testing.T) {
	rs := &recordingSubmitter{}
	_, err := NewSubmitter(rs, logging.Discard()).Submit(context.Background(), Upload{Filename: "run.exe", Data: []byte("MZ")})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Empty(t, rs.recs)
}

func TestSubmitter_SubmitFailureIsInternal(t *testing.T) {
	rs := &recordingSubmitter{err: errors.New("redis down")}
	_, err := NewSubmitter(rs, logging.Discard()).Submit(context.Background(), Upload{Filename: "q.png", Data: []byte("img")})
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestSubmitter_WithQueue(t *testing.T) {
	s := miniredis.RunT(t)
	db, dialect := dbtest.Open(t)
	store := asyncx.NewSQLStore(db, dialect)
	redisOpt := asynq.RedisClientOpt{Addr: s.Addr()}
	client := asyncx.NewClient(redisOpt, store, asyncx.ClientOptions{})
	defer client.Close()

	id, err := NewSubmitter(client, logging.Discard()).Submit(context.Background(), Upload{Filename: "q.png", Data: []byte("img"), UserID: "u1"})
	require.NoError(t, err)

	rec, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, asyncx.StatusPending, rec.Status)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	info, err := inspector.GetTaskInfo("default", id)
	require.NoError(t, err)
	assert.Equal(t, TypeExplainImage, info.Type)
	var p Payload
	require.NoError(t, json.Unmarshal(info.Payload, &p))
	assert.Equal(t, id, p.TaskID)
	assert.Equal(t, "u1", p.UserID)
}
