package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/database/dbtest"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/handler"
	"github.com/mohans/snaptutor/internal/history"
	"github.com/mohans/snaptutor/internal/logging"
	"github.com/mohans/snaptutor/internal/ratelimit"
	"github.com/mohans/snaptutor/internal/vision"
)

func init() { gin.SetMode(gin.TestMode) }

type stubExplainer struct {
	answer string
	err    error
	calls  int
}

func (s *stubExplainer) Explain(context.Context, vision.Request) (string, error) {
	s.calls++
	return s.answer, s.err
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	engine    *gin.Engine
	tasks     *asyncx.SQLStore
	history   *history.SQLStore
	cache     *asyncx.ResultCache
	explainer *stubExplainer
	db        *sql.DB
}

func newFixture(t *testing.T, database handler.Pinger) *fixture {
	t.Helper()
	logger := logging.Discard()
	db, dialect := dbtest.Open(t)
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tasks := asyncx.NewSQLStore(db, dialect)
	hist := history.NewSQLStore(db, dialect)
	cache := asyncx.NewResultCache(rdb, time.Hour)
	client := asyncx.NewClient(asynq.RedisClientOpt{Addr: s.Addr()}, tasks, asyncx.ClientOptions{})
	t.Cleanup(func() { _ = client.Close() })
	ex := &stubExplainer{answer: "step by step"}
	if database == nil {
		database = tasks
	}

	h := handler.New(handler.Deps{
		Submitter: explain.NewSubmitter(client, logger),
		Status:    explain.NewStatusService(asyncx.NewStatusReader(tasks, cache, logger)),
		History:   history.NewService(hist),
		FollowUp:  explain.NewFollowUp(hist, ex, explain.FollowUpConfig{}, logger),
		Database:  database,
		Redis:     cache,
		Logger:    logger,
	})
	limit := func(scope string, n int) handler.Limit {
		rule := ratelimit.Rule{Limit: n, Window: time.Minute}
		return handler.Limit{Limiter: ratelimit.NewRedisWindow(rdb, scope, rule), Rule: rule}
	}
	engine := Setup(h, Options{
		Upload:   limit("upload", 5),
		Status:   limit("status", 0),
		History:  limit("history", 20),
		FollowUp: limit("followup", 10),
		Logger:   logger,
	})
	return &fixture{engine: engine, tasks: tasks, history: hist, cache: cache, explainer: ex, db: db}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) countTasks(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM task_status`).Scan(&n))
	return n
}

func TestUpload_ThenPendingStatus(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(uploadRequest(t, "question.png", []byte("\x89PNG\r\n\x1a\n"), map[string]string{"user_id": "u1"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	w = f.do(httptest.NewRequest(http.MethodGet, "/task/"+taskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "pending", status["status"])
	assert.Equal(t, taskID, status["task_id"])
	assert.Equal(t, "u1", status["user_id"])
}

func TestUpload_RejectedFilesCreateNoTask(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(uploadRequest(t, "tool.exe", []byte("MZ"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], ".exe")

	w = f.do(uploadRequest(t, "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(uploadRequest(t, "big.png", make([]byte, config.MaxUploadBytes+1), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.do(uploadRequest(t, "huge.png", make([]byte, config.MaxUploadBytes+2*formOverhead), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Zero(t, f.countTasks(t))
}

func TestUpload_SixthRequestInWindowIsLimited(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		w := f.do(uploadRequest(t, "q.jpg", []byte("img"), map[string]string{"user_id": "busy"}))
		require.Equal(t, http.StatusOK, w.Code, "request %d: %s", i+1, w.Body.String())
	}
	w := f.do(uploadRequest(t, "q.jpg", []byte("img"), map[string]string{"user_id": "busy"}))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, decode(t, w)["error"], "5 requests per 60 seconds")

	w = f.do(uploadRequest(t, "q.jpg", []byte("img"), map[string]string{"user_id": "calm"}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskStatus_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(httptest.NewRequest(http.MethodGet, "/task/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "task not found", decode(t, w)["error"])
}

func TestTaskStatus_CompletedReadTwice(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(uploadRequest(t, "q.png", []byte("img"), map[string]string{"user_id": "u1"}))
	require.Equal(t, http.StatusOK, w.Code)
	taskID := decode(t, w)["task_id"].(string)

	runner := explain.NewRunner(f.tasks, f.history, f.cache, f.explainer, explain.RunnerConfig{
		Retry: asyncx.RetryPolicy{MaxAttempts: 1},
	}, logging.Discard())
	st := runner.Run(context.Background(), explain.Payload{TaskID: taskID, UserID: "u1", ImageBase64: "aW1n"})
	require.Equal(t, asyncx.StatusCompleted, st)

	first := f.do(httptest.NewRequest(http.MethodGet, "/task/"+taskID, nil))
	second := f.do(httptest.NewRequest(http.MethodGet, "/task/"+taskID, nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	body := decode(t, first)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "step by step", body["result"])

	hist := decode(t, f.do(httptest.NewRequest(http.MethodGet, "/history?user_id=u1", nil)))
	assert.EqualValues(t, 1, hist["total"])
}

func TestHistory_PagingAndClamp(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := f.history.Insert(context.Background(), history.Record{
			UserID: "u1", ImageBase64: "aW1n", Explanation: "e", Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/history?user_id=u1&limit=2&offset=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 3, page["total"])
	assert.EqualValues(t, 2, page["limit"])
	assert.EqualValues(t, 1, page["offset"])
	entries := page["history"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "2024-03-01T11:00:00Z", entries[0].(map[string]any)["timestamp"])

	page = decode(t, f.do(httptest.NewRequest(http.MethodGet, "/history?user_id=u1&limit=1000", nil)))
	assert.EqualValues(t, history.MaxLimit, page["limit"])

	w = f.do(httptest.NewRequest(http.MethodGet, "/history?limit=ten", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReQuestion(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.history.Insert(context.Background(), history.Record{
		UserID: "u1", ImageBase64: "aW1n", Explanation: "e", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/re-question", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return f.do(req)
	}

	w := post(`{"history_id": 9999, "question_text": "why?"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, f.explainer.calls)

	w = post(`{"question_text": "why?"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.explainer.answer = "because"
	w = post(`{"history_id": "` + strconv.FormatInt(id, 10) + `", "question_text": "why?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "because", body["answer"])
}

func TestHealth(t *testing.T) {
	w := newFixture(t, nil).do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])

	w = newFixture(t, downPinger{}).do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "unhealthy", components["database"])
	assert.Equal(t, "healthy", components["redis"])
}

func TestUnknownRoute(t *testing.T) {
	w := newFixture(t, nil).do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpload_OversizedBodyIsNotCounted(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		w := f.do(uploadRequest(t, "huge.png", make([]byte, config.MaxUploadBytes+2*formOverhead), nil))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	}
	for i := 0; i < 5; i++ {
		w := f.do(uploadRequest(t, "q.png", []byte("img"), nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d: %s", i+1, w.Body.String())
	}
	w := f.do(uploadRequest(t, "q.png", []byte("img"), nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
