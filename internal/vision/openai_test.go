package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/snaptutor/internal/logging"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func fakeCompletions(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		choices := []map[string]any{}
		if content != "" {
			choices = append(choices, map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "gpt-4o",
			"choices": choices,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o",
		Timeout: 5 * time.Second,
	}, logging.Discard())
}

func TestOpenAIClient_Explain(t *testing.T) {
	var body map[string]any
	srv := fakeCompletions(t, "  Step 1: isolate x.  ", &body)
	var observed []string
	c := newTestClient(srv).WithObserver(func(model string, _ time.Duration, err error) {
		observed = append(observed, model)
		assert.NoError(t, err)
	})

	text, err := c.Explain(context.Background(), Request{
		Prompt:      "explain",
		ImageBase64: base64.StdEncoding.EncodeToString(pngHeader),
		MaxTokens:   2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Step 1: isolate x.", text)
	assert.Equal(t, []string{"gpt-4o"}, observed)

	assert.Equal(t, "gpt-4o", body["model"])
	assert.EqualValues(t, 2000, body["max_tokens"])
	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), "data:image/png;base64,")
	assert.Contains(t, string(raw), `"explain"`)
}

func TestOpenAIClient_RequestModelOverridesDefault(t *testing.T) {
	var body map[string]any
	srv := fakeCompletions(t, "ok", &body)
	_, err := newTestClient(srv).Explain(context.Background(), Request{Model: "gpt-4.1-mini", Prompt: "p", ImageBase64: "aGk="})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", body["model"])
}

func TestOpenAIClient_EmptyResponse(t *testing.T) {
	srv := fakeCompletions(t, "", nil)
	_, err := newTestClient(srv).Explain(context.Background(), Request{Prompt: "p", ImageBase64: "aGk="})
	assert.True(t, errors.Is(err, ErrEmptyResponse), "got %v", err)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Explain(context.Background(), Request{Prompt: "p", ImageBase64: "aGk="})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "upstream exploded"), "got %v", err)
}
