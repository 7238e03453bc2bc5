package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single call.
	Timeout time.Duration
}

// OpenAIClient implements Explainer on the chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logrus.Logger
	observe func(model string, d time.Duration, err error)
}

func NewOpenAIClient(cfg OpenAIConfig, logger *logrus.Logger) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

// WithObserver sets a hook that sees the latency and outcome of every call.
func (c *OpenAIClient) WithObserver(fn func(model string, d time.Duration, err error)) *OpenAIClient {
	c.observe = fn
	return c
}

func (c *OpenAIClient) Explain(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    DataURL(req.ImageBase64),
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err == nil {
		err = checkResponse(resp)
	}
	if c.observe != nil {
		c.observe(model, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.WithFields(logrus.Fields{"model": model, "chars": len(text)}).Debug("vision call succeeded")
	return text, nil
}

func checkResponse(resp openai.ChatCompletionResponse) error {
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return ErrEmptyResponse
	}
	return nil
}
