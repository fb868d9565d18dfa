package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/scribe/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is an Invoker backed by the chat completions API of OpenAI or any
// compatible server.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI returns an OpenAI invoker. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}, nil
}

// Invoke sends one chat completion request.
func (o *OpenAI) Invoke(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, mapError(ctx, req.Model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, models.NewError(models.KindInvalidResponse, "model %s returned no content", req.Model)
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}, nil
}

// mapError converts client errors into the model call failure kinds.
func mapError(ctx context.Context, model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.WrapError(models.KindTimeout, err, "model %s timed out", model)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.WrapError(models.KindTimeout, err, "model %s timed out", model)
	}

	status := 0
	code := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case code == "context_length_exceeded":
		return models.WrapError(models.KindContextOverflow, err, "prompt exceeds the context window of %s", model)
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return models.WrapError(models.KindRateLimited, err, "model %s is rate limited", model)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return models.WrapError(models.KindTimeout, err, "model %s timed out", model)
	}
	return models.WrapError(models.KindInvalidResponse, err, "model %s call failed", model)
}
