package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/policy/retry"
)

const defaultSystemPrompt = "You are a news intelligence analyst. Respond only in the format requested."

// Config holds configuration for the chat-completions client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   retry.Policy
	// SystemPrompt is sent with every call unless Options.System overrides it.
	SystemPrompt string
}

// Client is a resty-backed Caller.
type Client struct {
	client   *resty.Client
	cfg      Config
	endpoint string
	logger   *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a Client. It never fails; an unconfigured client reports
// ErrUnavailable from Call.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Retry.IsZero() {
		cfg.Retry = retry.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout)

	return &Client{
		client:   client,
		cfg:      cfg,
		endpoint: baseURL + "/chat/completions",
		logger:   logger.Named("model"),
	}
}

// Available reports whether the client has a key and a model.
func (c *Client) Available() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.Model != ""
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.cfg.Model
}

// Call sends prompt as the user message and returns the first choice.
// Rate limiting and server errors are retried with exponential backoff.
func (c *Client) Call(ctx context.Context, prompt string, opts Options) (Response, error) {
	if !c.Available() {
		return Response{}, ErrUnavailable
	}
	system := opts.System
	if system == "" {
		system = c.cfg.SystemPrompt
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
	}

	var out Response
	_, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, _ int) error {
		resp, err := c.post(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("model call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		metrics.ObserveModelCall(c.cfg.Model, "error")
		return Response{}, fmt.Errorf("call %s: %w", c.cfg.Model, err)
	}
	metrics.ObserveModelCall(c.cfg.Model, "success")
	return out, nil
}

func (c *Client) post(ctx context.Context, req chatRequest) (Response, error) {
	var (
		result chatResponse
		failed apiError
	)
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&failed).
		Post(c.endpoint)
	if err != nil {
		return Response{}, fmt.Errorf("post chat completion: %w", err)
	}

	if httpResp.IsError() || httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := strings.TrimSpace(string(httpResp.Body()))
		if failed.Error != nil {
			msg = failed.Error.Message
		}
		return Response{}, &StatusError{Code: httpResp.StatusCode(), Message: msg}
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return Response{}, retry.Permanent(errors.New("empty completion"))
	}

	out := Response{
		Text:         result.Choices[0].Message.Content,
		Model:        result.Model,
		FinishReason: result.Choices[0].FinishReason,
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	if result.Usage != nil {
		out.Usage = *result.Usage
	}
	return out, nil
}
