// Package model calls an OpenAI-compatible chat-completions endpoint on
// behalf of the analysis and digest steps.
package model

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnavailable is returned when no model endpoint or key is configured.
var ErrUnavailable = errors.New("model unavailable")

// Options tune one call.
type Options struct {
	Temperature     float64
	MaxOutputTokens int
	// System replaces the client's default system prompt when set.
	System string
}

// Usage reports token accounting when the endpoint returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the text produced by one call.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Caller is the contract analysis and digest writing depend on.
type Caller interface {
	Call(ctx context.Context, prompt string, opts Options) (Response, error)
	// Name identifies the model in persisted records.
	Name() string
}

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("model endpoint returned status %d", e.Code)
	}
	return fmt.Sprintf("model endpoint returned status %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

var fence = regexp.MustCompile("(?s)```(?:json|html)?\\s*(.*?)```")

// ExtractJSON returns the JSON payload inside text, unwrapping a markdown
// code fence when present and otherwise trimming to the outermost array or
// object.
func ExtractJSON(text string) string {
	if m := fence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return text
	}
	closer := byte(']')
	if text[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}
