package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText     StreamEventType = "text"
	EventTypeToolCall StreamEventType = "tool_call"
	EventTypeUsage    StreamEventType = "usage"
	EventTypeError    StreamEventType = "error"
	EventTypeDone     StreamEventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Usage    *Usage          `json:"usage,omitempty"`
	Error    error           `json:"error,omitempty"`
}

// Usage counts tokens for one model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ToolCall represents a tool invocation from the AI
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDefinition describes a tool available to the AI
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the model-facing history.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // assistant turns
	// ToolCallID and ToolName are set on tool-result turns.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ChatRequest represents a request to the AI provider
type ChatRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// Provider interface for AI providers
type Provider interface {
	// ID returns the provider identifier (e.g., "openrouter", "anthropic")
	ID() string

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed after a done or error event.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// Response is a fully drained stream.
type Response struct {
	Chunks    []string
	ToolCalls []ToolCall
	Usage     Usage
}

// Content joins the text chunks.
func (r *Response) Content() string {
	return strings.Join(r.Chunks, "")
}

// Collect drains a provider stream into a Response. A stream error event or a
// stream that closes without done is returned as an error.
func Collect(ctx context.Context, p Provider, req *ChatRequest) (*Response, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &Response{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, &ProviderError{Message: "stream closed before completion"}
			}
			switch ev.Type {
			case EventTypeText:
				if ev.Text != "" {
					resp.Chunks = append(resp.Chunks, ev.Text)
				}
			case EventTypeToolCall:
				if ev.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case EventTypeUsage:
				if ev.Usage != nil {
					resp.Usage.InputTokens += ev.Usage.InputTokens
					resp.Usage.OutputTokens += ev.Usage.OutputTokens
				}
			case EventTypeError:
				if ev.Error == nil {
					return nil, &ProviderError{Message: "unknown stream error"}
				}
				return nil, ev.Error
			case EventTypeDone:
				return resp, nil
			}
		}
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports a transport-level 429 or an explicit rate-limit code.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == http.StatusTooManyRequests ||
			pe.Code == "rate_limit_exceeded" ||
			pe.Type == "rate_limit_error"
	}
	return false
}

// ClassifyErrorReason determines the category of error for logs.
// Returns: "billing", "rate_limit", "auth", "timeout", or "other"
func ClassifyErrorReason(err error) string {
	if err == nil {
		return "other"
	}
	if IsRateLimited(err) {
		return "rate_limit"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth"
		case http.StatusPaymentRequired:
			return "billing"
		}
		switch pe.Code {
		case "authentication_error", "invalid_api_key", "unauthorized":
			return "auth"
		case "insufficient_quota", "billing_error", "payment_required":
			return "billing"
		}
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, p := range []string{"billing", "quota", "payment", "credit", "insufficient"} {
		if strings.Contains(lowerMsg, p) {
			return "billing"
		}
	}
	for _, p := range []string{"rate limit", "rate_limit", "too many requests"} {
		if strings.Contains(lowerMsg, p) {
			return "rate_limit"
		}
	}
	for _, p := range []string{"authentication", "unauthorized", "api key", "forbidden"} {
		if strings.Contains(lowerMsg, p) {
			return "auth"
		}
	}
	for _, p := range []string{"timeout", "timed out", "deadline exceeded"} {
		if strings.Contains(lowerMsg, p) {
			return "timeout"
		}
	}
	return "other"
}
