package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type stubProvider struct {
	id     string
	events []StreamEvent
	close  bool
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	if p.close {
		close(ch)
	}
	return ch, nil
}

func TestRouterFor(t *testing.T) {
	fallback := &stubProvider{id: "openrouter"}
	direct := &stubProvider{id: "anthropic"}
	haiku := &stubProvider{id: "haiku"}

	r := NewRouter(fallback)
	r.Route(AnthropicPrefix, direct)
	r.Route(AnthropicPrefix+"claude-3-haiku", haiku)

	tests := []struct {
		model string
		want  string
	}{
		{"google/gemini-2.0-flash-exp:free", "openrouter"},
		{AnthropicPrefix + "claude-3.5-sonnet", "anthropic"},
		{AnthropicPrefix + "claude-3-haiku-20240307", "haiku"},
		{"", "openrouter"},
	}
	for _, tt := range tests {
		if got := r.For(tt.model).ID(); got != tt.want {
			t.Errorf("For(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestCollect(t *testing.T) {
	p := &stubProvider{events: []StreamEvent{
		{Type: EventTypeText, Text: "Once "},
		{Type: EventTypeText, Text: "upon a time"},
		{Type: EventTypeToolCall, ToolCall: &ToolCall{ID: "c1", Name: "get_chapter"}},
		{Type: EventTypeUsage, Usage: &Usage{InputTokens: 10, OutputTokens: 3}},
		{Type: EventTypeUsage, Usage: &Usage{InputTokens: 2, OutputTokens: 1}},
		{Type: EventTypeDone},
	}}
	resp, err := Collect(context.Background(), p, &ChatRequest{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content() != "Once upon a time" {
		t.Errorf("content = %q", resp.Content())
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_chapter" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCollectErrors(t *testing.T) {
	limited := &ProviderError{StatusCode: 429, Message: "slow down"}

	_, err := Collect(context.Background(), &stubProvider{events: []StreamEvent{{Type: EventTypeError, Error: limited}}}, &ChatRequest{})
	if !IsRateLimited(err) {
		t.Errorf("error event = %v, want the rate limit error", err)
	}

	_, err = Collect(context.Background(), &stubProvider{events: []StreamEvent{{Type: EventTypeText, Text: "half"}}, close: true}, &ChatRequest{})
	if err == nil {
		t.Error("stream closed without done should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Collect(ctx, &stubProvider{}, &ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked stream = %v, want deadline exceeded", err)
	}
}

func TestClassifyErrorReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "other"},
		{&ProviderError{StatusCode: 429}, "rate_limit"},
		{fmt.Errorf("wrapped: %w", &ProviderError{Type: "rate_limit_error"}), "rate_limit"},
		{&ProviderError{StatusCode: 401, Message: "bad key"}, "auth"},
		{&ProviderError{StatusCode: 402, Message: "pay up"}, "billing"},
		{&ProviderError{Code: "insufficient_quota", Message: "x"}, "billing"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("upstream timed out"), "timeout"},
		{errors.New("Too Many Requests"), "rate_limit"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := ClassifyErrorReason(tt.err); got != tt.want {
			t.Errorf("ClassifyErrorReason(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
