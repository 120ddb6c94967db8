package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/costory/costory/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible endpoint. OpenRouter is the
// production target.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// Referer and Title are OpenRouter attribution headers.
	Referer string
	Title   string
}

// OpenAIProvider implements an OpenAI-compatible chat API using the official SDK
type OpenAIProvider struct {
	client openai.Client
	id     string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. SDK retries are
// disabled; the runner owns retry and failover.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	id := "openai"
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		id = "openrouter"
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		id:     id,
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Stream sends a request and returns streaming events
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: buildOpenAIMessages(req),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				logging.Warnf("[OpenAI] Failed to parse tool schema for %s: %v", tool.Name, err)
				continue
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  shared.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
	}

	logging.Debugf("[OpenAI] Sending request: model=%s messages=%d tools=%d",
		req.Model, len(params.Messages), len(req.Tools))

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, stream, events)

	return events, nil
}

// buildOpenAIMessages converts history to OpenAI format
func buildOpenAIMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			result = append(result, openai.UserMessage(msg.Content))

		case RoleAssistant:
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			assistantMsg := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg})

		case RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	return result
}

// handleStream processes the streaming response
func (p *OpenAIProvider) handleStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	acc := openai.ChatCompletionAccumulator{}
	emitted := make(map[int]bool)

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok {
			emitted[tool.Index] = true
			if !send(StreamEvent{Type: EventTypeToolCall, ToolCall: openAIToolCall(tool.ID, tool.Name, tool.Arguments)}) {
				return
			}
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if !send(StreamEvent{Type: EventTypeText, Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			if !send(StreamEvent{Type: EventTypeUsage, Usage: &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		logging.Debugf("[OpenAI] Stream error: %v", err)
		send(StreamEvent{Type: EventTypeError, Error: openAIError(err)})
		return
	}

	// Tool calls still open when the stream ended.
	if len(acc.Choices) > 0 {
		for i, tc := range acc.Choices[0].Message.ToolCalls {
			if emitted[i] || tc.Function.Name == "" {
				continue
			}
			if !send(StreamEvent{Type: EventTypeToolCall, ToolCall: openAIToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)}) {
				return
			}
		}
	}

	send(StreamEvent{Type: EventTypeDone})
}

func openAIToolCall(id, name, args string) *ToolCall {
	if id == "" {
		id = "call_" + uuid.New().String()
	}
	if args == "" {
		args = "{}"
	}
	return &ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}
}

// openAIError maps SDK errors onto ProviderError so the runner can see 429s.
func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
