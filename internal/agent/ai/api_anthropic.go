package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/costory/costory/internal/logging"
)

const defaultMaxTokens = 4096

// AnthropicPrefix routes catalog ids like "anthropic/claude-3.5-sonnet" here.
const AnthropicPrefix = "anthropic/"

var datedModel = regexp.MustCompile(`-\d{8}$`)

// AnthropicModelName maps an OpenRouter-style catalog id to a direct API model.
func AnthropicModelName(id string) string {
	name := strings.TrimPrefix(id, AnthropicPrefix)
	name = strings.ReplaceAll(name, ".", "-")
	if !datedModel.MatchString(name) && !strings.HasSuffix(name, "-latest") {
		name += "-latest"
	}
	return name
}

// AnthropicProvider implements the Anthropic Claude API using the official SDK
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. SDK retries are
// disabled; the runner owns retry and failover.
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicProvider{client: anthropic.NewClient(all...)}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Stream sends a request and returns streaming events
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	model := AnthropicModelName(req.Model)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				logging.Warnf("[Anthropic] Failed to parse tool schema for %s: %v", tool.Name, err)
				continue
			}
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]any); ok {
				for _, r := range required {
					if s, ok := r.(string); ok {
						toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	logging.Debugf("[Anthropic] Sending request: model=%s messages=%d tools=%d",
		model, len(params.Messages), len(req.Tools))

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, stream, events)

	return events, nil
}

// buildAnthropicMessages converts history to Anthropic format. Consecutive tool
// results are grouped into one user message.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			flush()
			// Empty text blocks are rejected by the API.
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}

		case RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
	}
	flush()
	return result
}

// handleStream processes the streaming response
func (p *AnthropicProvider) handleStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
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

	var (
		currentToolID   string
		currentToolName string
		inputBuffer     strings.Builder
		usage           Usage
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			usage.InputTokens = event.AsMessageStart().Message.Usage.InputTokens

		case "content_block_start":
			cb := event.AsContentBlockStart()
			if toolUse, ok := cb.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				inputBuffer.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if !send(StreamEvent{Type: EventTypeText, Text: d.Text}) {
					return
				}
			case anthropic.InputJSONDelta:
				inputBuffer.WriteString(d.PartialJSON)
			}

		case "content_block_stop":
			if currentToolID != "" {
				input := inputBuffer.String()
				if input == "" {
					input = "{}"
				}
				if !send(StreamEvent{Type: EventTypeToolCall, ToolCall: &ToolCall{
					ID: currentToolID, Name: currentToolName, Input: json.RawMessage(input),
				}}) {
					return
				}
				currentToolID = ""
				currentToolName = ""
				inputBuffer.Reset()
			}

		case "message_delta":
			usage.OutputTokens = event.AsMessageDelta().Usage.OutputTokens

		case "message_stop":
			if !send(StreamEvent{Type: EventTypeUsage, Usage: &Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}}) {
				return
			}
			send(StreamEvent{Type: EventTypeDone})
			return
		}
	}

	if err := stream.Err(); err != nil {
		logging.Debugf("[Anthropic] Stream error: %v", err)
		send(StreamEvent{Type: EventTypeError, Error: anthropicError(err)})
		return
	}
	send(StreamEvent{Type: EventTypeError, Error: &ProviderError{Message: "anthropic stream ended without message_stop"}})
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}
