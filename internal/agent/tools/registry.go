package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/logging"
)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	// Status is a short user-facing progress line, e.g. "Found in codex: Mira".
	Status string `json:"status,omitempty"`
}

// Tool interface that all tools must implement
type Tool interface {
	// Name returns the tool's unique name
	Name() string

	// Description returns a description for the AI
	Description() string

	// Schema returns the JSON schema for the tool's input
	Schema() json.RawMessage

	// Execute runs the tool with the given input
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

// Registry manages available tools
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[tool.Name()]; ok {
		logging.Warnf("[Tools] tool %q already registered (%T), overwritten by %T", tool.Name(), existing, tool)
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools as AI tool definitions, sorted by name so request
// payloads are stable.
func (r *Registry) List() []ai.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ai.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, ai.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs a tool and returns the result. Failures come back as error
// results so the model can read them; Execute never returns nil.
func (r *Registry) Execute(ctx context.Context, call *ai.ToolCall) *ToolResult {
	logging.Debugf("[Tools] Executing tool: %s", call.Name)

	tool, ok := r.Get(call.Name)
	if !ok {
		logging.Warnf("[Tools] Unknown tool: %s", call.Name)
		return &ToolResult{
			Content: fmt.Sprintf("TOOL ERROR: %q does not exist. Your available tools are: %s",
				call.Name, strings.Join(r.names(), ", ")),
			IsError: true,
		}
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := tool.Execute(ctx, input)
	if err != nil {
		logging.Warnf("[Tools] %s failed: %v", call.Name, err)
		return &ToolResult{Content: fmt.Sprintf("TOOL ERROR: %v", err), IsError: true}
	}
	if result == nil {
		return &ToolResult{Content: "TOOL ERROR: empty result", IsError: true}
	}
	return result
}

type storyKey struct{}

// WithStory scopes tool lookups to a story.
func WithStory(ctx context.Context, storyID string) context.Context {
	return context.WithValue(ctx, storyKey{}, storyID)
}

// StoryFrom returns the story id set by WithStory.
func StoryFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(storyKey{}).(string)
	return id, ok && id != ""
}

// Store is the read access the story tools need.
type Store interface {
	ChapterReader
	EntityReader
}

// NewStoryRegistry registers read_chapter and read_world_entity.
func NewStoryRegistry(store Store) *Registry {
	r := NewRegistry()
	r.Register(NewReadChapterTool(store))
	r.Register(NewReadWorldEntityTool(store))
	return r
}
