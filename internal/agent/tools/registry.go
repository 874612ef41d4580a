// Package tools holds the capabilities the chat model may call during a turn
// and the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"docchat/internal/llm"
)

// Tool is a single capability exposed to the model. Execute receives the
// decoded argument object and must return a JSON-serializable value.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// Result is the outcome of one tool call, already rendered as the content of
// the tool message that answers it.
type Result struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Registry is safe for concurrent use. Definitions are returned in
// registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs a model-requested call. Unknown tools, malformed arguments
// and tool errors are reported to the model as an error object rather than
// returned, so the conversation can continue.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) Result {
	tool := r.Get(call.Name)
	if tool == nil {
		return errorResult(call, fmt.Errorf("tool not found: %s", call.Name))
	}

	input, err := ParseArguments(call.Arguments)
	if err != nil {
		return errorResult(call, err)
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		return errorResult(call, err)
	}

	content, err := json.Marshal(out)
	if err != nil {
		return errorResult(call, fmt.Errorf("encode tool result: %w", err))
	}
	return Result{ID: call.ID, Name: call.Name, Content: string(content)}
}

// ParseArguments decodes the raw argument JSON of a tool call. An empty
// string is an empty object.
func ParseArguments(raw string) (map[string]interface{}, error) {
	input := map[string]interface{}{}
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return input, nil
}

func errorResult(call llm.ToolCall, err error) Result {
	content, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Result{ID: call.ID, Name: call.Name, Content: string(content), IsError: true}
}

// intArg reads an optional integer argument. JSON numbers arrive as float64.
func intArg(input map[string]interface{}, key string, def int) (int, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %s must be an integer", key)
	}
}

func stringArg(input map[string]interface{}, key string) (string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return s, nil
}
