// Package llm holds the provider-neutral conversation types shared by the
// chat orchestrator, the context trimmer and the model client.
package llm

import (
	"github.com/sashabaranov/go-openai/jsonschema"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a closed set: SystemMessage, UserMessage, AssistantMessage and
// ToolMessage are its only implementations.
type Message interface {
	Role() Role
	Text() string
	isMessage()
}

type SystemMessage struct {
	Content string
}

type UserMessage struct {
	Content string
}

type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
}

type ToolMessage struct {
	ToolCallID string
	Name       string
	Content    string
}

func (SystemMessage) Role() Role    { return RoleSystem }
func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }
func (ToolMessage) Role() Role      { return RoleTool }

func (m SystemMessage) Text() string { return m.Content }
func (m UserMessage) Text() string   { return m.Content }
func (m ToolMessage) Text() string   { return m.Content }

// Text of an assistant message includes the serialized tool call arguments so
// that token accounting sees them.
func (m AssistantMessage) Text() string {
	if len(m.ToolCalls) == 0 {
		return m.Content
	}
	text := m.Content
	for _, call := range m.ToolCalls {
		text += "\n" + call.Name + " " + call.Arguments
	}
	return text
}

func (SystemMessage) isMessage()    {}
func (UserMessage) isMessage()      {}
func (AssistantMessage) isMessage() {}
func (ToolMessage) isMessage()      {}

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// JSON object produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

type Completion struct {
	Message AssistantMessage
	Usage   Usage
	Model   string
}

// DocumentMetadata is the structured output asked of the model when a
// document has been chunked.
type DocumentMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}
