// Package agent runs the bounded tool-calling loop behind a chat turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docchat/internal/agent/tools"
	"docchat/internal/llm"
)

const (
	DefaultMaxToolCalls = 10

	StopAnswered         = "answered"
	StopToolLimitReached = "tool_limit_reached"
)

var ErrEmptyTranscript = errors.New("transcript is empty")

const toolLimitNote = "You have reached the maximum number of tool calls for this turn. " +
	"Do not request any more tools. Answer the user now with the information you have gathered, " +
	"and say so if it is incomplete."

// ChatModel is the completion endpoint the loop drives.
type ChatModel interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

type Options struct {
	MaxToolCalls int
	Temperature  float32
}

type Orchestrator struct {
	model  ChatModel
	opts   Options
	logger *slog.Logger
}

// Result is the outcome of one turn. Transcript holds the input messages
// followed by everything the loop appended.
type Result struct {
	Answer     string
	Transcript []llm.Message
	Audit      Audit
}

func NewOrchestrator(model ChatModel, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{model: model, opts: opts, logger: logger.With("component", "orchestrator")}
}

// Run alternates model calls and tool executions until the model answers
// without tool calls or the per-turn ceiling is hit. At the ceiling, calls
// still pending in the same assistant message are answered with a skipped
// result and one last call without tools forces an answer.
func (o *Orchestrator) Run(ctx context.Context, transcript []llm.Message, registry *tools.Registry) (*Result, error) {
	if len(transcript) == 0 {
		return nil, ErrEmptyTranscript
	}

	messages := append([]llm.Message(nil), transcript...)
	defs := registry.Definitions()

	var (
		usage        llm.Usage
		modelName    string
		executed     int
		midCallLimit bool
	)

	call := func(choice llm.ToolChoice) (llm.AssistantMessage, error) {
		completion, err := o.model.Generate(ctx, llm.Request{
			Messages:    messages,
			Tools:       defs,
			ToolChoice:  choice,
			Temperature: o.opts.Temperature,
		})
		if err != nil {
			return llm.AssistantMessage{}, fmt.Errorf("chat completion failed: %w", err)
		}
		usage = usage.Add(completion.Usage)
		if completion.Model != "" {
			modelName = completion.Model
		}
		return completion.Message, nil
	}

	for {
		reply, err := call(llm.ToolChoiceAuto)
		if err != nil {
			return nil, err
		}
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			return o.finish(transcript, messages, reply.Content, StopAnswered, usage, modelName, midCallLimit), nil
		}

		for _, tc := range reply.ToolCalls {
			if executed >= o.opts.MaxToolCalls {
				midCallLimit = true
				messages = append(messages, skippedToolMessage(tc))
				continue
			}
			res := registry.Execute(ctx, tc)
			executed++
			if res.IsError {
				o.logger.Warn("tool call returned an error", "tool", tc.Name, "content", res.Content)
			}
			messages = append(messages, llm.ToolMessage{ToolCallID: tc.ID, Name: tc.Name, Content: res.Content})
		}

		if executed < o.opts.MaxToolCalls {
			continue
		}

		o.logger.Info("tool call ceiling reached", "executed", executed, "mid_call", midCallLimit)
		messages = append(messages, llm.SystemMessage{Content: toolLimitNote})
		final, err := call(llm.ToolChoiceNone)
		if err != nil {
			return nil, err
		}
		// Tool calls are not honoured past the ceiling.
		final.ToolCalls = nil
		messages = append(messages, final)
		return o.finish(transcript, messages, final.Content, StopToolLimitReached, usage, modelName, midCallLimit), nil
	}
}

func (o *Orchestrator) finish(
	input, messages []llm.Message,
	answer, stop string,
	usage llm.Usage,
	modelName string,
	midCallLimit bool,
) *Result {
	audit := ExtractAudit(messages[len(input):])
	audit.StopReason = stop
	audit.LimitReachedMidCall = midCallLimit
	audit.Usage = usage
	audit.Model = modelName
	return &Result{Answer: answer, Transcript: messages, Audit: audit}
}
