package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"docchat/internal/agent/tools"
	"docchat/internal/llm"
)

// scriptedModel replays replies in order and records every request.
type scriptedModel struct {
	replies  []llm.AssistantMessage
	requests []llm.Request
	err      error
}

func (m *scriptedModel) Generate(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.requests) > len(m.replies) {
		return nil, fmt.Errorf("unexpected call %d", len(m.requests))
	}
	return &llm.Completion{
		Message: m.replies[len(m.requests)-1],
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		Model:   "test-model",
	}, nil
}

type searchTool struct{ calls int }

func (s *searchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: "semantic_search"}
}

func (s *searchTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	s.calls++
	return map[string]interface{}{
		"chunks": []map[string]string{
			{"chunk_id": fmt.Sprintf("c%d", s.calls), "document_id": "d1"},
		},
		"document_ids_searched": []string{"d1", "d2"},
	}, nil
}

func toolCalls(n, offset int) []llm.ToolCall {
	calls := make([]llm.ToolCall, n)
	for i := range calls {
		calls[i] = llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", offset+i),
			Name:      "semantic_search",
			Arguments: `{"queries":["q"]}`,
		}
	}
	return calls
}

func baseTranscript() []llm.Message {
	return []llm.Message{llm.SystemMessage{Content: "sys"}, llm.UserMessage{Content: "hi"}}
}

func TestRunAnswersWithoutTools(t *testing.T) {
	model := &scriptedModel{replies: []llm.AssistantMessage{{Content: "hello"}}}
	o := NewOrchestrator(model, Options{}, nil)

	res, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry(&searchTool{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Answer != "hello" || res.Audit.StopReason != StopAnswered {
		t.Errorf("Run() = %+v", res)
	}
	if res.Audit.ToolCallCount != 0 || len(res.Audit.ToolCalls) != 0 {
		t.Errorf("audit = %+v", res.Audit)
	}
	if len(res.Transcript) != 3 {
		t.Errorf("len(Transcript) = %d, want 3", len(res.Transcript))
	}
	if model.requests[0].ToolChoice != llm.ToolChoiceAuto || len(model.requests[0].Tools) != 1 {
		t.Errorf("request = %+v", model.requests[0])
	}
}

func TestRunExecutesToolsThenAnswers(t *testing.T) {
	search := &searchTool{}
	model := &scriptedModel{replies: []llm.AssistantMessage{
		{ToolCalls: toolCalls(2, 0)},
		{Content: "done"},
	}}
	o := NewOrchestrator(model, Options{}, nil)

	res, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry(search))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if search.calls != 2 {
		t.Errorf("tool executed %d times, want 2", search.calls)
	}
	a := res.Audit
	if a.ToolCallCount != 2 || a.StopReason != StopAnswered || a.LimitReachedMidCall {
		t.Errorf("audit = %+v", a)
	}
	if len(a.ChunkIDsUsed) != 2 || a.ChunkIDsUsed[0] != "c1" {
		t.Errorf("ChunkIDsUsed = %v", a.ChunkIDsUsed)
	}
	if len(a.DocumentIDsUsed) != 2 {
		t.Errorf("DocumentIDsUsed = %v", a.DocumentIDsUsed)
	}
	if a.Usage.TotalTokens != 24 || a.Model != "test-model" {
		t.Errorf("usage/model = %+v %q", a.Usage, a.Model)
	}
	if a.ToolCalls[0].Arguments["queries"] == nil {
		t.Errorf("arguments not parsed: %+v", a.ToolCalls[0])
	}

	second := model.requests[1].Messages
	if _, ok := second[len(second)-1].(llm.ToolMessage); !ok {
		t.Errorf("second request does not end with a tool result")
	}
}

func TestRunStopsAtCeiling(t *testing.T) {
	search := &searchTool{}
	model := &scriptedModel{replies: []llm.AssistantMessage{
		{ToolCalls: toolCalls(2, 0)},
		{ToolCalls: toolCalls(1, 2)},
		{Content: "best effort", ToolCalls: toolCalls(1, 9)},
	}}
	o := NewOrchestrator(model, Options{MaxToolCalls: 3}, nil)

	res, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry(search))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if search.calls != 3 || len(model.requests) != 3 {
		t.Fatalf("calls = %d, requests = %d", search.calls, len(model.requests))
	}
	last := model.requests[2]
	if last.ToolChoice != llm.ToolChoiceNone {
		t.Errorf("final ToolChoice = %q", last.ToolChoice)
	}
	if _, ok := last.Messages[len(last.Messages)-1].(llm.SystemMessage); !ok {
		t.Error("final request does not end with the limit note")
	}
	if res.Answer != "best effort" {
		t.Errorf("Answer = %q", res.Answer)
	}
	final := res.Transcript[len(res.Transcript)-1].(llm.AssistantMessage)
	if len(final.ToolCalls) != 0 {
		t.Error("tool calls kept on the forced answer")
	}
	a := res.Audit
	if a.StopReason != StopToolLimitReached || a.LimitReachedMidCall || a.ToolCallCount != 3 || a.SkippedToolCalls != 0 {
		t.Errorf("audit = %+v", a)
	}
}

func TestRunSkipsCallsBeyondCeilingInSameMessage(t *testing.T) {
	search := &searchTool{}
	model := &scriptedModel{replies: []llm.AssistantMessage{
		{ToolCalls: toolCalls(5, 0)},
		{Content: "partial"},
	}}
	o := NewOrchestrator(model, Options{MaxToolCalls: 3}, nil)

	res, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry(search))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if search.calls != 3 {
		t.Errorf("tool executed %d times, want 3", search.calls)
	}

	var toolMsgs int
	for _, m := range res.Transcript {
		if _, ok := m.(llm.ToolMessage); ok {
			toolMsgs++
		}
	}
	if toolMsgs != 5 {
		t.Errorf("tool messages = %d, want one per requested call", toolMsgs)
	}
	a := res.Audit
	if !a.LimitReachedMidCall || a.SkippedToolCalls != 2 || a.ToolCallCount != 3 || a.StopReason != StopToolLimitReached {
		t.Errorf("audit = %+v", a)
	}
}

func TestRunPropagatesModelError(t *testing.T) {
	boom := errors.New("upstream down")
	o := NewOrchestrator(&scriptedModel{err: boom}, Options{}, nil)

	if _, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunRejectsEmptyTranscript(t *testing.T) {
	o := NewOrchestrator(&scriptedModel{}, Options{}, nil)
	if _, err := o.Run(context.Background(), nil, tools.NewRegistry()); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestExtractAuditIgnoresUnparseableResults(t *testing.T) {
	audit := ExtractAudit([]llm.Message{
		llm.AssistantMessage{ToolCalls: []llm.ToolCall{{ID: "a", Name: "get_full_document", Arguments: "not json"}}},
		llm.ToolMessage{ToolCallID: "a", Content: "plain text"},
		llm.ToolMessage{ToolCallID: "b", Content: `{"document_id":"d9","full_text":"x"}`},
		llm.ToolMessage{ToolCallID: "c", Content: `{"document_id":"d8","error":"Document not found"}`},
	})
	if audit.ToolCallCount != 1 || len(audit.ToolCalls[0].Arguments) != 0 {
		t.Errorf("audit = %+v", audit)
	}
	if len(audit.DocumentIDsUsed) != 1 || audit.DocumentIDsUsed[0] != "d9" {
		t.Errorf("DocumentIDsUsed = %v", audit.DocumentIDsUsed)
	}
	if len(audit.ChunkIDsUsed) != 0 {
		t.Errorf("ChunkIDsUsed = %v", audit.ChunkIDsUsed)
	}
}

func TestRunCountsSkippedCallsWithoutUniqueIDs(t *testing.T) {
	for _, id := range []string{"", "dup"} {
		calls := toolCalls(4, 0)
		for i := range calls {
			calls[i].ID = id
		}
		search := &searchTool{}
		model := &scriptedModel{replies: []llm.AssistantMessage{
			{ToolCalls: calls},
			{Content: "partial"},
		}}
		o := NewOrchestrator(model, Options{MaxToolCalls: 3}, nil)

		res, err := o.Run(context.Background(), baseTranscript(), tools.NewRegistry(search))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		a := res.Audit
		if a.ToolCallCount != 3 || a.SkippedToolCalls != 1 || len(a.ChunkIDsUsed) != 3 {
			t.Errorf("id %q: audit = %+v", id, a)
		}
	}
}
