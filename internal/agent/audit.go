package agent

import (
	"encoding/json"
	"sort"

	"docchat/internal/agent/tools"
	"docchat/internal/llm"
)

const skippedToolContent = `{"skipped":true,"error":"Tool call limit reached for this turn; this call was not executed."}`

// ToolCallRecord is one executed tool call as stored with the assistant
// message.
type ToolCallRecord struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Audit describes what the model did during a turn: which tools it called and
// which chunks and documents their results touched.
type Audit struct {
	ToolCallCount       int              `json:"tool_call_count"`
	ToolCalls           []ToolCallRecord `json:"tool_calls"`
	SkippedToolCalls    int              `json:"skipped_tool_calls"`
	ChunkIDsUsed        []string         `json:"chunk_ids_used"`
	DocumentIDsUsed     []string         `json:"document_ids_used"`
	StopReason          string           `json:"stop_reason"`
	LimitReachedMidCall bool             `json:"limit_reached_mid_call"`
	Usage               llm.Usage        `json:"token_usage"`
	Model               string           `json:"model_name"`
}

func skippedToolMessage(tc llm.ToolCall) llm.ToolMessage {
	return llm.ToolMessage{ToolCallID: tc.ID, Name: tc.Name, Content: skippedToolContent}
}

// toolPayload is the subset of tool result fields that reference stored
// content.
type toolPayload struct {
	Chunks []struct {
		ChunkID    string `json:"chunk_id"`
		DocumentID string `json:"document_id"`
	} `json:"chunks"`
	DocumentIDsSearched []string `json:"document_ids_searched"`
	DocumentID          string   `json:"document_id"`
	FullText            *string  `json:"full_text"`
	Skipped             bool     `json:"skipped"`
}

// ExtractAudit walks a turn's messages. Tool results are paired with the
// calls of the preceding assistant message by position, since providers do
// not all return unique call ids. Calls answered with a skipped result are
// counted separately and are not part of ToolCalls. Id lists are sorted.
func ExtractAudit(messages []llm.Message) Audit {
	type requested struct {
		call    llm.ToolCall
		skipped bool
	}
	var (
		calls    []requested
		next     int
		chunkIDs = map[string]struct{}{}
		docIDs   = map[string]struct{}{}
	)

	for _, m := range messages {
		switch msg := m.(type) {
		case llm.AssistantMessage:
			next = len(calls)
			for _, tc := range msg.ToolCalls {
				calls = append(calls, requested{call: tc})
			}
		case llm.ToolMessage:
			var p toolPayload
			parsed := json.Unmarshal([]byte(msg.Content), &p) == nil
			if next < len(calls) {
				calls[next].skipped = parsed && p.Skipped
				next++
			}
			if !parsed || p.Skipped {
				continue
			}
			for _, c := range p.Chunks {
				if c.ChunkID != "" {
					chunkIDs[c.ChunkID] = struct{}{}
				}
				if c.DocumentID != "" {
					docIDs[c.DocumentID] = struct{}{}
				}
			}
			for _, id := range p.DocumentIDsSearched {
				docIDs[id] = struct{}{}
			}
			if p.FullText != nil && p.DocumentID != "" {
				docIDs[p.DocumentID] = struct{}{}
			}
		}
	}

	audit := Audit{ToolCalls: []ToolCallRecord{}}
	for _, c := range calls {
		if c.skipped {
			audit.SkippedToolCalls++
			continue
		}
		args, err := tools.ParseArguments(c.call.Arguments)
		if err != nil {
			args = map[string]interface{}{}
		}
		audit.ToolCalls = append(audit.ToolCalls, ToolCallRecord{ID: c.call.ID, Name: c.call.Name, Arguments: args})
	}
	audit.ToolCallCount = len(audit.ToolCalls)
	audit.ChunkIDsUsed = sortedKeys(chunkIDs)
	audit.DocumentIDsUsed = sortedKeys(docIDs)
	return audit
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
