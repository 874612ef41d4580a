// Package chatctx fits a chat transcript into the model's context window.
package chatctx

import (
	"docchat/internal/llm"
)

const DefaultMaxTokens = 50000

// TokenCounter counts tokens the way the target model family does.
type TokenCounter interface {
	Count(text string) int
}

type TrimResult struct {
	Messages       []llm.Message `json:"-"`
	Trimmed        bool          `json:"trimmed"`
	OriginalCount  int           `json:"original_count"`
	FinalCount     int           `json:"final_count"`
	OriginalTokens int           `json:"original_tokens"`
	FinalTokens    int           `json:"final_tokens"`
	RemovedCount   int           `json:"removed_count"`
}

// TrimHistory keeps the first system message and the longest suffix of the
// remaining conversation that fits maxTokens. The walk stops at the first
// message that does not fit, so older messages are never kept past a gap.
// The newest message is kept even when it alone exceeds the budget.
func TrimHistory(messages []llm.Message, maxTokens int, counter TokenCounter) TrimResult {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	counts := make([]int, len(messages))
	total := 0
	for i, msg := range messages {
		counts[i] = counter.Count(msg.Text())
		total += counts[i]
	}

	result := TrimResult{
		Messages:       messages,
		OriginalCount:  len(messages),
		FinalCount:     len(messages),
		OriginalTokens: total,
		FinalTokens:    total,
	}
	if total <= maxTokens {
		return result
	}

	systemIdx := -1
	for i, msg := range messages {
		if msg.Role() == llm.RoleSystem {
			systemIdx = i
			break
		}
	}

	used := 0
	if systemIdx >= 0 {
		used = counts[systemIdx]
	}

	kept := make([]int, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if i == systemIdx {
			continue
		}
		if used+counts[i] > maxTokens && len(kept) > 0 {
			break
		}
		used += counts[i]
		kept = append(kept, i)
	}

	out := make([]llm.Message, 0, len(kept)+1)
	if systemIdx >= 0 {
		out = append(out, messages[systemIdx])
	}
	for j := len(kept) - 1; j >= 0; j-- {
		out = append(out, messages[kept[j]])
	}

	result.Messages = out
	result.Trimmed = true
	result.FinalCount = len(out)
	result.FinalTokens = used
	result.RemovedCount = len(messages) - len(out)
	return result
}
