package llm

import (
	"strings"
)

// ToolCallAggregator accumulates a sequence of ChatMessageDelta values into
// the running ChatMessage text and per-index ToolCall argument buffers.
// Anthropic's SDK gives us Message.Accumulate for free (see
// anthropic_tool_chat.go); the other providers stream raw deltas without an
// equivalent helper, so this type is the general-purpose accumulator spec.md
// §3 describes: each delta's ToolCalls are matched to an in-progress call by
// position (an LLM only appends to the most recently started tool call's
// arguments in a given delta, matching every provider's streaming
// convention observed across the teacher's three ToolChatter
// implementations).
type ToolCallAggregator struct {
	role    ChatMessageRole
	content strings.Builder
	calls   []accumulatingToolCall
	usage   Usage
}

type accumulatingToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

func NewToolCallAggregator() *ToolCallAggregator {
	return &ToolCallAggregator{role: ChatMessageRoleAssistant}
}

// Add folds one delta into the aggregator. A delta with a non-empty
// ToolCalls[i].Name (or Id) starts a new tool call; a delta whose
// ToolCalls[i] carries only Arguments is treated as a continuation of the
// most recently started call, matching the "partial JSON" streaming
// convention used by anthropic_tool_chat.go's InputJSONDelta handling.
func (a *ToolCallAggregator) Add(delta ChatMessageDelta) {
	if delta.Role != "" {
		a.role = delta.Role
	}
	a.content.WriteString(delta.Content)
	a.usage.InputTokens += delta.Usage.InputTokens
	a.usage.OutputTokens += delta.Usage.OutputTokens
	a.usage.CacheReadInputTokens += delta.Usage.CacheReadInputTokens
	a.usage.CacheWriteInputTokens += delta.Usage.CacheWriteInputTokens

	for _, tc := range delta.ToolCalls {
		if tc.Name != "" || tc.Id != "" {
			a.calls = append(a.calls, accumulatingToolCall{id: tc.Id, name: tc.Name})
		}
		if len(a.calls) == 0 {
			// a delta arrived with only arguments before any call was
			// started; start an anonymous one rather than drop the data.
			a.calls = append(a.calls, accumulatingToolCall{})
		}
		a.calls[len(a.calls)-1].arguments.WriteString(tc.Arguments)
	}
}

// Result produces the fully aggregated ChatMessageResponse once the stream
// has ended.
func (a *ToolCallAggregator) Result() ChatMessageResponse {
	toolCalls := make([]ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		toolCalls = append(toolCalls, ToolCall{
			Id:        c.id,
			Name:      c.name,
			Arguments: c.arguments.String(),
		})
	}
	return ChatMessageResponse{
		ChatMessage: ChatMessage{
			Role:      a.role,
			Content:   a.content.String(),
			ToolCalls: toolCalls,
		},
		Usage: a.usage,
	}
}
