// Package agent implements spec.md §4.D's Tool-Use Agent: a single LLM turn
// that must produce exactly one parsed tool invocation, repeated by the
// Session Service's code_edit_agentic operation until the agent emits
// AttemptCompletion or the exchange is cancelled.
//
// The generic retry-with-feedback shape is grounded on dev/llm_loop.go's
// LlmLoop, generalized from a Temporal workflow.Context loop (which polls a
// pause signal and requests human feedback every N iterations) to a plain
// context.Context loop, since the Tool-Use Agent here is not Temporal-backed
// (see SPEC_FULL.md's Ambient Stack and DESIGN.md).
package agent

import (
	"context"
	"fmt"

	"sidecar/domain"
	"sidecar/llm"

	"github.com/rs/zerolog/log"
)

// MaxMalformedReplyRetries bounds how many times the agent will ask the
// model to retry after a reply that doesn't parse into a known tool tag,
// before giving up with an error (spec.md's reply parser returns Failure for
// the model to self-correct from, but that can't be unbounded).
const MaxMalformedReplyRetries = 3

// ToolUseAgent drives one Tool-Use Agent turn: build a prompt from the
// running chat history and the tool catalogue, call the LLM Client Broker,
// and parse the reply into a domain.ToolInput.
type ToolUseAgent struct {
	Broker      *llm.Broker
	SystemPrompt string
}

// NewToolUseAgent builds the agent's system prompt from the given tool
// descriptions, embedding the same formatting contract spec.md §4.D
// specifies: exactly one tool per turn, preceded by <thinking>.
func NewToolUseAgent(broker *llm.Broker, toolDescriptions []ToolDescription) *ToolUseAgent {
	return &ToolUseAgent{Broker: broker, SystemPrompt: buildSystemPrompt(toolDescriptions)}
}

// ToolDescription is what a Tool Broker tool contributes to the agent's
// system prompt, matching the teacher-adjacent tool_description()/
// tool_input_format() contract spec.md §4.B assigns to each tool.
type ToolDescription struct {
	Tag         string
	Description string
	InputFormat string
}

func buildSystemPrompt(tools []ToolDescription) string {
	prompt := "You are an autonomous coding agent. Respond with exactly one tool per turn.\n" +
		"Always start your reply with a <thinking></thinking> block assessing what you know and what you need.\n" +
		"Then emit exactly one of the following tool tags, with parameters as its child elements:\n\n"
	for _, t := range tools {
		prompt += fmt.Sprintf("<%s>\n%s\n%s\n</%s>\n\n", t.Tag, t.Description, t.InputFormat, t.Tag)
	}
	return prompt
}

// Turn runs one LLM completion over messages (which should already contain
// prior tool observations appended as user messages) and returns the parsed
// tool call. On a malformed reply, Turn itself retries up to
// MaxMalformedReplyRetries times by appending the raw reply and a
// self-correction nudge to the message history, matching spec.md §4.D's
// "agent surfaces this as an observation so the model self-corrects" rule.
func (a *ToolUseAgent) Turn(ctx context.Context, messages []llm.ChatMessage, options llm.ToolChatOptions) (ParsedReply, []llm.ChatMessage, error) {
	history := append([]llm.ChatMessage{{Role: llm.ChatMessageRoleSystem, Content: a.SystemPrompt}}, messages...)

	for attempt := 0; attempt <= MaxMalformedReplyRetries; attempt++ {
		opts := options
		opts.Params.Messages = history

		deltaChan := make(chan llm.ChatMessageDelta, 16)
		progressChan := make(chan llm.ProgressInfo, 4)
		aggregator := llm.NewToolCallAggregator()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for delta := range deltaChan {
				aggregator.Add(delta)
			}
		}()
		go func() {
			for range progressChan {
			}
		}()

		response, err := a.Broker.ChatStream(ctx, opts, deltaChan, progressChan)
		close(deltaChan)
		close(progressChan)
		<-done

		if err != nil {
			if ctx.Err() != nil {
				return ParsedReply{}, history, fmt.Errorf("tool-use agent turn cancelled: %w", ctx.Err())
			}
			return ParsedReply{}, history, fmt.Errorf("tool-use agent turn: %w", err)
		}
		if response == nil {
			aggregated := aggregator.Result()
			response = &aggregated
		}

		parsed := ParseReply(response.Content)
		if parsed.Ok {
			return parsed, history, nil
		}

		log.Debug().Int("attempt", attempt).Msg("tool-use agent reply did not parse into a known tool tag, asking model to self-correct")
		history = append(history,
			llm.ChatMessage{Role: llm.ChatMessageRoleAssistant, Content: response.Content},
			llm.ChatMessage{Role: llm.ChatMessageRoleUser, Content: "Your reply did not contain a recognized tool tag. Re-read the formatting rules and respond again with exactly one tool tag."},
		)
	}

	return ParsedReply{}, history, fmt.Errorf("tool-use agent: no valid tool tag after %d attempts", MaxMalformedReplyRetries+1)
}

// EncodeObservation turns a domain.ToolOutput into the next user message's
// content, the way the teacher folds a tool's activity result back into chat
// history in dev/manage_chat_history.go, so the model sees its own tool call's
// result before choosing its next action.
func EncodeObservation(output domain.ToolOutput) llm.ChatMessage {
	content := string(output.Result)
	if output.Error != "" {
		content = fmt.Sprintf("Tool %q failed: %s", output.Name, output.Error)
	}
	return llm.ChatMessage{Role: llm.ChatMessageRoleUser, Content: content}
}
