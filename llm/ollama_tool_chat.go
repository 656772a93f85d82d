package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/activity"
)

const (
	OllamaDefaultModel  = "llama3.2"
	OllamaDefaultBaseURL = "http://localhost:11434"
)

// OllamaToolChat talks to a local (or remote) Ollama server's native
// /api/chat endpoint, which streams newline-delimited JSON objects rather
// than an SSE event stream. It follows the same struct shape
// (BaseURL/DefaultModel fields, heartbeat goroutine, delta-then-final-
// response split) as OpenaiToolChat, generalized from NDJSON instead of
// OpenAI's SSE framing, since Ollama has no official Go SDK in the example
// pack to ground this on directly.
type OllamaToolChat struct {
	BaseURL      string
	DefaultModel string
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []ollamaChatMessage  `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
	Tools    []ollamaToolDef      `json:"tools,omitempty"`
}

type ollamaToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaChatChunk struct {
	Model     string             `json:"model"`
	Message   ollamaChatMessage  `json:"message"`
	Done      bool               `json:"done"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	EvalCount       int          `json:"eval_count"`
}

func (o OllamaToolChat) ChatStream(ctx context.Context, options ToolChatOptions, deltaChan chan<- ChatMessageDelta, progressChan chan<- ProgressInfo) (*ChatMessageResponse, error) {
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = OllamaDefaultBaseURL
	}
	model := options.Params.Model
	if model == "" {
		model = o.DefaultModel
	}
	if model == "" {
		model = OllamaDefaultModel
	}

	reqBody := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: ollamaFromChatMessages(options.Params.Messages),
		Tools:    ollamaFromTools(options.Params.Tools),
	}
	if options.Params.Temperature != nil {
		reqBody.Options = map[string]any{"temperature": *options.Params.Temperature}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 20 * time.Minute}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama request failed with status %d", resp.StatusCode)
	}

	var finalContent strings.Builder
	var finalToolCalls []ToolCall
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if activity.IsActivity(ctx) {
			activity.RecordHeartbeat(ctx, nil)
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Warn().Err(err).Msg("ollama tool chat: failed to unmarshal chunk, skipping")
			continue
		}
		delta := ChatMessageDelta{Role: ChatMessageRoleAssistant, Content: chunk.Message.Content}
		for _, tc := range chunk.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			call := ToolCall{Name: tc.Function.Name, Arguments: string(args)}
			delta.ToolCalls = append(delta.ToolCalls, call)
			finalToolCalls = append(finalToolCalls, call)
		}
		finalContent.WriteString(chunk.Message.Content)
		deltaChan <- delta

		if chunk.Done {
			usage = Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama stream error: %w", err)
	}

	return &ChatMessageResponse{
		ChatMessage: ChatMessage{
			Role:      ChatMessageRoleAssistant,
			Content:   finalContent.String(),
			ToolCalls: finalToolCalls,
		},
		Usage:    usage,
		Model:    model,
		Provider: OllamaToolChatProvider,
	}, nil
}

func ollamaFromChatMessages(messages []ChatMessage) []ollamaChatMessage {
	out := make([]ollamaChatMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == ChatMessageRoleTool {
			role = "tool"
		}
		out = append(out, ollamaChatMessage{Role: role, Content: m.Content})
	}
	return out
}

func ollamaFromTools(tools []*Tool) []ollamaToolDef {
	out := make([]ollamaToolDef, 0, len(tools))
	for _, t := range tools {
		var def ollamaToolDef
		def.Type = "function"
		def.Function.Name = t.Name
		def.Function.Description = t.Description
		if t.Parameters != nil {
			raw, err := json.Marshal(t.Parameters)
			if err == nil {
				var params map[string]any
				if json.Unmarshal(raw, &params) == nil {
					def.Function.Parameters = params
				}
			}
		}
		out = append(out, def)
	}
	return out
}
