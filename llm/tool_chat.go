package llm

import (
	"context"

	"sidecar/common"
	"sidecar/secret_manager"
)

const defaultTemperature float32 = 0.1

// ChatMessage and friends are re-exported from common so callers outside
// llm/ don't need to import both packages for the same concept, matching
// the teacher's llm/types.go re-export idiom.
type (
	ChatMessage         = common.ChatMessage
	ChatMessageRole     = common.ChatMessageRole
	ChatMessageResponse = common.ChatMessageResponse
	ChatMessageDelta    = common.ChatMessageDelta
	ToolCall            = common.ToolCall
	ToolChoice          = common.ToolChoice
	ToolChoiceType      = common.ToolChoiceType
	Tool                = common.Tool
	Usage               = common.Usage
	ToolChatProvider    = common.ToolChatProvider
)

const (
	ChatMessageRoleUser      = common.ChatMessageRoleUser
	ChatMessageRoleAssistant = common.ChatMessageRoleAssistant
	ChatMessageRoleSystem    = common.ChatMessageRoleSystem
	ChatMessageRoleTool      = common.ChatMessageRoleTool

	ToolChoiceTypeAuto        = common.ToolChoiceTypeAuto
	ToolChoiceTypeUnspecified = common.ToolChoiceTypeUnspecified
	ToolChoiceTypeTool        = common.ToolChoiceTypeTool
	ToolChoiceTypeRequired    = common.ToolChoiceTypeRequired

	UnspecifiedToolChatProvider = common.UnspecifiedToolChatProvider
	OpenaiToolChatProvider      = common.OpenaiToolChatProvider
	AnthropicToolChatProvider   = common.AnthropicToolChatProvider
	AzureOpenaiToolChatProvider = common.AzureOpenaiToolChatProvider
	GoogleToolChatProvider      = common.GoogleToolChatProvider
	TogetherToolChatProvider    = common.TogetherToolChatProvider
	OllamaToolChatProvider      = common.OllamaToolChatProvider
	OpenrouterToolChatProvider  = common.OpenrouterToolChatProvider
	CodestoryToolChatProvider   = common.CodestoryToolChatProvider
)

var StringToToolChatProvider = common.StringToToolChatProviderType

// ToolChatter is the contract every LLM provider client implements: stream a
// chat completion that may include tool calls, emitting deltas as they
// arrive and returning the fully aggregated response at the end. Ported
// directly from the teacher's llm.ToolChatter interface.
type ToolChatter interface {
	ChatStream(ctx context.Context, options ToolChatOptions, deltaChan chan<- ChatMessageDelta, progressChan chan<- ProgressInfo) (*ChatMessageResponse, error)
}

type ChatControlParams struct {
	Temperature *float32         `json:"temperature"`
	Model       string           `json:"model"`
	Provider    ToolChatProvider `json:"provider"`
}

// ToolChatParams is the request shape for LLMs that support automatic tool
// selection: given multiple tools, these LLMs decide when it's appropriate
// to use one and emit a tool call.
type ToolChatParams struct {
	Messages          []ChatMessage    `json:"messages"`
	Tools             []*Tool          `json:"tools"`
	ToolChoice        ToolChoice       `json:"toolChoice"`
	ParallelToolCalls *bool            `json:"parallelToolCalls"`
	Temperature       *float32         `json:"temperature"`
	MaxTokens         int              `json:"maxTokens,omitempty"`
	ReasoningEffort   string           `json:"reasoningEffort,omitempty"`
	Model             string           `json:"model"`
	Provider          ToolChatProvider `json:"provider"`
	// ServiceTier passes through Anthropic's service-tier hint
	// ("auto"|"standard_only"); empty uses the provider's default.
	ServiceTier string `json:"serviceTier,omitempty"`
}

func PromptToToolChatParams(prompt string, controlParams ChatControlParams) ToolChatParams {
	return ToolChatParams{
		Messages: []ChatMessage{
			{
				Content: prompt,
				Role:    ChatMessageRoleUser,
			},
		},
		Temperature: controlParams.Temperature,
		Model:       controlParams.Model,
		Provider:    controlParams.Provider,
	}
}

type ToolChatOptions struct {
	Params  ToolChatParams                         `json:"params"`
	Secrets secret_manager.SecretManagerContainer `json:"secrets"`
}

func (options ToolChatOptions) ActionParams() map[string]any {
	return map[string]any{
		"messages":          options.Params.Messages,
		"tools":             options.Params.Tools,
		"toolChoice":        options.Params.ToolChoice,
		"model":             options.Params.Model,
		"provider":          options.Params.Provider,
		"temperature":       options.Params.Temperature,
		"parallelToolCalls": options.Params.ParallelToolCalls,
	}
}
