package common

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

type ChatMessage struct {
	Role      ChatMessageRole `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ToolCall      `json:"toolCalls"`

	/* for tool call responses */
	Name       string `json:"name"`
	ToolCallId string `json:"toolCallId"`
	IsError    bool   `json:"isError"`

	// CacheControl, when non-empty, asks providers that support prompt
	// caching (currently Anthropic) to mark this message's content for
	// caching. The only supported value is "ephemeral".
	CacheControl string `json:"cacheControl,omitempty"`
}

type ChatMessageRole string

const (
	ChatMessageRoleUser      ChatMessageRole = "user"
	ChatMessageRoleAssistant ChatMessageRole = "assistant"
	ChatMessageRoleSystem    ChatMessageRole = "system"
	ChatMessageRoleTool      ChatMessageRole = "tool"
)

// ChatMessageResponse represents a message received from a chat provider,
// i.e. including additional metadata around the execution of the chat
// inference.
type ChatMessageResponse struct {
	ChatMessage
	Id           string           `json:"id"`
	StopReason   string           `json:"stopReason"`
	StopSequence string           `json:"stopSequence"`
	Usage        Usage            `json:"usage"`
	Model        string           `json:"model"`
	Provider     ToolChatProvider `json:"provider"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	// CacheReadInputTokens/CacheCreationInputTokens surface Anthropic's
	// prompt-caching usage fields; zero for providers that don't report them.
	CacheReadInputTokens  int `json:"cacheReadInputTokens,omitempty"`
	CacheWriteInputTokens int `json:"cacheWriteInputTokens,omitempty"`
}

// ChatMessageDelta is one incremental chunk of a streaming response, based
// on OpenAI's delta format (the teacher's own comment on this type).
type ChatMessageDelta struct {
	Role      ChatMessageRole `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ToolCall      `json:"toolCalls"`
	Usage     Usage           `json:"usage"`
}

type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name"`
}

type ToolChoiceType string

const (
	// ToolChoiceTypeAuto lets the model decide which tool to use, if any.
	ToolChoiceTypeAuto        ToolChoiceType = "auto"
	ToolChoiceTypeUnspecified ToolChoiceType = ""

	// ToolChoiceTypeTool forces use of one specific tool (aka "function" in
	// the OpenAI API).
	ToolChoiceTypeTool ToolChoiceType = "tool"

	// ToolChoiceTypeRequired forces use of any one of the given tools (aka
	// "any" in the Anthropic API).
	ToolChoiceTypeRequired ToolChoiceType = "required"
)

type ToolCall struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Parameters     *jsonschema.Schema `json:"parameters"`
	ParametersType reflect.Type       `json:"-"`
}

// ToolChatProvider enumerates every LLM provider the broker can dispatch to.
// spec.md's LLM Client Broker requires all eight.
type ToolChatProvider string

const (
	UnspecifiedToolChatProvider ToolChatProvider = ""
	OpenaiToolChatProvider      ToolChatProvider = "openai"
	AnthropicToolChatProvider   ToolChatProvider = "anthropic"
	AzureOpenaiToolChatProvider ToolChatProvider = "azure_openai"
	GoogleToolChatProvider      ToolChatProvider = "google"
	TogetherToolChatProvider    ToolChatProvider = "together"
	OllamaToolChatProvider      ToolChatProvider = "ollama"
	OpenrouterToolChatProvider  ToolChatProvider = "openrouter"
	// CodestoryToolChatProvider is a pass-through provider that forwards the
	// request to whichever upstream the caller's credentials resolve to,
	// without the broker itself needing to know which one that is.
	CodestoryToolChatProvider ToolChatProvider = "codestory"
)

var allToolChatProviders = []ToolChatProvider{
	OpenaiToolChatProvider,
	AnthropicToolChatProvider,
	AzureOpenaiToolChatProvider,
	GoogleToolChatProvider,
	TogetherToolChatProvider,
	OllamaToolChatProvider,
	OpenrouterToolChatProvider,
	CodestoryToolChatProvider,
}

var SmallModels = map[ToolChatProvider]string{
	OpenaiToolChatProvider: "gpt-4o-mini",

	// NOTE: 3.5 Haiku is much more expensive than 3 Haiku, but performs
	// better too and is what Anthropic presents as their "small" model.
	AnthropicToolChatProvider:   "claude-3-5-haiku-20241022",
	AzureOpenaiToolChatProvider: "gpt-4o-mini",
	GoogleToolChatProvider:      "gemini-1.5-flash",
	TogetherToolChatProvider:    "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	OllamaToolChatProvider:      "llama3.2",
	OpenrouterToolChatProvider:  "openai/gpt-4o-mini",
}

func (provider ToolChatProvider) SmallModel() string {
	// missing will be empty string, i.e. the internal/built-in default model
	// for the provider integration implementation
	return SmallModels[provider]
}

var LongContextLargeModels = map[ToolChatProvider]string{
	OpenaiToolChatProvider:      "gpt-4-turbo-2024-04-09",
	AnthropicToolChatProvider:   "claude-3-opus-20240229",
	AzureOpenaiToolChatProvider: "gpt-4-turbo-2024-04-09",
	GoogleToolChatProvider:      "gemini-1.5-pro",
	TogetherToolChatProvider:    "meta-llama/Llama-3.1-405B-Instruct-Turbo",
	OpenrouterToolChatProvider:  "anthropic/claude-3-opus",
}

func (provider ToolChatProvider) LongContextLargeModel() string {
	return LongContextLargeModels[provider]
}

func StringToToolChatProviderType(provider string) (ToolChatProvider, error) {
	if provider == string(UnspecifiedToolChatProvider) {
		return UnspecifiedToolChatProvider, nil
	}
	for _, p := range allToolChatProviders {
		if string(p) == provider {
			return p, nil
		}
	}
	return UnspecifiedToolChatProvider, fmt.Errorf("unknown provider: %s", provider)
}
