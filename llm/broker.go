package llm

import (
	"context"
	"fmt"

	"sidecar/domain"

	"github.com/rs/zerolog/log"
)

// TogetherBaseURL and OpenrouterBaseURL are OpenAI-chat-completions-wire-
// compatible endpoints: both providers speak the same request/response
// shape OpenAI does, so they are served by OpenaiToolChat with a different
// BaseURL and secret name, rather than duplicating the streaming/parsing
// logic.
const (
	TogetherBaseURL   = "https://api.together.xyz/v1"
	OpenrouterBaseURL = "https://openrouter.ai/api/v1"

	TogetherApiKeySecretName   = "TOGETHER_API_KEY"
	OpenrouterApiKeySecretName = "OPENROUTER_API_KEY"
	AzureApiKeySecretName      = "AZURE_OPENAI_API_KEY"
	CodestoryApiKeySecretName  = "CODESTORY_API_KEY"
)

// Broker dispatches a ToolChatOptions request to the ToolChatter registered
// for its provider. It is the runtime counterpart of common.ToolChatProvider:
// the broker owns one instance per provider and never mutates it concurrency-
// unsafely, since every provider's ChatStream method is stateless on its
// receiver (grounded on how the teacher wires ToolChatter implementations
// directly into flow_action activities, one struct value per provider).
type Broker struct {
	chatters map[ToolChatProvider]ToolChatter
}

// NewBroker wires every provider spec.md's LLM Client Broker requires:
// OpenAI and Anthropic and Google are the teacher's own ToolChatter structs;
// Azure, Together, and OpenRouter reuse OpenaiToolChat against their
// OpenAI-wire-compatible endpoints; Ollama is a newly authored native
// NDJSON client; codestory reuses the Responses-API client the teacher
// already has for its own hosted gateway.
func NewBroker() *Broker {
	return &Broker{
		chatters: map[ToolChatProvider]ToolChatter{
			OpenaiToolChatProvider:      OpenaiToolChat{},
			AnthropicToolChatProvider:   AnthropicToolChat{},
			GoogleToolChatProvider:      GoogleToolChat{},
			AzureOpenaiToolChatProvider: OpenaiToolChat{},
			TogetherToolChatProvider:    OpenaiToolChat{BaseURL: TogetherBaseURL},
			OpenrouterToolChatProvider:  OpenaiToolChat{BaseURL: OpenrouterBaseURL},
			OllamaToolChatProvider:      OllamaToolChat{},
			CodestoryToolChatProvider:   OpenaiResponsesToolChat{},
		},
	}
}

// Register overrides or adds a provider's ToolChatter, used by tests and by
// the codestory pass-through provider's dynamic endpoint configuration.
func (b *Broker) Register(provider ToolChatProvider, chatter ToolChatter) {
	b.chatters[provider] = chatter
}

// ChatStream dispatches to the registered provider, tagging its own log
// lines with whichever session/exchange WithExchangeContext attached to ctx
// (set by session.Service for every operation it drives) so a provider
// outage or malformed-tool-call error can be traced back to the exchange
// that triggered it without threading an exchange id through every
// provider's own signature.
func (b *Broker) ChatStream(ctx context.Context, options ToolChatOptions, deltaChan chan<- ChatMessageDelta, progressChan chan<- ProgressInfo) (*ChatMessageResponse, error) {
	logEvt := log.Debug()
	if workspaceId, sessionId, exchangeId, ok := domain.ExchangeContextFrom(ctx); ok {
		logEvt = logEvt.Str("workspaceId", workspaceId).Str("sessionId", sessionId).Str("exchangeId", exchangeId)
	}
	logEvt.Str("provider", string(options.Params.Provider)).Str("model", options.Params.Model).Msg("dispatching chat stream")

	chatter, ok := b.chatters[options.Params.Provider]
	if !ok {
		return nil, fmt.Errorf("no LLM client registered for provider %q", options.Params.Provider)
	}
	response, err := chatter.ChatStream(ctx, options, deltaChan, progressChan)
	if err != nil {
		if _, sessionId, exchangeId, ok := domain.ExchangeContextFrom(ctx); ok {
			log.Error().Err(err).Str("sessionId", sessionId).Str("exchangeId", exchangeId).
				Str("provider", string(options.Params.Provider)).Msg("chat stream failed")
		}
		return nil, fmt.Errorf("provider %s: %w", options.Params.Provider, err)
	}
	return response, nil
}
