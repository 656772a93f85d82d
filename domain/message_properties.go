package domain

import (
	"context"
	"sync"
)

// MessageProperties bundles the ambient fields every Session Service
// operation, Tool Broker dispatch, and LLM Client Broker call needs, the way
// the teacher's flow_action.ExecContext bundles workflow.Context,
// EnvContainer, Secrets, and provider config. Unlike ExecContext, this type
// embeds a plain context.Context rather than a workflow.Context, since the
// Session Service/Tool-Use Agent loop are not Temporal-backed (see
// SPEC_FULL.md's Ambient Stack and DESIGN.md's Open Question resolution).
type MessageProperties struct {
	context.Context
	WorkspaceId string
	SessionId   string
	ExchangeId  string
	// Cancel, when invoked, cancels this exchange's Context and propagates
	// to any in-flight tool dispatch or LLM stream it started, matching
	// SPEC_FULL.md Part IV's cancellation-propagation supplement.
	Cancel context.CancelFunc
}

type exchangeContextKey struct{}

// exchangeContextValue is what WithExchangeContext stashes on the context so
// the LLM Client Broker (llm.Broker.ChatStream) and Tool Broker can log and
// tag outbound calls by the exchange driving them, without every provider
// client needing its own MessageProperties parameter.
type exchangeContextValue struct {
	WorkspaceId string
	SessionId   string
	ExchangeId  string
}

// WithExchangeContext attaches the owning workspace/session/exchange ids to
// ctx. The Session Service calls this once per exchange, alongside
// context.WithCancel, so every downstream call the exchange makes (LLM
// stream, tool dispatch) carries its own identity for logging.
func WithExchangeContext(ctx context.Context, workspaceId, sessionId, exchangeId string) context.Context {
	return context.WithValue(ctx, exchangeContextKey{}, exchangeContextValue{
		WorkspaceId: workspaceId,
		SessionId:   sessionId,
		ExchangeId:  exchangeId,
	})
}

// ExchangeContextFrom reports the ids WithExchangeContext attached to ctx,
// if any.
func ExchangeContextFrom(ctx context.Context) (workspaceId, sessionId, exchangeId string, ok bool) {
	v, ok := ctx.Value(exchangeContextKey{}).(exchangeContextValue)
	if !ok {
		return "", "", "", false
	}
	return v.WorkspaceId, v.SessionId, v.ExchangeId, true
}

// CancellationRegistry tracks the CancelFunc for each in-flight exchange so
// the Session Service can cancel one without tearing down the whole process.
// Grounded on the same "bundle ambient state, hand out explicit handles"
// idiom as ExecContext, generalized into a small registry since, unlike a
// single Temporal workflow run, one process here manages many concurrent
// exchanges.
type CancellationRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *CancellationRegistry) Register(exchangeId string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[exchangeId] = cancel
}

func (r *CancellationRegistry) Unregister(exchangeId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, exchangeId)
}

// Cancel cancels the exchange's context if it is still in flight. It
// reports whether an in-flight registration was found.
func (r *CancellationRegistry) Cancel(exchangeId string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[exchangeId]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
