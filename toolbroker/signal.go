package toolbroker

import (
	"errors"

	"sidecar/domain"
)

// ErrLSPUnavailable is always returned by LSPDiagnosticsTool: the LSP proxy
// is explicitly out of scope for this module (spec.md's Explicitly
// out-of-scope list names "LSP-proxy HTTP endpoints" as an external
// collaborator with a named interface only), so get_diagnostics is wired
// into the tool catalogue and the reply parser but never actually talks to a
// language server.
var ErrLSPUnavailable = errors.New("lsp diagnostics are not available in this build")

// LSPDiagnosticsTool is that named interface: present so the agent's system
// prompt and reply parser can mention get_diagnostics without a nil-tool
// dispatch panic, but it always fails recoverably.
type LSPDiagnosticsTool struct{}

func (LSPDiagnosticsTool) Name() domain.ToolName { return domain.ToolLSPDiagnostics }

func (LSPDiagnosticsTool) Call(_ domain.MessageProperties, _ domain.ToolInput) (any, error) {
	return nil, ErrLSPUnavailable
}

// AttemptCompletionTool has no side effect of its own: it is the sentinel
// tool the Tool-Use Agent loop (§4.D) watches for to terminate a
// code_edit_agentic exchange, per spec.md's "terminate on AttemptCompletion"
// rule in operation 4. The tool's own job is only to acknowledge that the
// agent's completion text was received; the loop itself decides to stop.
type AttemptCompletionTool struct{}

func (AttemptCompletionTool) Name() domain.ToolName { return domain.ToolAttemptCompletion }

func (AttemptCompletionTool) Call(_ domain.MessageProperties, _ domain.ToolInput) (any, error) {
	return domain.AttemptCompletionOutput{Acknowledged: true}, nil
}

// AskFollowupQuestionTool has no side effect either: it surfaces a question
// (and optional multiple-choice Options) to the user over the UI Event
// Channel, and the agent loop blocks until a reply arrives as the next user
// message. The answer is not known at dispatch time, so Call returns an
// empty AskFollowupQuestionOutput; the Session Service is what actually
// threads the user's reply back in as the next message.
type AskFollowupQuestionTool struct{}

func (AskFollowupQuestionTool) Name() domain.ToolName { return domain.ToolAskFollowupQuestion }

func (AskFollowupQuestionTool) Call(_ domain.MessageProperties, _ domain.ToolInput) (any, error) {
	return domain.AskFollowupQuestionOutput{}, nil
}
