// Package toolbroker implements spec.md §4.B's Tool Broker: it validates and
// dispatches a domain.ToolInput to the concrete tool implementation and
// returns a domain.ToolOutput, the way the teacher's dev/handle_tool_call.go
// dispatches a parsed tool call to one of its action handlers.
package toolbroker

import (
	"encoding/json"
	"fmt"

	"sidecar/domain"

	"github.com/rs/zerolog/log"
)

// Tool is one dispatchable tool. Each concrete tool (open_file, list_files,
// ...) implements this against its own typed input/output pair, matching the
// teacher's one-function-per-action-type convention in dev/handle_tool_call.go.
type Tool interface {
	Name() domain.ToolName
	Call(props domain.MessageProperties, input domain.ToolInput) (any, error)
}

// Broker dispatches domain.ToolInput values to registered Tools, matching
// llm.Broker's provider-registry shape in llm/broker.go but over tools
// instead of LLM providers.
type Broker struct {
	tools map[domain.ToolName]Tool
}

// NewBroker wires every tool spec.md §4.B requires. MCP integration is
// registered separately via RegisterMCPClient once an MCP connection exists
// for the workspace, since unlike the filesystem/terminal tools it has no
// meaningful zero-value implementation.
func NewBroker(baseDir string) *Broker {
	b := &Broker{tools: make(map[domain.ToolName]Tool)}
	for _, t := range []Tool{
		OpenFileTool{BaseDir: baseDir},
		ListFilesTool{BaseDir: baseDir},
		SearchFileContentTool{BaseDir: baseDir},
		TerminalCommandTool{BaseDir: baseDir},
		CodeEditTool{BaseDir: baseDir},
		AttemptCompletionTool{},
		AskFollowupQuestionTool{},
		LSPDiagnosticsTool{},
		NewMCPIntegrationTool(),
	} {
		b.tools[t.Name()] = t
	}
	return b
}

// Register overrides or adds a tool, used by tests and to wire the dynamic
// MCPIntegrationTool once an MCP client is available.
func (b *Broker) Register(tool Tool) {
	b.tools[tool.Name()] = tool
}

// Dispatch validates that input.Name has a registered Tool, invokes it, and
// folds the result (or error) into a domain.ToolOutput. A Go error returned
// by a Tool is always a tool-level failure (file not found, command exited
// non-zero, etc): it is recorded in ToolOutput.Error for the agent to see and
// react to, never surfaced as a broker-level error, matching spec.md §7's
// split between terminal and recoverable errors. Dispatch itself only errors
// when input.Name names no registered tool, or the result can't be
// marshaled, both unrecoverable mistakes in the agent's tool-call itself.
func (b *Broker) Dispatch(props domain.MessageProperties, input domain.ToolInput) (domain.ToolOutput, error) {
	tool, ok := b.tools[input.Name]
	if !ok {
		return domain.ToolOutput{}, fmt.Errorf("no tool registered for %q", input.Name)
	}

	result, callErr := tool.Call(props, input)
	output := domain.ToolOutput{Name: input.Name}
	if callErr != nil {
		output.Error = callErr.Error()
		log.Debug().Str("tool", string(input.Name)).Err(callErr).Msg("tool call failed")
		return output, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("marshal %s result: %w", input.Name, err)
	}
	output.Result = raw
	return output, nil
}
