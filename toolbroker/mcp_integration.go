package toolbroker

import (
	"encoding/json"
	"fmt"
	"sync"

	"sidecar/domain"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPIntegrationTool dispatches domain.MCPIntegrationInput to a connected MCP
// server's tool. The teacher's own mcp/server.go uses
// github.com/modelcontextprotocol/go-sdk/mcp to expose sidecar's operations
// AS an MCP server; here the same SDK's client side (mcp.Client /
// mcp.ClientSession) is used instead, since the agent is the one calling OUT
// to externally registered tool servers. Connections are established
// out-of-band (workspace configuration) and registered by name via Connect;
// Call only looks the session up and forwards the request.
type MCPIntegrationTool struct {
	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
}

func NewMCPIntegrationTool() *MCPIntegrationTool {
	return &MCPIntegrationTool{sessions: make(map[string]*mcpsdk.ClientSession)}
}

func (MCPIntegrationTool) Name() domain.ToolName { return domain.ToolMCPIntegration }

// Connect registers an already-established session under serverName, making
// it dispatchable by subsequent Call invocations.
func (t *MCPIntegrationTool) Connect(serverName string, session *mcpsdk.ClientSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[serverName] = session
}

func (t *MCPIntegrationTool) Call(props domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.MCPIntegration

	t.mu.RLock()
	session, ok := t.sessions[params.ServerName]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp_integration: no connected server named %q", params.ServerName)
	}

	var arguments map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &arguments); err != nil {
			return nil, fmt.Errorf("mcp_integration: invalid arguments: %w", err)
		}
	}

	result, err := session.CallTool(props.Context, &mcpsdk.CallToolParams{
		Name:      params.ToolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp_integration: %s.%s: %w", params.ServerName, params.ToolName, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp_integration: %s.%s reported an error: %s", params.ServerName, params.ToolName, contentText(result.Content))
	}
	return map[string]any{"content": contentText(result.Content)}, nil
}

func contentText(content []mcpsdk.Content) string {
	var text string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	return text
}
