package domain

import (
	"encoding/json"
	"fmt"
)

// ToolName enumerates the tools the Tool Broker can dispatch, matching
// spec.md §4.B's fixed tool set plus the dynamic MCP-integration tool.
type ToolName string

const (
	ToolOpenFile            ToolName = "open_file"
	ToolListFiles           ToolName = "list_files"
	ToolSearchFileContent   ToolName = "search_file_content"
	ToolTerminalCommand     ToolName = "terminal_command"
	ToolCodeEdit            ToolName = "code_edit"
	ToolAttemptCompletion   ToolName = "attempt_completion"
	ToolAskFollowupQuestion ToolName = "ask_followup_question"
	ToolMCPIntegration      ToolName = "mcp_integration"
	// ToolLSPDiagnostics is a named interface only: the LSP proxy itself is
	// out of scope (spec.md's Explicitly-out-of-scope list), so this tool
	// always reports ErrLSPUnavailable rather than talking to a real server.
	ToolLSPDiagnostics ToolName = "lsp_diagnostics"
)

// ToolInput is a tagged union over every tool's typed parameters, following
// the same Type-discriminator MarshalJSON/UnmarshalJSON pattern the teacher
// uses for SecretManagerContainer (secret_manager/secret_manager.go) and for
// FlowEvent (domain/flow_event.go).
type ToolInput struct {
	Name                  ToolName
	OpenFile              *OpenFileInput
	ListFiles             *ListFilesInput
	SearchFileContent     *SearchFileContentInput
	TerminalCommand       *TerminalCommandInput
	CodeEdit              *CodeEditInput
	AttemptCompletion     *AttemptCompletionInput
	AskFollowupQuestion   *AskFollowupQuestionInput
	LSPDiagnostics        *LSPDiagnosticsInput
	MCPIntegration        *MCPIntegrationInput
}

// Field names also carry xml tags, matching the snake_case element names the
// original Rust tool-use agent's request-partial structs use (e.g.
// directory_path/regex_pattern/file_pattern on its SearchFileContentInputPartial),
// since the Tool-Use Agent's reply parser (agent/reply_parser.go) unmarshals
// a tool tag's inner XML directly into these types.
type OpenFileInput struct {
	FilePath  string `json:"filePath" xml:"path"`
	StartLine int    `json:"startLine,omitempty" xml:"start_line,omitempty"`
	EndLine   int    `json:"endLine,omitempty" xml:"end_line,omitempty"`
}

type ListFilesInput struct {
	DirectoryPath string `json:"directoryPath" xml:"directory_path"`
	Recursive     bool   `json:"recursive,omitempty" xml:"recursive,omitempty"`
}

type SearchFileContentInput struct {
	Pattern       string `json:"pattern" xml:"regex_pattern"`
	DirectoryPath string `json:"directoryPath,omitempty" xml:"directory_path,omitempty"`
	FileGlob      string `json:"fileGlob,omitempty" xml:"file_pattern,omitempty"`
}

type TerminalCommandInput struct {
	Command string `json:"command" xml:"command"`
	Cwd     string `json:"cwd,omitempty" xml:"cwd,omitempty"`
	// TimeoutSeconds bounds how long the command may run before it is killed.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty" xml:"timeout_seconds,omitempty"`
}

type CodeEditInput struct {
	FilePath string `json:"filePath" xml:"path"`
	// Content is the raw LLM-generated text containing one or more
	// Search-and-Replace blocks to be parsed by the editor package.
	Content string `json:"content" xml:",chardata"`
}

type AttemptCompletionInput struct {
	Result string `json:"result" xml:"result"`
}

type AskFollowupQuestionInput struct {
	Question string   `json:"question" xml:"question"`
	Options  []string `json:"options,omitempty" xml:"option,omitempty"`
}

// LSPDiagnosticsInput has no required fields: the original tool-use agent's
// get_diagnostics tag carries no parameters either.
type LSPDiagnosticsInput struct {
	FilePath string `json:"filePath,omitempty" xml:"path,omitempty"`
}

// MCPIntegrationInput dispatches to a dynamically registered MCP tool. This
// is the single current shape spec.md's Design Notes call for, resolving the
// Open Question over the four stale revisions found in original_source/.
type MCPIntegrationInput struct {
	ServerName string          `json:"serverName"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments"`
}

func (t ToolInput) MarshalJSON() ([]byte, error) {
	m := map[string]any{"name": t.Name}
	var payload any
	switch t.Name {
	case ToolOpenFile:
		payload = t.OpenFile
	case ToolListFiles:
		payload = t.ListFiles
	case ToolSearchFileContent:
		payload = t.SearchFileContent
	case ToolTerminalCommand:
		payload = t.TerminalCommand
	case ToolCodeEdit:
		payload = t.CodeEdit
	case ToolAttemptCompletion:
		payload = t.AttemptCompletion
	case ToolAskFollowupQuestion:
		payload = t.AskFollowupQuestion
	case ToolMCPIntegration:
		payload = t.MCPIntegration
	case ToolLSPDiagnostics:
		payload = t.LSPDiagnostics
	default:
		return nil, fmt.Errorf("unknown tool name: %q", t.Name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		m[k] = v
	}
	return json.Marshal(m)
}

func UnmarshalToolInput(data []byte) (ToolInput, error) {
	var discriminator struct {
		Name ToolName `json:"name"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return ToolInput{}, fmt.Errorf("unmarshal tool input discriminator: %w", err)
	}
	ti := ToolInput{Name: discriminator.Name}
	var err error
	switch discriminator.Name {
	case ToolOpenFile:
		ti.OpenFile = &OpenFileInput{}
		err = json.Unmarshal(data, ti.OpenFile)
	case ToolListFiles:
		ti.ListFiles = &ListFilesInput{}
		err = json.Unmarshal(data, ti.ListFiles)
	case ToolSearchFileContent:
		ti.SearchFileContent = &SearchFileContentInput{}
		err = json.Unmarshal(data, ti.SearchFileContent)
	case ToolTerminalCommand:
		ti.TerminalCommand = &TerminalCommandInput{}
		err = json.Unmarshal(data, ti.TerminalCommand)
	case ToolCodeEdit:
		ti.CodeEdit = &CodeEditInput{}
		err = json.Unmarshal(data, ti.CodeEdit)
	case ToolAttemptCompletion:
		ti.AttemptCompletion = &AttemptCompletionInput{}
		err = json.Unmarshal(data, ti.AttemptCompletion)
	case ToolAskFollowupQuestion:
		ti.AskFollowupQuestion = &AskFollowupQuestionInput{}
		err = json.Unmarshal(data, ti.AskFollowupQuestion)
	case ToolMCPIntegration:
		ti.MCPIntegration = &MCPIntegrationInput{}
		err = json.Unmarshal(data, ti.MCPIntegration)
	case ToolLSPDiagnostics:
		ti.LSPDiagnostics = &LSPDiagnosticsInput{}
		err = json.Unmarshal(data, ti.LSPDiagnostics)
	default:
		return ToolInput{}, fmt.Errorf("unknown tool name: %q", discriminator.Name)
	}
	if err != nil {
		return ToolInput{}, fmt.Errorf("unmarshal %s input: %w", discriminator.Name, err)
	}
	return ti, nil
}

// ToolOutput is the tagged-union result of a tool dispatch. Exactly one
// field is populated, matching ToolInput's discriminator pattern. A non-nil
// Error does not mean the tool call itself failed transport-wise; it's a
// tool-level failure (e.g. file not found) that the agent should see and can
// react to, per spec.md §7's split between terminal and recoverable errors.
type ToolOutput struct {
	Name   ToolName        `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type OpenFileOutput struct {
	Content string `json:"content"`
}

type ListFilesOutput struct {
	Paths []string `json:"paths"`
}

type SearchFileContentOutput struct {
	Matches []SearchMatch `json:"matches"`
	// Truncated is set when the search found more than the 250-hit bound
	// spec.md §4.B imposes and stopped early rather than erroring.
	Truncated bool `json:"truncated,omitempty"`
}

// SearchMatch is one regex hit plus up to three lines of surrounding context,
// so a single hit costs at most four matched lines toward the 1000-line
// bound spec.md §4.B places on SearchFileContentWithRegex.
type SearchMatch struct {
	FilePath string   `json:"filePath"`
	Line     int      `json:"line"`
	Text     string   `json:"text"`
	Context  []string `json:"context,omitempty"`
}

type TerminalCommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

type CodeEditOutput struct {
	// AppliedBlocks is the number of Search-and-Replace blocks successfully
	// applied to FilePath.
	AppliedBlocks int      `json:"appliedBlocks"`
	Misses        []string `json:"misses,omitempty"`
}

type AttemptCompletionOutput struct {
	Acknowledged bool `json:"acknowledged"`
}

type AskFollowupQuestionOutput struct {
	Answer string `json:"answer"`
}
