package agent

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"sidecar/domain"
)

// tagToToolName maps each top-level reply tag to the domain.ToolName its
// body unmarshals into, grounded directly on the original tool-use agent's
// parse_out_tool_input (original_source's
// agentic/tool/session/tool_use_agent.rs): the same fixed tag set, in the
// same precedence order, wrapped as "<root>...</root>" and decoded with an
// XML unmarshaler standing in for the original's quick-xml-based serde
// deserialization.
var tagToToolName = map[string]domain.ToolName{
	"search_files":          domain.ToolSearchFileContent,
	"code_edit_input":       domain.ToolCodeEdit,
	"list_files":            domain.ToolListFiles,
	"read_file":             domain.ToolOpenFile,
	"get_diagnostics":       domain.ToolLSPDiagnostics,
	"execute_command":       domain.ToolTerminalCommand,
	"attempt_completion":    domain.ToolAttemptCompletion,
	"ask_followup_question": domain.ToolAskFollowupQuestion,
}

var orderedTags = []string{
	"thinking",
	"search_files",
	"code_edit_input",
	"list_files",
	"read_file",
	"get_diagnostics",
	"execute_command",
	"attempt_completion",
	"ask_followup_question",
}

var replyTagPattern = regexp.MustCompile(`(?s)<(` + strings.Join(orderedTags, "|") + `)>(.*?)</` + `(?:` + strings.Join(orderedTags, "|") + `)>`)

// ParsedReply is the Tool-Use Agent's parsed view of one LLM response:
// either a tool call plus the thinking text that preceded it, or a raw-text
// failure the agent surfaces back to the model as an observation so it can
// self-correct, per spec.md §4.D's reply parser contract.
type ParsedReply struct {
	ToolInput domain.ToolInput
	Thinking  string
	Raw       string
	Ok        bool
}

// ParseReply recognizes the first top-level tool tag in raw text and decodes
// its body into the matching domain.ToolInput. A <thinking> tag anywhere in
// the text is captured but never itself treated as a tool call. When no tag
// parses successfully, ParseReply returns Ok=false with Raw populated so the
// caller can feed it back to the model unchanged.
func ParseReply(raw string) ParsedReply {
	matches := replyTagPattern.FindAllStringSubmatch(raw, -1)

	var thinking string
	for _, m := range matches {
		tagName, body := m[1], m[2]
		if tagName == "thinking" {
			thinking = body
			continue
		}

		toolName, ok := tagToToolName[tagName]
		if !ok {
			continue
		}

		toolInput, err := decodeToolBody(toolName, body)
		if err != nil {
			return ParsedReply{Raw: raw, Ok: false}
		}
		return ParsedReply{ToolInput: toolInput, Thinking: thinking, Ok: true}
	}

	return ParsedReply{Raw: raw, Ok: false}
}

func decodeToolBody(name domain.ToolName, body string) (domain.ToolInput, error) {
	wrapped := "<root>" + body + "</root>"

	ti := domain.ToolInput{Name: name}
	var target any
	switch name {
	case domain.ToolOpenFile:
		ti.OpenFile = &domain.OpenFileInput{}
		target = ti.OpenFile
	case domain.ToolListFiles:
		ti.ListFiles = &domain.ListFilesInput{}
		target = ti.ListFiles
	case domain.ToolSearchFileContent:
		ti.SearchFileContent = &domain.SearchFileContentInput{}
		target = ti.SearchFileContent
	case domain.ToolTerminalCommand:
		ti.TerminalCommand = &domain.TerminalCommandInput{}
		target = ti.TerminalCommand
	case domain.ToolCodeEdit:
		ti.CodeEdit = &domain.CodeEditInput{}
		target = ti.CodeEdit
	case domain.ToolAttemptCompletion:
		ti.AttemptCompletion = &domain.AttemptCompletionInput{}
		target = ti.AttemptCompletion
	case domain.ToolAskFollowupQuestion:
		ti.AskFollowupQuestion = &domain.AskFollowupQuestionInput{}
		target = ti.AskFollowupQuestion
	case domain.ToolLSPDiagnostics:
		ti.LSPDiagnostics = &domain.LSPDiagnosticsInput{}
		target = ti.LSPDiagnostics
	default:
		return domain.ToolInput{}, fmt.Errorf("no decoder registered for tag mapped to tool %q", name)
	}

	decoder := xml.NewDecoder(strings.NewReader(wrapped))
	decoder.Strict = false
	if err := decoder.Decode(&rootWrapper{target}); err != nil {
		return domain.ToolInput{}, fmt.Errorf("decode %s body: %w", name, err)
	}
	return ti, nil
}

// rootWrapper lets us decode an arbitrary pointer as the <root> element's
// content without each tool input type needing its own XMLName field.
type rootWrapper struct {
	target any
}

func (w *rootWrapper) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	return d.DecodeElement(w.target, &start)
}
