package agent

// DefaultToolDescriptions returns the ToolDescription catalogue for the
// fixed tag set ParseReply recognizes (see tagToToolName in
// reply_parser.go). It is the system-prompt-facing counterpart of that map:
// every tag ParseReply understands must appear here, and vice versa.
func DefaultToolDescriptions() []ToolDescription {
	return []ToolDescription{
		{
			Tag:         "search_files",
			Description: "Search file contents by regex, optionally scoped to a path and file pattern.",
			InputFormat: "<search_files><directory_path>dir</directory_path><regex>pattern</regex><file_pattern>*.go</file_pattern></search_files>",
		},
		{
			Tag:         "code_edit_input",
			Description: "Apply one or more SEARCH/REPLACE edit blocks to files in the workspace.",
			InputFormat: "<code_edit_input><content>path/to/file.go\n<<<<<<< SEARCH\nold\n=======\nnew\n>>>>>>> REPLACE</content></code_edit_input>",
		},
		{
			Tag:         "list_files",
			Description: "List files under a directory, optionally recursively.",
			InputFormat: "<list_files><directory_path>dir</directory_path><recursive>true</recursive></list_files>",
		},
		{
			Tag:         "read_file",
			Description: "Read the full contents of a file.",
			InputFormat: "<read_file><path>path/to/file.go</path></read_file>",
		},
		{
			Tag:         "get_diagnostics",
			Description: "Fetch LSP diagnostics for a file.",
			InputFormat: "<get_diagnostics><path>path/to/file.go</path></get_diagnostics>",
		},
		{
			Tag:         "execute_command",
			Description: "Run a shell command in the workspace and capture its output.",
			InputFormat: "<execute_command><command>go test ./...</command></execute_command>",
		},
		{
			Tag:         "attempt_completion",
			Description: "Declare the task complete and summarize the result. Ends the Tool-Use Agent loop.",
			InputFormat: "<attempt_completion><result>summary</result></attempt_completion>",
		},
		{
			Tag:         "ask_followup_question",
			Description: "Ask the user a clarifying question before continuing.",
			InputFormat: "<ask_followup_question><question>...</question></ask_followup_question>",
		},
	}
}
