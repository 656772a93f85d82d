// Package scratchpad implements the Scratch-Pad / Environment Loop
// (spec.md §4.F): a long-lived cooperative task per active anchored-edit
// session, driven by a Temporal workflow the way the teacher drives its own
// long-lived dev workflows (dev/dev_agent_manager_workflow.go,
// dev/user_request.go) — signal channels feed a workflow.Selector loop
// rather than a bare Go channel, since spec.md's "unbounded channel" of
// Human/LSP/Symbol/Shutdown events maps directly onto Temporal's signal
// model once the workflow, rather than a goroutine, is the long-lived task.
package scratchpad

import (
	"sidecar/domain"
)

// EventKind tags the four event shapes spec.md §4.F names.
type EventKind string

const (
	EventKindHuman    EventKind = "human"
	EventKindLSP      EventKind = "lsp"
	EventKindSymbol   EventKind = "symbol"
	EventKindShutdown EventKind = "shutdown"
)

// HumanMessage is a single user-authored instruction scoped to the anchored
// selection, the trigger for a new round of symbol-edit fan-out.
type HumanMessage struct {
	ExchangeId string `json:"exchangeId"`
	Query      string `json:"query"`
}

// DiagnosticBatch is one LSP round's worth of diagnostics for the file
// being edited, folded into the running scratchpad context for the next
// iteration's prompt.
type DiagnosticBatch struct {
	FilePath    string   `json:"filePath"`
	Diagnostics []string `json:"diagnostics"`
}

// SymbolChange names a symbol whose definition or references moved,
// invalidating any edit request already queued against its old location.
type SymbolChange struct {
	SymbolName string `json:"symbolName"`
	FilePath   string `json:"filePath"`
}

// Event is the tagged union consumed by the loop.
type Event struct {
	Kind     EventKind
	Human    *HumanMessage
	LSP      *DiagnosticBatch
	Symbol   *SymbolChange
}

// Input starts a ScratchPadWorkflow for one anchored-edit session.
type Input struct {
	WorkspaceId string            `json:"workspaceId"`
	SessionId   string            `json:"sessionId"`
	BaseDir     string            `json:"baseDir"`
	UserContext domain.UserContext `json:"userContext"`
}

// Context accumulates LSP diagnostics across iterations, the "running
// scratchpad context" spec.md §4.F describes feeding into the next
// iteration's edit requests.
type Context struct {
	Diagnostics []DiagnosticBatch
}

func (c *Context) AddDiagnostics(batch DiagnosticBatch) {
	c.Diagnostics = append(c.Diagnostics, batch)
}

// MaxConcurrentEdits bounds the symbol-edit fan-out per spec.md §5: "at
// most 100 concurrent edit requests".
const MaxConcurrentEdits = 100
