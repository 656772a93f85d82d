package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ExchangeStatus tracks the lifecycle of a single human<->agent turn within a
// Session, mirroring TaskStatus in shape. Spelled exactly as spec.md §3's
// Exchange data model names them so srv/sqlite rows and the HTTP surface
// speak the same vocabulary the spec does.
type ExchangeStatus string

const (
	ExchangeStatusOpen      ExchangeStatus = "open"
	ExchangeStatusRunning   ExchangeStatus = "running"
	ExchangeStatusCompleted ExchangeStatus = "completed"
	ExchangeStatusCancelled ExchangeStatus = "cancelled"
	ExchangeStatusRejected  ExchangeStatus = "rejected"
)

func StringToExchangeStatus(s string) (ExchangeStatus, error) {
	switch ExchangeStatus(s) {
	case ExchangeStatusOpen, ExchangeStatusRunning, ExchangeStatusCompleted, ExchangeStatusCancelled, ExchangeStatusRejected:
		return ExchangeStatus(s), nil
	default:
		return "", fmt.Errorf("invalid exchange status: %q", s)
	}
}

// ExchangeKind is spec.md §3's literal Human/Assistant kind set. Every
// exchange is either a Human turn (query, selection, feedback — recorded
// synchronously) or an Assistant turn (an LLM/tool-use response to exactly
// one Human turn, tracked as its ParentId). Session Service operations each
// append one Human exchange and, except for a bare human_message, one
// child Assistant exchange:
//
//	human_message        -> HumanChat                    (no assistant child)
//	plan_generation/-iteration -> HumanPlan     -> AssistantPlan
//	code_edit_anchored    -> HumanAnchoredEdit   -> AssistantEdit
//	code_edit_agentic     -> HumanAgenticEdit    -> AssistantEdit
type ExchangeKind string

const (
	ExchangeKindHumanChat        ExchangeKind = "human_chat"
	ExchangeKindHumanAnchoredEdit ExchangeKind = "human_anchored_edit"
	ExchangeKindHumanAgenticEdit ExchangeKind = "human_agentic_edit"
	ExchangeKindHumanPlan        ExchangeKind = "human_plan"
	ExchangeKindAssistantChat    ExchangeKind = "assistant_chat"
	ExchangeKindAssistantEdit    ExchangeKind = "assistant_edit"
	ExchangeKindAssistantPlan    ExchangeKind = "assistant_plan"
)

// IsAssistant reports whether k is one of the three Assistant* kinds, i.e.
// whether an Exchange of this kind is required by spec.md §3's invariant to
// carry a ParentId naming the Human exchange that triggered it.
func (k ExchangeKind) IsAssistant() bool {
	switch k {
	case ExchangeKindAssistantChat, ExchangeKindAssistantEdit, ExchangeKindAssistantPlan:
		return true
	default:
		return false
	}
}

// IsHuman reports whether k is one of the four Human* kinds.
func (k ExchangeKind) IsHuman() bool {
	return !k.IsAssistant()
}

// Exchange is a single request/response turn in a Session: the user context
// that started it, the tool calls and edits it produced, and its terminal
// status. It plays the role the teacher's domain.Task plays within a Flow.
//
// Invariants (spec.md §3): every Assistant* exchange's ParentId names
// exactly one Human* exchange; at most one Assistant* exchange is Open or
// Running per session at a time (enforced by the Session Service only ever
// advancing CurrentExchangeId to a fresh child after its predecessor
// reaches a terminal status); cancelling is idempotent and transitions only
// Running -> Cancelled.
type Exchange struct {
	Id          string         `json:"id"`
	SessionId   string         `json:"sessionId"`
	WorkspaceId string         `json:"workspaceId"`
	ParentId    string         `json:"parentId,omitempty"`
	Kind        ExchangeKind   `json:"kind"`
	Status      ExchangeStatus `json:"status"`
	UserContext UserContext    `json:"userContext"`
	// Feedback holds human feedback attached after completion, if any
	// (see FeedbackForExchange in the Session Service).
	Feedback string `json:"feedback,omitempty"`
	// PreEditSnapshot captures each touched file's content as it stood
	// immediately before this exchange applied any edit to it, keyed by the
	// path relative to the workspace root. handle_session_undo (spec.md
	// §4.E op 6) restores these when an exchange is dropped.
	PreEditSnapshot map[string]string `json:"preEditSnapshot,omitempty"`
	CreatedAt       time.Time         `json:"created"`
	UpdatedAt       time.Time         `json:"updated"`
}

type exchangeAlias Exchange

func (e Exchange) MarshalJSON() ([]byte, error) {
	a := exchangeAlias(e)
	a.CreatedAt = UTCTime(a.CreatedAt)
	a.UpdatedAt = UTCTime(a.UpdatedAt)
	return json.Marshal(a)
}

// UserContext bundles everything the agent needs to know about what the user
// was looking at/asking about when an exchange started: the message text
// plus optional anchors into the workspace (open files, selections).
type UserContext struct {
	Query         string         `json:"query"`
	ActiveFile    string         `json:"activeFile,omitempty"`
	SelectionText string         `json:"selectionText,omitempty"`
	SelectionSpan *FileSpan      `json:"selectionSpan,omitempty"`
	OpenFiles     []string       `json:"openFiles,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FileSpan is a half-open line range within a file, 1-indexed inclusive of
// StartLine and exclusive of EndLine, matching the teacher's FileRange shape
// from dev/edit_block.go.
type FileSpan struct {
	FilePath  string `json:"filePath"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// ExchangeStorage persists Exchanges, mirroring TaskStorage.
type ExchangeStorage interface {
	PersistExchange(ctx context.Context, exchange Exchange) error
	GetExchange(ctx context.Context, sessionId, exchangeId string) (Exchange, error)
	GetExchanges(ctx context.Context, sessionId string) ([]Exchange, error)
	DeleteExchange(ctx context.Context, sessionId, exchangeId string) error
	// DeleteExchangesFrom deletes fromExchangeId and every exchange created
	// at or after it within the session (spec.md §4.E op 6: "drop those
	// exchanges"), returning the deleted rows in the order they need to be
	// restored/dropped (oldest first) so the caller can replay their
	// PreEditSnapshot entries back to disk.
	DeleteExchangesFrom(ctx context.Context, sessionId, fromExchangeId string) ([]Exchange, error)
}
