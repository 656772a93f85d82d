package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus tracks the lifecycle of a Session, mirroring the way the
// teacher tracks TaskStatus.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusFailed    SessionStatus = "failed"
)

func StringToSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(s) {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled, SessionStatusFailed:
		return SessionStatus(s), nil
	default:
		return "", fmt.Errorf("invalid session status: %q", s)
	}
}

// Session is the top-level persisted conversation unit: a sequence of
// Exchanges between a user and the agent over a single workspace. It plays
// the role the teacher's domain.Flow plays for a Task.
type Session struct {
	Id                 string        `json:"id"`
	WorkspaceId        string        `json:"workspaceId"`
	Status             SessionStatus `json:"status"`
	CurrentExchangeId  string        `json:"currentExchangeId,omitempty"`
	CreatedAt          time.Time     `json:"created"`
	UpdatedAt          time.Time     `json:"updated"`
}

// sessionAlias avoids infinite recursion when MarshalJSON normalizes timestamps.
type sessionAlias Session

func (s Session) MarshalJSON() ([]byte, error) {
	a := sessionAlias(s)
	a.CreatedAt = UTCTime(a.CreatedAt)
	a.UpdatedAt = UTCTime(a.UpdatedAt)
	return json.Marshal(a)
}

// SessionStorage persists Sessions, following FlowStorage's interface shape
// (context-first, workspace-scoped) from srv/sqlite/flow.go.
type SessionStorage interface {
	PersistSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, workspaceId, sessionId string) (Session, error)
	GetSessions(ctx context.Context, workspaceId string) ([]Session, error)
	DeleteSession(ctx context.Context, workspaceId, sessionId string) error
}
