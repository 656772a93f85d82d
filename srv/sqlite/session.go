package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"sidecar/domain"
	"sidecar/srv"

	"github.com/rs/zerolog/log"
)

// Ensure Storage implements SessionStorage interface
var _ domain.SessionStorage = (*Storage)(nil)

func (s *Storage) PersistSession(ctx context.Context, session domain.Session) error {
	query := `
		INSERT OR REPLACE INTO sessions (workspace_id, id, status, current_exchange_id, created, updated)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.WorkspaceId, session.Id, session.Status, session.CurrentExchangeId,
		session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.Id).Msg("Failed to persist session")
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *Storage) GetSession(ctx context.Context, workspaceId, sessionId string) (domain.Session, error) {
	query := `
		SELECT workspace_id, id, status, current_exchange_id, created, updated
		FROM sessions
		WHERE workspace_id = ? AND id = ?
	`

	var session domain.Session
	var currentExchangeId sql.NullString
	err := s.db.QueryRowContext(ctx, query, workspaceId, sessionId).Scan(
		&session.WorkspaceId, &session.Id, &session.Status, &currentExchangeId,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, srv.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	session.CurrentExchangeId = currentExchangeId.String
	return session, nil
}

func (s *Storage) GetSessions(ctx context.Context, workspaceId string) ([]domain.Session, error) {
	query := `
		SELECT workspace_id, id, status, current_exchange_id, created, updated
		FROM sessions
		WHERE workspace_id = ?
		ORDER BY created DESC
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceId)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var session domain.Session
		var currentExchangeId sql.NullString
		if err := rows.Scan(&session.WorkspaceId, &session.Id, &session.Status, &currentExchangeId,
			&session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		session.CurrentExchangeId = currentExchangeId.String
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func (s *Storage) DeleteSession(ctx context.Context, workspaceId, sessionId string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE workspace_id = ? AND id = ?", workspaceId, sessionId)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for session deletion: %w", err)
	}
	if rowsAffected == 0 {
		return srv.ErrNotFound
	}
	return nil
}
