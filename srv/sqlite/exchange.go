package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sidecar/domain"
	"sidecar/srv"

	"github.com/rs/zerolog/log"
)

// Ensure Storage implements ExchangeStorage interface
var _ domain.ExchangeStorage = (*Storage)(nil)

func (s *Storage) PersistExchange(ctx context.Context, exchange domain.Exchange) error {
	userContextJSON, err := json.Marshal(exchange.UserContext)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange user context: %w", err)
	}
	var preEditSnapshotJSON []byte
	if exchange.PreEditSnapshot != nil {
		preEditSnapshotJSON, err = json.Marshal(exchange.PreEditSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal exchange pre-edit snapshot: %w", err)
		}
	}

	query := `
		INSERT OR REPLACE INTO exchanges (
			id, session_id, workspace_id, parent_id, kind, status, user_context, feedback, pre_edit_snapshot, created, updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		exchange.Id, exchange.SessionId, exchange.WorkspaceId, exchange.ParentId,
		exchange.Kind, exchange.Status, userContextJSON, exchange.Feedback, preEditSnapshotJSON,
		exchange.CreatedAt.UTC(), exchange.UpdatedAt.UTC(),
	)
	if err != nil {
		log.Error().Err(err).Str("exchangeId", exchange.Id).Msg("Failed to persist exchange")
		return fmt.Errorf("failed to persist exchange: %w", err)
	}
	return nil
}

func (s *Storage) GetExchange(ctx context.Context, sessionId, exchangeId string) (domain.Exchange, error) {
	query := `
		SELECT id, session_id, workspace_id, parent_id, kind, status, user_context, feedback, pre_edit_snapshot, created, updated
		FROM exchanges
		WHERE session_id = ? AND id = ?
	`
	return scanExchange(s.db.QueryRowContext(ctx, query, sessionId, exchangeId))
}

func (s *Storage) GetExchanges(ctx context.Context, sessionId string) ([]domain.Exchange, error) {
	query := `
		SELECT id, session_id, workspace_id, parent_id, kind, status, user_context, feedback, pre_edit_snapshot, created, updated
		FROM exchanges
		WHERE session_id = ?
		ORDER BY created ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionId)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []domain.Exchange
	for rows.Next() {
		exchange, err := scanExchangeRow(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, exchange)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchange rows: %w", err)
	}
	return exchanges, nil
}

func (s *Storage) DeleteExchange(ctx context.Context, sessionId, exchangeId string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM exchanges WHERE session_id = ? AND id = ?", sessionId, exchangeId)
	if err != nil {
		return fmt.Errorf("failed to delete exchange: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for exchange deletion: %w", err)
	}
	if rowsAffected == 0 {
		return srv.ErrNotFound
	}
	return nil
}

// DeleteExchangesFrom deletes fromExchangeId and every exchange created at
// or after it within the session, per spec.md §4.E op 6 and scenario #6 in
// §8 ("undo at e2 ... trims the session to only e1"). Exchanges are ordered
// by created ascending, matching GetExchanges, so "at or after" is a
// straightforward slice from the target's position onward. Returns the
// deleted rows oldest-first so the caller can replay their PreEditSnapshot
// entries back to disk in the same order they were originally captured.
func (s *Storage) DeleteExchangesFrom(ctx context.Context, sessionId, fromExchangeId string) ([]domain.Exchange, error) {
	all, err := s.GetExchanges(ctx, sessionId)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges for undo: %w", err)
	}

	cut := -1
	for i, exchange := range all {
		if exchange.Id == fromExchangeId {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, srv.ErrNotFound
	}

	toDelete := all[cut:]
	for _, exchange := range toDelete {
		if err := s.DeleteExchange(ctx, sessionId, exchange.Id); err != nil {
			return nil, fmt.Errorf("failed to delete exchange %s: %w", exchange.Id, err)
		}
	}
	return toDelete, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExchange(row *sql.Row) (domain.Exchange, error) {
	exchange, err := scanExchangeRow(row)
	if err == sql.ErrNoRows {
		return domain.Exchange{}, srv.ErrNotFound
	}
	return exchange, err
}

// scanExchangeRow returns the underlying sql.ErrNoRows unwrapped so callers
// scanning a single *sql.Row can translate it to srv.ErrNotFound.
func scanExchangeRow(row scanner) (domain.Exchange, error) {
	var exchange domain.Exchange
	var parentId, feedback, preEditSnapshotJSON sql.NullString
	var userContextJSON string
	err := row.Scan(
		&exchange.Id, &exchange.SessionId, &exchange.WorkspaceId, &parentId,
		&exchange.Kind, &exchange.Status, &userContextJSON, &feedback, &preEditSnapshotJSON,
		&exchange.CreatedAt, &exchange.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Exchange{}, sql.ErrNoRows
		}
		return domain.Exchange{}, fmt.Errorf("failed to scan exchange row: %w", err)
	}
	exchange.ParentId = parentId.String
	exchange.Feedback = feedback.String
	if err := json.Unmarshal([]byte(userContextJSON), &exchange.UserContext); err != nil {
		return domain.Exchange{}, fmt.Errorf("failed to unmarshal exchange user context: %w", err)
	}
	if preEditSnapshotJSON.Valid {
		if err := json.Unmarshal([]byte(preEditSnapshotJSON.String), &exchange.PreEditSnapshot); err != nil {
			return domain.Exchange{}, fmt.Errorf("failed to unmarshal exchange pre-edit snapshot: %w", err)
		}
	}
	return exchange, nil
}
