package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/kelindar/binary"
)

// MGet fetches raw values for the given keys, preserving order. Missing
// keys come back as a nil entry rather than shortening the result slice.
func (s *Storage) MGet(ctx context.Context, workspaceId string, keys []string) ([][]byte, error) {
	results := make([][]byte, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	index := make(map[string]int, len(keys))
	placeholders := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, workspaceId)
	for i, key := range keys {
		index[key] = i
		placeholders[i] = "?"
		args = append(args, key)
	}

	query := fmt.Sprintf(`SELECT key, value FROM key_value WHERE workspace_id = ? AND key IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := s.kvDb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query key-value store: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan key-value row: %w", err)
		}
		if i, ok := index[key]; ok {
			results[i] = value
		}
	}
	return results, rows.Err()
}

// MSet marshals each value with kelindar/binary and stores it.
func (s *Storage) MSet(ctx context.Context, workspaceId string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	raw := make(map[string][]byte, len(values))
	for key, value := range values {
		encoded, err := binary.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value for key %q: %w", key, err)
		}
		raw[key] = encoded
	}
	return s.MSetRaw(ctx, workspaceId, raw)
}

// MSetRaw stores pre-encoded values directly, skipping marshaling.
func (s *Storage) MSetRaw(ctx context.Context, workspaceId string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.kvDb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin key-value transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO key_value (workspace_id, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare key-value statement: %w", err)
	}
	defer stmt.Close()

	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, workspaceId, key, value); err != nil {
			return fmt.Errorf("failed to set key %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeletePrefix removes every key under the workspace whose name starts with prefix.
func (s *Storage) DeletePrefix(ctx context.Context, workspaceId string, prefix string) error {
	_, err := s.kvDb.ExecContext(ctx, `DELETE FROM key_value WHERE workspace_id = ? AND key LIKE ? ESCAPE '\'`,
		workspaceId, escapeLikePattern(prefix)+"%")
	if err != nil {
		return fmt.Errorf("failed to delete keys with prefix %q: %w", prefix, err)
	}
	return nil
}

// GetKeysWithPrefix lists every key under the workspace starting with prefix.
func (s *Storage) GetKeysWithPrefix(ctx context.Context, workspaceId string, prefix string) ([]string, error) {
	rows, err := s.kvDb.QueryContext(ctx, `SELECT key FROM key_value WHERE workspace_id = ? AND key LIKE ? ESCAPE '\'`,
		workspaceId, escapeLikePattern(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query keys with prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CheckConnection pings both the core and key-value databases.
func (s *Storage) CheckConnection(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("core database unreachable: %w", err)
	}
	if err := s.kvDb.PingContext(ctx); err != nil {
		return fmt.Errorf("key-value database unreachable: %w", err)
	}
	return nil
}

func escapeLikePattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
