package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"sidecar/common"

	_ "modernc.org/sqlite"
)

// Storage holds the two SQLite databases the teacher's service layer splits
// work across: db for the core relational tables (workspaces, sessions,
// exchanges, ...) and kvDb for the key-value store used by
// workflow_safe_kv_storage.go. MigrateUp (migrate.go) applies the embedded
// migrations to both.
type Storage struct {
	db   *sql.DB
	kvDb *sql.DB
}

func NewStorage(db, kvDb *sql.DB) *Storage {
	return &Storage{db: db, kvDb: kvDb}
}

// NewDefaultStorage opens (creating if needed) the two SQLite database files
// under the Sidekick data home and applies migrations, matching
// service.go's GetService which calls this with no arguments.
func NewDefaultStorage() (*Storage, error) {
	dataHome, err := common.GetSidekickDataHome()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data home: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataHome, "core.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open core database: %w", err)
	}
	kvDb, err := sql.Open("sqlite", filepath.Join(dataHome, "kv.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value database: %w", err)
	}

	storage := NewStorage(db, kvDb)
	if err := storage.MigrateUp("sidecar"); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite storage: %w", err)
	}
	return storage, nil
}
