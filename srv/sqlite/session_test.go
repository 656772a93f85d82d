package sqlite

import (
	"context"
	"testing"
	"time"

	"sidecar/common"
	"sidecar/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistAndGetSession(t *testing.T) {
	storage := NewTestSqliteStorage(t, "session_test")
	ctx := context.Background()

	session := domain.Session{
		Id:          "session-1",
		WorkspaceId: "workspace-1",
		Status:      domain.SessionStatusActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, storage.PersistSession(ctx, session))

	got, err := storage.GetSession(ctx, session.WorkspaceId, session.Id)
	require.NoError(t, err)
	assert.Equal(t, session, got)

	_, err = storage.GetSession(ctx, session.WorkspaceId, "missing")
	assert.Equal(t, common.ErrNotFound, err)
}

func TestGetSessions(t *testing.T) {
	storage := NewTestSqliteStorage(t, "session_list_test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := storage.PersistSession(ctx, domain.Session{
			Id:          string(rune('a' + i)),
			WorkspaceId: "workspace-1",
			Status:      domain.SessionStatusActive,
			CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
			UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		})
		require.NoError(t, err)
	}

	sessions, err := storage.GetSessions(ctx, "workspace-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}

func TestDeleteSession(t *testing.T) {
	storage := NewTestSqliteStorage(t, "session_delete_test")
	ctx := context.Background()

	session := domain.Session{
		Id:          "session-1",
		WorkspaceId: "workspace-1",
		Status:      domain.SessionStatusActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, storage.PersistSession(ctx, session))
	require.NoError(t, storage.DeleteSession(ctx, session.WorkspaceId, session.Id))

	_, err := storage.GetSession(ctx, session.WorkspaceId, session.Id)
	assert.Equal(t, common.ErrNotFound, err)

	err = storage.DeleteSession(ctx, session.WorkspaceId, session.Id)
	assert.Equal(t, common.ErrNotFound, err)
}
