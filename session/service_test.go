package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sidecar/domain"
	"sidecar/session"
	"sidecar/srv/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, dbName string) (*session.Service, string) {
	storage := sqlite.NewTestSqliteStorage(t, dbName)
	dir := t.TempDir()
	return &session.Service{
		Sessions:  storage,
		Exchanges: storage,
		Cancels:   domain.NewCancellationRegistry(),
		BaseDir:   dir,
	}, dir
}

func anchoredEditContent(path, oldLine, newLine string) string {
	return "```\n" + path + "\n<<<<<<< SEARCH\n" + oldLine + "\n=======\n" + newLine + "\n>>>>>>> REPLACE\n```\n"
}

// TestSetExchangeAsCancelled_Idempotent covers spec.md §8's "the second call
// returns false" property: cancelling a Running exchange reports true the
// first time and transitions it to Cancelled; calling it again against the
// now-terminal exchange reports false and leaves the status untouched.
func TestSetExchangeAsCancelled_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, "cancel_idempotent_test")
	ctx := context.Background()

	exchange := domain.Exchange{
		Id:          "exchange-1",
		SessionId:   "session-1",
		WorkspaceId: "workspace-1",
		Kind:        domain.ExchangeKindAssistantEdit,
		Status:      domain.ExchangeStatusRunning,
	}
	require.NoError(t, svc.Exchanges.PersistExchange(ctx, exchange))
	svc.Cancels.Register(exchange.Id, func() {})

	signalSent, err := svc.SetExchangeAsCancelled(ctx, exchange.SessionId, exchange.Id)
	require.NoError(t, err)
	assert.True(t, signalSent)

	got, err := svc.Exchanges.GetExchange(ctx, exchange.SessionId, exchange.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusCancelled, got.Status)

	signalSent, err = svc.SetExchangeAsCancelled(ctx, exchange.SessionId, exchange.Id)
	require.NoError(t, err)
	assert.False(t, signalSent)

	got, err = svc.Exchanges.GetExchange(ctx, exchange.SessionId, exchange.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusCancelled, got.Status)
}

// TestHumanMessage_And_CodeEditAnchored_PairingInvariant covers spec.md §3's
// "every assistant exchange has exactly one parent human exchange" invariant
// across the Session Service's own operations, not just the domain types.
func TestHumanMessage_And_CodeEditAnchored_PairingInvariant(t *testing.T) {
	svc, dir := newTestService(t, "pairing_invariant_test")
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rs"), []byte("fn a() {}\n"), 0644))

	sess, err := svc.StartSession(ctx, "workspace-1")
	require.NoError(t, err)

	humanChat, err := svc.HumanMessage(ctx, sess, "please fix a.rs", domain.UserContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeKindHumanChat, humanChat.Kind)
	assert.True(t, humanChat.Kind.IsHuman())
	assert.Empty(t, humanChat.ParentId)

	sess, err = svc.Sessions.GetSession(ctx, sess.WorkspaceId, sess.Id)
	require.NoError(t, err)

	editContent := anchoredEditContent("a.rs", "fn a() {}", "fn a() { changed(); }")
	assistantEdit, output, err := svc.CodeEditAnchored(ctx, sess, domain.UserContext{}, editContent)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeKindAssistantEdit, assistantEdit.Kind)
	assert.True(t, assistantEdit.Kind.IsAssistant())
	assert.Equal(t, domain.ExchangeStatusCompleted, assistantEdit.Status)
	assert.Equal(t, 1, output.AppliedBlocks)
	assert.Empty(t, output.Misses)

	humanAnchored, err := svc.Exchanges.GetExchange(ctx, sess.Id, assistantEdit.ParentId)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeKindHumanAnchoredEdit, humanAnchored.Kind)
	assert.Equal(t, humanChat.Id, humanAnchored.ParentId)

	content, err := os.ReadFile(filepath.Join(dir, "a.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn a() { changed(); }\n", string(content))
}

// TestHandleSessionUndo_RestoresFilesAndTrimsFromTarget drives spec.md §8
// scenario #6 through the Session Service's public operations: undoing at
// the assistant exchange of the first of two anchored edits restores both
// edited files and trims the session back to the human exchange that
// anchored that first edit.
func TestHandleSessionUndo_RestoresFilesAndTrimsFromTarget(t *testing.T) {
	svc, dir := newTestService(t, "undo_from_target_test")
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rs"), []byte("fn a() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rs"), []byte("fn b() {}\n"), 0644))

	sess, err := svc.StartSession(ctx, "workspace-1")
	require.NoError(t, err)

	_, err = svc.HumanMessage(ctx, sess, "let's edit some files", domain.UserContext{})
	require.NoError(t, err)
	sess, err = svc.Sessions.GetSession(ctx, sess.WorkspaceId, sess.Id)
	require.NoError(t, err)

	editA := anchoredEditContent("a.rs", "fn a() {}", "fn a() { a_changed(); }")
	assistantEditA, _, err := svc.CodeEditAnchored(ctx, sess, domain.UserContext{}, editA)
	require.NoError(t, err)
	sess, err = svc.Sessions.GetSession(ctx, sess.WorkspaceId, sess.Id)
	require.NoError(t, err)

	editB := anchoredEditContent("b.rs", "fn b() {}", "fn b() { b_changed(); }")
	_, _, err = svc.CodeEditAnchored(ctx, sess, domain.UserContext{}, editB)
	require.NoError(t, err)
	sess, err = svc.Sessions.GetSession(ctx, sess.WorkspaceId, sess.Id)
	require.NoError(t, err)

	aContent, err := os.ReadFile(filepath.Join(dir, "a.rs"))
	require.NoError(t, err)
	assert.Contains(t, string(aContent), "a_changed")
	bContent, err := os.ReadFile(filepath.Join(dir, "b.rs"))
	require.NoError(t, err)
	assert.Contains(t, string(bContent), "b_changed")

	undone, err := svc.HandleSessionUndo(ctx, sess, assistantEditA.Id)
	require.NoError(t, err)

	aContent, err = os.ReadFile(filepath.Join(dir, "a.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn a() {}\n", string(aContent))
	bContent, err = os.ReadFile(filepath.Join(dir, "b.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn b() {}\n", string(bContent))

	assert.Equal(t, assistantEditA.ParentId, undone.CurrentExchangeId)

	remaining, err := svc.Exchanges.GetExchanges(ctx, sess.Id)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, assistantEditA.ParentId, remaining[1].Id)
}
