package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-hub/gradebook/internal/domain/session"
	"github.com/school-hub/gradebook/internal/domain/shared"
)

func newStore(t *testing.T) *SessionStore {
	t.Helper()
	return NewSessionStore(filepath.Join(t.TempDir(), "nested", "session.json"))
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	sess := session.Session{
		Token:     "tok-123",
		Role:      session.RoleTeacher,
		CreatedAt: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, loaded.Token)
	assert.Equal(t, sess.Role, loaded.Role)
	assert.True(t, loaded.Valid())
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store := newStore(t)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, shared.ErrNoSession)
}

func TestSessionStore_CorruptFileTreatedAsLoggedOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewSessionStore(path)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, shared.ErrNoSession)
}

func TestSessionStore_Clear(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, session.Session{Token: "t", Role: session.RoleStudent, StudentID: 3}))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, shared.ErrNoSession)

	// Clearing twice is fine.
	assert.NoError(t, store.Clear(ctx))
}
